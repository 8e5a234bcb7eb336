package status

import (
	"sync"
	"testing"
	"time"
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{MQTTBroker: "tcp://localhost:1883", HTTPAddr: ":8080", NStations: 8}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.HTTPAddr != ":8080" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":8080")
	}
	if snap.ProgramBusy {
		t.Error("expected ProgramBusy=false initially")
	}
	if snap.NotifierUp {
		t.Error("expected NotifierUp=false initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	stations := []StationView{{SID: 0, Running: true, PID: 1, EndTime: 120}}
	tr.Update(stations, true, false, 0, true, false, true, 80, 42)

	snap := tr.Snapshot()
	if !snap.ProgramBusy {
		t.Error("expected ProgramBusy=true")
	}
	if !snap.RainDelayed {
		t.Error("expected RainDelayed=true")
	}
	if snap.Sensor1Active {
		t.Error("expected Sensor1Active=false")
	}
	if !snap.Sensor2Active {
		t.Error("expected Sensor2Active=true")
	}
	if snap.WaterPercent != 80 {
		t.Errorf("WaterPercent: got %d, want 80", snap.WaterPercent)
	}
	if snap.InstantGPM != 42 {
		t.Errorf("InstantGPM: got %d, want 42", snap.InstantGPM)
	}
	if len(snap.Stations) != 1 || snap.Stations[0].SID != 0 {
		t.Errorf("Stations: got %+v", snap.Stations)
	}
}

func TestSetLastRun(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.SetLastRun(3, 2, 1.75)

	snap := tr.Snapshot()
	if snap.LastRunSID != 3 || snap.LastRunPID != 2 {
		t.Errorf("LastRun: got sid=%d pid=%d", snap.LastRunSID, snap.LastRunPID)
	}
	if snap.LastRunGPM != 1.75 {
		t.Errorf("LastRunGPM: got %v, want 1.75", snap.LastRunGPM)
	}
}

func TestSetNotifierConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetNotifierConnected(true)
	if !tr.Snapshot().NotifierUp {
		t.Error("expected NotifierUp=true")
	}

	tr.SetNotifierConnected(false)
	if tr.Snapshot().NotifierUp {
		t.Error("expected NotifierUp=false")
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	net := &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"}
	tr.SetNetwork(net)

	snap := tr.Snapshot()
	if snap.Network == nil {
		t.Fatal("expected non-nil Network")
	}
	if snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want %q", snap.Network.IP, "192.168.1.42")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update([]StationView{{SID: 1, Running: true}}, true, false, 0, false, false, false, 100, 0)

	snap1 := tr.Snapshot()

	tr.Update([]StationView{{SID: 2, Running: true}}, false, false, 0, false, false, false, 100, 0)

	if !snap1.ProgramBusy {
		t.Error("snapshot should be a copy; ProgramBusy was modified")
	}
	if snap1.Stations[0].SID != 1 {
		t.Error("snapshot should be a copy; Stations was modified")
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update([]StationView{{SID: uint8(i % 8)}}, i%2 == 0, false, 0, false, false, false, 100, uint32(i))
			tr.SetNotifierConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
		}
	}()

	wg.Wait()
}
