// Package status provides a thread-safe snapshot tracker for the
// sprinklerd daemon, read by the HTTP status page, the JSON endpoint,
// and the live websocket feed. Adapted from sweeney-boiler-sensor's
// internal/status, generalized from a two-channel CH/HW snapshot to
// the full station/valve/queue picture.
package status

import (
	"sync"
	"time"
)

// NetworkInfo mirrors the host's network state, forwarded from the same
// pi-helper environment variables the teacher reads.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config carries daemon configuration for display, the sprinkler
// equivalent of the teacher's poll/debounce/broker trio.
type Config struct {
	MQTTBroker     string
	HTTPAddr       string
	StationDelayS  int32
	LoggingEnabled bool
	NStations      int
}

// StationView is one valve's point-in-time display state.
type StationView struct {
	SID     uint8
	Running bool
	PID     uint8
	EndTime int32
}

// Snapshot is a value-type, point-in-time view of the controller's
// state, safe to read after the tracker's lock is released.
type Snapshot struct {
	Stations      []StationView
	ProgramBusy   bool
	Paused        bool
	PauseTimer    int32
	RainDelayed   bool
	Sensor1Active bool
	Sensor2Active bool
	WaterPercent  int
	InstantGPM    uint32
	LastRunSID    uint8
	LastRunPID    uint8
	LastRunGPM    float64

	StartTime     time.Time
	Now           time.Time
	NotifierUp    bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex, read by HTTP
// handlers and the websocket broadcaster on their own goroutines.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update replaces the live controller fields. Called from the tick loop
// once per second.
func (t *Tracker) Update(stations []StationView, busy, paused bool, pauseTimer int32, rainDelayed, sensor1, sensor2 bool, waterPercent int, instantGPM uint32) {
	t.mu.Lock()
	t.snap.Stations = stations
	t.snap.ProgramBusy = busy
	t.snap.Paused = paused
	t.snap.PauseTimer = pauseTimer
	t.snap.RainDelayed = rainDelayed
	t.snap.Sensor1Active = sensor1
	t.snap.Sensor2Active = sensor2
	t.snap.WaterPercent = waterPercent
	t.snap.InstantGPM = instantGPM
	t.mu.Unlock()
}

// SetLastRun records the most recently completed station run.
func (t *Tracker) SetLastRun(sid, pid uint8, gpm float64) {
	t.mu.Lock()
	t.snap.LastRunSID = sid
	t.snap.LastRunPID = pid
	t.snap.LastRunGPM = gpm
	t.mu.Unlock()
}

// SetNotifierConnected sets the notifier transport's connection status.
func (t *Tracker) SetNotifierConnected(connected bool) {
	t.mu.Lock()
	t.snap.NotifierUp = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state. Now is set
// to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
