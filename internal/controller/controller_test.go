package controller

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sprinklerd/sprinklerd/internal/clock"
	"github.com/sprinklerd/sprinklerd/internal/flow"
	"github.com/sprinklerd/sprinklerd/internal/hal"
	"github.com/sprinklerd/sprinklerd/internal/logstore"
	"github.com/sprinklerd/sprinklerd/internal/notify"
	"github.com/sprinklerd/sprinklerd/internal/program"
	"github.com/sprinklerd/sprinklerd/internal/runtime"
	"github.com/sprinklerd/sprinklerd/internal/station"
)

type identityResolver struct{}

func (identityResolver) Resolve(raw int32) int32 { return raw }

// fakeProgram matches exactly once, at matchAt, then reports no further
// matches — enough to exercise the matcher without a real store.
type fakeProgram struct {
	name       string
	matchAt    int32
	runCount   int
	willDelete bool
	durations  []int32
	useWeather bool
}

func (p *fakeProgram) Name() string { return p.name }
func (p *fakeProgram) CheckMatch(wallClock int32) (int, bool) {
	if wallClock == p.matchAt {
		return p.runCount, p.willDelete
	}
	return 0, false
}
func (p *fakeProgram) Durations() []int32 { return p.durations }
func (p *fakeProgram) UseWeather() bool   { return p.useWeather }
func (p *fakeProgram) GenStationRunOrder(runCount int) []uint8 {
	order := make([]uint8, len(p.durations))
	for i := range order {
		order[i] = uint8(i)
	}
	return order
}

type fakeStore struct {
	programs []program.Program
	deleted  []program.Program
}

func (s *fakeStore) Programs() []program.Program { return s.programs }
func (s *fakeStore) Delete(p program.Program) {
	s.deleted = append(s.deleted, p)
	for i, existing := range s.programs {
		if existing == p {
			s.programs = append(s.programs[:i], s.programs[i+1:]...)
			return
		}
	}
}

func threeStations() []program.Station {
	return []program.Station{{SID: 0}, {SID: 1}, {SID: 2}}
}

func newTestController(stations []program.Station, store program.Store) (*Controller, *hal.FakeValveLatch, *notify.FakePublisher) {
	valve := hal.NewFakeValveLatch()
	pub := notify.NewFakePublisher()
	pub.Connected = true

	ctrl := New(Deps{
		Clock:     clock.NewFakeClock(0, 0),
		Valve:     valve,
		Sampler:   flow.NewSampler(),
		Store:     store,
		Resolver:  identityResolver{},
		Notifier:  pub,
		Logs:      logstore.NewWriter("", false, nil),
		Stations:  stations,
		Masters:   nil,
		NStations: len(stations),
	}, Options{WaterPercent: 100})

	return ctrl, valve, pub
}

func TestManualStartFullTestProgram(t *testing.T) {
	ctrl, _, pub := newTestController(threeStations(), &fakeStore{})

	if err := ctrl.ManualStart(0, false); err != nil {
		t.Fatalf("ManualStart: %v", err)
	}

	if got := ctrl.Queue().Len(); got != 3 {
		t.Fatalf("queue len: got %d, want 3", got)
	}
	for i := 0; i < 3; i++ {
		if dur := ctrl.Queue().At(i).Dur; dur != testProgramDurationSeconds {
			t.Errorf("entry %d duration: got %d, want %d", i, dur, testProgramDurationSeconds)
		}
	}
	for _, e := range pub.Events {
		if e.Type == notify.ProgramSched {
			t.Error("pid=0 test program must not emit PROGRAM_SCHED")
		}
	}
}

func TestManualStartShortTestProgram(t *testing.T) {
	ctrl, _, _ := newTestController(threeStations(), &fakeStore{})

	if err := ctrl.ManualStart(255, false); err != nil {
		t.Fatalf("ManualStart: %v", err)
	}

	if got := ctrl.Queue().Len(); got != 3 {
		t.Fatalf("queue len: got %d, want 3", got)
	}
	for i := 0; i < 3; i++ {
		if dur := ctrl.Queue().At(i).Dur; dur != shortTestProgramDurationSeconds {
			t.Errorf("entry %d duration: got %d, want %d", i, dur, shortTestProgramDurationSeconds)
		}
	}
}

func TestManualStartNormalProgramNotifiesScheduled(t *testing.T) {
	prog := &fakeProgram{name: "evening", durations: []int32{30, 0, 45}}
	store := &fakeStore{programs: []program.Program{prog}}
	ctrl, _, pub := newTestController(threeStations(), store)

	if err := ctrl.ManualStart(1, false); err != nil {
		t.Fatalf("ManualStart: %v", err)
	}

	if got := ctrl.Queue().Len(); got != 2 {
		t.Fatalf("queue len: got %d, want 2 (station 1 has a zero duration)", got)
	}

	found := false
	for _, e := range pub.Events {
		if e.Type == notify.ProgramSched && e.Value == 1 {
			found = true
		}
	}
	if !found {
		t.Error("expected a PROGRAM_SCHED event for pid=1")
	}
}

func TestManualStartScalesWithWaterPercent(t *testing.T) {
	prog := &fakeProgram{name: "evening", durations: []int32{40, 40, 40}}
	store := &fakeStore{programs: []program.Program{prog}}
	ctrl, _, _ := newTestController(threeStations(), store)
	ctrl.opts.WaterPercent = 50

	if err := ctrl.ManualStart(1, true); err != nil {
		t.Fatalf("ManualStart: %v", err)
	}

	for i := 0; i < 3; i++ {
		if dur := ctrl.Queue().At(i).Dur; dur != 20 {
			t.Errorf("entry %d duration: got %d, want 20 (50%% of 40)", i, dur)
		}
	}
}

func TestManualStartSkipsMasterStation(t *testing.T) {
	ctrl, _, _ := newTestController(threeStations(), &fakeStore{})
	ctrl.opts.MasterStationID = 1 // sid 0 is the master

	if err := ctrl.ManualStart(0, false); err != nil {
		t.Fatalf("ManualStart: %v", err)
	}

	if got := ctrl.Queue().Len(); got != 2 {
		t.Fatalf("queue len: got %d, want 2 (master station excluded)", got)
	}
	for i := 0; i < ctrl.Queue().Len(); i++ {
		if ctrl.Queue().At(i).SID == 0 {
			t.Error("master station 0 must not be enqueued by ManualStart")
		}
	}
}

func TestManualStartSkipsDisabledStation(t *testing.T) {
	stations := threeStations()
	stations[1].Disabled = true
	ctrl, _, _ := newTestController(stations, &fakeStore{})

	if err := ctrl.ManualStart(0, false); err != nil {
		t.Fatalf("ManualStart: %v", err)
	}
	if got := ctrl.Queue().Len(); got != 2 {
		t.Fatalf("queue len: got %d, want 2 (station 1 disabled)", got)
	}
}

func TestResetAllStationsZeroesDurations(t *testing.T) {
	ctrl, _, _ := newTestController(threeStations(), &fakeStore{})
	if err := ctrl.ManualStart(0, false); err != nil {
		t.Fatalf("ManualStart: %v", err)
	}

	ctrl.ResetAllStations()

	for i := 0; i < ctrl.Queue().Len(); i++ {
		if dur := ctrl.Queue().At(i).Dur; dur != 0 {
			t.Errorf("entry %d duration: got %d, want 0 after ResetAllStations", i, dur)
		}
	}
}

func TestResetAllStationsImmediateClearsQueueAndValves(t *testing.T) {
	ctrl, valve, _ := newTestController(threeStations(), &fakeStore{})
	if err := ctrl.ManualStart(0, false); err != nil {
		t.Fatalf("ManualStart: %v", err)
	}

	if err := ctrl.ResetAllStationsImmediate(); err != nil {
		t.Fatalf("ResetAllStationsImmediate: %v", err)
	}

	if got := ctrl.Queue().Len(); got != 0 {
		t.Errorf("queue len: got %d, want 0", got)
	}
	last := valve.Last()
	if last == nil {
		t.Fatal("expected a valve Apply call")
	}
	for i, on := range last {
		if on {
			t.Errorf("valve %d: got on, want off after immediate reset", i)
		}
	}
}

func TestTickRainDelayEdgeNotifiesBothWays(t *testing.T) {
	ctrl, _, pub := newTestController(threeStations(), &fakeStore{})
	ctrl.opts.RainDelayStopTime = 100

	if err := ctrl.Tick(50, 0, false, false); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !ctrl.RainDelayed() {
		t.Error("expected rain delay active at wallClock=50 < RainDelayStopTime=100")
	}

	if err := ctrl.Tick(150, 0, false, false); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if ctrl.RainDelayed() {
		t.Error("expected rain delay cleared at wallClock=150 > RainDelayStopTime=100")
	}

	var sawActive, sawInactive bool
	for _, e := range pub.Events {
		if e.Type != notify.RainDelay {
			continue
		}
		if e.Value > 0 {
			sawActive = true
		} else {
			sawInactive = true
		}
	}
	if !sawActive || !sawInactive {
		t.Errorf("expected both a rain-delay-active and rain-delay-cleared event, got %+v", pub.Events)
	}
}

func TestTickRainDelayNoEdgeNoDuplicateNotify(t *testing.T) {
	ctrl, _, pub := newTestController(threeStations(), &fakeStore{})
	ctrl.opts.RainDelayStopTime = 100

	for wc := int32(10); wc <= 40; wc += 10 {
		if err := ctrl.Tick(wc, 0, false, false); err != nil {
			t.Fatalf("Tick(%d): %v", wc, err)
		}
	}

	count := 0
	for _, e := range pub.Events {
		if e.Type == notify.RainDelay {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly 1 RAINDELAY event across a steady-state run, got %d", count)
	}
}

func TestTickSensorEdgeActivatesAndDeactivates(t *testing.T) {
	ctrl, _, pub := newTestController(threeStations(), &fakeStore{})
	ctrl.opts.Sensor1Kind = station.SensorRain

	// Two ticks establish the sensor1 baseline at "inactive".
	mustTick(t, ctrl, 0, false, false)
	mustTick(t, ctrl, 1, false, false)

	if sensor1, _ := ctrl.SensorsActive(); sensor1 {
		t.Fatal("sensor1 should be inactive after baseline")
	}

	// Two consecutive "active" samples, 1s apart, clear the 500ms debounce.
	mustTick(t, ctrl, 2, true, false)
	mustTick(t, ctrl, 3, true, false)

	sensor1, _ := ctrl.SensorsActive()
	if !sensor1 {
		t.Fatal("expected sensor1 active after two stable high samples")
	}

	var sawOn bool
	for _, e := range pub.Events {
		if e.Type == notify.Sensor1 && e.SubValue == 1 {
			sawOn = true
		}
	}
	if !sawOn {
		t.Errorf("expected a SENSOR1 active=1 event, got %+v", pub.Events)
	}

	// Two consecutive "inactive" samples bring it back down.
	mustTick(t, ctrl, 4, false, false)
	mustTick(t, ctrl, 5, false, false)

	sensor1, _ = ctrl.SensorsActive()
	if sensor1 {
		t.Fatal("expected sensor1 inactive again after two stable low samples")
	}

	var sawOff bool
	for _, e := range pub.Events {
		if e.Type == notify.Sensor1 && e.SubValue == 0 {
			sawOff = true
		}
	}
	if !sawOff {
		t.Errorf("expected a SENSOR1 inactive=0 event, got %+v", pub.Events)
	}
}

func mustTick(t *testing.T, ctrl *Controller, wallClock int32, s1, s2 bool) {
	t.Helper()
	if err := ctrl.Tick(wallClock, 0, s1, s2); err != nil {
		t.Fatalf("Tick(%d): %v", wallClock, err)
	}
}

func TestTickMatchesProgramAtMinuteBoundaryAndRunsStation(t *testing.T) {
	prog := &fakeProgram{name: "morning", matchAt: 60, runCount: 1, durations: []int32{30, 30, 30}}
	store := &fakeStore{programs: []program.Program{prog}}
	ctrl, valve, pub := newTestController(threeStations(), store)

	mustTick(t, ctrl, 0, false, false)
	if ctrl.Queue().Len() != 0 {
		t.Fatalf("no match expected before the minute boundary, queue len=%d", ctrl.Queue().Len())
	}

	mustTick(t, ctrl, 60, false, false)
	if got := ctrl.Queue().Len(); got != 3 {
		t.Fatalf("queue len after match: got %d, want 3", got)
	}

	var sawSched bool
	for _, e := range pub.Events {
		if e.Type == notify.ProgramSched {
			sawSched = true
		}
	}
	if !sawSched {
		t.Error("expected a PROGRAM_SCHED event on match")
	}

	// The three concurrent (non-sequential) entries are staggered one
	// second apart starting at the match tick + 1; by +3 all have started.
	mustTick(t, ctrl, 61, false, false)
	mustTick(t, ctrl, 62, false, false)
	mustTick(t, ctrl, 63, false, false)

	running := ctrl.Machine().Running()
	for i, on := range running {
		if !on {
			t.Errorf("station %d: expected running once its staggered start time arrives", i)
		}
	}
	last := valve.Last()
	for i, on := range last {
		if !on {
			t.Errorf("valve %d: expected latched on", i)
		}
	}
}

func TestTickRunOnceProgramDeletedAfterMatch(t *testing.T) {
	prog := &fakeProgram{name: "one-shot", matchAt: 60, runCount: 1, willDelete: true, durations: []int32{10}}
	store := &fakeStore{programs: []program.Program{prog}}
	ctrl, _, _ := newTestController([]program.Station{{SID: 0}}, store)

	mustTick(t, ctrl, 0, false, false)
	mustTick(t, ctrl, 60, false, false)

	if len(store.deleted) != 1 {
		t.Fatalf("expected 1 deleted program, got %d", len(store.deleted))
	}
	if len(store.programs) != 0 {
		t.Errorf("expected program store to be empty after run-once deletion, got %d", len(store.programs))
	}
}

func TestTickRebootOnTimer(t *testing.T) {
	ctrl, _, pub := newTestController(threeStations(), &fakeStore{})
	ctrl.rebootTimer = 30

	mustTick(t, ctrl, 20, false, false)
	if ctrl.rebootCause != "" {
		t.Fatalf("unexpected reboot before the timer elapsed, cause=%q", ctrl.rebootCause)
	}

	mustTick(t, ctrl, 31, false, false)
	if ctrl.rebootCause != "timer" {
		t.Errorf("rebootCause: got %q, want %q", ctrl.rebootCause, "timer")
	}

	var sawReboot bool
	for _, e := range pub.Events {
		if e.Type == notify.Reboot {
			sawReboot = true
		}
	}
	if !sawReboot {
		t.Error("expected a REBOOT event")
	}
}

func TestTickSafeRebootDefersWhileProgramRunning(t *testing.T) {
	prog := &fakeProgram{name: "p", matchAt: 60, runCount: 1, durations: []int32{120}}
	store := &fakeStore{programs: []program.Program{prog}}
	ctrl, _, _ := newTestController([]program.Station{{SID: 0}}, store)
	ctrl.opts.SafeRebootPending = true

	mustTick(t, ctrl, 0, false, false)
	mustTick(t, ctrl, 60, false, false)
	mustTick(t, ctrl, 61, false, false)

	if !ctrl.Machine().ProgramBusy() {
		t.Fatal("expected the matched program to be running")
	}
	if ctrl.rebootCause != "" {
		t.Errorf("expected no safe reboot while a program is busy, got cause=%q", ctrl.rebootCause)
	}
}

func TestTickCmdRebootSchedulesSafeRebootAfterGracePeriod(t *testing.T) {
	prog := &fakeProgram{name: ":>reboot", matchAt: 60, runCount: 1}
	store := &fakeStore{programs: []program.Program{prog}}
	ctrl, _, pub := newTestController([]program.Station{{SID: 0}}, store)

	mustTick(t, ctrl, 0, false, false)
	mustTick(t, ctrl, 60, false, false)

	if !ctrl.opts.SafeRebootPending {
		t.Fatal("expected SafeRebootPending set once :>reboot matched")
	}
	if ctrl.rebootTimer != 60+65 {
		t.Fatalf("expected rebootTimer = 125, got %d", ctrl.rebootTimer)
	}

	mustTick(t, ctrl, 100, false, false)
	if ctrl.rebootCause != "" {
		t.Fatalf("expected no reboot before the grace period elapses, got cause=%q", ctrl.rebootCause)
	}

	mustTick(t, ctrl, 126, false, false)
	if ctrl.rebootCause != "safe" {
		t.Fatalf("expected a safe reboot once idle past the grace period, got cause=%q", ctrl.rebootCause)
	}

	var sawReboot bool
	for _, e := range pub.Events {
		if e.Type == notify.Reboot {
			sawReboot = true
		}
	}
	if !sawReboot {
		t.Error("expected a REBOOT event")
	}
}

func TestNewEnablesFlowSensorOnlyWhenConfigured(t *testing.T) {
	runShortTestAndCollectEvents := func(sensorKind station.SensorKind) []notify.Event {
		stations := []program.Station{{SID: 0}}
		valve := hal.NewFakeValveLatch()
		pub := notify.NewFakePublisher()
		pub.Connected = true

		ctrl := New(Deps{
			Clock:     clock.NewFakeClock(0, 0),
			Valve:     valve,
			Sampler:   flow.NewSampler(),
			Store:     &fakeStore{},
			Resolver:  identityResolver{},
			Notifier:  pub,
			Logs:      logstore.NewWriter("", false, nil),
			Stations:  stations,
			NStations: 1,
		}, Options{Sensor1Kind: sensorKind})

		if err := ctrl.ManualStart(255, false); err != nil {
			t.Fatalf("ManualStart: %v", err)
		}
		for wc := int32(0); wc < 5; wc++ {
			mustTick(t, ctrl, wc, false, false)
		}
		return pub.Events
	}

	withFlow := runShortTestAndCollectEvents(station.SensorFlow)
	withoutFlow := runShortTestAndCollectEvents(station.SensorNone)

	hasFlowReading := func(events []notify.Event) bool {
		for _, e := range events {
			if e.Type == notify.FlowSensor {
				return true
			}
		}
		return false
	}

	if !hasFlowReading(withFlow) {
		t.Error("expected a FLOWSENSOR reading once the queue drains with sensor1 configured as flow")
	}
	if hasFlowReading(withoutFlow) {
		t.Error("expected no FLOWSENSOR reading when sensor1 is not configured as flow")
	}
}

func TestTickAppendsStationLogOnCompletion(t *testing.T) {
	dir := t.TempDir()
	valve := hal.NewFakeValveLatch()
	pub := notify.NewFakePublisher()
	pub.Connected = true

	ctrl := New(Deps{
		Clock:     clock.NewFakeClock(0, 0),
		Valve:     valve,
		Sampler:   flow.NewSampler(),
		Store:     &fakeStore{},
		Resolver:  identityResolver{},
		Notifier:  pub,
		Logs:      logstore.NewWriter(dir, true, nil),
		Stations:  []program.Station{{SID: 0}},
		NStations: 1,
	}, Options{})

	if err := ctrl.ManualStart(255, false); err != nil {
		t.Fatalf("ManualStart: %v", err)
	}
	for wc := int32(0); wc < 5; wc++ {
		mustTick(t, ctrl, wc, false, false)
	}

	data, err := os.ReadFile(filepath.Join(dir, "0.txt"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	want := fmt.Sprintf("[%d,0,%d,3]", runtime.PIDManual, shortTestProgramDurationSeconds)
	if !strings.Contains(string(data), want) {
		t.Errorf("expected log to contain %q, got %q", want, data)
	}
}

func TestTickGatesProgramScheduledWaterPercentOnUseWeather(t *testing.T) {
	weatherProg := &fakeProgram{name: "weather", matchAt: 60, runCount: 1, durations: []int32{30}, useWeather: true}
	plainProg := &fakeProgram{name: "plain", matchAt: 120, runCount: 1, durations: []int32{30}, useWeather: false}
	store := &fakeStore{programs: []program.Program{weatherProg, plainProg}}
	ctrl, _, pub := newTestController([]program.Station{{SID: 0}}, store)
	ctrl.opts.WaterPercent = 50

	mustTick(t, ctrl, 0, false, false)
	mustTick(t, ctrl, 60, false, false)
	mustTick(t, ctrl, 120, false, false)

	var gotWeather, gotPlain bool
	for _, e := range pub.Events {
		if e.Type != notify.ProgramSched {
			continue
		}
		switch e.Value {
		case 1:
			gotWeather = true
			if e.SubValue != 50 {
				t.Errorf("weather program PROGRAM_SCHED percent: got %d, want 50", e.SubValue)
			}
		case 2:
			gotPlain = true
			if e.SubValue != 100 {
				t.Errorf("non-weather program PROGRAM_SCHED percent: got %d, want 100", e.SubValue)
			}
		}
	}
	if !gotWeather || !gotPlain {
		t.Fatalf("expected PROGRAM_SCHED events for both programs, got %+v", pub.Events)
	}
}

func TestTickSchedulesConcurrentEntriesFromPauseAnchorWhenPaused(t *testing.T) {
	prog := &fakeProgram{name: "p", matchAt: 60, runCount: 1, durations: []int32{30}}
	store := &fakeStore{programs: []program.Program{prog}}
	ctrl, _, _ := newTestController([]program.Station{{SID: 0}}, store)
	ctrl.machine.Pause(100)

	mustTick(t, ctrl, 0, false, false)
	mustTick(t, ctrl, 60, false, false)

	if got := ctrl.Queue().At(0).St; got <= 60 {
		t.Errorf("expected the matched entry's start time to be pushed out past the pause timer, got %d", got)
	}
}
