// Package station implements the per-second valve actuation state
// machine (spec.md §4.5-§4.7 C7): turning queued runs on and off,
// shifting sequential siblings when one stops early, driving master
// zones, and counting down a pause. Grounded on the per-second loop,
// turn_on_station, turn_off_station, and handle_shift_remaining_stations
// in original_source/main.cpp:900-1295.
package station

import (
	"fmt"

	"github.com/sprinklerd/sprinklerd/internal/flow"
	"github.com/sprinklerd/sprinklerd/internal/hal"
	"github.com/sprinklerd/sprinklerd/internal/program"
	"github.com/sprinklerd/sprinklerd/internal/runtime"
)

// Notifier receives the actuation events a Machine produces. The real
// implementation lives in internal/notify; tests use a fake.
type Notifier interface {
	StationOn(sid uint8, duration int32)
	StationOff(sid uint8, pid uint8, duration int32)
	FlowAlert(sid uint8, duration int32)
	MasterOn(sid uint8)
	MasterOff(sid uint8, duration int32)
	FlowSensorReading(pulses uint32)
}

// LastRun records the most recently completed non-master station run,
// mirroring the firmware's pd.lastrun (spec.md §6).
type LastRun struct {
	SID      uint8
	PID      uint8
	Duration int32
	EndTime  int32
	GPM      *float64
}

// Machine owns the live valve-actuation state: which stations are
// energised, each sequential group's running anchor, master-zone state,
// and the pause countdown. It does not own the queue or station tables,
// which are shared with the scheduler and matcher.
type Machine struct {
	stations []program.Station
	masters  []program.MasterZone
	valve    hal.ValveLatch
	queue    *runtime.Queue
	sampler  *flow.Sampler
	notifier Notifier

	stationDelay int32

	running       []bool  // shadow of the latched valve bits, indexed by sid
	lastSeqStop   []int32 // one anchor per sequential group, spec.md §4.6
	mastersLastOn []int32 // one per master zone, 0 = currently off

	programBusy bool
	paused      bool
	pauseTimer  int32

	enabled      bool
	rainDelayed  bool
	sensor1Kind  SensorKind
	sensor2Kind  SensorKind
	sensor1On    bool
	sensor2On    bool

	flowSensorPresent bool
	flowCountAtStart  uint32

	remoteExt bool

	LastRun LastRun
}

// SensorKind classifies what a digital input channel means, per
// spec.md §4.1; only Rain and Soil trigger dynamic-event shutoffs.
type SensorKind int

const (
	SensorNone SensorKind = iota
	SensorRain
	SensorSoil
	SensorFlow
)

// NewMachine creates a Machine over nStations valves, all initially off.
func NewMachine(stations []program.Station, masters []program.MasterZone, valve hal.ValveLatch, q *runtime.Queue, sampler *flow.Sampler, notifier Notifier, stationDelay int32, nStations int) *Machine {
	return &Machine{
		stations:      stations,
		masters:       masters,
		valve:         valve,
		queue:         q,
		sampler:       sampler,
		notifier:      notifier,
		stationDelay:  stationDelay,
		running:       make([]bool, nStations),
		lastSeqStop:   make([]int32, program.NSeqGroups),
		mastersLastOn: make([]int32, len(masters)),
		enabled:       true,
	}
}

// SetEnabled toggles the controller's master enable bit; disabling kills
// every non-master, non-manual run on the next Tick (spec.md §4.7).
func (m *Machine) SetEnabled(enabled bool) { m.enabled = enabled }

// SetRainDelayed sets the rain-delay gate consumed by dynamic events.
func (m *Machine) SetRainDelayed(delayed bool) { m.rainDelayed = delayed }

// SetRemoteExtMode toggles remote-extension mode, which forces every
// station concurrent and suspends sequential-group bookkeeping
// (shiftRemainingStations, lastSeqStop) regardless of each station's own
// Sequential flag (spec.md §4.4/§4.5/§4.6).
func (m *Machine) SetRemoteExtMode(remoteExt bool) { m.remoteExt = remoteExt }

// SetSensor feeds one debounced sensor channel's kind and current state
// into the machine, for use by the next Tick's dynamic-event pass.
func (m *Machine) SetSensor(channel int, kind SensorKind, active bool) {
	switch channel {
	case 1:
		m.sensor1Kind, m.sensor1On = kind, active
	case 2:
		m.sensor2Kind, m.sensor2On = kind, active
	}
}

// LastSeqStop returns the current per-group sequential anchors, for the
// scheduler to seed its next pass (spec.md §4.4/§4.6).
func (m *Machine) LastSeqStop() []int32 { return m.lastSeqStop }

// ProgramBusy reports whether any run is currently in flight.
func (m *Machine) ProgramBusy() bool { return m.programBusy }

// Pause begins a countdown of seconds. Tick decrements it once per call
// and, on the call after it reaches zero, clears every valve bit and ends
// the pause. Pause itself turns no valve off, and Tick still starts queued
// runs whose window arrives while paused.
func (m *Machine) Pause(seconds int32) {
	m.paused = true
	m.pauseTimer = seconds
}

func (m *Machine) clearPause() {
	m.paused = false
	m.pauseTimer = 0
}

// Paused reports the current pause state and remaining seconds.
func (m *Machine) Paused() (bool, int32) { return m.paused, m.pauseTimer }

func (m *Machine) groupID(sid uint8) uint8 {
	if int(sid) < len(m.stations) {
		return m.stations[sid].GID
	}
	return 0
}

func (m *Machine) isSequential(sid uint8) bool {
	return !m.remoteExt && int(sid) < len(m.stations) && m.stations[sid].Sequential
}

func (m *Machine) isMaster(sid uint8) bool {
	for _, mz := range m.masters {
		if mz.SID != 0 && mz.SID == sid+1 {
			return true
		}
	}
	return false
}

// Tick advances the machine by one second at absolute time now,
// performing the full actuation sequence: assign queue entries to
// stations, turn runs on/off, garbage-collect the queue, apply dynamic
// shutoffs, latch valve bits, recompute sequential anchors, reset on an
// empty queue, drive master zones, count down any pause, and apply
// dynamic shutoffs a second time before the final latch — matching the
// two dynamic-event passes of the firmware's per-second loop.
func (m *Machine) Tick(now int32) error {
	if m.programBusy || m.queue.Len() > 0 {
		wasBusy := m.programBusy
		m.queue.ResolveCollisions()
		m.runStationKeeping(now)
		if !wasBusy && m.programBusy && m.flowSensorPresent {
			m.flowCountAtStart = m.sampler.Count()
		}
		m.queue.GC(now)
		m.applyDynamicEvents(now)
		if err := m.applyValveBits(); err != nil {
			return err
		}
		m.recomputeLastSeqStop(now)
		if m.queue.Len() == 0 {
			m.resetOnEmptyQueue()
		}
	}

	m.driveMasterZones(now)

	if m.paused {
		if m.pauseTimer > 0 {
			m.pauseTimer--
		} else {
			m.clearAllBits()
			m.clearPause()
		}
	}

	m.applyDynamicEvents(now)
	m.notifyMasterEdges(now)

	return m.applyValveBits()
}

func (m *Machine) runStationKeeping(now int32) {
	for sid := range m.running {
		if m.isMaster(uint8(sid)) {
			continue
		}
		qid := m.queue.StationQID(uint8(sid))
		if qid == runtime.NotQueued {
			continue
		}
		e := m.queue.At(int(qid))

		if !m.running[sid] && now >= e.St && now < e.St+e.Dur {
			m.turnOnStation(uint8(sid), e.St+e.Dur-now)
		}
		if e.St > 0 && now >= e.St+e.Dur {
			m.turnOffStation(uint8(sid), now, true)
		}
	}
	m.programBusy = m.anyRunning()
}

func (m *Machine) anyRunning() bool {
	for _, r := range m.running {
		if r {
			return true
		}
	}
	return m.queue.Len() > 0
}

func (m *Machine) turnOnStation(sid uint8, expectedRemaining int32) {
	m.sampler.StationOn()
	m.running[sid] = true
	m.programBusy = true
	m.notifier.StationOn(sid, expectedRemaining)
}

// turnOffStation mirrors turn_off_station: it honours the dequeue-time
// vs end-time distinction master adjustments create, and only dequeues
// the entry once it is both past due and actually off.
func (m *Machine) turnOffStation(sid uint8, now int32, shift bool) {
	qid := m.queue.StationQID(sid)
	if qid == runtime.NotQueued {
		return
	}
	q := m.queue.At(int(qid))
	gid := m.groupID(sid)
	forceDequeue := false
	wasRunning := m.running[sid]

	if shift && m.isSequential(sid) {
		m.shiftRemainingStations(q, gid, now)
	}

	switch {
	case now >= q.DequeTime:
		if wasRunning {
			forceDequeue = true
		} else {
			m.queue.Dequeue(int(qid))
			return
		}
	case now >= q.St+q.Dur:
		if !wasRunning {
			return
		}
	default:
		return
	}

	m.running[sid] = false

	gpm := m.sampler.StationOff()

	if now >= q.St {
		m.LastRun = LastRun{SID: sid, PID: q.PID, Duration: now - q.St, EndTime: now}
		if m.flowSensorPresent {
			g := gpm
			m.LastRun.GPM = &g
		}
		m.notifier.StationOff(sid, q.PID, m.LastRun.Duration)
		m.notifier.FlowAlert(sid, m.LastRun.Duration)
	}

	if q.St+q.Dur+m.stationDelay == m.lastSeqStop[gid] {
		m.lastSeqStop[gid] = 0
	}

	if forceDequeue {
		m.queue.Dequeue(int(qid))
	}
}

// shiftRemainingStations compacts every later entry in sid's sequential
// group by however much of sid's slot went unused, so the group doesn't
// leave a gap when a run is cut short (main.cpp:1200-1221).
func (m *Machine) shiftRemainingStations(q *runtime.Entry, gid uint8, now int32) {
	qEnd := q.St + q.Dur
	var remainder int32
	if qEnd > now {
		if q.St < now {
			remainder = qEnd - now
		} else {
			remainder = q.Dur
		}
		for i := range m.queue.Entries() {
			s := m.queue.At(i)
			if s == q {
				continue
			}
			if m.groupID(s.SID) != gid || !m.isSequential(s.SID) {
				continue
			}
			if s.St >= qEnd {
				s.St -= remainder
				s.DequeTime -= remainder
			}
		}
	}
	m.lastSeqStop[gid] -= remainder
	m.lastSeqStop[gid]++
}

// applyDynamicEvents kills any non-manual, non-test run bound to a
// channel that's currently vetoing it: controller disabled, rain delay
// active, or an active rain/soil sensor whose station doesn't ignore it
// (main.cpp:1297-1343).
func (m *Machine) applyDynamicEvents(now int32) {
	sn1 := (m.sensor1Kind == SensorRain || m.sensor1Kind == SensorSoil) && m.sensor1On
	sn2 := (m.sensor2Kind == SensorRain || m.sensor2Kind == SensorSoil) && m.sensor2On

	for sid := range m.running {
		if m.isMaster(uint8(sid)) {
			continue
		}
		qid := m.queue.StationQID(uint8(sid))
		if qid == runtime.NotQueued {
			continue
		}
		q := m.queue.At(int(qid))
		if q.PID >= runtime.PIDManual {
			continue
		}
		st := m.stations[sid]
		switch {
		case !m.enabled:
			q.DequeTime = now
			m.turnOffStation(uint8(sid), now, true)
		case m.rainDelayed && !st.IgnoreRain:
			q.DequeTime = now
			m.turnOffStation(uint8(sid), now, true)
		case sn1 && !st.IgnoreSensor1:
			q.DequeTime = now
			m.turnOffStation(uint8(sid), now, true)
		case sn2 && !st.IgnoreSensor2:
			q.DequeTime = now
			m.turnOffStation(uint8(sid), now, true)
		}
	}
}

func (m *Machine) recomputeLastSeqStop(now int32) {
	for i := range m.lastSeqStop {
		m.lastSeqStop[i] = 0
	}
	for _, e := range m.queue.Entries() {
		sst := e.St + e.Dur
		if sst <= now {
			continue
		}
		if !m.isSequential(e.SID) {
			continue
		}
		gid := m.groupID(e.SID)
		if sst > m.lastSeqStop[gid] {
			m.lastSeqStop[gid] = sst
		}
	}
}

func (m *Machine) resetOnEmptyQueue() {
	m.clearAllBits()
	m.queue.Reset()
	m.programBusy = false
	m.clearPause()

	if m.flowSensorPresent {
		count := m.sampler.Count()
		pulses := uint32(0)
		if count > m.flowCountAtStart {
			pulses = count - m.flowCountAtStart
		}
		m.notifier.FlowSensorReading(pulses)
	}
}

func (m *Machine) clearAllBits() {
	for i := range m.running {
		m.running[i] = false
	}
}

// driveMasterZones energises each configured master zone whenever any
// bound, non-master station is within its on/off-adjusted window
// (main.cpp:1017-1045).
func (m *Machine) driveMasterZones(now int32) {
	for i, mz := range m.masters {
		if mz.SID == 0 {
			continue
		}
		bit := false
		for sid := range m.stations {
			if mz.SID == uint8(sid)+1 {
				continue
			}
			qid := m.queue.StationQID(uint8(sid))
			if qid == runtime.NotQueued {
				continue
			}
			q := m.queue.At(int(qid))
			if !mz.Bound(m.stations[sid].MasterMask, i) {
				continue
			}
			if now >= q.St+mz.OnAdj && now <= q.St+q.Dur+mz.OffAdj {
				bit = true
				break
			}
		}
		m.running[mz.SID-1] = bit
	}
}

// notifyMasterEdges emits STATION_ON/STATION_OFF for master-zone edges,
// tracked separately from ordinary stations because a master has no
// single queue entry of its own (main.cpp:1059-1074).
func (m *Machine) notifyMasterEdges(now int32) {
	for i, mz := range m.masters {
		if mz.SID == 0 {
			continue
		}
		bit := m.running[mz.SID-1]
		laston := m.mastersLastOn[i]
		if laston == 0 && bit {
			m.notifier.MasterOn(mz.SID - 1)
			m.mastersLastOn[i] = now
			continue
		}
		if laston > 0 && !bit {
			dur := int32(0)
			if now > laston {
				dur = now - laston
			}
			m.notifier.MasterOff(mz.SID-1, dur)
			m.mastersLastOn[i] = 0
		}
	}
}

func (m *Machine) applyValveBits() error {
	if err := m.valve.Apply(m.running); err != nil {
		return fmt.Errorf("station: apply valve bits: %w", err)
	}
	return nil
}

// EnableFlowSensor marks sensor1 as a flow meter, switching on
// start/stop pulse-count bookkeeping around each run.
func (m *Machine) EnableFlowSensor(present bool) { m.flowSensorPresent = present }

// ResetImmediate clears every valve and the pause/busy state without
// writing any log records, for reset_all_stations_immediate (spec.md
// §4.9). The caller is still responsible for resetting the queue.
func (m *Machine) ResetImmediate() error {
	m.clearAllBits()
	m.programBusy = false
	m.clearPause()
	return m.applyValveBits()
}

// Running reports the current shadow state of every valve, for status
// reporting.
func (m *Machine) Running() []bool {
	out := make([]bool, len(m.running))
	copy(out, m.running)
	return out
}
