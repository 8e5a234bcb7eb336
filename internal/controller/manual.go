package controller

import (
	"github.com/sprinklerd/sprinklerd/internal/runtime"
)

const (
	testProgramDurationSeconds      = 60
	shortTestProgramDurationSeconds = 2
)

// ManualStart implements manual_start_program (spec.md §4.9). pid==0 is
// the full test program (60s/station); pid==255 the short test program
// (2s/station); any other pid runs program pid-1 from the store.
func (c *Controller) ManualStart(pid uint8, uwt bool) error {
	if err := c.ResetAllStationsImmediate(); err != nil {
		return err
	}

	matched := false
	for sid := range c.stations {
		st := c.stations[sid]
		if c.isMasterSID(uint8(sid)) {
			continue
		}
		dur := c.manualDuration(pid, uint8(sid), uwt)
		if dur <= 0 || st.Disabled {
			continue
		}
		if c.queue.Enqueue(runtime.Entry{SID: uint8(sid), PID: runtime.PIDManual, Dur: dur}) {
			matched = true
		}
	}

	if pid > 0 && pid < 255 {
		c.notify.ProgramScheduled(pid, c.opts.WaterPercent, 1)
	}

	if matched {
		c.sched.Schedule(c.lastTick, c.queue, c.seqStartTimes(c.lastTick), false, 0, c.opts.RemoteExtMode)
	}
	return nil
}

func (c *Controller) isMasterSID(sid uint8) bool {
	return c.opts.MasterStationID == sid+1 || c.opts.MasterStation2ID == sid+1
}

func (c *Controller) manualDuration(pid uint8, sid uint8, uwt bool) int32 {
	var dur int32
	switch {
	case pid == 255:
		dur = shortTestProgramDurationSeconds
	case pid == 0:
		dur = testProgramDurationSeconds
	default:
		programs := c.store.Programs()
		idx := int(pid) - 1
		if idx < 0 || idx >= len(programs) {
			return 0
		}
		durations := programs[idx].Durations()
		if int(sid) >= len(durations) {
			return 0
		}
		dur = durations[sid]
	}
	if uwt {
		dur = dur * int32(c.opts.WaterPercent) / 100
	}
	return dur
}

// ResetAllStations sets every queued entry's duration to 0, letting the
// station machine drain them cooperatively on its next tick (logged
// normally). Grounded on reset_all_stations (main.cpp:1448-1457).
func (c *Controller) ResetAllStations() {
	for i := range c.queue.Entries() {
		c.queue.At(i).Dur = 0
	}
}

// ResetAllStationsImmediate clears every valve and resets the runtime
// queue without writing any log records, grounded on
// reset_all_stations_immediate (main.cpp:1436-1442).
func (c *Controller) ResetAllStationsImmediate() error {
	c.queue.Reset()
	return c.machine.ResetImmediate()
}
