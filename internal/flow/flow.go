// Package flow implements the flow-sensor sampler: it converts falling-edge
// pulses on a flow meter pin into a moving-average instantaneous rate and
// per-run gallon totals, per spec.md §4.2.
package flow

// RTWindow scales the instantaneous rate into a fixed-point integer the
// way the firmware's FLOWCOUNT_RT_WINDOW constant does.
const RTWindow = 100

// Sampler tracks flow-sensor state across ticks. It is driven by Poll,
// called every tick whenever sensor 1 is configured as a flow sensor.
// Not safe for concurrent use — the sampler and the tick loop run on the
// same goroutine, mirroring the single-threaded firmware.
type Sampler struct {
	prevHigh   bool
	seeded     bool
	lastPollMS uint32
	polled     bool

	count uint32 // total pulses observed, never reset

	flowBegin  uint32 // time of the first post-settling pulse
	flowStart  uint32 // time flow measurement started (first pulse of the run)
	flowStop   uint32 // time of last pulse before valve off
	gallons    uint32 // pulse count since settling ended
	begunAfter bool   // whether flowBegin has been latched for this run

	rtPeriod int64  // EMA of inter-pulse period, ms; -1 = unset
	rtReset  uint32 // nowMS after which the rate is considered stale
	lastMS   uint32

	flowcountRT uint32 // current instantaneous rate, scaled by RTWindow
	lastGPM     float64
}

// NewSampler creates a Sampler with the EMA unset, matching the firmware's
// flow_rt_period = -1 initial state.
func NewSampler() *Sampler {
	return &Sampler{rtPeriod: -1}
}

// settlingWindowMS is the time after the first pulse during which gallons
// are not yet counted (spec.md §4.2 step 3).
const settlingWindowMS = 90000

// Poll processes one tick's worth of pin state. nowMS is the current
// monotonic millisecond reading; pinHigh is the raw (uninverted) pin
// level. A pulse is counted only on the falling edge (high -> low).
// Re-entry within the same millisecond as the last call is a no-op,
// matching the single flow_poll() invocation per loop iteration.
func (s *Sampler) Poll(nowMS uint32, pinHigh bool) {
	if s.polled && nowMS == s.lastPollMS {
		return
	}
	s.polled = true
	s.lastPollMS = nowMS

	if s.rtReset != 0 && nowMS > s.rtReset {
		s.flowcountRT = 0
		s.rtPeriod = -1
		s.rtReset = 0
	}
	if s.rtPeriod < 0 {
		s.lastMS = nowMS
	}

	// Only record on falling edge: previous sample high, current low.
	if !s.seeded {
		s.prevHigh = pinHigh
		s.seeded = true
		return
	}
	if !s.prevHigh || pinHigh {
		s.prevHigh = pinHigh
		return
	}
	s.prevHigh = pinHigh

	s.count++

	if s.flowStart == 0 {
		s.flowStart = nowMS
		s.gallons = 0
		s.begunAfter = false
	}

	if nowMS-s.flowStart < settlingWindowMS {
		s.gallons = 0
	} else {
		if !s.begunAfter {
			s.flowBegin = nowMS
			s.begunAfter = true
		}
		s.gallons++
	}

	period := int64(nowMS) - int64(s.lastMS)
	if s.rtPeriod > 0 {
		s.rtPeriod = period/5 + s.rtPeriod*4/5
	} else {
		s.rtPeriod = period
	}

	if s.rtPeriod > 0 {
		s.flowcountRT = uint32(RTWindow * 1000 / s.rtPeriod)
		s.rtReset = nowMS + uint32(period)*10
	} else {
		s.flowcountRT = 0
		s.rtReset = 0
	}

	s.lastMS = nowMS
	s.flowStop = nowMS
}

// StationOn resets the per-run flow state when a station's valve opens
// (spec.md §4.2 step 7).
func (s *Sampler) StationOn() {
	s.flowStart = 0
	s.gallons = 0
	s.begunAfter = false
}

// StationOff computes last_gpm from the gallons observed since flowStart
// (spec.md §4.2 step 8), and returns it. Requires at least 2 pulses
// (1 full gallon) to produce a nonzero rate.
func (s *Sampler) StationOff() float64 {
	if s.gallons > 1 {
		if s.flowStop <= s.flowBegin {
			s.lastGPM = 0
		} else {
			s.lastGPM = 60000 / (float64(s.flowStop-s.flowBegin) / float64(s.gallons-1))
		}
	} else {
		s.lastGPM = 0
	}
	return s.lastGPM
}

// Count returns the total pulses seen since the sampler was created.
func (s *Sampler) Count() uint32 { return s.count }

// Gallons returns the current per-run pulse count (post-settling).
func (s *Sampler) Gallons() uint32 { return s.gallons }

// InstantaneousRate returns the current scaled instantaneous flow rate,
// or 0 if stale/unset.
func (s *Sampler) InstantaneousRate() uint32 { return s.flowcountRT }

// LastGPM returns the most recently computed average gallons-per-minute
// for a completed run.
func (s *Sampler) LastGPM() float64 { return s.lastGPM }
