// Package clock supplies the two time bases the core schedules against:
// TZ-adjusted wall-clock seconds for program matching and user-visible
// fields, and monotonic milliseconds for sub-second polling cadence.
package clock

import "time"

// Clock is the time source the core consumes. All scheduling times are
// seconds (NowTZ); all polling intervals are milliseconds (NowMS).
type Clock interface {
	// NowMS returns monotonic milliseconds since an arbitrary epoch.
	// Callers must compare differences with MonoDiff to tolerate wrap.
	NowMS() uint32
	// NowTZ returns TZ-adjusted wall-clock seconds.
	NowTZ() int32
}

// MonoDiff returns a-b as if both were unsigned 32-bit counters that may
// have wrapped, i.e. it is always the forward distance from b to a.
func MonoDiff(a, b uint32) uint32 {
	return a - b
}

// RealClock reads the system clock.
type RealClock struct {
	loc   *time.Location
	start time.Time
}

// NewRealClock creates a RealClock using loc for wall-clock seconds. A nil
// loc uses time.Local.
func NewRealClock(loc *time.Location) *RealClock {
	if loc == nil {
		loc = time.Local
	}
	return &RealClock{loc: loc, start: time.Now()}
}

// NowMS returns milliseconds elapsed since the clock was constructed,
// truncated to 32 bits (wraps after ~49 days, matching the firmware's
// unsigned-wrap semantics).
func (c *RealClock) NowMS() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// NowTZ returns the current wall-clock time in c's location, as seconds
// since the Unix epoch shifted by that location's UTC offset, truncated
// to 32 bits.
func (c *RealClock) NowTZ() int32 {
	now := time.Now().In(c.loc)
	_, offset := now.Zone()
	return int32(now.Unix() + int64(offset))
}

// FakeClock is a test double with explicit, steppable time bases.
type FakeClock struct {
	ms uint32
	tz int32
}

// NewFakeClock creates a FakeClock starting at the given monotonic
// milliseconds and wall-clock seconds.
func NewFakeClock(ms uint32, tz int32) *FakeClock {
	return &FakeClock{ms: ms, tz: tz}
}

// NowMS implements Clock.
func (c *FakeClock) NowMS() uint32 { return c.ms }

// NowTZ implements Clock.
func (c *FakeClock) NowTZ() int32 { return c.tz }

// Advance moves both time bases forward.
func (c *FakeClock) Advance(ms uint32, s int32) {
	c.ms += ms
	c.tz += s
}

// SetMS pins the monotonic clock to an exact value, useful for exercising
// wraparound in flow-sampler tests.
func (c *FakeClock) SetMS(ms uint32) { c.ms = ms }

// SetTZ pins the wall clock to an exact value.
func (c *FakeClock) SetTZ(tz int32) { c.tz = tz }
