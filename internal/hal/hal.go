// Package hal provides hardware abstraction for valve control, sensor pin
// reads, and the real-time clock. The real implementation drives Linux GPIO
// character devices; the fake implementation allows the core to run and be
// tested without hardware.
package hal

import "time"

// PinReader reads a single digital input pin.
type PinReader interface {
	// Read returns the raw (uninverted) logical level of the pin.
	Read() (bool, error)
}

// ValveLatch applies the full station valve-bit vector to hardware in a
// single Apply call, the way the firmware's apply_all_station_bits()
// latches every station once per tick.
type ValveLatch interface {
	// Apply writes bits (indexed by station id) to the valve outputs.
	Apply(bits []bool) error
	// Close releases hardware resources.
	Close() error
}

// RTC provides the real-time clock read used to seed Clock.NowTZ, and
// allows it to be set (e.g. after an NTP sync).
type RTC interface {
	Now() (time.Time, error)
	Set(time.Time) error
}

// Pins names the sensor/flow input pins by role, mirroring the teacher's
// BCM pin constants (gpio.PinCH/PinHW) generalized to the sprinkler's
// sensor set.
type Pins struct {
	Sensor1 int // rain, soil, program-switch, or flow pulse input
	Sensor2 int
}

// Default BCM pin numbers, analogous to gpio.DefaultPinCH/DefaultPinHW.
const (
	DefaultSensor1Pin = 14
	DefaultSensor2Pin = 15
)
