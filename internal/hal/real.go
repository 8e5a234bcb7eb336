//go:build linux

package hal

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// RealPinReader reads a single GPIO line using the Linux GPIO character
// device, the same chip/line pattern as the teacher's gpio.RealReader.
type RealPinReader struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealPinReader opens chip "gpiochip0" and requests pin as an input
// with a pull-down, matching boot defaults for external optocoupler/relay
// modules.
func NewRealPinReader(pin int) (*RealPinReader, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("hal: open gpio chip: %w", err)
	}
	line, err := chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullDown)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("hal: request pin %d: %w", pin, err)
	}
	return &RealPinReader{chip: chip, line: line}, nil
}

// Read returns the raw pin level.
func (r *RealPinReader) Read() (bool, error) {
	v, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("hal: read pin: %w", err)
	}
	return v != 0, nil
}

// Close releases the chip and line.
func (r *RealPinReader) Close() error {
	var errs []error
	if r.line != nil {
		if err := r.line.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("hal: close errors: %v", errs)
	}
	return nil
}

// RealValveLatch drives station valves through a bank of GPIO output
// lines, one per station, all set by one Apply call per tick.
type RealValveLatch struct {
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line
}

// NewRealValveLatch requests one output line per entry in pins.
func NewRealValveLatch(pins []int) (*RealValveLatch, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("hal: open gpio chip: %w", err)
	}
	lines := make([]*gpiocdev.Line, 0, len(pins))
	for _, p := range pins {
		l, err := chip.RequestLine(p, gpiocdev.AsOutput(0))
		if err != nil {
			for _, opened := range lines {
				opened.Close()
			}
			chip.Close()
			return nil, fmt.Errorf("hal: request valve pin %d: %w", p, err)
		}
		lines = append(lines, l)
	}
	return &RealValveLatch{chip: chip, lines: lines}, nil
}

// Apply writes every valve bit in one pass, setting each line in turn.
func (v *RealValveLatch) Apply(bits []bool) error {
	for i, b := range bits {
		if i >= len(v.lines) {
			break
		}
		val := 0
		if b {
			val = 1
		}
		if err := v.lines[i].SetValue(val); err != nil {
			return fmt.Errorf("hal: set valve %d: %w", i, err)
		}
	}
	return nil
}

// Close releases all valve output lines.
func (v *RealValveLatch) Close() error {
	var errs []error
	for _, l := range v.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if v.chip != nil {
		if err := v.chip.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("hal: close errors: %v", errs)
	}
	return nil
}

// SystemRTC reads/sets the OS clock directly.
type SystemRTC struct{}

// Now returns the current system time.
func (SystemRTC) Now() (time.Time, error) { return time.Now(), nil }

// Set is a no-op placeholder; setting the system clock requires root and
// platform-specific syscalls not exercised by the core's tick loop.
func (SystemRTC) Set(t time.Time) error { return nil }
