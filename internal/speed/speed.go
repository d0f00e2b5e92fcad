// Package speed reads the throttle potentiometer and maps it to a speed step.
package speed

import (
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"

	"github.com/coreman2200/funtimes-railpanel/internal/bus"
)

// Input is an analog source. ads1x15.PinADC satisfies it.
type Input interface {
	Read() (analog.Sample, error)
}

// Full-scale raw reading of a single-ended ADS1115 channel.
const FullScale = 32767

// NewADS1115 opens channel 0 of an ADS1115 on b at its default address,
// referenced to a 5V supply.
func NewADS1115(b i2c.Bus) (Input, error) {
	adc, err := ads1x15.NewADS1115(b, &ads1x15.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("speed: ads1115: %w", err)
	}
	pin, err := adc.PinForChannel(ads1x15.Channel0, 5*physic.Volt, 10*physic.Hertz, ads1x15.SaveEnergy)
	if err != nil {
		return nil, fmt.Errorf("speed: ads1115 channel 0: %w", err)
	}
	return pin, nil
}

// Scale maps raw readings between Min and Max linearly onto
// 0..bus.MaxSpeedStep. Readings outside the range clamp.
type Scale struct {
	Min int32
	Max int32
}

var DefaultScale = Scale{Min: 400, Max: FullScale - 400}

func (s Scale) Step(raw int32) int {
	if s.Max <= s.Min {
		return 0
	}
	if raw <= s.Min {
		return 0
	}
	if raw >= s.Max {
		return bus.MaxSpeedStep
	}
	return int(int64(raw-s.Min) * bus.MaxSpeedStep / int64(s.Max-s.Min))
}

// Sim is an Input whose reading is set by hand, e.g. from the remote panel.
type Sim struct {
	raw atomic.Int32
}

func (s *Sim) Read() (analog.Sample, error) {
	return analog.Sample{Raw: s.raw.Load()}, nil
}

func (s *Sim) Set(raw int32) { s.raw.Store(raw) }

// SetStep sets the reading that scales to step under sc.
func (s *Sim) SetStep(sc Scale, step int) {
	step = bus.ClampStep(step)
	switch step {
	case 0:
		s.Set(sc.Min)
	case bus.MaxSpeedStep:
		s.Set(sc.Max)
	default:
		// round up so integer division lands back on step
		span := int64(sc.Max - sc.Min)
		s.Set(sc.Min + int32((int64(step)*span+bus.MaxSpeedStep-1)/bus.MaxSpeedStep))
	}
}
