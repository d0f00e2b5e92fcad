// Package bus holds the protocol-neutral commands the panel exchanges with the
// layout's command station, and the emitter that hands them to a transport.
package bus

import (
	"fmt"

	"github.com/coreman2200/funtimes-railpanel/internal/element"
)

// MaxSpeedStep is the highest speed step a locomotive can be given.
const MaxSpeedStep = 126

// Command is one of SetSwitch, LocoDirection, LocoSpeed, LocoFunction or
// TrackPower.
type Command interface {
	Name() string
	fmt.Stringer
}

type SetSwitch struct {
	Address uint16
	State   element.SwitchState
}

type LocoDirection struct {
	Address   uint16
	Direction element.Direction
}

type LocoSpeed struct {
	Address uint16
	Step    int
}

// LocoFunction switches decoder function Function (0 = F0) of a locomotive.
type LocoFunction struct {
	Address  uint16
	Function uint8
	On       bool
}

type TrackPower struct {
	On bool
}

func (SetSwitch) Name() string     { return "set_switch" }
func (LocoDirection) Name() string { return "loco_direction" }
func (LocoSpeed) Name() string     { return "loco_speed" }
func (LocoFunction) Name() string  { return "loco_function" }
func (TrackPower) Name() string    { return "track_power" }

func (c SetSwitch) String() string { return fmt.Sprintf("switch %d %s", c.Address, c.State) }
func (c LocoDirection) String() string {
	return fmt.Sprintf("loco %d %s", c.Address, c.Direction)
}
func (c LocoSpeed) String() string { return fmt.Sprintf("loco %d step %d", c.Address, c.Step) }
func (c LocoFunction) String() string {
	return fmt.Sprintf("loco %d F%d on=%t", c.Address, c.Function, c.On)
}
func (c TrackPower) String() string { return fmt.Sprintf("power on=%t", c.On) }

// ClampStep bounds a speed step to 0..MaxSpeedStep.
func ClampStep(step int) int {
	if step < 0 {
		return 0
	}
	if step > MaxSpeedStep {
		return MaxSpeedStep
	}
	return step
}
