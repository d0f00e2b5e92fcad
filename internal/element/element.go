package element

import "fmt"

type Kind uint8

const (
	KindSwitch Kind = iota
	KindLocomotive
	KindFunction
	KindPower
)

func (k Kind) String() string {
	switch k {
	case KindSwitch:
		return "switch"
	case KindLocomotive:
		return "locomotive"
	case KindFunction:
		return "function"
	case KindPower:
		return "power"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Module is the layout section an element belongs to. Informational only.
type Module uint8

const (
	NoModule Module = iota
	ModuleNWW
	ModuleNW
	ModuleNE
	ModuleNEE
	ModuleSWW
	ModuleSW
	ModuleSE
	ModuleSEE
)

var moduleNames = [...]string{"-", "NWW", "NW", "NE", "NEE", "SWW", "SW", "SE", "SEE"}

func (m Module) String() string {
	if int(m) < len(moduleNames) {
		return moduleNames[m]
	}
	return fmt.Sprintf("module(%d)", uint8(m))
}

type SwitchState int16

const (
	Straight SwitchState = 0
	Thrown   SwitchState = 1
)

func (s SwitchState) Opposite() SwitchState {
	if s == Thrown {
		return Straight
	}
	return Thrown
}

func (s SwitchState) String() string {
	if s == Thrown {
		return "thrown"
	}
	return "straight"
}

type Direction int16

const (
	Reverse Direction = -1
	Stopped Direction = 0
	Forward Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Reverse:
		return "reverse"
	case Stopped:
		return "stopped"
	case Forward:
		return "forward"
	}
	return fmt.Sprintf("direction(%d)", int16(d))
}

type PowerState int16

const (
	PowerOff PowerState = 0
	PowerOn  PowerState = 1
)

func (p PowerState) Toggle() PowerState {
	if p == PowerOn {
		return PowerOff
	}
	return PowerOn
}

func (p PowerState) String() string {
	if p == PowerOn {
		return "on"
	}
	return "off"
}

// FunctionCode identifies what a Function element does when pressed.
type FunctionCode uint16

const (
	FuncStore    FunctionCode = 9001
	FuncRecall   FunctionCode = 9002
	FuncActivate FunctionCode = 9003
	FuncShow     FunctionCode = 9004

	FuncForward FunctionCode = 9101
	FuncStop    FunctionCode = 9102
	FuncReverse FunctionCode = 9103
	FuncLights  FunctionCode = 9104
	FuncSound   FunctionCode = 9105
	FuncWhistle FunctionCode = 9106
	FuncHorn    FunctionCode = 9107
	FuncTwoTone FunctionCode = 9108
)

var functionNames = map[FunctionCode]string{
	FuncStore:    "store",
	FuncRecall:   "recall",
	FuncActivate: "activate",
	FuncShow:     "show",
	FuncForward:  "forward",
	FuncStop:     "stop",
	FuncReverse:  "reverse",
	FuncLights:   "lights",
	FuncSound:    "sound",
	FuncWhistle:  "whistle",
	FuncHorn:     "horn",
	FuncTwoTone:  "two-tone horn",
}

func (c FunctionCode) Valid() bool {
	_, ok := functionNames[c]
	return ok
}

// LocoScoped reports whether the function acts on the selected locomotive.
func (c FunctionCode) LocoScoped() bool {
	return c >= FuncForward && c <= FuncTwoTone
}

func (c FunctionCode) String() string {
	if n, ok := functionNames[c]; ok {
		return n
	}
	return fmt.Sprintf("function(%d)", uint16(c))
}

// PowerAddress is the address of the track power element.
const PowerAddress uint16 = 9999

// State is the mutable pair of an element as it is persisted.
type State struct {
	Primary   int16
	Secondary int16
}

// Element is one addressable entity on the panel. The concrete type is one
// of *Switch, *Locomotive, *Function or *Power.
type Element interface {
	Kind() Kind
	Module() Module
	Address() uint16
	State() State
	restore(State) error
}

type base struct {
	module  Module
	address uint16
}

func (b base) Module() Module  { return b.module }
func (b base) Address() uint16 { return b.address }

type Switch struct {
	base
	state    SwitchState
	opposite SwitchState
}

func NewSwitch(m Module, address uint16) *Switch {
	return &Switch{base: base{module: m, address: address}, state: Straight, opposite: Thrown}
}

// NewReservedSwitch returns a spare switch slot that keeps the LED pair
// arithmetic stable for the switches behind it.
func NewReservedSwitch() *Switch {
	return NewSwitch(NoModule, 0)
}

func (s *Switch) Kind() Kind            { return KindSwitch }
func (s *Switch) Reserved() bool        { return s.address == 0 }
func (s *Switch) Position() SwitchState { return s.state }
func (s *Switch) Opposite() SwitchState { return s.opposite }
func (s *Switch) State() State          { return State{int16(s.state), int16(s.opposite)} }
func (s *Switch) Set(st SwitchState)    { s.state, s.opposite = st, st.Opposite() }
func (s *Switch) Toggle() SwitchState   { s.Set(s.state.Opposite()); return s.state }

func (s *Switch) restore(st State) error {
	p := SwitchState(st.Primary)
	if p != Straight && p != Thrown {
		return fmt.Errorf("switch %d: invalid state %d", s.address, st.Primary)
	}
	if SwitchState(st.Secondary) != p.Opposite() {
		return fmt.Errorf("switch %d: opposite %d does not complement %d", s.address, st.Secondary, st.Primary)
	}
	s.Set(p)
	return nil
}

type Locomotive struct {
	base
	direction Direction
	speed     int
}

func NewLocomotive(m Module, address uint16) *Locomotive {
	return &Locomotive{base: base{module: m, address: address}, direction: Forward}
}

func (l *Locomotive) Kind() Kind               { return KindLocomotive }
func (l *Locomotive) Direction() Direction     { return l.direction }
func (l *Locomotive) Speed() int               { return l.speed }
func (l *Locomotive) SetDirection(d Direction) { l.direction = d }
func (l *Locomotive) SetSpeed(step int)        { l.speed = step }
func (l *Locomotive) State() State             { return State{int16(l.direction), int16(l.speed)} }

func (l *Locomotive) restore(st State) error {
	d := Direction(st.Primary)
	if d < Reverse || d > Forward {
		return fmt.Errorf("locomotive %d: invalid direction %d", l.address, st.Primary)
	}
	if st.Secondary < 0 {
		return fmt.Errorf("locomotive %d: negative speed %d", l.address, st.Secondary)
	}
	l.direction, l.speed = d, int(st.Secondary)
	return nil
}

type Function struct {
	base
}

func NewFunction(code FunctionCode) *Function {
	return &Function{base: base{module: NoModule, address: uint16(code)}}
}

func (f *Function) Kind() Kind          { return KindFunction }
func (f *Function) Code() FunctionCode  { return FunctionCode(f.address) }
func (f *Function) State() State        { return State{} }
func (f *Function) restore(State) error { return nil }

type Power struct {
	base
	state PowerState
}

func NewPower(initial PowerState) *Power {
	return &Power{base: base{module: NoModule, address: PowerAddress}, state: initial}
}

func (p *Power) Kind() Kind         { return KindPower }
func (p *Power) On() bool           { return p.state == PowerOn }
func (p *Power) Power() PowerState  { return p.state }
func (p *Power) Set(st PowerState)  { p.state = st }
func (p *Power) Toggle() PowerState { p.state = p.state.Toggle(); return p.state }
func (p *Power) State() State       { return State{Primary: int16(p.state)} }

func (p *Power) restore(st State) error {
	s := PowerState(st.Primary)
	if s != PowerOff && s != PowerOn {
		return fmt.Errorf("power: invalid state %d", st.Primary)
	}
	p.state = s
	return nil
}

// Describe renders a one-line summary of e for logs and the Show function.
func Describe(e Element) string {
	switch v := e.(type) {
	case *Switch:
		if v.Reserved() {
			return "switch (reserved)"
		}
		return fmt.Sprintf("switch %d [%s] %s", v.address, v.module, v.state)
	case *Locomotive:
		return fmt.Sprintf("loco %d %s step %d", v.address, v.direction, v.speed)
	case *Function:
		return fmt.Sprintf("function %d %s", v.address, v.Code())
	case *Power:
		return fmt.Sprintf("power %s", v.state)
	}
	return "unknown"
}
