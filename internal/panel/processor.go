// Package panel runs the control panel: the per-element state machine that
// turns presses into table changes, indicator updates and bus commands, and
// the loop that feeds it.
package panel

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coreman2200/funtimes-railpanel/internal/bus"
	diag "github.com/coreman2200/funtimes-railpanel/internal/diagnostics"
	"github.com/coreman2200/funtimes-railpanel/internal/display"
	"github.com/coreman2200/funtimes-railpanel/internal/element"
	"github.com/coreman2200/funtimes-railpanel/internal/led"
)

var (
	ErrReservedSlot         = errors.New("panel: reserved switch slot")
	ErrNoLocomotiveSelected = errors.New("panel: no locomotive selected")
	ErrNoElement            = errors.New("panel: no element at index")
	ErrBus                  = errors.New("panel: bus send failed")
	ErrStorage              = errors.New("panel: storage failed")
	ErrSpeedInput           = errors.New("panel: throttle read failed")
)

// Emitter puts commands on the bus. *bus.Emitter satisfies it.
type Emitter interface {
	Emit(cmd bus.Command) error
}

// Store persists table state. *storage.Adapter satisfies it.
type Store interface {
	Save(states []element.State) error
	Restore(t *element.Table) error
}

// locoFunction is the decoder function a panel key drives. Latching
// functions toggle per locomotive on each press; momentary ones are sent
// on and then off.
type locoFunction struct {
	number    uint8
	momentary bool
}

var locoFunctions = map[element.FunctionCode]locoFunction{
	element.FuncLights:  {number: 0},
	element.FuncSound:   {number: 1},
	element.FuncWhistle: {number: 2, momentary: true},
	element.FuncHorn:    {number: 3, momentary: true},
	element.FuncTwoTone: {number: 4, momentary: true},
}

type Options struct {
	Table   *element.Table
	LEDs    *led.Mirror
	Bus     Emitter
	Store   Store
	Display display.Display
	Log     zerolog.Logger
	Diag    diag.Sink
}

// Processor owns the element table, the locomotive selection and the
// indicators. It is not safe for concurrent use; the loop is its only
// caller.
type Processor struct {
	table   *element.Table
	leds    *led.Mirror
	bus     Emitter
	store   Store
	display display.Display
	active  int
	log     zerolog.Logger
	diag    diag.Sink

	// latched function bits per locomotive index
	functions map[int]uint32
}

func NewProcessor(o Options) (*Processor, error) {
	if o.Table == nil || o.LEDs == nil || o.Bus == nil || o.Store == nil {
		return nil, errors.New("panel: table, leds, bus and store are required")
	}
	p := &Processor{
		table:     o.Table,
		leds:      o.LEDs,
		bus:       o.Bus,
		store:     o.Store,
		display:   o.Display,
		active:    element.None,
		functions: make(map[int]uint32),
		log:       o.Log.With().Str("component", "panel").Logger(),
		diag:      o.Diag,
	}
	if p.display == nil {
		p.display = display.NewLog(o.Log)
	}
	if p.diag == nil {
		p.diag = diag.Discard
	}
	return p, nil
}

func (p *Processor) Table() *element.Table { return p.table }
func (p *Processor) LEDs() *led.Mirror     { return p.leds }

// Active returns the table index of the selected locomotive, or
// element.None.
func (p *Processor) Active() int { return p.active }

// Start shows the current table on the indicators and the display.
func (p *Processor) Start() {
	p.refreshLEDs()
	p.showLoco()
	p.showPower()
}

// Press runs the element at idx. element.None is an unused key and does
// nothing.
func (p *Processor) Press(idx int) error {
	if idx == element.None {
		return nil
	}
	switch e := p.table.At(idx).(type) {
	case *element.Switch:
		if e.Reserved() {
			return fmt.Errorf("%w: index %d", ErrReservedSlot, idx)
		}
		return p.setSwitch(idx, e, e.Position().Opposite(), true)
	case *element.Locomotive:
		p.selectLoco(idx)
		return nil
	case *element.Function:
		return p.function(e.Code())
	case *element.Power:
		return p.setPower(e, e.Power().Toggle(), true)
	}
	return fmt.Errorf("%w: %d", ErrNoElement, idx)
}

// Speed sets the speed step of the selected locomotive. A stopped
// locomotive keeps the step without moving; it is sent when the locomotive
// gets a direction again.
func (p *Processor) Speed(step int) error {
	loco, err := p.activeLoco()
	if err != nil {
		return err
	}
	step = bus.ClampStep(step)
	if step == loco.Speed() {
		return nil
	}
	loco.SetSpeed(step)
	p.showLoco()
	if loco.Direction() == element.Stopped {
		return nil
	}
	return p.emit(bus.LocoSpeed{Address: loco.Address(), Step: step})
}

// Sync applies a command seen on the bus. It runs the same transitions as a
// local press but never echoes back onto the bus. Commands for unknown
// addresses and commands that match the current state do nothing.
func (p *Processor) Sync(cmd bus.Command) error {
	switch c := cmd.(type) {
	case bus.SetSwitch:
		idx, ok := p.table.Lookup(element.KindSwitch, c.Address)
		if !ok {
			break
		}
		sw := p.table.At(idx).(*element.Switch)
		if sw.Position() == c.State {
			return nil
		}
		return p.setSwitch(idx, sw, c.State, false)
	case bus.TrackPower:
		idx, ok := p.table.Lookup(element.KindPower, element.PowerAddress)
		if !ok {
			break
		}
		pw := p.table.At(idx).(*element.Power)
		st := element.PowerOff
		if c.On {
			st = element.PowerOn
		}
		if pw.Power() == st {
			return nil
		}
		return p.setPower(pw, st, false)
	case bus.LocoDirection:
		idx, ok := p.table.Lookup(element.KindLocomotive, c.Address)
		if !ok {
			break
		}
		loco := p.table.At(idx).(*element.Locomotive)
		if loco.Direction() == c.Direction {
			return nil
		}
		loco.SetDirection(c.Direction)
		if idx == p.active {
			p.showLoco()
		}
		return nil
	case bus.LocoSpeed:
		idx, ok := p.table.Lookup(element.KindLocomotive, c.Address)
		if !ok {
			break
		}
		loco := p.table.At(idx).(*element.Locomotive)
		step := bus.ClampStep(c.Step)
		if loco.Speed() == step {
			return nil
		}
		// a stop travels as speed 0; the stopped locomotive keeps its step
		if step == 0 && loco.Direction() == element.Stopped {
			return nil
		}
		loco.SetSpeed(step)
		if idx == p.active {
			p.showLoco()
		}
		return nil
	default:
		return nil
	}
	p.log.Debug().Stringer("cmd", cmd).Msg("ignored command for unknown address")
	return nil
}

func (p *Processor) setSwitch(idx int, sw *element.Switch, st element.SwitchState, echo bool) error {
	sw.Set(st)
	p.ledErr(p.leds.Switch(p.table.Ordinal(idx), sw))
	p.log.Debug().Uint16("switch", sw.Address()).Stringer("state", st).Bool("local", echo).Msg("switch set")
	if !echo {
		return nil
	}
	return p.emit(bus.SetSwitch{Address: sw.Address(), State: st})
}

func (p *Processor) setPower(pw *element.Power, st element.PowerState, echo bool) error {
	pw.Set(st)
	p.ledErr(p.leds.Power(pw.On()))
	p.showPower()
	if !echo {
		return nil
	}
	return p.emit(bus.TrackPower{On: pw.On()})
}

func (p *Processor) selectLoco(idx int) {
	p.active = idx
	p.ledErr(p.leds.SelectLocomotive(p.table.Ordinal(idx)))
	p.showLoco()
}

func (p *Processor) function(code element.FunctionCode) error {
	switch code {
	case element.FuncStore:
		return p.storeState()
	case element.FuncRecall:
		return p.recallState()
	case element.FuncActivate:
		return p.activate()
	case element.FuncShow:
		p.showAll()
		return nil
	case element.FuncForward:
		return p.direction(element.Forward)
	case element.FuncStop:
		return p.direction(element.Stopped)
	case element.FuncReverse:
		return p.direction(element.Reverse)
	}
	fn, ok := locoFunctions[code]
	if !ok {
		return fmt.Errorf("panel: unhandled function %s", code)
	}
	loco, err := p.activeLoco()
	if err != nil {
		return err
	}
	cmd := bus.LocoFunction{Address: loco.Address(), Function: fn.number}
	if fn.momentary {
		cmd.On = true
		if err := p.emit(cmd); err != nil {
			return err
		}
		cmd.On = false
		return p.emit(cmd)
	}
	bit := uint32(1) << fn.number
	p.functions[p.active] ^= bit
	cmd.On = p.functions[p.active]&bit != 0
	return p.emit(cmd)
}

func (p *Processor) direction(d element.Direction) error {
	loco, err := p.activeLoco()
	if err != nil {
		return err
	}
	was := loco.Direction()
	loco.SetDirection(d)
	p.showLoco()
	if err := p.emit(bus.LocoDirection{Address: loco.Address(), Direction: d}); err != nil {
		return err
	}
	// a stop is sent as speed 0, so moving again restores the step
	if was == element.Stopped && d != element.Stopped && loco.Speed() > 0 {
		return p.emit(bus.LocoSpeed{Address: loco.Address(), Step: loco.Speed()})
	}
	return nil
}

func (p *Processor) storeState() error {
	if err := p.store.Save(p.table.States()); err != nil {
		p.show(display.LineStatus, "Store failed")
		return fmt.Errorf("%w: store: %w", ErrStorage, err)
	}
	p.show(display.LineStatus, "State stored")
	p.diag.Diagnose(diag.Diagnostic{Severity: diag.Info, Code: diag.CodeStore, Summary: "Panel state stored"})
	p.log.Info().Int("elements", p.table.Len()).Msg("state stored")
	return nil
}

func (p *Processor) recallState() error {
	if err := p.store.Restore(p.table); err != nil {
		p.show(display.LineStatus, "Recall failed")
		return fmt.Errorf("%w: recall: %w", ErrStorage, err)
	}
	p.refreshLEDs()
	p.showLoco()
	p.showPower()
	p.show(display.LineStatus, "State recalled")
	p.diag.Diagnose(diag.Diagnostic{Severity: diag.Info, Code: diag.CodeRecall, Summary: "Panel state recalled"})
	p.log.Info().Int("elements", p.table.Len()).Msg("state recalled")
	return nil
}

// activate puts the panel's view of every switch and of track power onto
// the bus, e.g. after the command station was restarted.
func (p *Processor) activate() error {
	var errs []error
	p.table.Each(func(_ int, e element.Element) {
		switch v := e.(type) {
		case *element.Switch:
			if !v.Reserved() {
				errs = append(errs, p.emit(bus.SetSwitch{Address: v.Address(), State: v.Position()}))
			}
		case *element.Power:
			errs = append(errs, p.emit(bus.TrackPower{On: v.On()}))
		}
	})
	p.refreshLEDs()
	p.show(display.LineStatus, "Layout activated")
	return errors.Join(errs...)
}

func (p *Processor) showAll() {
	thrown, switches := 0, 0
	p.table.Each(func(i int, e element.Element) {
		if sw, ok := e.(*element.Switch); ok && !sw.Reserved() {
			switches++
			if sw.Position() == element.Thrown {
				thrown++
			}
		}
		p.log.Info().Int("index", i).Msg(element.Describe(e))
	})
	p.show(display.LineStatus, fmt.Sprintf("Sw %d/%d thrown", thrown, switches))
	p.showLoco()
	p.showPower()
}

func (p *Processor) activeLoco() (*element.Locomotive, error) {
	loco, ok := p.table.At(p.active).(*element.Locomotive)
	if !ok {
		return nil, ErrNoLocomotiveSelected
	}
	return loco, nil
}

func (p *Processor) emit(cmd bus.Command) error {
	if err := p.bus.Emit(cmd); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBus, cmd, err)
	}
	return nil
}

func (p *Processor) refreshLEDs() {
	p.ledErr(p.leds.Refresh(p.table, p.active))
}

// ledErr drops indicator errors; the mirror has already logged and
// reported them and the table stays authoritative.
func (p *Processor) ledErr(err error) {
	if err != nil {
		p.log.Debug().Err(err).Msg("indicator update incomplete")
	}
}

func (p *Processor) showLoco() {
	loco, err := p.activeLoco()
	if err != nil {
		p.show(display.LineLoco, "No loco")
		return
	}
	p.show(display.LineLoco, fmt.Sprintf("Loco %d %s %d", loco.Address(), loco.Direction(), loco.Speed()))
}

func (p *Processor) showPower() {
	idx, ok := p.table.Lookup(element.KindPower, element.PowerAddress)
	if !ok {
		return
	}
	pw := p.table.At(idx).(*element.Power)
	p.show(display.LineTitle, fmt.Sprintf("%-11spower %s", "Railpanel", pw.Power()))
}

func (p *Processor) show(line int, text string) {
	if err := p.display.Show(line, 0, display.Fit(0, text)); err != nil {
		p.log.Debug().Err(err).Int("line", line).Msg("display write failed")
		p.diag.Diagnose(diag.Diagnostic{
			Severity: diag.Warn, Code: diag.CodeDisplay,
			Summary:  "Display write failed", Detail: err.Error(),
		})
	}
}
