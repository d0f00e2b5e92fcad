package panel

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"

	"github.com/coreman2200/funtimes-railpanel/internal/bus"
	diag "github.com/coreman2200/funtimes-railpanel/internal/diagnostics"
	"github.com/coreman2200/funtimes-railpanel/internal/display"
	"github.com/coreman2200/funtimes-railpanel/internal/element"
	"github.com/coreman2200/funtimes-railpanel/internal/keypad"
	"github.com/coreman2200/funtimes-railpanel/internal/led"
	"github.com/coreman2200/funtimes-railpanel/internal/loconet"
	"github.com/coreman2200/funtimes-railpanel/internal/speed"
	"github.com/coreman2200/funtimes-railpanel/internal/storage"
)

// Indices in the default table.
const (
	idxSwitch101 = 0
	idxSwitch102 = 1
	idxReserved  = 25
	idxLoco344   = 32
	idxLoco386   = 33
	idxStore     = 37
	idxRecall    = 38
	idxActivate  = 39
	idxShow      = 40
	idxForward   = 41
	idxStop      = 42
	idxReverse   = 43
	idxLights    = 44
	idxHorn      = 47
	idxPower     = 49
)

type rig struct {
	tbl   *element.Table
	bank  *led.SimBank
	power *led.Line
	sim   *bus.Sim
	disp  *display.Log
	diags []diag.Diagnostic
	proc  *Processor
}

func newRig(t *testing.T, statePath string) *rig {
	t.Helper()
	r := &rig{
		tbl:   element.MustDefault(),
		bank:  led.NewSimBank(5),
		power: &led.Line{},
		sim:   bus.NewSim(zerolog.Nop()),
		disp:  display.NewLog(zerolog.Nop()),
	}
	sink := diag.SinkFunc(func(d diag.Diagnostic) { r.diags = append(r.diags, d) })
	mirror, err := led.New(r.tbl, led.Options{
		Chips:    r.bank.Expanders(),
		Power:    r.power,
		LocoChip: 4,
		Log:      zerolog.Nop(),
		Diag:     sink,
	})
	require.NoError(t, err)

	region, err := storage.OpenFile(statePath, 512)
	require.NoError(t, err)
	t.Cleanup(func() { _ = region.Close() })

	r.proc, err = NewProcessor(Options{
		Table:   r.tbl,
		LEDs:    mirror,
		Bus:     bus.NewEmitter(r.sim, zerolog.Nop()),
		Store:   storage.NewAdapter(region, r.tbl.Len()),
		Display: r.disp,
		Log:     zerolog.Nop(),
		Diag:    sink,
	})
	require.NoError(t, err)
	r.proc.Start()
	return r
}

func statePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "panel.state")
}

func TestPressSwitch(t *testing.T) {
	r := newRig(t, statePath(t))
	assert.Equal(t, uint16(0), r.bank.Chip(0).Lines()&1)
	assert.Equal(t, uint16(1), r.bank.Chip(1).Lines()&1)

	require.NoError(t, r.proc.Press(idxSwitch101))

	sw := r.tbl.At(idxSwitch101).(*element.Switch)
	assert.Equal(t, element.Thrown, sw.Position())
	assert.Equal(t, element.Straight, sw.Opposite())
	assert.Equal(t, []bus.Command{bus.SetSwitch{Address: 101, State: element.Thrown}}, r.sim.Sent())
	assert.Equal(t, uint16(1), r.bank.Chip(0).Lines()&1)
	assert.Equal(t, uint16(0), r.bank.Chip(1).Lines()&1)

	require.NoError(t, r.proc.Press(idxSwitch101))
	assert.Equal(t, element.Straight, sw.Position())
	assert.Equal(t, element.Thrown, sw.Opposite())
	assert.Equal(t, []bus.Command{bus.SetSwitch{Address: 101, State: element.Straight}}, r.sim.Sent())
}

func TestPressReservedSlot(t *testing.T) {
	r := newRig(t, statePath(t))
	before := r.tbl.States()

	err := r.proc.Press(idxReserved)
	assert.ErrorIs(t, err, ErrReservedSlot)
	assert.Empty(t, r.sim.Sent())
	assert.Equal(t, before, r.tbl.States())

	assert.NoError(t, r.proc.Press(element.None))
	assert.ErrorIs(t, r.proc.Press(99), ErrNoElement)
}

func TestLocomotiveDirection(t *testing.T) {
	r := newRig(t, statePath(t))

	require.NoError(t, r.proc.Press(idxLoco344))
	assert.Equal(t, idxLoco344, r.proc.Active())
	assert.Equal(t, uint16(0x0001), r.bank.Chip(4).Lines())
	assert.Equal(t, "Loco 344 forward 0", r.disp.Line(display.LineLoco))

	require.NoError(t, r.proc.Press(idxReverse))
	require.NoError(t, r.proc.Press(idxForward))
	assert.Equal(t, []bus.Command{
		bus.LocoDirection{Address: 344, Direction: element.Reverse},
		bus.LocoDirection{Address: 344, Direction: element.Forward},
	}, r.sim.Sent())
	assert.Equal(t, element.Forward, r.tbl.At(idxLoco344).(*element.Locomotive).Direction())

	require.NoError(t, r.proc.Press(idxLoco386))
	assert.Equal(t, uint16(0x0002), r.bank.Chip(4).Lines())
}

func TestLocoFunctionNeedsSelection(t *testing.T) {
	r := newRig(t, statePath(t))

	for _, idx := range []int{idxLights, idxForward, idxStop} {
		assert.ErrorIs(t, r.proc.Press(idx), ErrNoLocomotiveSelected)
	}
	assert.ErrorIs(t, r.proc.Speed(10), ErrNoLocomotiveSelected)
	assert.Empty(t, r.sim.Sent())

	require.NoError(t, r.proc.Press(idxLoco386))
	require.NoError(t, r.proc.Press(idxHorn))
	assert.Equal(t, []bus.Command{
		bus.LocoFunction{Address: 386, Function: 3, On: true},
		bus.LocoFunction{Address: 386, Function: 3, On: false},
	}, r.sim.Sent())
}

func TestLatchingFunctionTogglesPerLocomotive(t *testing.T) {
	r := newRig(t, statePath(t))

	require.NoError(t, r.proc.Press(idxLoco344))
	require.NoError(t, r.proc.Press(idxLights))
	require.NoError(t, r.proc.Press(idxLights))
	assert.Equal(t, []bus.Command{
		bus.LocoFunction{Address: 344, Function: 0, On: true},
		bus.LocoFunction{Address: 344, Function: 0, On: false},
	}, r.sim.Sent())

	require.NoError(t, r.proc.Press(idxLights))
	require.NoError(t, r.proc.Press(idxLoco386))
	require.NoError(t, r.proc.Press(idxLights))
	require.NoError(t, r.proc.Press(idxLoco344))
	require.NoError(t, r.proc.Press(idxLights))
	assert.Equal(t, []bus.Command{
		bus.LocoFunction{Address: 344, Function: 0, On: true},
		bus.LocoFunction{Address: 386, Function: 0, On: true},
		bus.LocoFunction{Address: 344, Function: 0, On: false},
	}, r.sim.Sent())
}

func TestSpeed(t *testing.T) {
	r := newRig(t, statePath(t))
	require.NoError(t, r.proc.Press(idxLoco344))
	loco := r.tbl.At(idxLoco344).(*element.Locomotive)

	require.NoError(t, r.proc.Speed(300))
	assert.Equal(t, bus.MaxSpeedStep, loco.Speed())
	require.NoError(t, r.proc.Speed(126))
	assert.Equal(t, []bus.Command{bus.LocoSpeed{Address: 344, Step: 126}}, r.sim.Sent())

	// stopped locomotives keep the step without moving
	require.NoError(t, r.proc.Press(idxStop))
	require.NoError(t, r.proc.Speed(40))
	assert.Equal(t, []bus.Command{bus.LocoDirection{Address: 344, Direction: element.Stopped}}, r.sim.Sent())

	require.NoError(t, r.proc.Press(idxForward))
	assert.Equal(t, []bus.Command{
		bus.LocoDirection{Address: 344, Direction: element.Forward},
		bus.LocoSpeed{Address: 344, Step: 40},
	}, r.sim.Sent())
}

func TestPower(t *testing.T) {
	r := newRig(t, statePath(t))
	assert.Equal(t, gpio.High, r.power.Level)

	require.NoError(t, r.proc.Press(idxPower))
	assert.Equal(t, []bus.Command{bus.TrackPower{On: false}}, r.sim.Sent())
	assert.Equal(t, gpio.Low, r.power.Level)
	assert.Equal(t, "Railpanel  power off", r.disp.Line(display.LineTitle))
}

func TestStoreRestartRecall(t *testing.T) {
	path := statePath(t)
	r := newRig(t, path)
	require.NoError(t, r.proc.Press(idxSwitch101))
	require.NoError(t, r.proc.Press(idxLoco344))
	require.NoError(t, r.proc.Press(idxReverse))
	require.NoError(t, r.proc.Speed(12))
	require.NoError(t, r.proc.Press(idxPower))
	require.NoError(t, r.proc.Press(idxStore))
	assert.Equal(t, "State stored", r.disp.Line(display.LineStatus))
	want := r.tbl.States()

	restarted := newRig(t, path)
	assert.NotEqual(t, want, restarted.tbl.States())
	require.NoError(t, restarted.proc.Press(idxRecall))
	assert.Equal(t, want, restarted.tbl.States())
	assert.Equal(t, uint16(1), restarted.bank.Chip(0).Lines()&1)
	assert.Equal(t, gpio.Low, restarted.power.Level)
	assert.Empty(t, restarted.sim.Sent())

	var codes []string
	for _, d := range restarted.diags {
		codes = append(codes, d.Code)
	}
	assert.Contains(t, codes, diag.CodeRecall)
}

func TestRecallWithoutSnapshot(t *testing.T) {
	r := newRig(t, statePath(t))
	before := r.tbl.States()

	err := r.proc.Press(idxRecall)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, storage.ErrNoSnapshot)
	assert.Equal(t, before, r.tbl.States())
}

func TestActivate(t *testing.T) {
	r := newRig(t, statePath(t))
	require.NoError(t, r.proc.Press(idxActivate))

	sent := r.sim.Sent()
	require.Len(t, sent, 26)
	assert.Equal(t, bus.SetSwitch{Address: 101, State: element.Straight}, sent[0])
	assert.Equal(t, bus.SetSwitch{Address: 805, State: element.Straight}, sent[24])
	assert.Equal(t, bus.TrackPower{On: true}, sent[25])
}

func TestShow(t *testing.T) {
	r := newRig(t, statePath(t))
	require.NoError(t, r.proc.Press(idxSwitch102))
	r.sim.Sent()

	require.NoError(t, r.proc.Press(idxShow))
	assert.Equal(t, "Sw 1/25 thrown", r.disp.Line(display.LineStatus))
	assert.Empty(t, r.sim.Sent())
}

func TestSyncDoesNotEcho(t *testing.T) {
	r := newRig(t, statePath(t))

	require.NoError(t, r.proc.Sync(bus.SetSwitch{Address: 102, State: element.Thrown}))
	sw := r.tbl.At(idxSwitch102).(*element.Switch)
	assert.Equal(t, element.Thrown, sw.Position())
	assert.Equal(t, element.Straight, sw.Opposite())
	assert.Equal(t, uint16(0b10), r.bank.Chip(0).Lines()&0b10)
	writes := r.bank.Chip(0).Writes()

	// matching state and unknown addresses change nothing
	require.NoError(t, r.proc.Sync(bus.SetSwitch{Address: 102, State: element.Thrown}))
	require.NoError(t, r.proc.Sync(bus.SetSwitch{Address: 999, State: element.Thrown}))
	assert.Equal(t, writes, r.bank.Chip(0).Writes())

	require.NoError(t, r.proc.Sync(bus.TrackPower{On: false}))
	assert.Equal(t, gpio.Low, r.power.Level)

	require.NoError(t, r.proc.Sync(bus.LocoSpeed{Address: 611, Step: 30}))
	require.NoError(t, r.proc.Sync(bus.LocoDirection{Address: 611, Direction: element.Reverse}))
	idx, _ := r.tbl.Lookup(element.KindLocomotive, 611)
	loco := r.tbl.At(idx).(*element.Locomotive)
	assert.Equal(t, 30, loco.Speed())
	assert.Equal(t, element.Reverse, loco.Direction())

	assert.Empty(t, r.sim.Sent())
}

// echoingInterface puts commands through a LocoNet station and collects
// the echo a LocoNet interface returns for every message it sends.
type echoingInterface struct {
	station *loconet.Station
	sent    []bus.Command
	echoed  []bus.Command
}

func (e *echoingInterface) Emit(cmd bus.Command) error {
	msgs, err := e.station.Encode(cmd)
	if err != nil {
		return err
	}
	e.sent = append(e.sent, cmd)
	for _, m := range msgs {
		cmds, _ := e.station.Handle(m)
		e.echoed = append(e.echoed, cmds...)
	}
	return nil
}

func (e *echoingInterface) syncEcho(t *testing.T, p *Processor) {
	t.Helper()
	for _, cmd := range e.echoed {
		require.NoError(t, p.Sync(cmd))
	}
	e.echoed = nil
}

func TestStopEchoKeepsSpeedStep(t *testing.T) {
	r := newRig(t, statePath(t))
	lnet := &echoingInterface{station: loconet.NewStation()}
	lnet.station.Handle(loconet.Frame(loconet.OpcSlRdData, 0x0E, 5, 0x30, byte(344&0x7F), 0, 0, 0, 0, byte(344>>7), 0, 0, 0))
	_, known := lnet.station.Slot(344)
	require.True(t, known)
	r.proc.bus = lnet
	loco := r.tbl.At(idxLoco344).(*element.Locomotive)

	require.NoError(t, r.proc.Press(idxLoco344))
	require.NoError(t, r.proc.Speed(40))
	lnet.syncEcho(t, r.proc)
	require.NoError(t, r.proc.Press(idxStop))
	lnet.syncEcho(t, r.proc)
	assert.Equal(t, element.Stopped, loco.Direction())
	assert.Equal(t, 40, loco.Speed())

	lnet.sent = nil
	require.NoError(t, r.proc.Press(idxForward))
	lnet.syncEcho(t, r.proc)
	assert.Equal(t, []bus.Command{
		bus.LocoDirection{Address: 344, Direction: element.Forward},
		bus.LocoSpeed{Address: 344, Step: 40},
	}, lnet.sent)
	assert.Equal(t, 40, loco.Speed())
}

type failingBus struct{}

func (failingBus) Emit(bus.Command) error { return errors.New("no interface") }

func TestBusFailureKeepsState(t *testing.T) {
	r := newRig(t, statePath(t))
	r.proc.bus = failingBus{}

	err := r.proc.Press(idxSwitch101)
	assert.ErrorIs(t, err, ErrBus)
	assert.Equal(t, element.Thrown, r.tbl.At(idxSwitch101).(*element.Switch).Position())
}

func TestUnavailableChipDegrades(t *testing.T) {
	tbl := element.MustDefault()
	bank := led.NewSimBank(5)
	bank.Chip(1).Fail = true
	mirror, err := led.New(tbl, led.Options{Chips: bank.Expanders(), LocoChip: 4, Log: zerolog.Nop()})
	require.NoError(t, err)
	sim := bus.NewSim(zerolog.Nop())
	region, err := storage.OpenFile(statePath(t), 512)
	require.NoError(t, err)
	defer region.Close()

	p, err := NewProcessor(Options{
		Table: tbl, LEDs: mirror, Bus: bus.NewEmitter(sim, zerolog.Nop()),
		Store: storage.NewAdapter(region, tbl.Len()), Log: zerolog.Nop(),
	})
	require.NoError(t, err)

	require.NoError(t, p.Press(idxSwitch101))
	assert.Equal(t, []bus.Command{bus.SetSwitch{Address: 101, State: element.Thrown}}, sim.Sent())
	assert.Equal(t, uint16(1), bank.Chip(0).Lines()&1)
}

func newLoop(t *testing.T, r *rig, keys *keypad.Queue, in speed.Input) (*Loop, *[]Snapshot) {
	t.Helper()
	router, err := keypad.NewRouter(keypad.DefaultKeyMap(r.tbl), r.tbl)
	require.NoError(t, err)
	var snaps []Snapshot
	sink := diag.SinkFunc(func(d diag.Diagnostic) { r.diags = append(r.diags, d) })
	l := NewLoop(r.proc, LoopOptions{
		Router:  router,
		Keys:    []KeySource{{Scanner: keys, Origin: "keypad"}},
		Bus:     r.sim,
		Speed:   in,
		Display: r.disp,
		Diag:    sink,
		Publish: func(s Snapshot) { snaps = append(snaps, s) },
		Log:     zerolog.Nop(),
	})
	return l, &snaps
}

func TestLoopTick(t *testing.T) {
	r := newRig(t, statePath(t))
	keys := keypad.NewQueue(8)
	var throttle speed.Sim
	l, snaps := newLoop(t, r, keys, &throttle)

	keys.Push(0, 0)
	keys.Push(4, 0) // loco 344
	l.Tick()
	require.Len(t, *snaps, 1)
	snap := (*snaps)[0]
	assert.Equal(t, idxLoco344, snap.Active)
	assert.Equal(t, int16(element.Thrown), snap.Elements[idxSwitch101].Primary)
	assert.Equal(t, uint16(1), snap.LEDs[0]&1)

	assert.Equal(t, []bus.Command{bus.SetSwitch{Address: 101, State: element.Thrown}}, r.sim.Sent())

	throttle.SetStep(speed.DefaultScale, 20)
	l.Tick()
	assert.Equal(t, []bus.Command{bus.LocoSpeed{Address: 344, Step: 20}}, r.sim.Sent())

	// unchanged position sends nothing
	l.Tick()
	assert.Empty(t, r.sim.Sent())

	r.sim.Inject(bus.SetSwitch{Address: 101, State: element.Straight})
	l.Tick()
	assert.Equal(t, element.Straight, r.tbl.At(idxSwitch101).(*element.Switch).Position())
	assert.Empty(t, r.sim.Sent())
}

func TestLoopNewLocomotiveTakesThrottle(t *testing.T) {
	r := newRig(t, statePath(t))
	keys := keypad.NewQueue(8)
	var throttle speed.Sim
	l, _ := newLoop(t, r, keys, &throttle)

	keys.Push(4, 0) // loco 344
	throttle.SetStep(speed.DefaultScale, 50)
	l.Tick()
	assert.Equal(t, []bus.Command{bus.LocoSpeed{Address: 344, Step: 50}}, r.sim.Sent())

	keys.Push(4, 1) // loco 386, throttle untouched
	l.Tick()
	assert.Equal(t, []bus.Command{bus.LocoSpeed{Address: 386, Step: 50}}, r.sim.Sent())
	assert.Equal(t, 50, r.tbl.At(idxLoco386).(*element.Locomotive).Speed())

	l.Tick()
	assert.Empty(t, r.sim.Sent())
}

func TestLoopReportsErrors(t *testing.T) {
	r := newRig(t, statePath(t))
	keys := keypad.NewQueue(8)
	l, _ := newLoop(t, r, keys, nil)

	keys.Push(9, 9)
	l.Tick()
	assert.Equal(t, "Unmapped key", r.disp.Line(display.LineError))

	keys.Push(3, 1) // reserved slot, unused key
	keys.Push(5, 4) // lights without a locomotive
	l.Tick()
	assert.Equal(t, "Select a loco first", r.disp.Line(display.LineError))

	require.NotEmpty(t, r.diags)
	last := r.diags[len(r.diags)-1]
	assert.Equal(t, diag.CodeNoLocomotive, last.Code)
	assert.Equal(t, diag.Warn, last.Severity)
}

type brokenInput struct{}

func (brokenInput) Read() (analog.Sample, error) { return analog.Sample{}, errors.New("i2c nack") }

func TestLoopThrottleFailureReportedOnce(t *testing.T) {
	r := newRig(t, statePath(t))
	l, _ := newLoop(t, r, keypad.NewQueue(1), brokenInput{})
	require.NoError(t, r.proc.Press(idxLoco344))

	l.Tick()
	l.Tick()
	var n int
	for _, d := range r.diags {
		if d.Code == diag.CodeSpeedInput {
			n++
		}
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, "Throttle read failed", r.disp.Line(display.LineError))
}

func TestLoopRun(t *testing.T) {
	r := newRig(t, statePath(t))
	keys := keypad.NewQueue(8)
	router, err := keypad.NewRouter(keypad.DefaultKeyMap(r.tbl), r.tbl)
	require.NoError(t, err)
	snaps := make(chan Snapshot, 16)
	l := NewLoop(r.proc, LoopOptions{
		Router:   router,
		Keys:     []KeySource{{Scanner: keys, Origin: "remote"}},
		Interval: time.Millisecond,
		Publish: func(s Snapshot) {
			select {
			case snaps <- s:
			default:
			}
		},
		Log: zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	<-snaps // initial state
	keys.Push(0, 1)
	select {
	case s := <-snaps:
		assert.Equal(t, int16(element.Thrown), s.Elements[idxSwitch102].Primary)
	case <-time.After(time.Second):
		t.Fatal("no snapshot after key press")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestClassify(t *testing.T) {
	code, sev, _ := classify(&storage.StorageError{Op: "read", Err: errors.New("x")})
	assert.Equal(t, diag.CodeStorage, code)
	assert.Equal(t, diag.Err, sev)

	code, _, msg := classify(ErrReservedSlot)
	assert.Equal(t, diag.CodeReservedSlot, code)
	assert.Equal(t, "Reserved key", msg)

	code, _, _ = classify(errors.New("boom"))
	assert.Equal(t, diag.CodePanel, code)
}
