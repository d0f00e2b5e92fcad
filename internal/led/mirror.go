// Package led mirrors panel state onto indicator LEDs driven by 16-line port
// expanders.
//
// Chips are used in pairs for switches: chip 2k lights the Thrown LEDs and
// chip 2k+1 the Straight LEDs of switch ordinals 16k..16k+15. Locomotive
// selection uses single lines on a dedicated indicator chip and the power
// indicator has its own output line.
package led

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/gpio"

	diag "github.com/coreman2200/funtimes-railpanel/internal/diagnostics"
	"github.com/coreman2200/funtimes-railpanel/internal/element"
	"github.com/coreman2200/funtimes-railpanel/internal/metrics"
)

const LinesPerChip = 16

var (
	ErrChipUnavailable = errors.New("led: chip unavailable")
	ErrNoChip          = errors.New("led: not enough chips configured")
)

// SwitchLines returns the chip pair and bit offset for a switch ordinal.
func SwitchLines(ordinal int) (pair, bit int) {
	return ordinal / LinesPerChip, ordinal % LinesPerChip
}

// ThrownChip and StraightChip return chip indices for a pair.
func ThrownChip(pair int) int   { return 2 * pair }
func StraightChip(pair int) int { return 2*pair + 1 }

type chip struct {
	dev     Expander
	ok      bool
	failing bool
	shadow  uint16
}

type Options struct {
	Chips []Expander
	// Power is the dedicated power indicator; nil disables it.
	Power OutputLine
	// LocoChip is the chip carrying locomotive selection lines, bit n for
	// locomotive ordinal n. A negative value disables them.
	LocoChip int
	Log      zerolog.Logger
	Diag     diag.Sink
}

// Mirror owns the output state of every indicator. Each chip keeps a shadow
// of its 16 lines and every write pushes the full word, so repeating a write
// yields the same lines.
type Mirror struct {
	chips    []*chip
	power    OutputLine
	powerOn  bool
	locoChip int
	locoMask uint16
	log      zerolog.Logger
	diag     diag.Sink
}

// New initializes every chip and checks the configured chips can hold the
// table's switches and locomotives. A chip that fails to initialize is kept
// as unavailable; only a layout that does not fit is an error.
func New(t *element.Table, o Options) (*Mirror, error) {
	m := &Mirror{
		power:    o.Power,
		locoChip: o.LocoChip,
		log:      o.Log.With().Str("component", "led").Logger(),
		diag:     o.Diag,
	}
	if m.diag == nil {
		m.diag = diag.Discard
	}

	pairs := (t.Switches() + LinesPerChip - 1) / LinesPerChip
	if need := 2 * pairs; len(o.Chips) < need {
		return nil, fmt.Errorf("%w: %d switches need %d chips, have %d", ErrNoChip, t.Switches(), need, len(o.Chips))
	}
	if n := len(t.Locomotives()); o.LocoChip >= 0 && n > 0 {
		if o.LocoChip < 2*pairs || o.LocoChip >= len(o.Chips) {
			return nil, fmt.Errorf("%w: locomotive chip %d outside %d..%d", ErrNoChip, o.LocoChip, 2*pairs, len(o.Chips)-1)
		}
		if n > LinesPerChip {
			return nil, fmt.Errorf("%w: %d locomotives exceed %d lines", ErrNoChip, n, LinesPerChip)
		}
		m.locoMask = uint16(1<<n - 1)
	}

	available := 0
	for _, d := range o.Chips {
		c := &chip{dev: d}
		if err := d.Init(); err != nil {
			m.log.Warn().Err(err).Str("chip", d.String()).Msg("chip unavailable, its LEDs stay dark")
			m.diag.Diagnose(diag.Diagnostic{
				Severity: diag.Warn, Code: diag.CodeChipDown,
				Summary:  "Port expander did not respond", Detail: err.Error(),
				Evidence: map[string]any{"chip": d.String()},
			})
		} else {
			c.ok = true
			available++
		}
		m.chips = append(m.chips, c)
	}
	metrics.SetChipsAvailable(available)
	return m, nil
}

// Available reports whether chip i acknowledged initialization.
func (m *Mirror) Available(i int) bool {
	return i >= 0 && i < len(m.chips) && m.chips[i].ok
}

// Lines returns the intended state of chip i's lines.
func (m *Mirror) Lines(i int) uint16 {
	if i < 0 || i >= len(m.chips) {
		return 0
	}
	return m.chips[i].shadow
}

func (m *Mirror) Chips() int     { return len(m.chips) }
func (m *Mirror) PowerLit() bool { return m.powerOn }

// Switch shows s, the switch at the given ordinal. Reserved slots produce no
// output.
func (m *Mirror) Switch(ordinal int, s *element.Switch) error {
	if s.Reserved() {
		return nil
	}
	pair, bit := SwitchLines(ordinal)
	mask := uint16(1) << bit
	errT := m.update(ThrownChip(pair), mask, s.Position() == element.Thrown)
	errS := m.update(StraightChip(pair), mask, s.Opposite() == element.Thrown)
	return errors.Join(errT, errS)
}

// SelectLocomotive lights the indicator of the locomotive ordinal and clears
// the others. element.None clears them all.
func (m *Mirror) SelectLocomotive(ordinal int) error {
	if m.locoMask == 0 {
		return nil
	}
	c := m.chips[m.locoChip]
	next := c.shadow &^ m.locoMask
	if ordinal >= 0 && ordinal < LinesPerChip {
		next |= 1 << ordinal
	}
	return m.write(m.locoChip, next)
}

func (m *Mirror) Power(on bool) error {
	m.powerOn = on
	if m.power == nil {
		return nil
	}
	if err := m.power.Out(gpio.Level(on)); err != nil {
		m.log.Warn().Err(err).Msg("power indicator write failed")
		return fmt.Errorf("led: power indicator: %w", err)
	}
	return nil
}

// Refresh re-asserts every indicator from the table.
func (m *Mirror) Refresh(t *element.Table, activeLoco int) error {
	var errs []error
	t.Each(func(i int, e element.Element) {
		switch v := e.(type) {
		case *element.Switch:
			errs = append(errs, m.Switch(t.Ordinal(i), v))
		case *element.Power:
			errs = append(errs, m.Power(v.On()))
		}
	})
	errs = append(errs, m.SelectLocomotive(t.Ordinal(activeLoco)))
	return errors.Join(errs...)
}

func (m *Mirror) update(i int, mask uint16, set bool) error {
	next := m.chips[i].shadow &^ mask
	if set {
		next |= mask
	}
	return m.write(i, next)
}

func (m *Mirror) write(i int, lines uint16) error {
	c := m.chips[i]
	c.shadow = lines
	// an unavailable chip was diagnosed once, at initialization
	if !c.ok {
		metrics.IncLEDDropped(c.dev.String())
		m.log.Debug().Str("chip", c.dev.String()).Uint16("lines", lines).Msg("write dropped")
		return fmt.Errorf("%w: %s", ErrChipUnavailable, c.dev)
	}
	if err := c.dev.Write(lines); err != nil {
		metrics.IncLEDDropped(c.dev.String())
		m.log.Warn().Err(err).Str("chip", c.dev.String()).Msg("write failed")
		if !c.failing {
			c.failing = true
			m.diag.Diagnose(diag.Diagnostic{
				Severity: diag.Warn, Code: diag.CodeLEDWrite,
				Summary:  "LED write failed", Detail: err.Error(),
				Evidence: map[string]any{"chip": c.dev.String()},
			})
		}
		return err
	}
	c.failing = false
	return nil
}
