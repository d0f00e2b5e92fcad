package panel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coreman2200/funtimes-railpanel/internal/bus"
	diag "github.com/coreman2200/funtimes-railpanel/internal/diagnostics"
	"github.com/coreman2200/funtimes-railpanel/internal/display"
	"github.com/coreman2200/funtimes-railpanel/internal/element"
	"github.com/coreman2200/funtimes-railpanel/internal/keypad"
	"github.com/coreman2200/funtimes-railpanel/internal/metrics"
	"github.com/coreman2200/funtimes-railpanel/internal/speed"
	"github.com/coreman2200/funtimes-railpanel/internal/storage"
)

const DefaultInterval = 20 * time.Millisecond

// KeySource is a scanner and the origin its presses are counted under.
type KeySource struct {
	Scanner keypad.Scanner
	Origin  string
}

// Poller returns inbound bus commands. *bus.Emitter satisfies it.
type Poller interface {
	Poll() (bus.Command, bool)
}

type LoopOptions struct {
	Router   *keypad.Router
	Keys     []KeySource
	Bus      Poller
	Speed    speed.Input
	Scale    speed.Scale
	Display  display.Display
	Diag     diag.Sink
	Publish  func(Snapshot)
	Interval time.Duration
	Log      zerolog.Logger
}

// Loop is the only goroutine that touches the processor. Each tick it
// drains the key sources, applies inbound bus commands and samples the
// throttle, all without blocking.
type Loop struct {
	proc       *Processor
	o          LoopOptions
	lastStep   int
	lastActive int
	speedDown  bool
	log        zerolog.Logger
}

func NewLoop(p *Processor, o LoopOptions) *Loop {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Scale == (speed.Scale{}) {
		o.Scale = speed.DefaultScale
	}
	if o.Display == nil {
		o.Display = p.display
	}
	if o.Diag == nil {
		o.Diag = diag.Discard
	}
	return &Loop{
		proc:       p,
		o:          o,
		lastStep:   -1,
		lastActive: element.None,
		log:        o.Log.With().Str("component", "loop").Logger(),
	}
}

// Run ticks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	l.proc.Start()
	l.publish()
	ticker := time.NewTicker(l.o.Interval)
	defer ticker.Stop()
	l.log.Info().Dur("interval", l.o.Interval).Msg("control loop started")
	for {
		select {
		case <-ticker.C:
			l.Tick()
		case <-ctx.Done():
			l.log.Info().Msg("control loop stopped")
			return nil
		}
	}
}

// Tick runs one pass of the loop.
func (l *Loop) Tick() {
	changed := false
	for _, src := range l.o.Keys {
		for {
			row, col, ok := src.Scanner.Next()
			if !ok {
				break
			}
			changed = true
			l.key(row, col, src.Origin)
		}
	}
	if l.o.Bus != nil {
		for {
			cmd, ok := l.o.Bus.Poll()
			if !ok {
				break
			}
			changed = true
			l.report(l.proc.Sync(cmd))
		}
	}
	if l.o.Speed != nil && l.sampleSpeed() {
		changed = true
	}
	if changed {
		l.publish()
	}
}

func (l *Loop) key(row, col int, origin string) {
	idx, err := l.o.Router.Route(row, col)
	if err != nil {
		l.report(err)
		return
	}
	if idx == element.None {
		l.log.Debug().Int("row", row).Int("col", col).Msg("unused key")
		return
	}
	metrics.IncPress(l.proc.table.At(idx).Kind().String(), origin)
	l.log.Debug().Int("index", idx).Str("origin", origin).Msg("press")
	l.report(l.proc.Press(idx))
}

// sampleSpeed hands a new throttle position to the processor. Selecting
// another locomotive hands it the current position on the next sample.
func (l *Loop) sampleSpeed() bool {
	s, err := l.o.Speed.Read()
	if err != nil {
		if !l.speedDown {
			l.speedDown = true
			l.report(fmt.Errorf("%w: %w", ErrSpeedInput, err))
		}
		return false
	}
	l.speedDown = false
	active := l.proc.Active()
	if active == element.None {
		return false
	}
	if active != l.lastActive {
		l.lastActive = active
		l.lastStep = -1
	}
	step := l.o.Scale.Step(s.Raw)
	if step == l.lastStep {
		return false
	}
	l.lastStep = step
	l.report(l.proc.Speed(step))
	return true
}

func (l *Loop) publish() {
	if l.o.Publish != nil {
		l.o.Publish(l.proc.Snapshot())
	}
}

// report logs err, shows it on the error line and raises a diagnostic.
func (l *Loop) report(err error) {
	if err == nil {
		return
	}
	code, sev, msg := classify(err)
	lvl := zerolog.WarnLevel
	if sev == diag.Info {
		lvl = zerolog.InfoLevel
	}
	l.log.WithLevel(lvl).Err(err).Str("code", code).Msg(msg)
	if derr := l.o.Display.Show(display.LineError, 0, display.Fit(0, msg)); derr != nil {
		l.log.Debug().Err(derr).Msg("error line not shown")
	}
	l.o.Diag.Diagnose(diag.Diagnostic{Severity: sev, Code: code, Summary: msg, Detail: err.Error()})
}

func classify(err error) (code string, sev diag.Severity, msg string) {
	var se *storage.StorageError
	switch {
	case errors.Is(err, keypad.ErrUnmappedKey):
		return diag.CodeUnmappedKey, diag.Warn, "Unmapped key"
	case errors.Is(err, ErrReservedSlot):
		return diag.CodeReservedSlot, diag.Info, "Reserved key"
	case errors.Is(err, ErrNoLocomotiveSelected):
		return diag.CodeNoLocomotive, diag.Warn, "Select a loco first"
	case errors.Is(err, storage.ErrNoSnapshot):
		return diag.CodeStorage, diag.Warn, "Nothing stored"
	case errors.Is(err, storage.ErrSizeMismatch):
		return diag.CodeStorage, diag.Err, "Stored layout differs"
	case errors.Is(err, storage.ErrCorrupt):
		return diag.CodeStorage, diag.Err, "Stored state corrupt"
	case errors.As(err, &se), errors.Is(err, ErrStorage):
		return diag.CodeStorage, diag.Err, "Storage error"
	case errors.Is(err, ErrBus):
		return diag.CodeBus, diag.Err, "Bus error"
	case errors.Is(err, ErrSpeedInput):
		return diag.CodeSpeedInput, diag.Warn, "Throttle read failed"
	}
	return diag.CodePanel, diag.Err, "Panel error"
}
