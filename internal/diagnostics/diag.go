package diagnostics

import (
	"time"

	"github.com/coreman2200/funtimes-railpanel/internal/metrics"
)

type Severity string

const (
	Info Severity = "info"
	Warn Severity = "warning"
	Err  Severity = "error"
)

const (
	CodeUnmappedKey  = "KEY.UNMAPPED"
	CodeReservedSlot = "SLOT.RESERVED"
	CodeNoLocomotive = "LOCO.NOT_SELECTED"
	CodeChipDown     = "LED.CHIP_UNAVAILABLE"
	CodeLEDWrite     = "LED.WRITE_FAILED"
	CodeStore        = "STATE.STORED"
	CodeRecall       = "STATE.RECALLED"
	CodeStorage      = "STATE.STORAGE_ERROR"
	CodeBus          = "BUS.SEND_FAILED"
	CodeSpeedInput   = "SPEED.READ_FAILED"
	CodeDisplay      = "DISPLAY.WRITE_FAILED"
	CodePanel        = "PANEL.ERROR"
)

type Diagnostic struct {
	Time     time.Time      `json:"time"`
	Severity Severity       `json:"severity"`
	Code     string         `json:"code"`
	Summary  string         `json:"summary"`
	Detail   string         `json:"detail,omitempty"`
	Evidence map[string]any `json:"evidence,omitempty"`
}

// Sink receives diagnostics as they are raised.
type Sink interface {
	Diagnose(d Diagnostic)
}

type SinkFunc func(d Diagnostic)

func (f SinkFunc) Diagnose(d Diagnostic) { f(d) }

// Discard drops every diagnostic.
var Discard Sink = SinkFunc(func(Diagnostic) {})

// Fanout forwards each diagnostic to every sink in order.
type Fanout []Sink

func (f Fanout) Diagnose(d Diagnostic) {
	for _, s := range f {
		s.Diagnose(d)
	}
}

// Counted stamps each diagnostic with the current time when it has none,
// counts it by code and passes it on.
func Counted(next Sink) Sink {
	return SinkFunc(func(d Diagnostic) {
		if d.Time.IsZero() {
			d.Time = time.Now()
		}
		metrics.IncDiagnostic(d.Code)
		next.Diagnose(d)
	})
}
