package bus

import (
	"github.com/rs/zerolog"

	"github.com/coreman2200/funtimes-railpanel/internal/metrics"
)

// Transport carries commands to and from the command station. Send must not
// block indefinitely and Poll must return immediately.
type Transport interface {
	Send(cmd Command) error
	Poll() (Command, bool)
	Close() error
}

// Emitter is the panel's single path onto the bus.
type Emitter struct {
	tr  Transport
	log zerolog.Logger
}

func NewEmitter(tr Transport, log zerolog.Logger) *Emitter {
	return &Emitter{tr: tr, log: log.With().Str("component", "bus").Logger()}
}

func (e *Emitter) Emit(cmd Command) error {
	if err := e.tr.Send(cmd); err != nil {
		metrics.IncBusCommand(cmd.Name(), "error")
		e.log.Warn().Err(err).Stringer("cmd", cmd).Msg("send failed")
		return err
	}
	metrics.IncBusCommand(cmd.Name(), "ok")
	e.log.Debug().Stringer("cmd", cmd).Msg("sent")
	return nil
}

// Poll returns the next inbound command, if any.
func (e *Emitter) Poll() (Command, bool) {
	cmd, ok := e.tr.Poll()
	if ok {
		metrics.IncBusInbound(cmd.Name())
	}
	return cmd, ok
}

func (e *Emitter) Close() error { return e.tr.Close() }
