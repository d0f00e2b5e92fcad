package loconet

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/coreman2200/funtimes-railpanel/internal/bus"
)

// DefaultBaud is the line speed of a LocoBuffer-USB style interface.
const DefaultBaud = 57600

// Transport is a bus.Transport over a LocoNet interface. A reader goroutine
// decodes inbound traffic into a buffered queue that Poll drains.
type Transport struct {
	mu      sync.Mutex
	port    io.ReadWriteCloser
	station *Station
	in      chan bus.Command
	done    chan struct{}
	log     zerolog.Logger
}

// Open opens a serial LocoNet interface.
func Open(name string, baud int, log zerolog.Logger) (*Transport, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("loconet: open %s: %w", name, err)
	}
	return NewTransport(port, log), nil
}

// NewTransport takes ownership of port and starts reading from it.
func NewTransport(port io.ReadWriteCloser, log zerolog.Logger) *Transport {
	t := &Transport{
		port:    port,
		station: NewStation(),
		in:      make(chan bus.Command, 64),
		done:    make(chan struct{}),
		log:     log.With().Str("component", "loconet").Logger(),
	}
	go t.read()
	return t
}

func (t *Transport) Send(cmd bus.Command) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs, err := t.station.Encode(cmd)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		t.log.Debug().Stringer("cmd", cmd).Msg("queued until slot is known")
	}
	return t.write(msgs)
}

func (t *Transport) Poll() (bus.Command, bool) {
	select {
	case cmd := <-t.in:
		return cmd, true
	default:
		return nil, false
	}
}

func (t *Transport) Close() error {
	err := t.port.Close()
	<-t.done
	return err
}

func (t *Transport) read() {
	defer close(t.done)
	dec := NewDecoder(t.port)
	for {
		msg, err := dec.Next()
		if errors.Is(err, ErrChecksum) {
			t.log.Debug().Err(err).Msg("dropped message")
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				t.log.Debug().Err(err).Msg("reader stopped")
			}
			return
		}
		t.mu.Lock()
		cmds, replies := t.station.Handle(msg)
		if err := t.write(replies); err != nil {
			t.log.Warn().Err(err).Msg("reply failed")
		}
		t.mu.Unlock()
		for _, cmd := range cmds {
			select {
			case t.in <- cmd:
			default:
				t.log.Warn().Stringer("cmd", cmd).Msg("inbound queue full, dropped")
			}
		}
	}
}

func (t *Transport) write(msgs [][]byte) error {
	for _, m := range msgs {
		if _, err := t.port.Write(m); err != nil {
			return fmt.Errorf("loconet: write % x: %w", m, err)
		}
	}
	return nil
}
