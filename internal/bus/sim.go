package bus

import (
	"sync"

	"github.com/rs/zerolog"
)

// Sim is a transport without a command station. Sent commands are logged
// and kept; Inject queues commands as if another throttle had sent them.
type Sim struct {
	mu      sync.Mutex
	log     zerolog.Logger
	sent    []Command
	inbound []Command
}

func NewSim(log zerolog.Logger) *Sim {
	return &Sim{log: log.With().Str("transport", "sim").Logger()}
}

func (s *Sim) Send(cmd Command) error {
	s.mu.Lock()
	s.sent = append(s.sent, cmd)
	s.mu.Unlock()
	s.log.Info().Str("cmd", cmd.Name()).Msg(cmd.String())
	return nil
}

func (s *Sim) Poll() (Command, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inbound) == 0 {
		return nil, false
	}
	cmd := s.inbound[0]
	s.inbound = s.inbound[1:]
	return cmd, true
}

func (s *Sim) Inject(cmd Command) {
	s.mu.Lock()
	s.inbound = append(s.inbound, cmd)
	s.mu.Unlock()
}

// Sent returns and clears the commands sent so far.
func (s *Sim) Sent() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sent
	s.sent = nil
	return out
}

func (s *Sim) Close() error { return nil }
