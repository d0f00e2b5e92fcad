package led

import "periph.io/x/conn/v3/gpio"

// Expander is a 16-line output chip. Line n of the word maps to output n.
type Expander interface {
	// Init configures every line as an output and clears them.
	Init() error
	// Write drives all 16 lines at once.
	Write(lines uint16) error
	String() string
}

// OutputLine is a single dedicated output, e.g. the panel power indicator.
// gpio.PinIO satisfies it.
type OutputLine interface {
	Out(l gpio.Level) error
}

// Line is a simulated OutputLine.
type Line struct {
	Level gpio.Level
}

func (l *Line) Out(v gpio.Level) error {
	l.Level = v
	return nil
}
