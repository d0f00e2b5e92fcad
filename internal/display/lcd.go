package display

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
)

// PCF8574 backpack wiring: P0 RS, P1 RW, P2 E, P3 backlight, P4-P7 D4-D7.
const (
	bitRS        = 0x01
	bitEnable    = 0x04
	bitBacklight = 0x08
)

// HD44780 instructions.
const (
	cmdClear       = 0x01
	cmdEntryMode   = 0x06 // increment, no shift
	cmdDisplayOn   = 0x0C // display on, cursor off
	cmdFunctionSet = 0x28 // 4-bit, two-line, 5x8
	cmdSetDDRAM    = 0x80
)

// DefaultLCDAddr is the usual address of a PCF8574T backpack.
const DefaultLCDAddr = 0x27

var lineOffsets = [Height]byte{0x00, 0x40, 0x14, 0x54}

// LCD is a 20x4 HD44780 character display behind a PCF8574 I²C expander,
// driven in 4-bit mode.
type LCD struct {
	mu    sync.Mutex
	dev   i2c.Dev
	sleep func(time.Duration)
}

// NewLCD initializes the controller and clears the screen.
func NewLCD(b i2c.Bus, addr uint16) (*LCD, error) {
	l := &LCD{dev: i2c.Dev{Bus: b, Addr: addr}, sleep: time.Sleep}
	if err := l.init(); err != nil {
		return nil, fmt.Errorf("display: lcd@0x%02x: %w", addr, err)
	}
	return l, nil
}

func (l *LCD) init() error {
	// Force 8-bit mode three times, then switch to 4-bit, whatever state
	// the controller powered up in.
	for _, n := range []byte{0x03, 0x03, 0x03, 0x02} {
		if err := l.nibble(n<<4, 0); err != nil {
			return err
		}
		l.sleep(5 * time.Millisecond)
	}
	for _, c := range []byte{cmdFunctionSet, cmdDisplayOn, cmdEntryMode} {
		if err := l.command(c); err != nil {
			return err
		}
	}
	return l.Clear()
}

func (l *LCD) Show(line, col int, text string) error {
	if line < 0 || line >= Height || col < 0 || col >= Width {
		return fmt.Errorf("display: position (%d,%d) outside %dx%d", line, col, Width, Height)
	}
	if len(text) > Width-col {
		text = text[:Width-col]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.command(cmdSetDDRAM | (lineOffsets[line] + byte(col))); err != nil {
		return err
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c < 0x20 || c > 0x7E {
			c = '?'
		}
		if err := l.send(c, bitRS); err != nil {
			return err
		}
	}
	return nil
}

func (l *LCD) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.command(cmdClear); err != nil {
		return err
	}
	l.sleep(2 * time.Millisecond)
	return nil
}

func (l *LCD) command(c byte) error { return l.send(c, 0) }

func (l *LCD) send(b, mode byte) error {
	if err := l.nibble(b&0xF0, mode); err != nil {
		return err
	}
	return l.nibble(b<<4, mode)
}

// nibble latches the high four bits of v with an enable pulse.
func (l *LCD) nibble(v, mode byte) error {
	out := v&0xF0 | mode | bitBacklight
	if err := l.dev.Tx([]byte{out | bitEnable, out}, nil); err != nil {
		return fmt.Errorf("display: write: %w", err)
	}
	return nil
}
