package led

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
)

// MCP23017 register addresses with IOCON.BANK = 0 (power-on default), where
// the A and B registers of a kind are adjacent and auto-increment pairs them.
const (
	regIODIRA = 0x00
	regOLATA  = 0x14
)

// MCP23017 drives a 16-line I²C port expander. Port A carries lines 0-7,
// port B lines 8-15.
type MCP23017 struct {
	dev i2c.Dev
}

func NewMCP23017(b i2c.Bus, addr uint16) *MCP23017 {
	return &MCP23017{dev: i2c.Dev{Bus: b, Addr: addr}}
}

func (m *MCP23017) Init() error {
	if err := m.dev.Tx([]byte{regIODIRA, 0x00, 0x00}, nil); err != nil {
		return fmt.Errorf("mcp23017 0x%02x: set direction: %w", m.dev.Addr, err)
	}
	return m.Write(0)
}

func (m *MCP23017) Write(lines uint16) error {
	if err := m.dev.Tx([]byte{regOLATA, byte(lines), byte(lines >> 8)}, nil); err != nil {
		return fmt.Errorf("mcp23017 0x%02x: write latches: %w", m.dev.Addr, err)
	}
	return nil
}

func (m *MCP23017) String() string {
	return fmt.Sprintf("mcp23017@0x%02x", m.dev.Addr)
}
