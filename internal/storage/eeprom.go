package storage

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
)

// EEPROM is a 24Cxx-style serial EEPROM with two address bytes, e.g. a
// 24LC256 at 0x50.
type EEPROM struct {
	dev   i2c.Dev
	size  int64
	page  int
	chunk int
	cycle time.Duration
	sleep func(time.Duration)
}

type EEPROMOpts struct {
	Size int64
	// PageSize bounds a single write; writes never cross a page boundary.
	PageSize int
	// WriteCycle is the time the chip needs to commit a page.
	WriteCycle time.Duration
}

var DefaultEEPROMOpts = EEPROMOpts{Size: 32 * 1024, PageSize: 64, WriteCycle: 5 * time.Millisecond}

func NewEEPROM(b i2c.Bus, addr uint16, o EEPROMOpts) (*EEPROM, error) {
	if o.Size <= 0 || o.Size > 1<<16 {
		return nil, fmt.Errorf("storage: eeprom size %d not addressable with two bytes", o.Size)
	}
	if o.PageSize <= 0 {
		return nil, fmt.Errorf("storage: eeprom page size %d", o.PageSize)
	}
	return &EEPROM{
		dev:   i2c.Dev{Bus: b, Addr: addr},
		size:  o.Size,
		page:  o.PageSize,
		chunk: 32,
		cycle: o.WriteCycle,
		sleep: time.Sleep,
	}, nil
}

func (e *EEPROM) Size() int64 { return e.size }

func (e *EEPROM) ReadAt(p []byte, off int64) (int, error) {
	if err := bounds(off, len(p), e.size); err != nil {
		return 0, err
	}
	n := 0
	for n < len(p) {
		end := n + e.chunk
		if end > len(p) {
			end = len(p)
		}
		a := off + int64(n)
		if err := e.dev.Tx([]byte{byte(a >> 8), byte(a)}, p[n:end]); err != nil {
			return n, fmt.Errorf("storage: eeprom read at %d: %w", a, err)
		}
		n = end
	}
	return n, nil
}

func (e *EEPROM) WriteAt(p []byte, off int64) (int, error) {
	if err := bounds(off, len(p), e.size); err != nil {
		return 0, err
	}
	n := 0
	for n < len(p) {
		a := off + int64(n)
		room := e.page - int(a%int64(e.page))
		end := n + room
		if end > len(p) {
			end = len(p)
		}
		w := make([]byte, 0, 2+end-n)
		w = append(w, byte(a>>8), byte(a))
		w = append(w, p[n:end]...)
		if err := e.dev.Tx(w, nil); err != nil {
			return n, fmt.Errorf("storage: eeprom write at %d: %w", a, err)
		}
		e.sleep(e.cycle)
		n = end
	}
	return n, nil
}
