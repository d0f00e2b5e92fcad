package led

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"periph.io/x/conn/v3/display"
	"periph.io/x/extra/devices/screen"
)

var (
	litColor   = color.NRGBA{R: 255, G: 160, A: 255}
	unlitColor = color.NRGBA{R: 24, G: 24, B: 24, A: 255}
)

// SimBank is a set of in-memory expanders. With a drawer attached, every
// write repaints the whole bank, one pixel per line.
type SimBank struct {
	mu     sync.Mutex
	chips  []*SimExpander
	drawer display.Drawer
}

func NewSimBank(n int) *SimBank {
	b := &SimBank{}
	for i := 0; i < n; i++ {
		b.chips = append(b.chips, &SimExpander{bank: b, index: i})
	}
	return b
}

// WithConsole renders the bank to the terminal.
func (b *SimBank) WithConsole() *SimBank {
	b.drawer = screen.New(16 * len(b.chips))
	return b
}

func (b *SimBank) Expanders() []Expander {
	out := make([]Expander, len(b.chips))
	for i, c := range b.chips {
		out[i] = c
	}
	return out
}

func (b *SimBank) Chip(i int) *SimExpander { return b.chips[i] }

func (b *SimBank) Image() *image.NRGBA {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.image()
}

func (b *SimBank) image() *image.NRGBA {
	im := image.NewNRGBA(image.Rect(0, 0, 16*len(b.chips), 1))
	for i, c := range b.chips {
		for bit := 0; bit < 16; bit++ {
			col := unlitColor
			if c.lines&(1<<bit) != 0 {
				col = litColor
			}
			im.SetNRGBA(i*16+bit, 0, col)
		}
	}
	return im
}

func (b *SimBank) render() {
	if b.drawer == nil {
		return
	}
	im := b.image()
	_ = b.drawer.Draw(b.drawer.Bounds(), im, image.Point{})
}

// SimExpander is an in-memory Expander. Setting Fail makes Init report the
// chip as missing.
type SimExpander struct {
	bank   *SimBank
	index  int
	lines  uint16
	writes int
	Fail   bool
}

func (s *SimExpander) Init() error {
	if s.Fail {
		return fmt.Errorf("%s: no acknowledge", s)
	}
	return s.Write(0)
}

func (s *SimExpander) Write(lines uint16) error {
	s.bank.mu.Lock()
	defer s.bank.mu.Unlock()
	s.lines = lines
	s.writes++
	s.bank.render()
	return nil
}

func (s *SimExpander) Lines() uint16 {
	s.bank.mu.Lock()
	defer s.bank.mu.Unlock()
	return s.lines
}

func (s *SimExpander) Writes() int {
	s.bank.mu.Lock()
	defer s.bank.mu.Unlock()
	return s.writes
}

func (s *SimExpander) String() string { return fmt.Sprintf("sim%d", s.index) }
