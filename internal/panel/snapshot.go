package panel

import (
	"github.com/coreman2200/funtimes-railpanel/internal/element"
)

// ElementView is the published form of one table entry.
type ElementView struct {
	Index     int    `json:"index"`
	Kind      string `json:"kind"`
	Module    string `json:"module"`
	Address   uint16 `json:"address"`
	Summary   string `json:"summary"`
	Primary   int16  `json:"primary"`
	Secondary int16  `json:"secondary"`
}

// Snapshot is a copy of the panel state handed to other goroutines.
type Snapshot struct {
	Elements []ElementView `json:"elements"`
	Active   int           `json:"active"`
	Power    bool          `json:"power"`
	LEDs     []uint16      `json:"leds"`
}

// Snapshot copies the current panel state.
func (p *Processor) Snapshot() Snapshot {
	s := Snapshot{
		Elements: make([]ElementView, 0, p.table.Len()),
		Active:   p.active,
		Power:    p.leds.PowerLit(),
		LEDs:     make([]uint16, p.leds.Chips()),
	}
	p.table.Each(func(i int, e element.Element) {
		st := e.State()
		s.Elements = append(s.Elements, ElementView{
			Index:     i,
			Kind:      e.Kind().String(),
			Module:    e.Module().String(),
			Address:   e.Address(),
			Summary:   element.Describe(e),
			Primary:   st.Primary,
			Secondary: st.Secondary,
		})
	})
	for i := range s.LEDs {
		s.LEDs[i] = p.leds.Lines(i)
	}
	return s
}
