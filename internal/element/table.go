package element

import (
	"errors"
	"fmt"
)

// None marks "no element": unused keys and an empty locomotive selection.
const None = -1

var (
	ErrSwitchOrder      = errors.New("element: switches must occupy the lowest contiguous index range")
	ErrDuplicateAddress = errors.New("element: duplicate address")
	ErrUnknownFunction  = errors.New("element: unknown function code")
	ErrEmptyTable       = errors.New("element: empty table")
	ErrLengthMismatch   = errors.New("element: state count does not match table length")
)

type key struct {
	kind    Kind
	address uint16
}

// Table is the fixed-length, index-addressed arena of panel elements.
// Lookups derived from element order are computed once in NewTable.
type Table struct {
	elems    []Element
	switches int
	locos    []int
	ordinal  []int
	byAddr   map[key]int
}

// NewTable validates elems and builds the lookup tables. All switches must
// come first since LED addressing derives from a switch's rank.
func NewTable(elems []Element) (*Table, error) {
	if len(elems) == 0 {
		return nil, ErrEmptyTable
	}
	t := &Table{
		elems:   elems,
		ordinal: make([]int, len(elems)),
		byAddr:  make(map[key]int, len(elems)),
	}
	seenOther := false
	for i, e := range elems {
		t.ordinal[i] = None
		switch v := e.(type) {
		case *Switch:
			if seenOther {
				return nil, fmt.Errorf("%w: switch at index %d follows a %s", ErrSwitchOrder, i, elems[i-1].Kind())
			}
			t.ordinal[i] = t.switches
			t.switches++
			if v.Reserved() {
				continue
			}
		case *Locomotive:
			seenOther = true
			t.ordinal[i] = len(t.locos)
			t.locos = append(t.locos, i)
		case *Function:
			seenOther = true
			if !v.Code().Valid() {
				return nil, fmt.Errorf("%w: %d at index %d", ErrUnknownFunction, v.Address(), i)
			}
		case *Power:
			seenOther = true
		default:
			return nil, fmt.Errorf("element: unsupported element %T at index %d", e, i)
		}
		k := key{e.Kind(), e.Address()}
		if j, dup := t.byAddr[k]; dup {
			return nil, fmt.Errorf("%w: %s %d at index %d and %d", ErrDuplicateAddress, k.kind, k.address, j, i)
		}
		t.byAddr[k] = i
	}
	return t, nil
}

func (t *Table) Len() int { return len(t.elems) }

// At returns the element at index i, or nil when i is out of range.
func (t *Table) At(i int) Element {
	if i < 0 || i >= len(t.elems) {
		return nil
	}
	return t.elems[i]
}

// Switches is the number of switch slots, reserved ones included.
func (t *Table) Switches() int { return t.switches }

// Ordinal returns the rank of the element at i among elements of its kind
// (switches and locomotives), or None.
func (t *Table) Ordinal(i int) int {
	if i < 0 || i >= len(t.ordinal) {
		return None
	}
	return t.ordinal[i]
}

// Locomotives returns the table indices of all locomotives in table order.
func (t *Table) Locomotives() []int {
	return append([]int(nil), t.locos...)
}

// Lookup finds the index of the element with the given kind and address.
func (t *Table) Lookup(k Kind, address uint16) (int, bool) {
	i, ok := t.byAddr[key{k, address}]
	return i, ok
}

func (t *Table) Each(f func(i int, e Element)) {
	for i, e := range t.elems {
		f(i, e)
	}
}

// States returns the mutable state of every element in table order.
func (t *Table) States() []State {
	out := make([]State, len(t.elems))
	for i, e := range t.elems {
		out[i] = e.State()
	}
	return out
}

// Restore applies states onto the table. Nothing is applied unless every
// value is valid for its element.
func (t *Table) Restore(states []State) error {
	if len(states) != len(t.elems) {
		return fmt.Errorf("%w: %d states for %d elements", ErrLengthMismatch, len(states), len(t.elems))
	}
	backup := t.States()
	for i, st := range states {
		if err := t.elems[i].restore(st); err != nil {
			for j := 0; j < i; j++ {
				_ = t.elems[j].restore(backup[j])
			}
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}
