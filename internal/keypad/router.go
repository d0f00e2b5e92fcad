// Package keypad turns physical key presses into element table indices.
package keypad

import (
	"errors"
	"fmt"

	"github.com/coreman2200/funtimes-railpanel/internal/element"
)

const (
	Rows = 8
	Cols = 8
)

var (
	ErrUnmappedKey = errors.New("keypad: key outside matrix")
	ErrBadKeyMap   = errors.New("keypad: invalid key map")
)

// KeyMap assigns a table index, or element.None, to every key.
type KeyMap [Rows][Cols]int

// DefaultKeyMap numbers keys row by row from 1 to 64 and points key n at
// element n-1. Keys without an element, or whose element is a reserved
// switch slot, are left unmapped.
func DefaultKeyMap(t *element.Table) KeyMap {
	var km KeyMap
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			idx := r*Cols + c
			km[r][c] = element.None
			if e := t.At(idx); e != nil && !isReserved(e) {
				km[r][c] = idx
			}
		}
	}
	return km
}

// Router is the static key to element lookup.
type Router struct {
	keys KeyMap
}

// NewRouter checks km against t once so routing never yields an index
// outside the table or a reserved slot.
func NewRouter(km KeyMap, t *element.Table) (*Router, error) {
	seen := make(map[int]bool)
	for r := range km {
		for c, idx := range km[r] {
			if idx == element.None {
				continue
			}
			e := t.At(idx)
			if e == nil {
				return nil, fmt.Errorf("%w: key (%d,%d) points at index %d outside table of %d", ErrBadKeyMap, r, c, idx, t.Len())
			}
			if isReserved(e) {
				return nil, fmt.Errorf("%w: key (%d,%d) points at reserved slot %d", ErrBadKeyMap, r, c, idx)
			}
			if seen[idx] {
				return nil, fmt.Errorf("%w: index %d assigned to more than one key", ErrBadKeyMap, idx)
			}
			seen[idx] = true
		}
	}
	return &Router{keys: km}, nil
}

// Route returns the table index of the key at (row, col), element.None for
// an unused key, or ErrUnmappedKey when the coordinate is off the matrix.
func (r *Router) Route(row, col int) (int, error) {
	if row < 0 || row >= Rows || col < 0 || col >= Cols {
		return element.None, fmt.Errorf("%w: (%d,%d)", ErrUnmappedKey, row, col)
	}
	return r.keys[row][col], nil
}

// Key returns the coordinate of the key mapped to idx.
func (r *Router) Key(idx int) (row, col int, ok bool) {
	for row := range r.keys {
		for col, v := range r.keys[row] {
			if v == idx && idx != element.None {
				return row, col, true
			}
		}
	}
	return 0, 0, false
}

func isReserved(e element.Element) bool {
	s, ok := e.(*element.Switch)
	return ok && s.Reserved()
}
