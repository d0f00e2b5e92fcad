// Package display drives the panel's character display.
package display

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Layout of the 20x4 panel display.
const (
	Width  = 20
	Height = 4

	LineTitle  = 0
	LineLoco   = 1
	LineStatus = 2
	LineError  = 3
)

// Display is a fixed grid of character cells. Text running past the end of
// a line is cut off.
type Display interface {
	Show(line, col int, text string) error
	Clear() error
}

// Fit pads or truncates text so it fills a line from col to the right edge.
func Fit(col int, text string) string {
	n := Width - col
	if n <= 0 {
		return ""
	}
	if len(text) >= n {
		return text[:n]
	}
	return text + strings.Repeat(" ", n-len(text))
}

// Log is a Display kept in memory that logs every changed line. Used when no
// LCD is attached.
type Log struct {
	mu    sync.Mutex
	lines [Height][Width]byte
	log   zerolog.Logger
}

func NewLog(log zerolog.Logger) *Log {
	d := &Log{log: log.With().Str("component", "display").Logger()}
	d.blank()
	return d
}

func (d *Log) Show(line, col int, text string) error {
	if line < 0 || line >= Height || col < 0 || col >= Width {
		return nil
	}
	d.mu.Lock()
	copy(d.lines[line][col:], text)
	s := strings.TrimRight(string(d.lines[line][:]), " ")
	d.mu.Unlock()
	d.log.Info().Int("line", line).Msg(s)
	return nil
}

func (d *Log) Clear() error {
	d.mu.Lock()
	d.blank()
	d.mu.Unlock()
	return nil
}

// Line returns the current content of line with trailing blanks removed.
func (d *Log) Line(line int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if line < 0 || line >= Height {
		return ""
	}
	return strings.TrimRight(string(d.lines[line][:]), " ")
}

func (d *Log) blank() {
	for i := range d.lines {
		for j := range d.lines[i] {
			d.lines[i][j] = ' '
		}
	}
}
