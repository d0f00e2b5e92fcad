package keypad

import (
	"fmt"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/gpio"
)

// Scanner reports key presses. Next never blocks.
type Scanner interface {
	Next() (row, col int, ok bool)
}

// RowLine drives one matrix row. gpio.PinIO satisfies it.
type RowLine interface {
	Out(l gpio.Level) error
}

// ColLine reads one matrix column. gpio.PinIO satisfies it.
type ColLine interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
}

// DebounceScans is how many consecutive scans a key must read the same
// level before its change is accepted. At the loop's 20ms interval this is
// longer than a contact bounces.
const DebounceScans = 2

// Matrix scans a diode-free key matrix: rows are outputs held high, columns
// are inputs with pull-ups. Driving a row low pulls the columns of its
// pressed keys low.
type Matrix struct {
	rows    []RowLine
	cols    []ColLine
	raw     [Rows][Cols]bool
	stable  [Rows][Cols]int
	down    [Rows][Cols]bool
	pending [][2]int
	scanned bool
	log     zerolog.Logger
}

func NewMatrix(rows []RowLine, cols []ColLine, log zerolog.Logger) (*Matrix, error) {
	if len(rows) == 0 || len(rows) > Rows || len(cols) == 0 || len(cols) > Cols {
		return nil, fmt.Errorf("keypad: %dx%d matrix, want up to %dx%d", len(rows), len(cols), Rows, Cols)
	}
	for i, r := range rows {
		if err := r.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("keypad: row %d: %w", i, err)
		}
	}
	for i, c := range cols {
		if err := c.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("keypad: column %d: %w", i, err)
		}
	}
	return &Matrix{rows: rows, cols: cols, log: log.With().Str("component", "keypad").Logger()}, nil
}

// Scan reads the whole matrix once and queues every key whose press has
// been stable for DebounceScans scans. A held key is reported once.
func (m *Matrix) Scan() error {
	for r, row := range m.rows {
		if err := row.Out(gpio.Low); err != nil {
			return fmt.Errorf("keypad: drive row %d: %w", r, err)
		}
		for c, col := range m.cols {
			m.debounce(r, c, col.Read() == gpio.Low)
		}
		if err := row.Out(gpio.High); err != nil {
			return fmt.Errorf("keypad: release row %d: %w", r, err)
		}
	}
	return nil
}

func (m *Matrix) debounce(r, c int, pressed bool) {
	if pressed != m.raw[r][c] {
		m.raw[r][c] = pressed
		m.stable[r][c] = 1
	} else if m.stable[r][c] < DebounceScans {
		m.stable[r][c]++
	}
	if m.stable[r][c] < DebounceScans || pressed == m.down[r][c] {
		return
	}
	m.down[r][c] = pressed
	if pressed {
		m.pending = append(m.pending, [2]int{r, c})
	}
}

// Next scans at most once per drain: after the keys of one scan are
// handed out it reports false, and the following call scans again.
func (m *Matrix) Next() (int, int, bool) {
	if len(m.pending) == 0 {
		if m.scanned {
			m.scanned = false
			return 0, 0, false
		}
		if err := m.Scan(); err != nil {
			m.log.Warn().Err(err).Msg("scan failed")
			return 0, 0, false
		}
		if len(m.pending) == 0 {
			return 0, 0, false
		}
		m.scanned = true
	}
	k := m.pending[0]
	m.pending = m.pending[1:]
	return k[0], k[1], true
}

// Queue is a Scanner fed from other goroutines, e.g. the remote panel or a
// simulated keypad.
type Queue struct {
	keys chan [2]int
}

func NewQueue(size int) *Queue {
	return &Queue{keys: make(chan [2]int, size)}
}

// Push queues a press and reports false when the queue is full.
func (q *Queue) Push(row, col int) bool {
	select {
	case q.keys <- [2]int{row, col}:
		return true
	default:
		return false
	}
}

func (q *Queue) Next() (int, int, bool) {
	select {
	case k := <-q.keys:
		return k[0], k[1], true
	default:
		return 0, 0, false
	}
}
