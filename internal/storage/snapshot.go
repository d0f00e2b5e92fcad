package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/coreman2200/funtimes-railpanel/internal/element"
)

// Region image, big endian:
//
//	0  'M' 'R'
//	2  version
//	3  element count (uint16)
//	5  count x (primary int16, secondary int16)
//	.. CRC-32 (IEEE) of everything before it
const (
	magic0, magic1 = 'M', 'R'
	version        = 1
	headerSize     = 5
	entrySize      = 4
	crcSize        = 4
)

var (
	ErrNoSnapshot   = errors.New("storage: no snapshot stored")
	ErrCorrupt      = errors.New("storage: snapshot corrupt")
	ErrSizeMismatch = errors.New("storage: snapshot does not match table size")
	ErrTooLarge     = errors.New("storage: snapshot larger than region")
)

// StorageError wraps a failure of the underlying region.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// Adapter owns the layout of a Region and maps it to element states.
type Adapter struct {
	r        Region
	elements int
}

// NewAdapter returns an adapter for a table of the given length.
func NewAdapter(r Region, elements int) *Adapter {
	return &Adapter{r: r, elements: elements}
}

// ImageSize is the number of region bytes a snapshot of n elements takes.
func ImageSize(n int) int { return headerSize + n*entrySize + crcSize }

func (a *Adapter) Save(states []element.State) error {
	if len(states) != a.elements {
		return fmt.Errorf("%w: saving %d states, table has %d", ErrSizeMismatch, len(states), a.elements)
	}
	if int64(ImageSize(len(states))) > a.r.Size() {
		return fmt.Errorf("%w: %d bytes, region %d", ErrTooLarge, ImageSize(len(states)), a.r.Size())
	}
	buf := make([]byte, headerSize, ImageSize(len(states)))
	buf[0], buf[1], buf[2] = magic0, magic1, version
	binary.BigEndian.PutUint16(buf[3:], uint16(len(states)))
	for _, st := range states {
		buf = binary.BigEndian.AppendUint16(buf, uint16(st.Primary))
		buf = binary.BigEndian.AppendUint16(buf, uint16(st.Secondary))
	}
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
	if _, err := a.r.WriteAt(buf, 0); err != nil {
		return &StorageError{Op: "write", Err: err}
	}
	return nil
}

// Load reads the stored snapshot. A snapshot for a different number of
// elements yields ErrSizeMismatch and no states.
func (a *Adapter) Load() ([]element.State, error) {
	hdr := make([]byte, headerSize)
	if _, err := a.r.ReadAt(hdr, 0); err != nil {
		return nil, &StorageError{Op: "read header", Err: err}
	}
	if hdr[0] != magic0 || hdr[1] != magic1 {
		return nil, ErrNoSnapshot
	}
	if hdr[2] != version {
		return nil, fmt.Errorf("%w: version %d", ErrCorrupt, hdr[2])
	}
	n := int(binary.BigEndian.Uint16(hdr[3:]))
	if n != a.elements {
		return nil, fmt.Errorf("%w: stored %d, table has %d", ErrSizeMismatch, n, a.elements)
	}
	if int64(ImageSize(n)) > a.r.Size() {
		return nil, fmt.Errorf("%w: count %d exceeds region", ErrCorrupt, n)
	}

	img := make([]byte, ImageSize(n))
	if _, err := a.r.ReadAt(img, 0); err != nil {
		return nil, &StorageError{Op: "read", Err: err}
	}
	body, sum := img[:len(img)-crcSize], binary.BigEndian.Uint32(img[len(img)-crcSize:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	states := make([]element.State, n)
	for i := range states {
		off := headerSize + i*entrySize
		states[i] = element.State{
			Primary:   int16(binary.BigEndian.Uint16(body[off:])),
			Secondary: int16(binary.BigEndian.Uint16(body[off+2:])),
		}
	}
	return states, nil
}

// Restore loads the snapshot and applies it onto t. On any error t keeps
// its current state.
func (a *Adapter) Restore(t *element.Table) error {
	states, err := a.Load()
	if err != nil {
		return err
	}
	if err := t.Restore(states); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

// Erase invalidates the stored snapshot.
func (a *Adapter) Erase() error {
	if _, err := a.r.WriteAt([]byte{0xFF, 0xFF}, 0); err != nil {
		return &StorageError{Op: "erase", Err: err}
	}
	return nil
}
