// Package storage persists the mutable state of the element table in a
// fixed-size byte region, such as an EEPROM or a file.
package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Region is a fixed-size, byte-addressed non-volatile store.
type Region interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
}

// FileRegion is a Region backed by a file of fixed size.
type FileRegion struct {
	f    *os.File
	size int64
}

// OpenFile opens or creates path as a region of size bytes. A new or short
// file is padded with 0xFF, the way an erased EEPROM reads.
func OpenFile(path string, size int64) (*FileRegion, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	if pad := size - st.Size(); pad > 0 {
		if _, err := f.WriteAt(bytes.Repeat([]byte{0xFF}, int(pad)), st.Size()); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("storage: pad %s: %w", path, err)
		}
	}
	return &FileRegion{f: f, size: size}, nil
}

func (r *FileRegion) ReadAt(p []byte, off int64) (int, error) {
	if err := bounds(off, len(p), r.size); err != nil {
		return 0, err
	}
	return r.f.ReadAt(p, off)
}

func (r *FileRegion) WriteAt(p []byte, off int64) (int, error) {
	if err := bounds(off, len(p), r.size); err != nil {
		return 0, err
	}
	n, err := r.f.WriteAt(p, off)
	if err != nil {
		return n, err
	}
	return n, r.f.Sync()
}

func (r *FileRegion) Size() int64 { return r.size }

func (r *FileRegion) Close() error { return r.f.Close() }

func bounds(off int64, n int, size int64) error {
	if off < 0 || off+int64(n) > size {
		return fmt.Errorf("storage: range %d+%d outside region of %d bytes", off, n, size)
	}
	return nil
}
