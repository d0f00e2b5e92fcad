// Package loconet speaks the subset of LocoNet the panel needs: switch
// requests, track power, locomotive slot acquisition and throttle messages.
package loconet

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Opcodes.
const (
	OpcGPOff     = 0x82
	OpcGPOn      = 0x83
	OpcLocoSpd   = 0xA0
	OpcLocoDirF  = 0xA1
	OpcLocoSnd   = 0xA2
	OpcSwReq     = 0xB0
	OpcMoveSlots = 0xBA
	OpcLocoAdr   = 0xBF
	OpcSlRdData  = 0xE7
)

// OPC_SW_REQ second data byte.
const (
	swClosed = 0x20
	swOn     = 0x10
)

// OPC_LOCO_DIRF data byte.
const (
	dirfReverse = 0x20
	dirfF0      = 0x10
)

// Slot status in STAT1 bits 5-4.
const (
	statMask  = 0x30
	statInUse = 0x30
)

var ErrChecksum = errors.New("loconet: bad checksum")

// Checksum is the one's complement of the XOR of b.
func Checksum(b []byte) byte {
	var x byte
	for _, v := range b {
		x ^= v
	}
	return ^x
}

// Frame builds a message from an opcode and data bytes and appends the
// checksum.
func Frame(op byte, data ...byte) []byte {
	msg := make([]byte, 0, len(data)+2)
	msg = append(msg, op)
	msg = append(msg, data...)
	return append(msg, Checksum(msg))
}

// Valid reports whether msg carries a correct checksum.
func Valid(msg []byte) bool {
	return len(msg) >= 2 && Checksum(msg[:len(msg)-1]) == msg[len(msg)-1]
}

// length returns the message length implied by an opcode, or 0 when the
// length is carried in the next byte.
func length(op byte) int {
	switch op & 0x60 {
	case 0x00:
		return 2
	case 0x20:
		return 4
	case 0x40:
		return 6
	}
	return 0
}

// Decoder splits a byte stream into messages. Bytes before an opcode are
// skipped and a message cut short by a new opcode is dropped, so the
// decoder resynchronises after line noise.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next message. A message with a bad checksum is returned
// together with ErrChecksum.
func (d *Decoder) Next() ([]byte, error) {
	op, err := d.opcode()
	if err != nil {
		return nil, err
	}
	for {
		msg, next, err := d.body(op)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			op = next
			continue
		}
		if !Valid(msg) {
			return msg, fmt.Errorf("%w: % x", ErrChecksum, msg)
		}
		return msg, nil
	}
}

func (d *Decoder) opcode() (byte, error) {
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if b&0x80 != 0 {
			return b, nil
		}
	}
}

// body reads the rest of the message started by op. When another opcode
// turns up first it returns a nil message and that opcode.
func (d *Decoder) body(op byte) ([]byte, byte, error) {
	n := length(op)
	msg := []byte{op}
	if n == 0 {
		b, err := d.r.ReadByte()
		if err != nil {
			return nil, 0, err
		}
		if b&0x80 != 0 {
			return nil, b, nil
		}
		n = int(b)
		if n < 3 {
			next, err := d.opcode()
			return nil, next, err
		}
		msg = append(msg, b)
	}
	for len(msg) < n {
		b, err := d.r.ReadByte()
		if err != nil {
			return nil, 0, err
		}
		// the checksum byte may have its high bit set
		if b&0x80 != 0 && len(msg) < n-1 {
			return nil, b, nil
		}
		msg = append(msg, b)
	}
	return msg, 0, nil
}
