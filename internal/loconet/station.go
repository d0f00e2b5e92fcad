package loconet

import (
	"fmt"

	"github.com/coreman2200/funtimes-railpanel/internal/bus"
	"github.com/coreman2200/funtimes-railpanel/internal/element"
)

// slot mirrors what the command station holds for one locomotive.
type slot struct {
	address uint16
	dirf    byte
	snd     byte
}

// Station translates bus commands to LocoNet messages and back. Throttle
// messages address slots, not locomotives, so commands for a locomotive
// without a known slot are held until the command station reports one.
// Station is not safe for concurrent use.
type Station struct {
	slots     map[byte]*slot
	byAddr    map[uint16]byte
	pending   map[uint16][]bus.Command
	requested map[uint16]bool
}

func NewStation() *Station {
	return &Station{
		slots:     make(map[byte]*slot),
		byAddr:    make(map[uint16]byte),
		pending:   make(map[uint16][]bus.Command),
		requested: make(map[uint16]bool),
	}
}

// Slot returns the slot known for a locomotive address.
func (s *Station) Slot(address uint16) (byte, bool) {
	n, ok := s.byAddr[address]
	return n, ok
}

// Pending is the number of commands waiting for a slot.
func (s *Station) Pending(address uint16) int { return len(s.pending[address]) }

// Encode returns the messages that carry cmd. A locomotive command without
// a slot yields a slot request, or nothing if one is outstanding.
func (s *Station) Encode(cmd bus.Command) ([][]byte, error) {
	switch c := cmd.(type) {
	case bus.SetSwitch:
		return [][]byte{switchRequest(c)}, nil
	case bus.TrackPower:
		if c.On {
			return [][]byte{Frame(OpcGPOn)}, nil
		}
		return [][]byte{Frame(OpcGPOff)}, nil
	case bus.LocoSpeed, bus.LocoDirection, bus.LocoFunction:
		addr := locoAddress(cmd)
		n, ok := s.byAddr[addr]
		if !ok {
			s.pending[addr] = append(s.pending[addr], cmd)
			if s.requested[addr] {
				return nil, nil
			}
			s.requested[addr] = true
			return [][]byte{Frame(OpcLocoAdr, byte(addr>>7)&0x7F, byte(addr)&0x7F)}, nil
		}
		return s.throttle(s.slots[n], n, cmd), nil
	}
	return nil, fmt.Errorf("loconet: unsupported command %T", cmd)
}

// Handle interprets an inbound message. It returns the commands it
// represents and any messages that must be sent in response.
func (s *Station) Handle(msg []byte) ([]bus.Command, [][]byte) {
	if len(msg) < 2 {
		return nil, nil
	}
	switch msg[0] {
	case OpcGPOn:
		return []bus.Command{bus.TrackPower{On: true}}, nil
	case OpcGPOff:
		return []bus.Command{bus.TrackPower{On: false}}, nil
	case OpcSwReq:
		if len(msg) < 4 {
			return nil, nil
		}
		return []bus.Command{decodeSwitch(msg[1], msg[2])}, nil
	case OpcSlRdData:
		if len(msg) < 14 {
			return nil, nil
		}
		return nil, s.slotRead(msg)
	case OpcLocoSpd, OpcLocoDirF, OpcLocoSnd:
		if len(msg) < 4 {
			return nil, nil
		}
		return s.throttleIn(msg[0], msg[1], msg[2]), nil
	}
	return nil, nil
}

func (s *Station) slotRead(msg []byte) [][]byte {
	n, stat := msg[2], msg[3]
	addr := uint16(msg[9])<<7 | uint16(msg[4])
	if old, ok := s.slots[n]; ok && old.address != addr {
		delete(s.byAddr, old.address)
	}
	sl := &slot{address: addr, dirf: msg[6], snd: msg[10]}
	s.slots[n] = sl
	s.byAddr[addr] = n

	if !s.requested[addr] {
		return nil
	}
	delete(s.requested, addr)
	var out [][]byte
	if stat&statMask != statInUse {
		// null move marks the slot in use by this throttle
		out = append(out, Frame(OpcMoveSlots, n, n))
	}
	for _, cmd := range s.pending[addr] {
		out = append(out, s.throttle(sl, n, cmd)...)
	}
	delete(s.pending, addr)
	return out
}

func (s *Station) throttle(sl *slot, n byte, cmd bus.Command) [][]byte {
	switch c := cmd.(type) {
	case bus.LocoSpeed:
		return [][]byte{Frame(OpcLocoSpd, n, encodeSpeed(c.Step))}
	case bus.LocoDirection:
		if c.Direction == element.Stopped {
			return [][]byte{Frame(OpcLocoSpd, n, 0)}
		}
		sl.dirf &^= dirfReverse
		if c.Direction == element.Reverse {
			sl.dirf |= dirfReverse
		}
		return [][]byte{Frame(OpcLocoDirF, n, sl.dirf)}
	case bus.LocoFunction:
		switch {
		case c.Function == 0:
			sl.dirf = setBit(sl.dirf, dirfF0, c.On)
			return [][]byte{Frame(OpcLocoDirF, n, sl.dirf)}
		case c.Function <= 4:
			sl.dirf = setBit(sl.dirf, 1<<(c.Function-1), c.On)
			return [][]byte{Frame(OpcLocoDirF, n, sl.dirf)}
		case c.Function <= 8:
			sl.snd = setBit(sl.snd, 1<<(c.Function-5), c.On)
			return [][]byte{Frame(OpcLocoSnd, n, sl.snd)}
		}
	}
	return nil
}

func (s *Station) throttleIn(op, n, v byte) []bus.Command {
	sl, ok := s.slots[n]
	if !ok {
		return nil
	}
	switch op {
	case OpcLocoSpd:
		return []bus.Command{bus.LocoSpeed{Address: sl.address, Step: decodeSpeed(v)}}
	case OpcLocoDirF:
		sl.dirf = v
		d := element.Forward
		if v&dirfReverse != 0 {
			d = element.Reverse
		}
		return []bus.Command{bus.LocoDirection{Address: sl.address, Direction: d}}
	case OpcLocoSnd:
		sl.snd = v
	}
	return nil
}

func switchRequest(c bus.SetSwitch) []byte {
	a := c.Address - 1
	sw2 := byte(a>>7)&0x0F | swOn
	if c.State == element.Straight {
		sw2 |= swClosed
	}
	return Frame(OpcSwReq, byte(a)&0x7F, sw2)
}

func decodeSwitch(sw1, sw2 byte) bus.SetSwitch {
	addr := (uint16(sw2&0x0F)<<7 | uint16(sw1&0x7F)) + 1
	st := element.Thrown
	if sw2&swClosed != 0 {
		st = element.Straight
	}
	return bus.SetSwitch{Address: addr, State: st}
}

// Speed byte: 0 stop, 1 emergency stop, 2..127 steps 1..126.
func encodeSpeed(step int) byte {
	step = bus.ClampStep(step)
	if step == 0 {
		return 0
	}
	return byte(step + 1)
}

func decodeSpeed(v byte) int {
	if v <= 1 {
		return 0
	}
	return int(v&0x7F) - 1
}

func locoAddress(cmd bus.Command) uint16 {
	switch c := cmd.(type) {
	case bus.LocoSpeed:
		return c.Address
	case bus.LocoDirection:
		return c.Address
	case bus.LocoFunction:
		return c.Address
	}
	return 0
}

func setBit(v, mask byte, on bool) byte {
	if on {
		return v | mask
	}
	return v &^ mask
}
