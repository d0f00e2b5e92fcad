package loconet

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/funtimes-railpanel/internal/bus"
	"github.com/coreman2200/funtimes-railpanel/internal/element"
)

func TestChecksum(t *testing.T) {
	assert.Equal(t, []byte{0x83, 0x7C}, Frame(OpcGPOn))
	assert.Equal(t, []byte{0x82, 0x7D}, Frame(OpcGPOff))
	assert.True(t, Valid(Frame(OpcLocoSpd, 3, 20)))
	assert.False(t, Valid([]byte{0xA0, 3, 20, 0}))
}

func TestSwitchRequest(t *testing.T) {
	s := NewStation()
	msgs, err := s.Encode(bus.SetSwitch{Address: 101, State: element.Thrown})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0xB0, 0x64, 0x10, 0x3B}}, msgs)

	msgs, err = s.Encode(bus.SetSwitch{Address: 805, State: element.Straight})
	require.NoError(t, err)
	// 804 = 6<<7 | 0x24
	assert.Equal(t, []byte{0xB0, 0x24, 0x36}, msgs[0][:3])

	cmds, _ := s.Handle(msgs[0])
	assert.Equal(t, []bus.Command{bus.SetSwitch{Address: 805, State: element.Straight}}, cmds)
}

func TestTrackPower(t *testing.T) {
	s := NewStation()
	msgs, err := s.Encode(bus.TrackPower{On: false})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{Frame(OpcGPOff)}, msgs)

	cmds, _ := s.Handle(Frame(OpcGPOn))
	assert.Equal(t, []bus.Command{bus.TrackPower{On: true}}, cmds)
}

func slotRead(n, stat byte, addr uint16, dirf byte) []byte {
	return Frame(OpcSlRdData, 0x0E, n, stat, byte(addr&0x7F), 0, dirf, 0, 0, byte(addr>>7), 0, 0, 0)
}

func TestLocoCommandsWaitForSlot(t *testing.T) {
	s := NewStation()

	msgs, err := s.Encode(bus.LocoDirection{Address: 344, Direction: element.Reverse})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{Frame(OpcLocoAdr, 0x02, 0x58)}, msgs)

	msgs, err = s.Encode(bus.LocoSpeed{Address: 344, Step: 10})
	require.NoError(t, err)
	assert.Empty(t, msgs, "slot request already outstanding")
	assert.Equal(t, 2, s.Pending(344))

	cmds, replies := s.Handle(slotRead(5, 0x00, 344, 0))
	assert.Empty(t, cmds)
	assert.Equal(t, [][]byte{
		Frame(OpcMoveSlots, 5, 5),
		Frame(OpcLocoDirF, 5, 0x20),
		Frame(OpcLocoSpd, 5, 11),
	}, replies)
	assert.Equal(t, 0, s.Pending(344))

	n, ok := s.Slot(344)
	assert.True(t, ok)
	assert.Equal(t, byte(5), n)

	msgs, err = s.Encode(bus.LocoDirection{Address: 344, Direction: element.Stopped})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{Frame(OpcLocoSpd, 5, 0)}, msgs)
}

func TestSlotInUseNeedsNoMove(t *testing.T) {
	s := NewStation()
	_, err := s.Encode(bus.LocoSpeed{Address: 2412, Step: 126})
	require.NoError(t, err)

	_, replies := s.Handle(slotRead(9, 0x30, 2412, 0))
	assert.Equal(t, [][]byte{Frame(OpcLocoSpd, 9, 127)}, replies)
}

func TestUnrequestedSlotReadIsLearned(t *testing.T) {
	s := NewStation()
	_, replies := s.Handle(slotRead(2, 0x30, 611, 0x10))
	assert.Empty(t, replies)

	cmds, _ := s.Handle(Frame(OpcLocoSpd, 2, 30))
	assert.Equal(t, []bus.Command{bus.LocoSpeed{Address: 611, Step: 29}}, cmds)

	cmds, _ = s.Handle(Frame(OpcLocoSpd, 2, 1))
	assert.Equal(t, []bus.Command{bus.LocoSpeed{Address: 611, Step: 0}}, cmds)

	cmds, _ = s.Handle(Frame(OpcLocoDirF, 2, 0x30))
	assert.Equal(t, []bus.Command{bus.LocoDirection{Address: 611, Direction: element.Reverse}}, cmds)

	// unknown slot
	cmds, _ = s.Handle(Frame(OpcLocoSpd, 7, 30))
	assert.Empty(t, cmds)
}

func TestFunctionsKeepSlotBits(t *testing.T) {
	s := NewStation()
	s.Handle(slotRead(4, 0x30, 386, 0))

	msgs, err := s.Encode(bus.LocoFunction{Address: 386, Function: 0, On: true})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{Frame(OpcLocoDirF, 4, 0x10)}, msgs)

	msgs, _ = s.Encode(bus.LocoFunction{Address: 386, Function: 3, On: true})
	assert.Equal(t, [][]byte{Frame(OpcLocoDirF, 4, 0x14)}, msgs)

	msgs, _ = s.Encode(bus.LocoDirection{Address: 386, Direction: element.Reverse})
	assert.Equal(t, [][]byte{Frame(OpcLocoDirF, 4, 0x34)}, msgs)

	msgs, _ = s.Encode(bus.LocoFunction{Address: 386, Function: 6, On: true})
	assert.Equal(t, [][]byte{Frame(OpcLocoSnd, 4, 0x02)}, msgs)

	msgs, _ = s.Encode(bus.LocoFunction{Address: 386, Function: 0, On: false})
	assert.Equal(t, [][]byte{Frame(OpcLocoDirF, 4, 0x24)}, msgs)
}

func TestDecoderResyncs(t *testing.T) {
	var stream []byte
	stream = append(stream, 0x12, 0x05) // noise
	stream = append(stream, 0xB0, 0x64) // cut short
	stream = append(stream, Frame(OpcGPOn)...)
	stream = append(stream, 0xA0, 0x01, 0x02, 0x00) // bad checksum
	stream = append(stream, slotRead(1, 0x30, 344, 0)...)

	d := NewDecoder(bytes.NewReader(stream))

	msg, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, Frame(OpcGPOn), msg)

	_, err = d.Next()
	assert.ErrorIs(t, err, ErrChecksum)

	msg, err = d.Next()
	require.NoError(t, err)
	assert.Len(t, msg, 14)

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

// pipePort feeds the transport from a pipe and records what it writes.
type pipePort struct {
	*io.PipeReader
	mu  sync.Mutex
	out [][]byte
}

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = append(p.out, append([]byte(nil), b...))
	return len(b), nil
}

func (p *pipePort) written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.out...)
}

func TestTransport(t *testing.T) {
	r, w := io.Pipe()
	port := &pipePort{PipeReader: r}
	tr := NewTransport(port, zerolog.Nop())

	require.NoError(t, tr.Send(bus.LocoSpeed{Address: 344, Step: 4}))
	assert.Equal(t, [][]byte{Frame(OpcLocoAdr, 0x02, 0x58)}, port.written())

	go func() {
		_, _ = w.Write(slotRead(3, 0x00, 344, 0))
		_, _ = w.Write(Frame(OpcSwReq, 0x64, 0x30))
	}()

	assert.Eventually(t, func() bool { return len(port.written()) == 3 }, time.Second, 5*time.Millisecond)
	out := port.written()
	assert.Equal(t, Frame(OpcMoveSlots, 3, 3), out[1])
	assert.Equal(t, Frame(OpcLocoSpd, 3, 5), out[2])

	var cmd bus.Command
	assert.Eventually(t, func() bool {
		var ok bool
		cmd, ok = tr.Poll()
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, bus.SetSwitch{Address: 101, State: element.Straight}, cmd)

	require.NoError(t, tr.Close())
	_, ok := tr.Poll()
	assert.False(t, ok)
}
