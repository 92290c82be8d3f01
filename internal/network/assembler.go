package network

import (
	"fmt"

	"github.com/energizer-project/fragline/internal/protocol"
)

// SafetyMargin is the headroom Reserve keeps below the channel packet size
// for the record about to be written.
const SafetyMargin = 64

// MsgFlags control how Flush hands the scratch frame to the channel.
type MsgFlags uint8

const (
	// MsgReliable queues the frame on the reliable stream.
	MsgReliable MsgFlags = 1 << iota
	// MsgClear resets the scratch message after the frame was handed off.
	MsgClear
)

// Assembler builds a session's outbound frames. Records are written into a
// scratch message of MaxMsgLen bytes and handed to the channel by Flush.
// Callers reserve room before each record so that frame splits only ever
// fall on record boundaries.
type Assembler struct {
	ch  Channel
	msg *protocol.Writer

	bytesSent      uint64
	framesSent     uint64
	reliableFrames uint64
}

// AssemblerStats are the outbound counters of one session.
type AssemblerStats struct {
	BytesSent      uint64 `json:"bytes_sent"`
	FramesSent     uint64 `json:"frames_sent"`
	ReliableFrames uint64 `json:"reliable_frames"`
}

// NewAssembler creates an assembler writing to ch.
func NewAssembler(ch Channel) *Assembler {
	return &Assembler{
		ch:  ch,
		msg: protocol.NewWriter(protocol.MaxMsgLen),
	}
}

// Writer returns the scratch message.
func (a *Assembler) Writer() *protocol.Writer {
	return a.msg
}

// Channel returns the underlying channel.
func (a *Assembler) Channel() Channel {
	return a.ch
}

// ReliableCapacity is the largest single reliable frame ch can carry.
// New-style channels fragment, old ones are bound by the packet size.
func ReliableCapacity(ch Channel) int {
	if ch.Kind() == ChannelNew {
		return protocol.MaxMsgLen
	}
	return ch.MaxPacketLen()
}

// Reserve makes room for a record of n bytes, flushing the pending frame
// as reliable when the record would not fit in the current packet.
func (a *Assembler) Reserve(n int) error {
	if a.msg.Len()+n+SafetyMargin > a.ch.MaxPacketLen() {
		return a.Flush(MsgReliable | MsgClear)
	}
	return nil
}

// Flush hands the pending frame to the channel. An overflowed frame is never
// sent; its error is returned and the frame discarded.
func (a *Assembler) Flush(flags MsgFlags) error {
	if err := a.msg.Err(); err != nil {
		a.msg.Reset()
		return fmt.Errorf("failed to assemble frame: %w", err)
	}
	if a.msg.Len() == 0 {
		return nil
	}

	data := make([]byte, a.msg.Len())
	copy(data, a.msg.Bytes())
	if flags&MsgClear != 0 {
		a.msg.Reset()
	}

	reliable := flags&MsgReliable != 0
	if err := a.ch.Transmit(data, reliable); err != nil {
		return fmt.Errorf("failed to transmit frame: %w", err)
	}

	a.bytesSent += uint64(len(data))
	a.framesSent++
	if reliable {
		a.reliableFrames++
	}
	return nil
}

// Stuff sends text as a reliable svc_stufftext record.
func (a *Assembler) Stuff(text string) error {
	a.msg.WriteUint8(protocol.SvcStuffText).WriteNullString(text)
	return a.Flush(MsgReliable | MsgClear)
}

// Print sends text as a reliable svc_print record.
func (a *Assembler) Print(level byte, text string) error {
	a.msg.WriteUint8(protocol.SvcPrint).WriteUint8(level).WriteNullString(text)
	return a.Flush(MsgReliable | MsgClear)
}

// Stats returns the outbound counters.
func (a *Assembler) Stats() AssemblerStats {
	return AssemblerStats{
		BytesSent:      a.bytesSent,
		FramesSent:     a.framesSent,
		ReliableFrames: a.reliableFrames,
	}
}
