// Package network carries fragline's outbound path and its development
// transport: the Channel contract the session core talks to, the per-session
// reliable output assembler, and a sequenced UDP listener with its peer
// registry.
package network

import "errors"

// ChannelKind distinguishes the two reliable channel implementations a
// client can negotiate. New-style channels fragment large reliable messages
// and can carry a whole compressed gamestate in one frame.
type ChannelKind int

const (
	ChannelOld ChannelKind = iota
	ChannelNew
)

func (k ChannelKind) String() string {
	if k == ChannelNew {
		return "new"
	}
	return "old"
}

// ErrChannelClosed is returned by Transmit after Close.
var ErrChannelClosed = errors.New("channel is closed")

// Channel is the reliable transport a session writes to. Implementations
// report the packets lost before the datagram currently being processed
// through Dropped.
type Channel interface {
	Address() string
	IsLocal() bool
	Kind() ChannelKind
	// MaxPacketLen is the largest reliable frame the channel accepts.
	MaxPacketLen() int
	// Dropped is the number of inbound packets lost before the current one.
	Dropped() int
	Transmit(data []byte, reliable bool) error
	Close() error
}
