package network

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/fragline/internal/protocol"
)

const (
	seqHeaderLen = 4
	reliableBit  = 1 << 31
	seqMask      = reliableBit - 1
)

// Peer is one remote client on the UDP listener. Every in-band datagram
// carries a 32-bit little-endian sequence number whose high bit marks a
// reliable frame; gaps in the inbound sequence are reported as drops.
// Peers never retransmit.
type Peer struct {
	mu     sync.Mutex
	conn   net.PacketConn
	addr   net.Addr
	kind   ChannelKind
	maxLen int
	logger zerolog.Logger

	outSeq  uint32
	inSeq   uint32
	dropped int

	connectedAt  time.Time
	lastActivity time.Time
	closed       bool
	onClose      func(*Peer)
}

// NewPeer wraps a remote address reachable through conn.
func NewPeer(conn net.PacketConn, addr net.Addr, kind ChannelKind, maxPacketLen int) *Peer {
	now := time.Now()
	if maxPacketLen <= 0 || maxPacketLen > protocol.MaxPacketLen {
		maxPacketLen = protocol.MaxPacketLen
	}
	return &Peer{
		conn:         conn,
		addr:         addr,
		kind:         kind,
		maxLen:       maxPacketLen,
		connectedAt:  now,
		lastActivity: now,
		logger:       log.With().Str("component", "peer").Str("remote", addr.String()).Logger(),
	}
}

// Address implements Channel.
func (p *Peer) Address() string {
	return p.addr.String()
}

// IsLocal reports a loopback peer.
func (p *Peer) IsLocal() bool {
	if ua, ok := p.addr.(*net.UDPAddr); ok {
		return ua.IP.IsLoopback()
	}
	return false
}

// Kind implements Channel.
func (p *Peer) Kind() ChannelKind {
	return p.kind
}

// MaxPacketLen implements Channel.
func (p *Peer) MaxPacketLen() int {
	return p.maxLen
}

// Dropped returns the number of datagrams lost before the last accepted one.
func (p *Peer) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Receive strips the sequence header from an in-band datagram. Stale or
// duplicated datagrams are rejected.
func (p *Peer) Receive(datagram []byte) ([]byte, bool) {
	if len(datagram) < seqHeaderLen {
		return nil, false
	}
	seq := binary.LittleEndian.Uint32(datagram) & seqMask

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, false
	}
	if seq <= p.inSeq {
		p.logger.Trace().Uint32("seq", seq).Uint32("last", p.inSeq).Msg("out of order datagram")
		return nil, false
	}
	p.dropped = int(seq - p.inSeq - 1)
	p.inSeq = seq
	p.lastActivity = time.Now()
	return datagram[seqHeaderLen:], true
}

// Transmit implements Channel.
func (p *Peer) Transmit(data []byte, reliable bool) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrChannelClosed
	}
	p.outSeq++
	h := p.outSeq & seqMask
	if reliable {
		h |= reliableBit
	}
	p.mu.Unlock()

	pkt := make([]byte, seqHeaderLen, seqHeaderLen+len(data))
	binary.LittleEndian.PutUint32(pkt, h)
	pkt = append(pkt, data...)

	if _, err := p.conn.WriteTo(pkt, p.addr); err != nil {
		return err
	}
	return nil
}

// Close implements Channel.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	onClose := p.onClose
	p.mu.Unlock()

	p.logger.Debug().Msg("peer closed")
	if onClose != nil {
		onClose(p)
	}
	return nil
}

// IsClosed returns whether the peer has been closed.
func (p *Peer) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// LastActivity returns the time the last datagram was accepted.
func (p *Peer) LastActivity() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastActivity
}

// ConnectedAt returns the time the peer connected.
func (p *Peer) ConnectedAt() time.Time {
	return p.connectedAt
}

// PeerRegistry tracks connected peers by remote address.
type PeerRegistry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewPeerRegistry creates a new PeerRegistry.
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{
		peers: make(map[string]*Peer),
	}
}

// Register adds a peer, closing any previous peer at the same address.
func (r *PeerRegistry) Register(p *Peer) {
	key := p.Address()

	r.mu.Lock()
	existing, ok := r.peers[key]
	r.peers[key] = p
	r.mu.Unlock()

	p.mu.Lock()
	p.onClose = r.remove
	p.mu.Unlock()

	if ok && existing != p {
		existing.Close()
	}
	log.Debug().Str("remote", key).Msg("peer registered")
}

func (r *PeerRegistry) remove(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.peers[p.Address()]; ok && cur == p {
		delete(r.peers, p.Address())
	}
}

// Unregister closes and removes the peer at addr.
func (r *PeerRegistry) Unregister(addr string) {
	r.mu.RLock()
	p, ok := r.peers[addr]
	r.mu.RUnlock()
	if ok {
		p.Close()
		log.Debug().Str("remote", addr).Msg("peer unregistered")
	}
}

// Get returns the peer at addr.
func (r *PeerRegistry) Get(addr string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[addr]
	return p, ok
}

// Count returns the number of registered peers.
func (r *PeerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// CloseAll closes every registered peer.
func (r *PeerRegistry) CloseAll() {
	r.mu.RLock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.RUnlock()

	for _, p := range peers {
		p.Close()
	}
	log.Info().Int("count", len(peers)).Msg("all peers closed")
}

// CleanStale closes peers idle for longer than timeout and returns them.
func (r *PeerRegistry) CleanStale(timeout time.Duration) []*Peer {
	cutoff := time.Now().Add(-timeout)

	r.mu.RLock()
	var stale []*Peer
	for _, p := range r.peers {
		if p.LastActivity().Before(cutoff) {
			stale = append(stale, p)
		}
	}
	r.mu.RUnlock()

	for _, p := range stale {
		p.Close()
		log.Warn().
			Str("remote", p.Address()).
			Time("last_activity", p.LastActivity()).
			Msg("cleaned stale peer")
	}
	return stale
}
