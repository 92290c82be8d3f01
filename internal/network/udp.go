package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/fragline/internal/protocol"
)

// oobHeader marks a connectionless datagram.
var oobHeader = []byte{0xff, 0xff, 0xff, 0xff}

// PacketHandler receives traffic from the UDP listener. HandlePacket is
// called on the listener goroutine, so implementations must hand the
// datagram off rather than process it in place.
type PacketHandler interface {
	HandleConnect(ch Channel, proto, minor int, userinfo string) error
	HandlePacket(ch Channel, data []byte)
	HandleTimeout(ch Channel)
	// StatusLine answers connectionless "info" queries.
	StatusLine() string
}

// Rejection is a connect refusal. Message is printed on the client
// console, Err is what the server logs and matches on.
type Rejection struct {
	Err     error
	Message string
}

func (r *Rejection) Error() string { return r.Err.Error() }
func (r *Rejection) Unwrap() error { return r.Err }

// rejectMessage returns the console text for a failed connect.
func rejectMessage(err error) string {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Message
	}
	return err.Error()
}

// UDPConfig configures the UDP listener.
type UDPConfig struct {
	Bind         string
	Port         int
	MaxPacketLen int
	ReadBuffer   int
	IdleTimeout  time.Duration
}

// UDPListener is the development transport for game clients. It accepts
// connectionless "ping", "info" and "connect" requests and routes sequenced
// in-band datagrams to the peer registered for their source address.
type UDPListener struct {
	cfg      UDPConfig
	handler  PacketHandler
	registry *PeerRegistry
	conn     net.PacketConn
	logger   zerolog.Logger
	ready    chan struct{}
}

// NewUDPListener creates a new UDP listener.
func NewUDPListener(cfg UDPConfig, handler PacketHandler) *UDPListener {
	return &UDPListener{
		cfg:      cfg,
		handler:  handler,
		registry: NewPeerRegistry(),
		logger:   log.With().Str("component", "udp").Logger(),
		ready:    make(chan struct{}),
	}
}

// Registry returns the listener's peer registry.
func (l *UDPListener) Registry() *PeerRegistry {
	return l.registry
}

// Ready is closed once the socket is bound.
func (l *UDPListener) Ready() <-chan struct{} {
	return l.ready
}

// LocalAddr returns the bound address, nil before Start.
func (l *UDPListener) LocalAddr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Start binds the socket and serves datagrams until ctx is cancelled.
func (l *UDPListener) Start(ctx context.Context) error {
	addr := net.JoinHostPort(l.cfg.Bind, strconv.Itoa(l.cfg.Port))

	// Use SO_REUSEADDR to allow immediate rebinding after restart
	lc := ReuseAddrListenConfig(l.cfg.ReadBuffer)
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return fmt.Errorf("failed to start UDP listener on %s: %w", addr, err)
	}
	l.conn = pc
	close(l.ready)

	l.logger.Info().Str("addr", pc.LocalAddr().String()).Msg("UDP listener started")

	go func() {
		<-ctx.Done()
		l.registry.CloseAll()
		l.conn.Close()
	}()

	if l.cfg.IdleTimeout > 0 {
		go l.reapLoop(ctx)
	}

	buf := make([]byte, protocol.MaxMsgLen)
	for {
		n, remote, err := l.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				l.logger.Info().Msg("UDP listener stopping")
				return nil
			default:
				l.logger.Error().Err(err).Msg("UDP read error")
				continue
			}
		}
		if n < seqHeaderLen {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		if bytes.HasPrefix(data, oobHeader) {
			l.handleOOB(remote, string(data[len(oobHeader):]))
			continue
		}

		peer, ok := l.registry.Get(remote.String())
		if !ok {
			l.logger.Trace().Str("remote", remote.String()).Msg("datagram from unknown peer")
			continue
		}
		if payload, ok := peer.Receive(data); ok {
			l.handler.HandlePacket(peer, payload)
		}
	}
}

func (l *UDPListener) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range l.registry.CleanStale(l.cfg.IdleTimeout) {
				l.handler.HandleTimeout(p)
			}
		}
	}
}

func (l *UDPListener) sendOOB(remote net.Addr, text string) {
	pkt := append(append([]byte{}, oobHeader...), text...)
	if _, err := l.conn.WriteTo(pkt, remote); err != nil {
		l.logger.Warn().Err(err).Str("remote", remote.String()).Msg("failed to send connectionless reply")
	}
}

func (l *UDPListener) handleOOB(remote net.Addr, text string) {
	text = strings.TrimRight(text, "\x00\n")
	cmd, rest, _ := strings.Cut(text, " ")

	switch cmd {
	case "ping":
		l.sendOOB(remote, "ack")
	case "info":
		l.sendOOB(remote, "info\n"+l.handler.StatusLine())
	case "connect":
		l.handleConnect(remote, rest)
	default:
		l.logger.Trace().Str("remote", remote.String()).Str("cmd", cmd).Msg("unknown connectionless command")
	}
}

// parseConnect splits "<protocol> <minor> <userinfo>" with an optionally
// quoted userinfo.
func parseConnect(args string) (int, int, string, error) {
	fields := strings.SplitN(strings.TrimSpace(args), " ", 3)
	if len(fields) < 2 {
		return 0, 0, "", fmt.Errorf("malformed connect request")
	}
	proto, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, "", fmt.Errorf("bad protocol %q", fields[0])
	}
	minor, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, "", fmt.Errorf("bad minor version %q", fields[1])
	}
	var userinfo string
	if len(fields) == 3 {
		userinfo = strings.Trim(fields[2], "\"")
	}
	return proto, minor, userinfo, nil
}

func (l *UDPListener) handleConnect(remote net.Addr, args string) {
	proto, minor, userinfo, err := parseConnect(args)
	if err != nil {
		l.sendOOB(remote, "print\n"+err.Error()+"\n")
		return
	}

	kind := ChannelOld
	if proto == protocol.ProtocolQ2PRO {
		kind = ChannelNew
	}
	peer := NewPeer(l.conn, remote, kind, l.cfg.MaxPacketLen)
	l.registry.Register(peer)

	if err := l.handler.HandleConnect(peer, proto, minor, userinfo); err != nil {
		l.registry.Unregister(remote.String())
		l.logger.Debug().Err(err).Str("peer", remote.String()).Msg("connect refused")
		l.sendOOB(remote, "print\n"+rejectMessage(err)+"\n")
		return
	}
	l.sendOOB(remote, "client_connect")
}

// SelfTest sends a connectionless ping to the listener and waits for the
// acknowledgement.
func (l *UDPListener) SelfTest() error {
	local := l.LocalAddr()
	if local == nil {
		return fmt.Errorf("self-test: listener not started")
	}
	port := local.(*net.UDPAddr).Port
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}

	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("self-test dial failed: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write(append(append([]byte{}, oobHeader...), "ping"...)); err != nil {
		return fmt.Errorf("self-test write failed: %w", err)
	}

	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("self-test read failed: %w", err)
	}
	if n < len(oobHeader) || string(buf[len(oobHeader):n]) != "ack" {
		return fmt.Errorf("self-test: unexpected reply %q", buf[:n])
	}

	l.logger.Debug().Int("port", port).Msg("UDP self-test passed")
	return nil
}

// Stop closes the socket.
func (l *UDPListener) Stop() error {
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
