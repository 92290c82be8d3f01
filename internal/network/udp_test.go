package network

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu       sync.Mutex
	connects []string
	packets  chan []byte
	reject   error
}

func (h *recordingHandler) HandleConnect(ch Channel, proto, minor int, userinfo string) error {
	h.mu.Lock()
	h.connects = append(h.connects, userinfo)
	h.mu.Unlock()
	return h.reject
}

func (h *recordingHandler) HandlePacket(ch Channel, data []byte) {
	h.packets <- data
}

func (h *recordingHandler) HandleTimeout(ch Channel) {}

func (h *recordingHandler) StatusLine() string { return "test 0/8" }

func loopbackPair(t *testing.T) (net.PacketConn, *net.UDPConn) {
	t.Helper()
	srv, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	cli, err := net.DialUDP("udp4", nil, srv.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { cli.Close() })
	return srv, cli
}

func seqDatagram(seq uint32, payload string) []byte {
	pkt := make([]byte, 4, 4+len(payload))
	binary.LittleEndian.PutUint32(pkt, seq)
	return append(pkt, payload...)
}

func TestPeerReceiveCountsDrops(t *testing.T) {
	srv, cli := loopbackPair(t)
	p := NewPeer(srv, cli.LocalAddr(), ChannelOld, 0)

	data, ok := p.Receive(seqDatagram(1, "a"))
	require.True(t, ok)
	assert.Equal(t, []byte("a"), data)
	assert.Equal(t, 0, p.Dropped())

	_, ok = p.Receive(seqDatagram(5, "b"))
	require.True(t, ok)
	assert.Equal(t, 3, p.Dropped())

	_, ok = p.Receive(seqDatagram(4, "late"))
	assert.False(t, ok)
	assert.Equal(t, 3, p.Dropped())

	assert.True(t, p.IsLocal())
}

func TestPeerTransmitFraming(t *testing.T) {
	srv, cli := loopbackPair(t)
	p := NewPeer(srv, cli.LocalAddr(), ChannelOld, 0)

	require.NoError(t, p.Transmit([]byte("hi"), true))
	require.NoError(t, p.Transmit([]byte("yo"), false))

	buf := make([]byte, 64)
	cli.SetReadDeadline(time.Now().Add(2 * time.Second))

	n, err := cli.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(1|reliableBit), binary.LittleEndian.Uint32(buf[:4]))
	assert.Equal(t, "hi", string(buf[4:n]))

	n, err = cli.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(buf[:4]))
	assert.Equal(t, "yo", string(buf[4:n]))

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Transmit([]byte("x"), true), ErrChannelClosed)
}

func TestPeerRegistryReplacesAndRemoves(t *testing.T) {
	srv, cli := loopbackPair(t)
	r := NewPeerRegistry()

	first := NewPeer(srv, cli.LocalAddr(), ChannelOld, 0)
	second := NewPeer(srv, cli.LocalAddr(), ChannelNew, 0)
	r.Register(first)
	r.Register(second)

	assert.True(t, first.IsClosed())
	got, ok := r.Get(cli.LocalAddr().String())
	require.True(t, ok)
	assert.Same(t, second, got)

	second.Close()
	assert.Equal(t, 0, r.Count())
}

func TestUDPListenerConnectAndDeliver(t *testing.T) {
	h := &recordingHandler{packets: make(chan []byte, 4)}
	l := NewUDPListener(UDPConfig{Bind: "127.0.0.1", Port: 0}, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Start(ctx)

	select {
	case <-l.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not start")
	}
	require.NoError(t, l.SelfTest())

	cli, err := net.DialUDP("udp4", nil, l.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer cli.Close()

	_, err = cli.Write(append(append([]byte{}, oobHeader...), `connect 36 1015 "\name\tester"`...))
	require.NoError(t, err)

	buf := make([]byte, 128)
	cli.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := cli.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "client_connect", string(buf[4:n]))

	peer, ok := l.Registry().Get(cli.LocalAddr().String())
	require.True(t, ok)
	assert.Equal(t, ChannelNew, peer.Kind())

	_, err = cli.Write(seqDatagram(1, "\x01"))
	require.NoError(t, err)

	select {
	case data := <-h.packets:
		assert.Equal(t, []byte{0x01}, data)
	case <-time.After(2 * time.Second):
		t.Fatal("packet not delivered")
	}

	h.mu.Lock()
	assert.Equal(t, []string{`\name\tester`}, h.connects)
	h.mu.Unlock()
}

func TestUDPListenerConnectRefused(t *testing.T) {
	h := &recordingHandler{
		packets: make(chan []byte, 1),
		reject:  &Rejection{Err: errors.New("server is full"), Message: "Server is full."},
	}
	l := NewUDPListener(UDPConfig{Bind: "127.0.0.1", Port: 0}, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Start(ctx)

	select {
	case <-l.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not start")
	}

	cli, err := net.DialUDP("udp4", nil, l.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer cli.Close()

	_, err = cli.Write(append(append([]byte{}, oobHeader...), `connect 34 0 "\name\late"`...))
	require.NoError(t, err)

	buf := make([]byte, 128)
	cli.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := cli.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "print\nServer is full.\n", string(buf[4:n]))

	_, ok := l.Registry().Get(cli.LocalAddr().String())
	assert.False(t, ok)
}

func TestRejectMessage(t *testing.T) {
	assert.Equal(t, "bad minor", rejectMessage(errors.New("bad minor")))
	wrapped := fmt.Errorf("connect: %w", &Rejection{Err: errors.New("invalid userinfo string"), Message: "Invalid userinfo string."})
	assert.Equal(t, "Invalid userinfo string.", rejectMessage(wrapped))
}

func TestParseConnect(t *testing.T) {
	proto, minor, info, err := parseConnect(`34 0 "\name\a b"`)
	require.NoError(t, err)
	assert.Equal(t, 34, proto)
	assert.Equal(t, 0, minor)
	assert.Equal(t, `\name\a b`, info)

	_, _, _, err = parseConnect("x")
	assert.Error(t, err)
}
