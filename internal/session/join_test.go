package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/fragline/internal/protocol"
)

const forceCmd = "connect 203.0.113.7:27910"

func forcedReconnect(o *Options) {
	o.ForceReconnect = forceCmd
}

func TestForcedReconnectChallenge(t *testing.T) {
	ts := newTestServer(t, forcedReconnect)

	ch := newFakeChannel("198.51.100.4:27901")
	s := ts.connect(t, ch, protocol.ProtocolR1Q2, protocol.R1Q2Current)
	ts.ExecuteUserCommand(s, "new")

	assert.Equal(t, StateZombie, s.State())
	stuffed := ch.stuffed()
	require.Len(t, stuffed, 7)
	assert.Contains(t, stuffed[2]+stuffed[3]+stuffed[4], forceCmd)
	last := ch.frames[len(ch.frames)-1]
	assert.Equal(t, []byte{protocol.SvcDisconnect}, last.data)
	assert.Empty(t, ch.printed(), "challenge drops are silent")

	c, ok := ts.pending[ch.Address()]
	require.True(t, ok)
	secret := c.c

	// the client runs the stuffed chain and comes back from the same address
	ch2 := newFakeChannel("198.51.100.4:27901")
	s2 := ts.connect(t, ch2, protocol.ProtocolR1Q2, protocol.R1Q2Current)
	assert.Equal(t, StateFree, s.State())
	assert.Same(t, secret, s2.challenge)

	ts.ExecuteUserCommand(s2, "new")
	assert.Equal(t, StatePrimed, s2.State())
	assert.Contains(t, ch2.stuffed(), fmt.Sprintf("cmd \177c connect $%s\n", secret.Var()))

	ts.ExecuteUserCommand(s2, fmt.Sprintf("\177c connect \"%s\"", secret.Val()))
	assert.NotZero(t, s2.Flags()&FlagReconnected)

	ts.ExecuteUserCommand(s2, "begin")
	assert.Equal(t, StateSpawned, s2.State())
	assert.Equal(t, 1, ts.sim.begins)
}

func TestForcedReconnectWithoutEchoIsDropped(t *testing.T) {
	ts := newTestServer(t, forcedReconnect)

	ch := newFakeChannel("198.51.100.4:27901")
	ts.ExecuteUserCommand(ts.connect(t, ch, protocol.ProtocolDefault, 0), "new")

	ch2 := newFakeChannel("198.51.100.4:27901")
	s := ts.connect(t, ch2, protocol.ProtocolDefault, 0)
	ts.ExecuteUserCommand(s, "new")
	ts.ExecuteUserCommand(s, "\177c connect wrong")
	ts.ExecuteUserCommand(s, "begin")

	assert.Equal(t, StateZombie, s.State())
	assert.Zero(t, ts.sim.begins)
}

func TestForcedReconnectExemptsLocalPeers(t *testing.T) {
	ts := newTestServer(t, forcedReconnect)

	ch := newFakeChannel("loopback")
	ch.local = true
	s := ts.connect(t, ch, protocol.ProtocolDefault, 0)
	ts.ExecuteUserCommand(s, "new")
	assert.Equal(t, StatePrimed, s.State())
	for _, line := range ch.stuffed() {
		assert.NotContains(t, line, "connect")
	}

	ts.ExecuteUserCommand(s, "begin")
	assert.Equal(t, StateSpawned, s.State())
}

func TestPendingChallengeExpires(t *testing.T) {
	ts := newTestServer(t, forcedReconnect)

	ch := newFakeChannel("198.51.100.4:27901")
	ts.ExecuteUserCommand(ts.connect(t, ch, protocol.ProtocolDefault, 0), "new")
	require.Len(t, ts.pending, 1)

	ts.clock.advance(challengeLifetime + time.Second)
	ts.Frame()
	assert.Empty(t, ts.pending)

	// a late reconnect is challenged again
	ch2 := newFakeChannel("198.51.100.4:27901")
	s := ts.connect(t, ch2, protocol.ProtocolDefault, 0)
	assert.Nil(t, s.challenge)
	ts.ExecuteUserCommand(s, "new")
	assert.Equal(t, StateZombie, s.State())
	assert.Len(t, ch2.stuffed(), 7)
}

func TestConnectStuffOnlyOnFirstNew(t *testing.T) {
	ts := newTestServer(t, func(o *Options) {
		o.ConnectStuff = []string{"set rate 25000"}
		o.BeginStuff = []string{"echo welcome"}
	})
	ch := newFakeChannel("10.0.0.1:27901")
	s := ts.connect(t, ch, protocol.ProtocolDefault, 0)

	ts.ExecuteUserCommand(s, "new")
	assert.Contains(t, ch.stuffed(), "set rate 25000\n")
	assert.NotContains(t, ch.stuffed(), "echo welcome\n")

	ts.ExecuteUserCommand(s, "begin")
	assert.Contains(t, ch.stuffed(), "echo welcome\n")
}

func TestDeflatedGamestateForQ2PRO(t *testing.T) {
	ts := newTestServer(t, func(o *Options) { o.Deflate = true })
	ch := newFakeChannel("10.0.0.1:27901")
	s := ts.connect(t, ch, protocol.ProtocolDefault, 0)
	assert.Zero(t, s.Flags()&FlagDeflate, "the default protocol cannot inflate")

	ch2 := newFakeChannel("10.0.0.2:27901")
	s2 := ts.connect(t, ch2, protocol.ProtocolQ2PRO, protocol.Q2PROCurrent)
	require.NotZero(t, s2.Flags()&FlagDeflate)
	ts.ExecuteUserCommand(s2, "new")
	assert.Equal(t, StatePrimed, s2.State())

	zpackets := 0
	for _, f := range ch2.frames {
		if f.data[0] == protocol.SvcZPacket {
			zpackets++
		}
		assert.NotEqual(t, protocol.SvcConfigString, f.data[0])
	}
	assert.NotZero(t, zpackets)
}
