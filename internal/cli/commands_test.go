package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/fragline/internal/config"
	"github.com/energizer-project/fragline/internal/events"
	"github.com/energizer-project/fragline/internal/filter"
	"github.com/energizer-project/fragline/internal/session"
	"github.com/energizer-project/fragline/internal/snapshot"
)

type fakeGame struct {
	sessions map[int]session.Info
	kicked   map[int]string
	stuffed  map[int]string
	cs       *snapshot.ConfigStrings
	filters  *filter.List
}

func newFakeGame(t *testing.T) *fakeGame {
	cs := snapshot.NewConfigStrings()
	require.NoError(t, cs.Set(0, "console test"))
	require.NoError(t, cs.Set(33, "maps/q2dm3.bsp"))
	return &fakeGame{
		sessions: map[int]session.Info{
			1: {
				Slot: 1, Name: "carol", Address: "10.1.1.1:27901", Dialect: "q2pro",
				State: session.StateSpawned,
				Lag:   session.LagStats{MinPing: 20, AvgPing: 35, MaxPing: 80, LossS2C: 1.5},
			},
		},
		kicked:  map[int]string{},
		stuffed: map[int]string{},
		cs:      cs,
		filters: filter.NewList(filepath.Join(t.TempDir(), "filters.toml")),
	}
}

func (g *fakeGame) Status(ctx context.Context) (session.Status, error) {
	return session.Status{Hostname: "console test", MapName: "q2dm3", Gamedir: "baseq2", Clients: len(g.sessions), MaxClients: 4}, nil
}

func (g *fakeGame) Sessions(ctx context.Context) ([]session.Info, error) {
	var out []session.Info
	for _, info := range g.sessions {
		out = append(out, info)
	}
	return out, nil
}

func (g *fakeGame) SessionInfo(ctx context.Context, slot int) (session.Info, error) {
	info, ok := g.sessions[slot]
	if !ok {
		return session.Info{}, session.ErrNoSession
	}
	return info, nil
}

func (g *fakeGame) Kick(ctx context.Context, slot int, reason string) error {
	if _, ok := g.sessions[slot]; !ok {
		return session.ErrNoSession
	}
	g.kicked[slot] = reason
	return nil
}

func (g *fakeGame) StuffText(ctx context.Context, slot int, text string) error {
	if _, ok := g.sessions[slot]; !ok {
		return session.ErrNoSession
	}
	g.stuffed[slot] = text
	return nil
}

func (g *fakeGame) ConfigStrings() *snapshot.ConfigStrings { return g.cs }
func (g *fakeGame) Filters() *filter.List                  { return g.filters }

func newTestCLI(t *testing.T) (*CLI, *fakeGame, *bytes.Buffer) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	game := newFakeGame(t)
	out := &bytes.Buffer{}
	return NewCLI(cfg, events.NewEventBus(), game, nil, strings.NewReader(""), out), game, out
}

func TestStatusPrintsSessionTable(t *testing.T) {
	c, _, out := newTestCLI(t)

	require.NoError(t, c.Execute(context.Background(), "status"))
	text := out.String()
	assert.Contains(t, text, "console test")
	assert.Contains(t, text, "1/4")
	assert.Contains(t, text, "carol")
	assert.Contains(t, text, "10.1.1.1:27901")
	assert.Contains(t, text, "1.5%")
}

func TestLagCommand(t *testing.T) {
	c, _, out := newTestCLI(t)

	require.NoError(t, c.Execute(context.Background(), "lag 1"))
	assert.Contains(t, out.String(), "20/35/80 ms")

	assert.ErrorIs(t, c.Execute(context.Background(), "lag 3"), session.ErrNoSession)
	assert.Error(t, c.Execute(context.Background(), "lag"))
	assert.Error(t, c.Execute(context.Background(), "lag x"))
}

func TestKickAndStuff(t *testing.T) {
	c, game, _ := newTestCLI(t)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "kick 1 camping the rail"))
	assert.Equal(t, "camping the rail", game.kicked[1])

	require.NoError(t, c.Execute(ctx, "stuff 1 echo hello"))
	assert.Equal(t, "echo hello", game.stuffed[1])

	assert.Error(t, c.Execute(ctx, "stuff 1"))
	assert.ErrorIs(t, c.Execute(ctx, "kick 2"), session.ErrNoSession)
}

func TestFilterCommands(t *testing.T) {
	c, game, out := newTestCLI(t)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "filters"))
	assert.Contains(t, out.String(), "No filters.")

	require.NoError(t, c.Execute(ctx, "filters add r_fullbright kick no cheats"))
	f, ok := game.filters.Find("r_fullbright")
	require.True(t, ok)
	assert.Equal(t, filter.ActionKick, f.Action)
	assert.Equal(t, "no cheats", f.Comment)

	assert.Error(t, c.Execute(ctx, "filters add gl_modulate explode"))

	out.Reset()
	require.NoError(t, c.Execute(ctx, "filters"))
	assert.Contains(t, out.String(), "r_fullbright")

	require.NoError(t, c.Execute(ctx, "filters del r_fullbright"))
	assert.Empty(t, game.filters.All())
	assert.Error(t, c.Execute(ctx, "filters del r_fullbright"))
}

func TestConfigStringsCommand(t *testing.T) {
	c, _, out := newTestCLI(t)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "cs"))
	assert.Contains(t, out.String(), "maps/q2dm3.bsp")

	out.Reset()
	require.NoError(t, c.Execute(ctx, "cs 0"))
	assert.Contains(t, out.String(), "console test")

	assert.Error(t, c.Execute(ctx, "cs -1"))
}

func TestSetConfigValidatesAndRollsBack(t *testing.T) {
	c, _, _ := newTestCLI(t)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "setconfig hostname fresh name"))
	assert.Equal(t, "fresh name", c.cfg.GetServerData().Hostname)

	before := c.cfg.GetServerData().FrameRate
	assert.Error(t, c.Execute(ctx, "setconfig frame_rate 500"))
	assert.Equal(t, before, c.cfg.GetServerData().FrameRate)
}

func TestQuitStopsLoop(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	bus := events.NewEventBus()
	got := make(chan struct{}, 1)
	bus.Subscribe(events.EventShutdown, "test", func(ctx context.Context, e events.Event) error {
		got <- struct{}{}
		return nil
	})

	stopped := false
	out := &bytes.Buffer{}
	c := NewCLI(cfg, bus, newFakeGame(t), func() { stopped = true }, strings.NewReader("help\nbogus\nquit\nstatus\n"), out)

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("console did not stop on quit")
	}
	assert.True(t, stopped)
	assert.Contains(t, out.String(), "Unknown command: 'bogus'")
	assert.NotContains(t, out.String(), "console test")

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("shutdown event not emitted")
	}
}
