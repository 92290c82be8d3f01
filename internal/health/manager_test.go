package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/fragline/internal/config"
	"github.com/energizer-project/fragline/internal/session"
	"github.com/energizer-project/fragline/internal/util"
)

type fakeListener struct{ err error }

func (l *fakeListener) SelfTest() error { return l.err }

type fakeGame struct{ err error }

func (g *fakeGame) Status(ctx context.Context) (session.Status, error) {
	return session.Status{}, g.err
}

type fakeStore struct {
	alerts []string
}

func (s *fakeStore) CreateAlert(alertType, level, message string) error {
	s.alerts = append(s.alerts, alertType+":"+level)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *fakeListener, *fakeGame, *fakeStore, *util.HostUsage) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	l := &fakeListener{}
	g := &fakeGame{}
	s := &fakeStore{}
	host := &util.HostUsage{DiskPercent: 40, DiskFreeMB: 9000}

	m := NewManager(cfg, l, g, s)
	m.hostUsage = func(string) util.HostUsage { return *host }
	m.processUsage = func() util.ProcessUsage { return util.ProcessUsage{RSSMB: 32, Goroutines: 12} }
	return m, l, g, s, host
}

func resultByName(results []Result, name string) Result {
	for _, r := range results {
		if r.Name == name {
			return r
		}
	}
	return Result{}
}

func TestAllHealthy(t *testing.T) {
	m, _, _, store, _ := newTestManager(t)
	m.RunChecks(context.Background())

	results := m.Results()
	require.Len(t, results, 4)
	assert.Equal(t, "disk_utilization", results[0].Name)
	for _, r := range results {
		assert.True(t, r.Healthy, r.Name)
		assert.False(t, r.CheckedAt.IsZero())
	}
	assert.Empty(t, store.alerts)
}

func TestFailuresAlertOncePerLevel(t *testing.T) {
	m, l, g, store, host := newTestManager(t)
	ctx := context.Background()

	l.err = errors.New("timeout")
	g.err = context.DeadlineExceeded
	host.DiskPercent = 91

	m.RunChecks(ctx)
	m.RunChecks(ctx)
	assert.ElementsMatch(t, []string{
		"health_udp_listener:critical",
		"health_session_loop:critical",
		"health_disk_utilization:error",
	}, store.alerts)

	host.DiskPercent = 97
	m.RunChecks(ctx)
	assert.Len(t, store.alerts, 4)
	assert.Equal(t, "health_disk_utilization:critical", store.alerts[3])

	r := resultByName(m.Results(), "disk_utilization")
	assert.False(t, r.Healthy)
	assert.Contains(t, r.Message, "97.0%")
}

func TestRecoveryResetsAlerting(t *testing.T) {
	m, l, _, store, _ := newTestManager(t)
	ctx := context.Background()

	l.err = errors.New("down")
	m.RunChecks(ctx)
	l.err = nil
	m.RunChecks(ctx)
	assert.True(t, resultByName(m.Results(), "udp_listener").Healthy)

	l.err = errors.New("down again")
	m.RunChecks(ctx)
	assert.Equal(t, []string{"health_udp_listener:critical", "health_udp_listener:critical"}, store.alerts)
}

func TestNilListenerIsHealthy(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	m := NewManager(cfg, nil, &fakeGame{}, nil)
	m.hostUsage = func(string) util.HostUsage { return util.HostUsage{} }

	m.RunChecks(context.Background())
	assert.True(t, resultByName(m.Results(), "udp_listener").Healthy)
}
