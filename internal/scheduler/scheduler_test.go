package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/fragline/internal/config"
	"github.com/energizer-project/fragline/internal/session"
)

type fakeGame struct {
	alerts []session.LagAlert
	err    error
}

func (g *fakeGame) Status(ctx context.Context) (session.Status, error) {
	if g.err != nil {
		return session.Status{}, g.err
	}
	return session.Status{MapName: "q2dm1", Clients: 2, MaxClients: 8}, nil
}

func (g *fakeGame) LagAlerts(ctx context.Context) ([]session.LagAlert, error) {
	return g.alerts, g.err
}

type storedAlert struct {
	kind, level, message string
}

type fakeStore struct {
	alerts     []storedAlert
	purgedDays int
	cleaned    int
}

func (s *fakeStore) Purge(days int) (int64, error) {
	s.purgedDays = days
	return 3, nil
}

func (s *fakeStore) CreateAlert(alertType, level, message string) error {
	s.alerts = append(s.alerts, storedAlert{alertType, level, message})
	return nil
}

func (s *fakeStore) CleanOldAlerts(days int) error {
	s.cleaned = days
	return nil
}

type fakePublisher struct {
	reports []interface{}
}

func (p *fakePublisher) PublishStatus(status interface{}) {
	p.reports = append(p.reports, status)
}

func newTestScheduler(t *testing.T, game *fakeGame) (*Scheduler, *fakeStore, *fakePublisher) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	store := &fakeStore{}
	pub := &fakePublisher{}
	return NewScheduler(cfg, game, store, pub), store, pub
}

func TestNextRunAt(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 10, 3, 30, 0, 0, loc)

	tests := []struct {
		name string
		at   string
		want time.Time
	}{
		{"later today", "04:00", time.Date(2026, 3, 10, 4, 0, 0, 0, loc)},
		{"already passed", "02:15", time.Date(2026, 3, 11, 2, 15, 0, 0, loc)},
		{"exactly now", "03:30", time.Date(2026, 3, 11, 3, 30, 0, 0, loc)},
		{"malformed", "noon", time.Date(2026, 3, 10, 4, 0, 0, 0, loc)},
		{"out of range", "25:00", time.Date(2026, 3, 10, 4, 0, 0, 0, loc)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextRunAt(now, tt.at))
		})
	}
}

func TestPurgeUsesRetention(t *testing.T) {
	s, store, _ := newTestScheduler(t, &fakeGame{})
	s.purgeAudit()

	days := s.cfg.GetApplicationData().Database.AuditRetentionDays
	assert.Equal(t, days, store.purgedDays)
	assert.Equal(t, days, store.cleaned)
}

func TestCheckLagStoresLevelChangesOnce(t *testing.T) {
	game := &fakeGame{alerts: []session.LagAlert{
		{Slot: 1, Name: "dave", Level: "warning", AvgPing: 300, Message: "dave: warning"},
	}}
	s, store, _ := newTestScheduler(t, game)
	ctx := context.Background()

	s.checkLag(ctx)
	s.checkLag(ctx)
	require.Len(t, store.alerts, 1)
	assert.Equal(t, storedAlert{"lag", "warning", "dave: warning"}, store.alerts[0])

	game.alerts[0].Level = "critical"
	game.alerts[0].Message = "dave: critical"
	s.checkLag(ctx)
	require.Len(t, store.alerts, 2)
	assert.Equal(t, "critical", store.alerts[1].level)

	// recovery clears the slot, a relapse is reported again
	game.alerts = nil
	s.checkLag(ctx)
	assert.Empty(t, s.lagLevels)

	game.alerts = []session.LagAlert{{Slot: 1, Name: "dave", Level: "critical", Message: "again"}}
	s.checkLag(ctx)
	assert.Len(t, store.alerts, 3)
}

func TestReportStatusPublishes(t *testing.T) {
	game := &fakeGame{}
	s, _, pub := newTestScheduler(t, game)

	s.reportStatus(context.Background())
	require.Len(t, pub.reports, 1)
	report, ok := pub.reports[0].(Report)
	require.True(t, ok)
	assert.Equal(t, "q2dm1", report.Server.MapName)

	game.err = errors.New("loop stopped")
	s.reportStatus(context.Background())
	s.checkLag(context.Background())
	assert.Len(t, pub.reports, 1)
}

func TestStartStopsOnCancel(t *testing.T) {
	s, _, _ := newTestScheduler(t, &fakeGame{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
