// Package health implements periodic health checks for fragline: the UDP
// listener, the session loop, disk utilization and the process footprint.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/fragline/internal/config"
	"github.com/energizer-project/fragline/internal/session"
	"github.com/energizer-project/fragline/internal/util"
)

// loopTimeout bounds the session loop probe.
const loopTimeout = 2 * time.Second

// Listener answers a loopback ping.
type Listener interface {
	SelfTest() error
}

// Game is probed through its status snapshot.
type Game interface {
	Status(ctx context.Context) (session.Status, error)
}

// AlertStore persists alerts.
type AlertStore interface {
	CreateAlert(alertType, level, message string) error
}

// Result is the latest outcome of one check.
type Result struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Level     string    `json:"level,omitempty"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Manager runs periodic health checks.
type Manager struct {
	cfg      *config.Config
	listener Listener
	game     Game
	store    AlertStore

	// injectable probes
	hostUsage    func(path string) util.HostUsage
	processUsage func() util.ProcessUsage
	now          func() time.Time

	mu      sync.RWMutex
	results map[string]Result
}

// NewManager creates a new health check manager. listener and store may be
// nil.
func NewManager(cfg *config.Config, listener Listener, game Game, store AlertStore) *Manager {
	return &Manager{
		cfg:          cfg,
		listener:     listener,
		game:         game,
		store:        store,
		hostUsage:    util.GetHostUsage,
		processUsage: util.GetProcessUsage,
		now:          time.Now,
		results:      make(map[string]Result),
	}
}

// Start runs every check once and then on the configured interval until
// ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	interval := m.cfg.GetApplicationData().Timers.HealthInterval
	if interval <= 0 {
		log.Info().Msg("health checks disabled")
		return
	}

	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()

	log.Info().Int("interval_sec", interval).Msg("health check manager started")
	m.RunChecks(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("health check manager stopped")
			return
		case <-ticker.C:
			m.RunChecks(ctx)
		}
	}
}

// RunChecks runs every check once.
func (m *Manager) RunChecks(ctx context.Context) {
	checks := []struct {
		name string
		fn   func(context.Context) Result
	}{
		{"udp_listener", m.checkListener},
		{"session_loop", m.checkSessionLoop},
		{"disk_utilization", m.checkDiskUtilization},
		{"process", m.checkProcess},
	}

	for _, check := range checks {
		r := check.fn(ctx)
		r.Name = check.name
		r.CheckedAt = m.now()
		m.record(r)
	}
}

// Results returns the latest result of every check, sorted by name.
func (m *Manager) Results() []Result {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Result, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// record stores a result and raises an alert when a check starts failing
// or its level changes.
func (m *Manager) record(r Result) {
	m.mu.Lock()
	prev, seen := m.results[r.Name]
	m.results[r.Name] = r
	m.mu.Unlock()

	if r.Healthy {
		if seen && !prev.Healthy {
			log.Info().Str("check", r.Name).Msg("health check recovered")
		}
		return
	}
	if seen && !prev.Healthy && prev.Level == r.Level {
		return
	}

	log.Warn().Str("check", r.Name).Str("level", r.Level).Msg(r.Message)
	if m.store != nil {
		if err := m.store.CreateAlert("health_"+r.Name, r.Level, r.Message); err != nil {
			log.Warn().Err(err).Msg("failed to store health alert")
		}
	}
}

func (m *Manager) checkListener(ctx context.Context) Result {
	if m.listener == nil {
		return Result{Healthy: true, Message: "no listener"}
	}
	if err := m.listener.SelfTest(); err != nil {
		return Result{Level: "critical", Message: fmt.Sprintf("UDP listener self-test failed: %v", err)}
	}
	return Result{Healthy: true}
}

// checkSessionLoop verifies the loop answers within loopTimeout.
func (m *Manager) checkSessionLoop(ctx context.Context) Result {
	probeCtx, cancel := context.WithTimeout(ctx, loopTimeout)
	defer cancel()

	start := m.now()
	if _, err := m.game.Status(probeCtx); err != nil {
		return Result{Level: "critical", Message: fmt.Sprintf("session loop not responding: %v", err)}
	}
	return Result{Healthy: true, Message: fmt.Sprintf("answered in %s", m.now().Sub(start))}
}

// checkDiskUtilization alerts at 80, 90 and 95 percent of the disk holding
// the asset directory.
func (m *Manager) checkDiskUtilization(ctx context.Context) Result {
	usage := m.hostUsage(m.cfg.GetServerData().AssetDirectory)

	var level string
	switch {
	case usage.DiskPercent >= 95:
		level = "critical"
	case usage.DiskPercent >= 90:
		level = "error"
	case usage.DiskPercent >= 80:
		level = "warning"
	default:
		return Result{Healthy: true, Message: fmt.Sprintf("%.1f%% used", usage.DiskPercent)}
	}

	return Result{
		Level:   level,
		Message: fmt.Sprintf("Disk usage at %.1f%% (%d MB free)", usage.DiskPercent, usage.DiskFreeMB),
	}
}

func (m *Manager) checkProcess(ctx context.Context) Result {
	usage := m.processUsage()

	log.Debug().
		Uint64("rss_mb", usage.RSSMB).
		Float64("cpu_percent", usage.CPUPercent).
		Int32("threads", usage.Threads).
		Int32("open_files", usage.OpenFiles).
		Int("goroutines", usage.Goroutines).
		Msg("process usage")

	return Result{
		Healthy: true,
		Message: fmt.Sprintf("%d MB resident, %d goroutines", usage.RSSMB, usage.Goroutines),
	}
}
