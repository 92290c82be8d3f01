// Package scheduler runs the periodic background work of fragline: the
// daily audit purge, status reporting and lag checks.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/fragline/internal/config"
	"github.com/energizer-project/fragline/internal/session"
	"github.com/energizer-project/fragline/internal/util"
)

// Game is the part of the session server the scheduler samples.
type Game interface {
	Status(ctx context.Context) (session.Status, error)
	LagAlerts(ctx context.Context) ([]session.LagAlert, error)
}

// AlertStore persists alerts and ages out the audit log.
type AlertStore interface {
	Purge(days int) (int64, error)
	CreateAlert(alertType, level, message string) error
	CleanOldAlerts(days int) error
}

// StatusPublisher receives the periodic status report.
type StatusPublisher interface {
	PublishStatus(status interface{})
}

// Report is the periodic status report.
type Report struct {
	Server session.Status `json:"server"`
	Host   util.HostUsage `json:"host"`
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg       *config.Config
	game      Game
	store     AlertStore
	publisher StatusPublisher

	// slot -> last reported level, so an ongoing condition is stored once
	lagLevels map[int]string
	now       func() time.Time
}

// NewScheduler creates a new task scheduler. store and publisher may be nil.
func NewScheduler(cfg *config.Config, game Game, store AlertStore, publisher StatusPublisher) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		game:      game,
		store:     store,
		publisher: publisher,
		lagLevels: make(map[int]string),
		now:       time.Now,
	}
}

// Start runs all scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	timers := s.cfg.GetApplicationData().Timers

	if s.store != nil {
		go s.runPurgeLoop(ctx, timers.AuditPurgeTime)
	}
	if timers.StatsInterval > 0 {
		go s.runTicker(ctx, time.Duration(timers.StatsInterval)*time.Second, s.reportStatus)
	}
	if timers.LagCheckInterval > 0 {
		go s.runTicker(ctx, time.Duration(timers.LagCheckInterval)*time.Second, s.checkLag)
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runTicker(ctx context.Context, every time.Duration, task func(context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task(ctx)
		}
	}
}

// runPurgeLoop runs the audit purge at the configured time of day.
func (s *Scheduler) runPurgeLoop(ctx context.Context, at string) {
	for {
		nextRun := nextRunAt(s.now(), at)
		sleepDuration := time.Until(nextRun)
		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("audit purge scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepDuration):
			s.purgeAudit()
		}
	}
}

// purgeAudit drops audit rows and alerts older than the retention period.
func (s *Scheduler) purgeAudit() {
	days := s.cfg.GetApplicationData().Database.AuditRetentionDays
	if days <= 0 {
		return
	}

	removed, err := s.store.Purge(days)
	if err != nil {
		log.Warn().Err(err).Msg("audit purge failed")
		return
	}
	if err := s.store.CleanOldAlerts(days); err != nil {
		log.Warn().Err(err).Msg("alert cleanup failed")
	}

	log.Info().
		Int64("removed", removed).
		Int("retention_days", days).
		Msg("audit purge completed")
}

// reportStatus logs the server and host summary and hands it to the
// publisher.
func (s *Scheduler) reportStatus(ctx context.Context) {
	st, err := s.game.Status(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("status report skipped")
		return
	}
	report := Report{
		Server: st,
		Host:   util.GetHostUsage(s.cfg.GetServerData().AssetDirectory),
	}

	log.Info().
		Str("map", st.MapName).
		Str("state", st.State.String()).
		Int("clients", st.Clients).
		Int("frame", st.FrameNum).
		Float64("cpu_percent", report.Host.CPUPercent).
		Uint64("memory_used_mb", report.Host.MemoryUsedMB).
		Msg("server stats")

	if s.publisher != nil {
		s.publisher.PublishStatus(report)
	}
}

// checkLag stores an alert when a session crosses a lag threshold or
// moves to a worse level.
func (s *Scheduler) checkLag(ctx context.Context) {
	alerts, err := s.game.LagAlerts(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("lag check skipped")
		return
	}

	seen := make(map[int]bool, len(alerts))
	for _, a := range alerts {
		seen[a.Slot] = true
		if s.lagLevels[a.Slot] == a.Level {
			continue
		}
		s.lagLevels[a.Slot] = a.Level

		log.Warn().
			Int("slot", a.Slot).
			Str("name", a.Name).
			Str("level", a.Level).
			Int("avg_ping_ms", a.AvgPing).
			Float64("loss", a.Loss).
			Msg("session lagging")

		if s.store != nil {
			if err := s.store.CreateAlert("lag", a.Level, a.Message); err != nil {
				log.Warn().Err(err).Msg("failed to store lag alert")
			}
		}
	}

	for slot := range s.lagLevels {
		if !seen[slot] {
			delete(s.lagLevels, slot)
		}
	}
}

// nextRunAt returns the next time of day matching "HH:MM" after now.
// Malformed values fall back to 04:00.
func nextRunAt(now time.Time, at string) time.Time {
	hour, minute := 4, 0
	parts := strings.Split(at, ":")
	if len(parts) >= 2 {
		var h, m int
		_, errH := fmt.Sscanf(parts[0], "%d", &h)
		_, errM := fmt.Sscanf(parts[1], "%d", &m)
		if errH == nil && errM == nil && h >= 0 && h < 24 && m >= 0 && m < 60 {
			hour, minute = h, m
		}
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
