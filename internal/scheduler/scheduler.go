// Package scheduler runs the periodic upkeep of a zily daemon: idle session
// cleanup, journal pruning and heartbeats.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zily-project/zily/internal/config"
	"github.com/zily-project/zily/internal/db"
	intnet "github.com/zily-project/zily/internal/network"
	"github.com/zily-project/zily/internal/util"
)

// Heartbeat receives the live session count on every heartbeat tick.
type Heartbeat func(sessions int)

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg       *config.Config
	registry  *intnet.SessionRegistry
	journal   *db.Journal
	heartbeat Heartbeat
}

// NewScheduler creates a new task scheduler. journal and heartbeat may be nil.
func NewScheduler(cfg *config.Config, registry *intnet.SessionRegistry, journal *db.Journal, heartbeat Heartbeat) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		registry:  registry,
		journal:   journal,
		heartbeat: heartbeat,
	}
}

// Start runs all scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	timers := s.cfg.GetApplicationData().Timers
	log.Info().Msg("scheduler started")

	if s.cfg.GetTransport().IdleTimeout > 0 {
		go s.runEvery(ctx, "stale_sessions", seconds(timers.StaleCheckInterval), func(context.Context) {
			s.cleanStaleSessions()
		})
	}

	if s.journal != nil {
		go s.runEvery(ctx, "journal_prune", seconds(timers.JournalPruneInterval), s.pruneJournal)
	}

	go s.runEvery(ctx, "heartbeat", seconds(timers.HeartbeatInterval), func(context.Context) {
		s.beat()
	})

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

// runEvery calls fn every interval until ctx is cancelled. A non-positive
// interval disables the task.
func (s *Scheduler) runEvery(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		log.Debug().Str("task", name).Msg("scheduled task disabled")
		return
	}

	log.Debug().Str("task", name).Dur("interval", interval).Msg("scheduled task started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// cleanStaleSessions drops sessions idle for longer than the transport's
// idle timeout.
func (s *Scheduler) cleanStaleSessions() int {
	timeout := s.cfg.GetTransport().IdleTimeoutDuration()
	if timeout <= 0 {
		return 0
	}

	removed := s.registry.CleanStale(timeout)
	if removed > 0 {
		log.Info().
			Int("removed", removed).
			Dur("idle_timeout", timeout).
			Msg("stale sessions closed")
	}
	return removed
}

// pruneJournal removes journal rows older than the retention window.
func (s *Scheduler) pruneJournal(ctx context.Context) {
	days := s.cfg.GetApplicationData().Journal.RetentionDays
	if days < 1 {
		return
	}

	before := time.Now().AddDate(0, 0, -days)
	if _, err := s.journal.Prune(ctx, before); err != nil {
		log.Warn().Err(err).Msg("journal prune failed")
	}
}

// beat logs the current load and forwards the session count.
func (s *Scheduler) beat() {
	sessions := s.registry.Count()
	usage := util.GetResourceUsage()

	log.Debug().
		Int("sessions", sessions).
		Float64("cpu_percent", usage.CPUPercent).
		Uint64("memory_used_mb", usage.MemoryUsedMB).
		Int("goroutines", usage.Goroutines).
		Msg("heartbeat")

	if s.heartbeat != nil {
		s.heartbeat(sessions)
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
