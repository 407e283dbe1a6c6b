// Package sweeper runs the two periodic reclamation tasks described in
// spec.md §4.8: pausing sessions whose viewer has gone idle, and fully
// stopping (and forgetting) sessions whose viewer has been idle long
// enough to reclaim the slot entirely.
package sweeper

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
)

// registry is the subset of *supervisor.Supervisor the sweepers need;
// kept narrow so tests can substitute a fake without constructing a
// full Supervisor.
type registry interface {
	PauseInactive(now time.Time)
	CleanupInactive(now time.Time)
}

// Sweeper periodically invokes the registry's pause and cleanup
// sweeps on independent tickers, matching the teacher's background
// janitor goroutines (one ticker per concern rather than one loop
// doing both on the same cadence).
type Sweeper struct {
	logger hclog.Logger

	registry registry

	pauseInterval   time.Duration
	cleanupInterval time.Duration
}

// New creates a Sweeper. pauseInterval/cleanupInterval default to 10s
// and 60s respectively when zero, matching §4.8's stated defaults.
func New(reg registry, pauseInterval, cleanupInterval time.Duration, logger hclog.Logger) *Sweeper {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if pauseInterval <= 0 {
		pauseInterval = 10 * time.Second
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 60 * time.Second
	}
	return &Sweeper{
		logger:          logger.Named("sweeper"),
		registry:        reg,
		pauseInterval:   pauseInterval,
		cleanupInterval: cleanupInterval,
	}
}

// Run blocks, driving both sweeps until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	pauseTicker := time.NewTicker(s.pauseInterval)
	cleanupTicker := time.NewTicker(s.cleanupInterval)
	defer pauseTicker.Stop()
	defer cleanupTicker.Stop()

	s.logger.Info("sweeper started", "pause_interval", s.pauseInterval, "cleanup_interval", s.cleanupInterval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-pauseTicker.C:
			s.registry.PauseInactive(time.Now())
		case <-cleanupTicker.C:
			s.registry.CleanupInactive(time.Now())
		}
	}
}
