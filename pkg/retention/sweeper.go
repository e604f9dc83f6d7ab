package retention

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper is a background service that periodically purges expired runs
// and, optionally, reconciles orphaned storage objects.
type Sweeper interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Sweeper = (*sweeper)(nil)

type sweeper struct {
	log       logrus.FieldLogger
	engine    *Engine
	interval  time.Duration
	reconcile bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewSweeper creates a background sweeper over the given engine.
func NewSweeper(
	log logrus.FieldLogger,
	engine *Engine,
	interval time.Duration,
	reconcile bool,
) Sweeper {
	return &sweeper{
		log:       log.WithField("component", "sweeper"),
		engine:    engine,
		interval:  interval,
		reconcile: reconcile,
		done:      make(chan struct{}),
	}
}

// Start launches a background goroutine that runs an immediate sweep
// and then ticks at the configured interval. The first sweep is
// asynchronous so the caller is not blocked.
func (s *sweeper) Start(ctx context.Context) error {
	s.log.WithFields(logrus.Fields{
		"interval":  s.interval.String(),
		"reconcile": s.reconcile,
	}).Info("Starting retention sweeper")

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.runPass(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runPass(ctx)
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop signals the sweeper goroutine to stop and waits for it.
func (s *sweeper) Stop() error {
	close(s.done)
	s.wg.Wait()

	s.log.Info("Retention sweeper stopped")

	return nil
}

// runPass executes one sweep: expired runs first, then orphan
// reconciliation when enabled.
func (s *sweeper) runPass(ctx context.Context) {
	start := time.Now()

	purged, err := s.engine.SweepExpired(ctx, start.UTC())
	if err != nil {
		s.log.WithError(err).Warn("Retention sweep failed")
	}

	reclaimed := 0

	if s.reconcile {
		reclaimed, err = s.engine.Reconcile(ctx)
		if err != nil {
			s.log.WithError(err).Warn("Orphan reconciliation failed")
		}
	}

	s.log.WithFields(logrus.Fields{
		"purged_runs":     purged,
		"orphans_removed": reclaimed,
		"duration":        time.Since(start).Round(time.Millisecond),
	}).Info("Retention sweep completed")
}
