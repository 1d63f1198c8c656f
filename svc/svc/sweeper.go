package svc

import (
	"context"
	"sharebin/metrics"
	"sharebin/svc/util"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Expirer is the part of a Store the sweeper needs.
type Expirer interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Sweeper periodically removes expired entries. Reads never depend on it;
// it only bounds how long expired content stays on disk or in memory.
type Sweeper struct {
	store    Expirer
	interval time.Duration

	mu sync.Mutex // one RunOnce at a time
}

func NewSweeper(store Expirer, interval time.Duration) *Sweeper {
	return &Sweeper{store: store, interval: interval}
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	requestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, requestID)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", requestID).
		Dur("interval", s.interval).
		Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", requestID).
				Msg("sweeper shutting down")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns the number of entries removed.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	removed, err := s.store.SweepExpired(ctx)
	elapsed := time.Since(start)
	metrics.SweepCycles.Inc()
	metrics.SweepDuration.Observe(elapsed.Seconds())
	if removed > 0 {
		metrics.EntriesSwept.Add(float64(removed))
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return removed, err
		}
		util.Error().
			Err(err).
			Int("removed", removed).
			Str("request_id", util.GetRequestID(ctx)).
			Msg("sweep failed")
		return removed, err
	}
	if removed > 0 {
		util.Info().
			Int("removed", removed).
			Dur("duration", elapsed).
			Str("request_id", util.GetRequestID(ctx)).
			Msg("sweep completed")
	}
	return removed, nil
}
