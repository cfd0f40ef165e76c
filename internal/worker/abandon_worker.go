package worker

import (
	"context"
	"os"
	"time"

	"github.com/avtotest/exam-backend/internal/repository"
	"github.com/avtotest/exam-backend/internal/service"
	"github.com/rs/zerolog"
)

// sweepLockKey lets one API instance sweep per interval.
const sweepLockKey = "lock:abandon-sweep"

// AbandonStore closes stale open sessions.
type AbandonStore interface {
	MarkAbandoned(ctx context.Context, cutoff time.Time) ([]repository.AbandonedSession, error)
}

// SweepCache invalidates user rollups and arbitrates the sweep between instances.
type SweepCache interface {
	Delete(ctx context.Context, keys ...string) error
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
}

// AbandonWorker periodically marks sessions ABANDONED when their deadline
// passed more than grace ago and nobody touched them since.
type AbandonWorker struct {
	store    AbandonStore
	cache    SweepCache
	grace    time.Duration
	interval time.Duration
	owner    string
	log      zerolog.Logger

	now func() time.Time
}

// NewAbandonWorker creates a new AbandonWorker.
func NewAbandonWorker(store AbandonStore, cache SweepCache, grace, interval time.Duration, log zerolog.Logger) *AbandonWorker {
	owner, _ := os.Hostname()
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &AbandonWorker{
		store:    store,
		cache:    cache,
		grace:    grace,
		interval: interval,
		owner:    owner,
		log:      log.With().Str("component", "abandon_worker").Logger(),
		now:      time.Now,
	}
}

// Start runs the sweep loop until ctx is cancelled. Call in a goroutine.
func (w *AbandonWorker) Start(ctx context.Context) {
	w.log.Info().
		Dur("grace", w.grace).
		Dur("interval", w.interval).
		Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("Sweep failed")
			}
		}
	}
}

// Sweep runs one pass and returns the number of sessions abandoned. It
// does nothing when another instance holds the sweep lock.
func (w *AbandonWorker) Sweep(ctx context.Context) (int, error) {
	// Slightly shorter than the interval so the next tick can take over.
	ok, err := w.cache.TryLock(ctx, sweepLockKey, w.owner, w.interval*9/10)
	if err != nil {
		// The UPDATE only matches open rows, so a double sweep is a no-op.
		w.log.Warn().Err(err).Msg("Sweep lock unavailable, sweeping anyway")
	} else if !ok {
		w.log.Debug().Msg("Sweep held by another instance")
		return 0, nil
	}

	cutoff := w.now().UTC().Add(-w.grace)
	abandoned, err := w.store.MarkAbandoned(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	for _, a := range abandoned {
		if a.PackageID == nil {
			continue
		}
		if err := w.cache.Delete(ctx, service.UserStatsKeys(a.UserID, *a.PackageID)...); err != nil {
			w.log.Warn().Err(err).
				Str("session_id", a.ID.String()).
				Msg("Failed to invalidate user stats cache")
		}
	}

	if len(abandoned) > 0 {
		w.log.Info().
			Int("count", len(abandoned)).
			Time("cutoff", cutoff).
			Msg("Abandoned stale exam sessions")
	}
	return len(abandoned), nil
}
