package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"premium-reconciler/internal/domain/ports/repository"
	"premium-reconciler/internal/infra/metrics"
	"premium-reconciler/internal/infra/redis"
	"premium-reconciler/internal/usecase"
)

const expiryLockKey = "lock:expiry-sweep"

// ExpiryWorker re-projects users whose stored flags have outlived their
// expiry. Reads already expire lazily; the sweep keeps the table honest for
// consumers that query it directly.
type ExpiryWorker struct {
	interval time.Duration
	batch    int
	statuses repository.StatusRepository
	statusUC usecase.StatusUseCase
	locker   redis.Locker // nil runs without cross-instance exclusion
	now      func() time.Time
	log      *zerolog.Logger
}

func NewExpiryWorker(interval time.Duration, batch int, statuses repository.StatusRepository, statusUC usecase.StatusUseCase, locker redis.Locker, clock func() time.Time, logger *zerolog.Logger) *ExpiryWorker {
	if batch <= 0 {
		batch = 200
	}
	if clock == nil {
		clock = time.Now
	}
	l := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{
		interval: interval,
		batch:    batch,
		statuses: statuses,
		statusUC: statusUC,
		locker:   locker,
		now:      clock,
		log:      &l,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting expiry worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.Tick(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("expiry sweep failed")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("lapsed projections refreshed")
			}
		}
	}
}

// Tick refreshes one batch of lapsed projections.
func (w *ExpiryWorker) Tick(ctx context.Context) (int, error) {
	n := 0
	_, err := exclusive(ctx, w.locker, expiryLockKey, w.interval, w.log, func(pass context.Context) error {
		ids, err := w.statuses.ListExpired(pass, repository.NoTX, w.now(), w.batch)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := w.statusUC.Refresh(pass, id); err != nil {
				w.log.Warn().Err(err).Str("user_id", id).Msg("refresh failed")
				continue
			}
			metrics.IncStatusReprojection("sweep")
			n++
		}
		return nil
	})
	metrics.IncSubscriptionsExpired(n)
	return n, err
}
