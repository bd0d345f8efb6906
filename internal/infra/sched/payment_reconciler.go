package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"premium-reconciler/internal/domain"
	"premium-reconciler/internal/infra/metrics"
	"premium-reconciler/internal/infra/redis"
	"premium-reconciler/internal/usecase"
)

const reconcilerLockKey = "lock:unresolved-reconciler"

// UnresolvedReconciler periodically re-runs identity resolution for payments
// the pipeline could not attribute. Users verify a phone or email after
// paying, so a later pass often succeeds where the webhook did not.
type UnresolvedReconciler struct {
	uc       usecase.ReconciliationUseCase
	locker   redis.Locker // nil runs without cross-instance exclusion
	interval time.Duration
	batch    int
	lockTTL  time.Duration
	log      *zerolog.Logger
}

func NewUnresolvedReconciler(uc usecase.ReconciliationUseCase, locker redis.Locker, interval time.Duration, batch int, lockTTL time.Duration, logger *zerolog.Logger) *UnresolvedReconciler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	l := logger.With().Str("component", "UnresolvedReconciler").Logger()
	return &UnresolvedReconciler{uc: uc, locker: locker, interval: interval, batch: batch, lockTTL: lockTTL, log: &l}
}

func (w *UnresolvedReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting unresolved reconciler")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping unresolved reconciler")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Tick(ctx); err != nil {
				w.log.Error().Err(err).Msg("unresolved reconciler pass failed")
			}
		}
	}
}

// Tick runs one pass and reports how many payments got attributed.
func (w *UnresolvedReconciler) Tick(ctx context.Context) (int, error) {
	resolved := 0
	_, err := exclusive(ctx, w.locker, reconcilerLockKey, w.lockTTL, w.log, func(pass context.Context) error {
		var err error
		resolved, err = w.sweep(pass)
		return err
	})
	return resolved, err
}

func (w *UnresolvedReconciler) sweep(pass context.Context) (int, error) {
	// resolved payments leave the unresolved set, so only skipped ones shift the window
	resolved, offset := 0, 0
	for {
		page, err := w.uc.ListUnresolved(pass, w.batch, offset)
		if err != nil {
			return resolved, err
		}
		for _, p := range page {
			res, err := w.uc.RetryResolution(pass, p.GatewayPaymentID)
			switch {
			case err != nil && domain.IsRetryable(err):
				metrics.IncReconcileOutcome("retry", "retryable_error")
				offset++
				w.log.Warn().Err(err).Str("payment_id", p.GatewayPaymentID).Msg("retry deferred")
			case err != nil:
				metrics.IncReconcileOutcome("retry", "error")
				offset++
				w.log.Error().Err(err).Str("payment_id", p.GatewayPaymentID).Msg("retry failed")
			case res.Outcome == usecase.OutcomeUnresolved:
				metrics.IncReconcileOutcome("retry", string(res.Outcome))
				offset++
			default:
				metrics.IncReconcileOutcome("retry", string(res.Outcome))
				metrics.IncIdentityResolution(string(res.Source))
				resolved++
				w.log.Info().Str("payment_id", p.GatewayPaymentID).Str("user_id", res.UserID).
					Str("source", string(res.Source)).Msg("late resolution succeeded")
			}
		}
		if len(page) < w.batch || pass.Err() != nil {
			break
		}
	}
	metrics.SetUnresolvedBacklog(offset)
	return resolved, nil
}
