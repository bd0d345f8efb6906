package memory

import (
	"context"
	"errors"
	"time"

	"premium-reconciler/internal/domain"
	"premium-reconciler/internal/domain/ports/repository"
	"premium-reconciler/internal/infra/metrics"
)

var _ repository.TransactionManager = (*TxManager)(nil)

// TxManager mirrors the Postgres transaction manager: a per-user lock held for
// the whole transaction, row locks on locked reads, all-or-nothing commit.
type TxManager struct {
	s    *Store
	wait time.Duration
}

func NewTxManager(s *Store, lockWait time.Duration) *TxManager {
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}
	return &TxManager{s: s, wait: lockWait}
}

func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return m.run(ctx, "", fn)
}

func (m *TxManager) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, tx repository.Tx) error) error {
	if userID == "" {
		return domain.ErrInvalidArgument
	}
	return m.run(ctx, "user:"+userID, fn)
}

func (m *TxManager) run(ctx context.Context, userKey string, fn func(ctx context.Context, tx repository.Tx) error) error {
	t := m.s.begin(m.wait)
	defer t.release()

	if userKey != "" {
		start := time.Now()
		if err := t.lock(ctx, userKey); err != nil {
			if errors.Is(err, domain.ErrLockTimeout) {
				metrics.IncUserLockTimeout()
			}
			return err
		}
		metrics.ObserveUserLockWait(time.Since(start))
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	return t.commit()
}
