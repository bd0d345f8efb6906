package postgres

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"premium-reconciler/internal/domain"
	"premium-reconciler/internal/domain/ports/repository"
	"premium-reconciler/internal/infra/metrics"
)

// Ensure compile-time conformance
var _ repository.TransactionManager = (*TxManager)(nil)

// TxManager implements repository.TransactionManager for Postgres (pgx).
// The tx handle is passed to the callback as a pgx.Tx.
type TxManager struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	log         *zerolog.Logger
}

func NewTxManager(pool *pgxpool.Pool, lockTimeout time.Duration, logger *zerolog.Logger) *TxManager {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TxManager{pool: pool, lockTimeout: lockTimeout, log: logger}
}

// WithTx opens a read-committed transaction. If fn returns an error the
// transaction is rolled back; otherwise it is committed. Row locks wait at
// most lockTimeout, as in WithUserLock.
func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return m.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, tx)
	})
}

// WithUserLock takes a transaction-scoped advisory lock keyed by the user id
// before running fn. lock_timeout bounds the wait; the lock is released by
// commit or rollback.
func (m *TxManager) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, tx repository.Tx) error) error {
	if userID == "" {
		return domain.ErrInvalidArgument
	}
	return m.run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		start := time.Now()
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", userLockKey(userID)); err != nil {
			err = mapError(err)
			if errors.Is(err, domain.ErrLockTimeout) {
				metrics.IncUserLockTimeout()
				m.log.Warn().Str("user_id", userID).Dur("waited", time.Since(start)).Msg("user lock timed out")
			}
			return err
		}
		metrics.ObserveUserLockWait(time.Since(start))
		return fn(ctx, tx)
	})
}

func (m *TxManager) run(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, lockTimeoutStatement(m.lockTimeout)); err != nil {
		return mapError(err)
	}
	if err := fn(ctx, tx); err != nil {
		return err // rollback in defer
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

func lockTimeoutStatement(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)
}

// userLockKey folds a user id into the int64 key space of advisory locks.
func userLockKey(userID string) int64 {
	h := fnv.New64a()
	h.Write([]byte("user:" + userID))
	return int64(h.Sum64() & ((1 << 63) - 1))
}
