package repository

import "context"

type Tx interface{}

var NoTX interface{}

// TransactionManager runs a callback inside a storage transaction, passing the
// transaction handle through `tx`. Repositories accept that handle (or NoTX for
// the non-transactional path) and bind their queries to it.
//
// WithUserLock additionally serializes every caller working on the same user:
// the lock is taken at the start of the transaction and released when it ends.
// If the lock cannot be taken within the configured wait, it returns
// domain.ErrLockTimeout without running fn.
//
// The concrete type of `tx` is infra-defined (pgx.Tx for Postgres, a staged
// write set for the in-memory store).
type TransactionManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx) error) error
}
