package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"premium-reconciler/internal/domain"
	"premium-reconciler/internal/infra/metrics"
)

// Postgres SQLSTATE codes the reconciler reacts to.
const (
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeQueryCanceled        = "57014"
	codeAdminShutdown        = "57P01"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
)

// mapError translates driver errors into the domain taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeLockNotAvailable:
			metrics.IncDBError("lock_timeout")
			return fmt.Errorf("%w: %s", domain.ErrLockTimeout, pgErr.Message)
		case pgErr.Code == codeSerializationFailure, pgErr.Code == codeDeadlockDetected,
			pgErr.Code == codeQueryCanceled, pgErr.Code == codeAdminShutdown,
			strings.HasPrefix(pgErr.Code, "08"):
			metrics.IncDBError("transient")
			return fmt.Errorf("%w: %s (%s)", domain.ErrTransientStorage, pgErr.Message, pgErr.Code)
		case pgErr.Code == codeUniqueViolation:
			metrics.IncDBError("conflict")
			return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, pgErr.ConstraintName)
		case pgErr.Code == codeForeignKeyViolation:
			metrics.IncDBError("conflict")
			return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, pgErr.ConstraintName)
		}
		metrics.IncDBError("other")
		return fmt.Errorf("%w: %s (%s)", domain.ErrOperationFailed, pgErr.Message, pgErr.Code)
	}

	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		metrics.IncDBError("transient")
		return fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		metrics.IncDBError("transient")
		return fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	metrics.IncDBError("other")
	return fmt.Errorf("%w: %v", domain.ErrOperationFailed, err)
}
