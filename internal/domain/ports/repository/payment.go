package repository

import (
	"context"
	"time"

	"premium-reconciler/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

type PaymentRepository interface {
	// InsertIfAbsent atomically inserts p unless a row with the same gateway
	// payment id exists, and returns whichever row is stored.
	InsertIfAbsent(ctx context.Context, tx Tx, p *model.Payment) (stored *model.Payment, inserted bool, err error)
	// FindByGatewayID locks the row when called inside a transaction.
	FindByGatewayID(ctx context.Context, tx Tx, gatewayPaymentID string) (*model.Payment, error)
	// Update writes the mutable fields of an existing row.
	Update(ctx context.Context, tx Tx, p *model.Payment) error
	// ListUnresolved returns rows flagged for manual reconciliation, plus guard
	// skeletons created before pendingBefore that were never recorded.
	ListUnresolved(ctx context.Context, tx Tx, pendingBefore time.Time, limit, offset int) ([]*model.Payment, error)
	SumCapturedByUser(ctx context.Context, tx Tx, userID string) (int64, error)
}

// -----------------------------
// Quarantine
// -----------------------------

type QuarantineRepository interface {
	Save(ctx context.Context, tx Tx, q *model.QuarantinedEvent) error
	List(ctx context.Context, tx Tx, limit, offset int) ([]*model.QuarantinedEvent, error)
}
