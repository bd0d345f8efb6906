package adapter

import (
	"context"

	"premium-reconciler/internal/domain/model"
)

// OperatorNotifier alerts the people doing manual reconciliation.
type OperatorNotifier interface {
	NotifyUnresolved(ctx context.Context, p *model.Payment) error
}
