package repository

import (
	"context"
	"time"

	"premium-reconciler/internal/domain/model"
)

// SubscriptionRepository is the port for billing subscriptions.
type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByGatewayID(ctx context.Context, tx Tx, gatewaySubscriptionID string) (*model.Subscription, error)
	FindByOriginPayment(ctx context.Context, tx Tx, paymentID string) (*model.Subscription, error)
	// ListByUser returns the user's subscriptions, most recent first.
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.Subscription, error)
}

// StatusRepository stores the per-user projection. Only the status projector writes it.
type StatusRepository interface {
	Get(ctx context.Context, tx Tx, userID string) (*model.UserSubscriptionStatus, error)
	Upsert(ctx context.Context, tx Tx, st *model.UserSubscriptionStatus) error
	// ListExpired returns users whose projected flag has outlived its expiry.
	ListExpired(ctx context.Context, tx Tx, now time.Time, limit int) ([]string, error)
}

// StatusCache is a read-through cache in front of StatusRepository.
type StatusCache interface {
	Get(ctx context.Context, userID string) (*model.UserSubscriptionStatus, bool)
	// Set is ignored when the entry is fenced at a later projection time.
	Set(ctx context.Context, st *model.UserSubscriptionStatus)
	// Invalidate drops the entry and fences out statuses projected before asOf.
	Invalidate(ctx context.Context, userID string, asOf time.Time)
}
