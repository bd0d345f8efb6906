package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/repository"
)

var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

const subscriptionColumns = `id, user_id, plan_type, gateway_subscription_id, origin_payment_id, status,
  current_period_start, current_period_end, next_billing_at, paid_count, total_count, remaining_count,
  created_at, updated_at`

type subscriptionRepo struct{ pool *pgxpool.Pool }

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (` + subscriptionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET
  status=EXCLUDED.status,
  current_period_start=EXCLUDED.current_period_start,
  current_period_end=EXCLUDED.current_period_end,
  next_billing_at=EXCLUDED.next_billing_at,
  paid_count=EXCLUDED.paid_count,
  total_count=EXCLUDED.total_count,
  remaining_count=EXCLUDED.remaining_count,
  updated_at=EXCLUDED.updated_at;`
	_, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.UserID, string(s.PlanType), s.GatewaySubscriptionID, s.OriginPaymentID, string(s.Status),
		s.CurrentPeriodStart, s.CurrentPeriodEnd, s.NextBillingAt, s.PaidCount, s.TotalCount, s.RemainingCount,
		s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *subscriptionRepo) FindByGatewayID(ctx context.Context, tx repository.Tx, gatewaySubscriptionID string) (*model.Subscription, error) {
	q := lockClause(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE gateway_subscription_id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, gatewaySubscriptionID)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row)
}

func (r *subscriptionRepo) FindByOriginPayment(ctx context.Context, tx repository.Tx, paymentID string) (*model.Subscription, error) {
	q := lockClause(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE origin_payment_id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, paymentID)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row)
}

// ListByUser orders by creation time; ULID ids break ties in creation order.
func (r *subscriptionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Subscription, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions
 WHERE user_id=$1
 ORDER BY created_at DESC, id DESC;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var (
		s            model.Subscription
		plan, status string
	)
	if err := row.Scan(&s.ID, &s.UserID, &plan, &s.GatewaySubscriptionID, &s.OriginPaymentID, &status,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.NextBillingAt, &s.PaidCount, &s.TotalCount, &s.RemainingCount,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	s.PlanType = model.PlanType(plan)
	s.Status = model.SubscriptionStatus(status)
	return &s, nil
}
