package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/repository"
)

var _ repository.StatusRepository = (*statusRepo)(nil)

type statusRepo struct{ pool *pgxpool.Pool }

func NewStatusRepo(pool *pgxpool.Pool) *statusRepo {
	return &statusRepo{pool: pool}
}

func (r *statusRepo) Get(ctx context.Context, tx repository.Tx, userID string) (*model.UserSubscriptionStatus, error) {
	const q = `
SELECT user_id, is_premium, is_super_user, premium_expires_at, super_user_expires_at,
       premium_subscription_id, super_user_subscription_id, lifetime_spend, projected_at
  FROM user_subscription_status WHERE user_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	var st model.UserSubscriptionStatus
	if err := row.Scan(&st.UserID, &st.IsPremium, &st.IsSuperUser, &st.PremiumExpiresAt, &st.SuperUserExpiresAt,
		&st.PremiumSubscriptionID, &st.SuperUserSubscriptionID, &st.LifetimeSpend, &st.ProjectedAt); err != nil {
		return nil, mapError(err)
	}
	return &st, nil
}

func (r *statusRepo) Upsert(ctx context.Context, tx repository.Tx, st *model.UserSubscriptionStatus) error {
	const q = `
INSERT INTO user_subscription_status (
  user_id, is_premium, is_super_user, premium_expires_at, super_user_expires_at,
  premium_subscription_id, super_user_subscription_id, lifetime_spend, projected_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (user_id) DO UPDATE SET
  is_premium=EXCLUDED.is_premium,
  is_super_user=EXCLUDED.is_super_user,
  premium_expires_at=EXCLUDED.premium_expires_at,
  super_user_expires_at=EXCLUDED.super_user_expires_at,
  premium_subscription_id=EXCLUDED.premium_subscription_id,
  super_user_subscription_id=EXCLUDED.super_user_subscription_id,
  lifetime_spend=EXCLUDED.lifetime_spend,
  projected_at=EXCLUDED.projected_at;`
	_, err := execSQL(ctx, r.pool, tx, q, st.UserID, st.IsPremium, st.IsSuperUser, st.PremiumExpiresAt,
		st.SuperUserExpiresAt, st.PremiumSubscriptionID, st.SuperUserSubscriptionID, st.LifetimeSpend, st.ProjectedAt)
	return err
}

func (r *statusRepo) ListExpired(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT user_id FROM user_subscription_status
 WHERE (is_premium AND premium_expires_at <= $1)
    OR (is_super_user AND super_user_expires_at <= $1)
 ORDER BY user_id
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapError(err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}
