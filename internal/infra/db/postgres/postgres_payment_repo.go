package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"premium-reconciler/internal/domain"
	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

const paymentColumns = `gateway_payment_id, gateway_order_id, gateway_subscription_id, amount, currency, status,
  method, email, contact, notes, resolved_user_id, resolution_source, failure_reason, raw_event,
  created_at, updated_at, captured_at`

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

func (r *paymentRepo) InsertIfAbsent(ctx context.Context, tx repository.Tx, p *model.Payment) (*model.Payment, bool, error) {
	notes, err := json.Marshal(p.Notes)
	if err != nil {
		return nil, false, err
	}
	const q = `
INSERT INTO payments (` + paymentColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (gateway_payment_id) DO NOTHING
RETURNING ` + paymentColumns + `;`

	row, err := pickRow(ctx, r.pool, tx, q,
		p.GatewayPaymentID, p.GatewayOrderID, p.GatewaySubscriptionID, p.Amount, p.Currency, string(p.Status),
		p.Method, p.Email, p.Contact, notes, p.ResolvedUserID, string(p.ResolutionSource), p.FailureReason,
		nullableJSON(p.RawEvent), p.CreatedAt, p.UpdatedAt, p.CapturedAt)
	if err != nil {
		return nil, false, err
	}
	stored, err := scanPayment(row)
	switch {
	case err == nil:
		return stored, true, nil
	case errors.Is(err, domain.ErrNotFound):
		// conflict: someone else holds the id
		existing, err := r.FindByGatewayID(ctx, tx, p.GatewayPaymentID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	default:
		return nil, false, err
	}
}

func (r *paymentRepo) FindByGatewayID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := lockClause(`SELECT `+paymentColumns+` FROM payments WHERE gateway_payment_id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) Update(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
UPDATE payments
   SET status=$2, resolved_user_id=$3, resolution_source=$4, failure_reason=$5,
       raw_event=$6, updated_at=$7, captured_at=$8
 WHERE gateway_payment_id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, p.GatewayPaymentID, string(p.Status), p.ResolvedUserID,
		string(p.ResolutionSource), p.FailureReason, nullableJSON(p.RawEvent), p.UpdatedAt, p.CapturedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *paymentRepo) ListUnresolved(ctx context.Context, tx repository.Tx, pendingBefore time.Time, limit, offset int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT ` + paymentColumns + ` FROM payments
 WHERE resolution_source='unresolved'
    OR (resolution_source='' AND created_at < $3)
 ORDER BY created_at ASC, gateway_payment_id ASC
 LIMIT $1 OFFSET $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, limit, offset, pendingBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (r *paymentRepo) SumCapturedByUser(ctx context.Context, tx repository.Tx, userID string) (int64, error) {
	const q = `SELECT COALESCE(SUM(amount),0) FROM payments WHERE resolved_user_id=$1 AND status='captured';`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return 0, err
	}
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, mapError(err)
	}
	return sum, nil
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p              model.Payment
		status, source string
		notes, raw     []byte
	)
	if err := row.Scan(&p.GatewayPaymentID, &p.GatewayOrderID, &p.GatewaySubscriptionID, &p.Amount, &p.Currency,
		&status, &p.Method, &p.Email, &p.Contact, &notes, &p.ResolvedUserID, &source, &p.FailureReason, &raw,
		&p.CreatedAt, &p.UpdatedAt, &p.CapturedAt); err != nil {
		return nil, mapError(err)
	}
	p.Status = model.PaymentStatus(status)
	p.ResolutionSource = model.ResolutionSource(source)
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &p.Notes); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	if len(raw) > 0 {
		p.RawEvent = json.RawMessage(raw)
	}
	return &p, nil
}
