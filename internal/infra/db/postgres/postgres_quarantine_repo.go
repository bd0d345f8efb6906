package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/repository"
)

var _ repository.QuarantineRepository = (*quarantineRepo)(nil)

type quarantineRepo struct{ pool *pgxpool.Pool }

func NewQuarantineRepo(pool *pgxpool.Pool) *quarantineRepo {
	return &quarantineRepo{pool: pool}
}

func (r *quarantineRepo) Save(ctx context.Context, tx repository.Tx, q *model.QuarantinedEvent) error {
	const stmt = `
INSERT INTO quarantined_events (id, received_at, reason, payload, signature_valid)
VALUES ($1,$2,$3,$4,$5);`
	_, err := execSQL(ctx, r.pool, tx, stmt, q.ID, q.ReceivedAt, q.Reason, q.Payload, q.SignatureValid)
	return err
}

func (r *quarantineRepo) List(ctx context.Context, tx repository.Tx, limit, offset int) ([]*model.QuarantinedEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	const stmt = `
SELECT id, received_at, reason, payload, signature_valid
  FROM quarantined_events
 ORDER BY received_at DESC, id
 LIMIT $1 OFFSET $2;`
	rows, err := queryRows(ctx, r.pool, tx, stmt, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.QuarantinedEvent
	for rows.Next() {
		q := new(model.QuarantinedEvent)
		if err := rows.Scan(&q.ID, &q.ReceivedAt, &q.Reason, &q.Payload, &q.SignatureValid); err != nil {
			return nil, mapError(err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}
