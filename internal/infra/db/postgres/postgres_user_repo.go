package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

const userColumns = `id, COALESCE(email,''), COALESCE(phone,''), COALESCE(whatsapp_number,''), display_name,
  legacy_premium_until, legacy_super_user_until`

// PostgresUserRepo reads the application's users table. Stored phone numbers
// are normalized the same way incoming contacts are: formatting is dropped, a
// "00" prefix stands for "+", and a national number without "+" gets the
// default country code after losing one trunk "0".
type PostgresUserRepo struct {
	pool      *pgxpool.Pool
	defaultCC string
}

func NewPostgresUserRepo(pool *pgxpool.Pool, defaultCC string) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool, defaultCC: strings.TrimPrefix(strings.TrimSpace(defaultCC), "+")}
}

// Save upserts a user. The reconciler never calls it; fixtures and the seed command do.
func (r *PostgresUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (id, email, phone, whatsapp_number, display_name, legacy_premium_until, legacy_super_user_until)
VALUES ($1, NULLIF($2,''), NULLIF($3,''), NULLIF($4,''), $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
  email=EXCLUDED.email, phone=EXCLUDED.phone, whatsapp_number=EXCLUDED.whatsapp_number,
  display_name=EXCLUDED.display_name,
  legacy_premium_until=EXCLUDED.legacy_premium_until,
  legacy_super_user_until=EXCLUDED.legacy_super_user_until;`
	_, err := execSQL(ctx, r.pool, tx, q, u.ID, u.Email, u.Phone, u.WhatsAppNumber, u.DisplayName,
		u.LegacyPremiumUntil, u.LegacySuperUserUntil)
	return err
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+userColumns+` FROM users WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return scanUser(row)
}

func (r *PostgresUserRepo) FindByEmail(ctx context.Context, tx repository.Tx, email string) ([]*model.User, error) {
	return r.list(ctx, tx, `SELECT `+userColumns+` FROM users WHERE lower(btrim(email))=$1 ORDER BY id LIMIT 5;`, email)
}

func (r *PostgresUserRepo) FindByWhatsApp(ctx context.Context, tx repository.Tx, number string) ([]*model.User, error) {
	return r.list(ctx, tx, `SELECT `+userColumns+` FROM users
 WHERE `+normalizedNumber("whatsapp_number")+`=$1 ORDER BY id LIMIT 5;`, digits(number), r.defaultCC)
}

func (r *PostgresUserRepo) FindByPhone(ctx context.Context, tx repository.Tx, number string) ([]*model.User, error) {
	return r.list(ctx, tx, `SELECT `+userColumns+` FROM users
 WHERE `+normalizedNumber("phone")+`=$1 ORDER BY id LIMIT 5;`, digits(number), r.defaultCC)
}

// normalizedNumber renders the digits of col in canonical form; $2 carries
// the default country code.
func normalizedNumber(col string) string {
	d := `regexp_replace(` + col + `, '\D', '', 'g')`
	return `(CASE
   WHEN left(btrim(` + col + `), 1)='+' THEN ` + d + `
   WHEN left(` + d + `, 2)='00' THEN substr(` + d + `, 3)
   WHEN $2<>'' AND length(` + d + `)<=11 THEN $2 || (CASE WHEN left(` + d + `, 1)='0' THEN substr(` + d + `, 2) ELSE ` + d + ` END)
   ELSE ` + d + `
 END)`
}

func (r *PostgresUserRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.User, error) {
	if len(args) == 0 || args[0] == "" {
		return nil, nil
	}
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.Phone, &u.WhatsAppNumber, &u.DisplayName,
		&u.LegacyPremiumUntil, &u.LegacySuperUserUntil); err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
