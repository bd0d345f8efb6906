package repository

import (
	"context"

	"premium-reconciler/internal/domain/model"
)

// -----------------------------
// Users (read-only, owned by the application)
// -----------------------------

type UserRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	// FindByEmail matches a lower-cased, trimmed email.
	FindByEmail(ctx context.Context, tx Tx, email string) ([]*model.User, error)
	// FindByWhatsApp and FindByPhone match a canonical "+<digits>" number
	// against stored numbers normalized like model.NormalizeContact, with the
	// store's default country code.
	FindByWhatsApp(ctx context.Context, tx Tx, number string) ([]*model.User, error)
	FindByPhone(ctx context.Context, tx Tx, number string) ([]*model.User, error)
}
