package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/repository"
)

// Compile-time check
var _ QuarantineUseCase = (*quarantineUC)(nil)

// QuarantineUseCase keeps authentic webhook bodies that failed validation so
// an operator can inspect them instead of the gateway retrying forever.
type QuarantineUseCase interface {
	Quarantine(ctx context.Context, payload []byte, reason string) (*model.QuarantinedEvent, error)
	List(ctx context.Context, limit, offset int) ([]*model.QuarantinedEvent, error)
}

type quarantineUC struct {
	repo repository.QuarantineRepository
	now  func() time.Time
	log  *zerolog.Logger
}

func NewQuarantineUseCase(repo repository.QuarantineRepository, clock func() time.Time, logger *zerolog.Logger) *quarantineUC {
	if clock == nil {
		clock = time.Now
	}
	return &quarantineUC{repo: repo, now: clock, log: logger}
}

func (u *quarantineUC) Quarantine(ctx context.Context, payload []byte, reason string) (*model.QuarantinedEvent, error) {
	q := &model.QuarantinedEvent{
		ID:             uuid.NewString(),
		ReceivedAt:     u.now(),
		Reason:         reason,
		Payload:        append([]byte(nil), payload...),
		SignatureValid: true,
	}
	if err := u.repo.Save(ctx, repository.NoTX, q); err != nil {
		return nil, storageErr(err)
	}
	u.log.Warn().Str("quarantine_id", q.ID).Str("reason", reason).Int("bytes", len(payload)).Msg("webhook quarantined")
	return q, nil
}

func (u *quarantineUC) List(ctx context.Context, limit, offset int) ([]*model.QuarantinedEvent, error) {
	limit, offset = clampPage(limit, offset)
	return u.repo.List(ctx, repository.NoTX, limit, offset)
}
