package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"premium-reconciler/internal/domain"
	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/repository"
)

// Compile-time check
var _ StatusUseCase = (*statusUC)(nil)

type StatusUseCase interface {
	// GetStatus serves the stored projection, recomputing it first when it is
	// missing or a granted flag has outlived its expiry.
	GetStatus(ctx context.Context, userID string) (*model.UserSubscriptionStatus, error)
	// Refresh recomputes the projection unconditionally.
	Refresh(ctx context.Context, userID string) (*model.UserSubscriptionStatus, error)
}

type statusUC struct {
	repos     Repositories
	projector *StatusProjector
	cache     repository.StatusCache
	group     singleflight.Group
	now       func() time.Time
	log       *zerolog.Logger
}

func NewStatusUseCase(repos Repositories, cfg EngineConfig, cache repository.StatusCache, logger *zerolog.Logger) *statusUC {
	machine := NewSubscriptionMachine(repos.Subscriptions, cfg.Plans, logger)
	return &statusUC{
		repos:     repos,
		projector: NewStatusProjector(repos.Users, repos.Subscriptions, repos.Payments, repos.Statuses, machine),
		cache:     cache,
		now:       cfg.clock(),
		log:       machine.log,
	}
}

func (u *statusUC) GetStatus(ctx context.Context, userID string) (*model.UserSubscriptionStatus, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := u.now()
	if u.cache != nil {
		if st, ok := u.cache.Get(ctx, userID); ok && !st.Stale(now) {
			return st, nil
		}
	}

	st, err := u.repos.Statuses.Get(ctx, repository.NoTX, userID)
	switch {
	case err == nil && !st.Stale(now):
		if u.cache != nil {
			u.cache.Set(ctx, st)
		}
		return st, nil
	case err == nil:
		u.log.Debug().Str("user_id", userID).Msg("projection expired, recomputing")
	case errors.Is(err, domain.ErrNotFound):
		u.log.Debug().Str("user_id", userID).Msg("no projection yet, computing")
	default:
		return nil, storageErr(err)
	}
	return u.Refresh(ctx, userID)
}

// Refresh collapses concurrent recomputations for the same user into one.
func (u *statusUC) Refresh(ctx context.Context, userID string) (*model.UserSubscriptionStatus, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	v, err, _ := u.group.Do(userID, func() (any, error) {
		if _, err := u.repos.Users.FindByID(ctx, repository.NoTX, userID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, userID)
			}
			return nil, storageErr(err)
		}
		var st *model.UserSubscriptionStatus
		err := u.repos.Tx.WithUserLock(ctx, userID, func(ctx context.Context, tx repository.Tx) error {
			var err error
			st, err = u.projector.Project(ctx, tx, userID, u.now())
			return err
		})
		if err != nil {
			return nil, storageErr(err)
		}
		if u.cache != nil {
			u.cache.Set(ctx, st)
		}
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.UserSubscriptionStatus), nil
}
