package usecase

import (
	"context"
	"errors"
	"time"

	"premium-reconciler/internal/domain"
	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/repository"
)

// StatusProjector is the only writer of UserSubscriptionStatus. It derives the
// row from the user's subscriptions, captured payments and legacy grants, and
// leaves the stored row untouched when nothing derived has changed.
type StatusProjector struct {
	users    repository.UserRepository
	subs     repository.SubscriptionRepository
	payments repository.PaymentRepository
	statuses repository.StatusRepository
	machine  *SubscriptionMachine
}

func NewStatusProjector(
	users repository.UserRepository,
	subs repository.SubscriptionRepository,
	payments repository.PaymentRepository,
	statuses repository.StatusRepository,
	machine *SubscriptionMachine,
) *StatusProjector {
	return &StatusProjector{users: users, subs: subs, payments: payments, statuses: statuses, machine: machine}
}

// Project recomputes and stores the status of userID. Callers hold the user lock.
func (p *StatusProjector) Project(ctx context.Context, tx repository.Tx, userID string, now time.Time) (*model.UserSubscriptionStatus, error) {
	if _, err := p.machine.ExpireLapsed(ctx, tx, userID, now); err != nil {
		return nil, err
	}
	subs, err := p.subs.ListByUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	user, err := p.users.FindByID(ctx, tx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	spend, err := p.payments.SumCapturedByUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	next := &model.UserSubscriptionStatus{UserID: userID, LifetimeSpend: spend, ProjectedAt: now}
	for _, plan := range model.PlanTypes {
		entitled, expiresAt, subID := deriveEntitlement(CurrentSubscription(subs, plan), user.LegacyGrant(plan), now)
		next.Set(plan, entitled, expiresAt, subID)
	}

	prev, err := p.statuses.Get(ctx, tx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if prev.SameProjection(next) {
		return prev, nil
	}
	if err := p.statuses.Upsert(ctx, tx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// CurrentSubscription picks the subscription that speaks for plan: the most
// recent entitled one, else the most recent still open, else the most recent
// terminal one. subs is ordered most recent first.
func CurrentSubscription(subs []*model.Subscription, plan model.PlanType) *model.Subscription {
	var open, closed *model.Subscription
	for _, s := range subs {
		if s.PlanType != plan {
			continue
		}
		switch {
		case s.Status.IsEntitled():
			return s
		case !s.Status.IsTerminal():
			if open == nil {
				open = s
			}
		default:
			if closed == nil {
				closed = s
			}
		}
	}
	if open != nil {
		return open
	}
	return closed
}

// deriveEntitlement merges the current subscription with a legacy direct
// grant. The flag holds if either grants access; the expiry is the later of
// the two, except that an open-ended subscription stays open-ended.
func deriveEntitlement(cur *model.Subscription, legacy *time.Time, now time.Time) (bool, *time.Time, *string) {
	var (
		entitled  bool
		expiresAt *time.Time
		subID     *string
	)
	if cur != nil {
		id := cur.ID
		subID = &id
		entitled = cur.Status.IsEntitled()
		// a completed fixed-term plan still covers its final paid cycle
		if cur.Status == model.SubscriptionStatusCompleted && cur.CurrentPeriodEnd != nil && cur.CurrentPeriodEnd.After(now) {
			entitled = true
		}
		if cur.CurrentPeriodEnd != nil {
			t := *cur.CurrentPeriodEnd
			expiresAt = &t
		}
	}
	if legacy != nil && legacy.After(now) {
		if !entitled || (expiresAt != nil && legacy.After(*expiresAt)) {
			t := *legacy
			expiresAt = &t
		}
		entitled = true
	}
	return entitled, expiresAt, subID
}
