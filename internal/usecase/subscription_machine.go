package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"premium-reconciler/internal/domain"
	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/repository"
)

const defaultPlanDuration = 30 * 24 * time.Hour

// PlanDurations is the entitlement length granted by one paid cycle of each plan.
type PlanDurations map[model.PlanType]time.Duration

func (d PlanDurations) For(plan model.PlanType) time.Duration {
	if v, ok := d[plan]; ok && v > 0 {
		return v
	}
	return defaultPlanDuration
}

// SubscriptionMachine moves Subscription rows through
// created -> active <-> halted -> cancelled|completed|expired in response to
// payment outcomes and gateway lifecycle events. Callers hold the user lock.
type SubscriptionMachine struct {
	subs      repository.SubscriptionRepository
	durations PlanDurations
	newID     func() string
	log       *zerolog.Logger
}

func NewSubscriptionMachine(subs repository.SubscriptionRepository, durations PlanDurations, logger *zerolog.Logger) *SubscriptionMachine {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &SubscriptionMachine{
		subs:      subs,
		durations: durations,
		newID:     func() string { return ulid.Make().String() },
		log:       logger,
	}
}

// Apply reacts to a recorded payment (p) or a subscription-only event for
// userID. It returns the subscription it touched, if any. Rejected moves
// return an error wrapping domain.ErrInvalidStateTransition and write nothing.
func (m *SubscriptionMachine) Apply(ctx context.Context, tx repository.Tx, userID string, p *model.Payment, ev *model.GatewayEvent, now time.Time) (*model.Subscription, error) {
	if ev.IsSubscriptionOnly() {
		return m.applyLifecycle(ctx, tx, userID, ev, now)
	}
	if p == nil {
		return nil, nil
	}
	if gid := ev.SubscriptionID(); gid != "" {
		return m.applyRecurring(ctx, tx, userID, gid, p, ev, now)
	}
	return m.applyOneOff(ctx, tx, userID, p, ev, now)
}

func (m *SubscriptionMachine) applyRecurring(ctx context.Context, tx repository.Tx, userID, gid string, p *model.Payment, ev *model.GatewayEvent, now time.Time) (*model.Subscription, error) {
	sub, isNew, err := m.loadOrCreate(ctx, tx, userID, gid, ev, now)
	if err != nil {
		return nil, err
	}
	before := *sub
	syncCycle(sub, ev.Subscription)

	switch p.Status {
	case model.PaymentStatusCaptured:
		if ev.Subscription == nil || ev.Subscription.PaidCount == nil {
			sub.PaidCount++
		}
		switch sub.Status {
		case model.SubscriptionStatusCreated, model.SubscriptionStatusHalted:
			if err := m.transition(sub, model.SubscriptionStatusActive, now); err != nil {
				return nil, err
			}
		case model.SubscriptionStatusActive:
			// renewal
		default:
			return nil, fmt.Errorf("%w: charge %s on %s subscription %s",
				domain.ErrInvalidStateTransition, p.GatewayPaymentID, sub.Status, sub.ID)
		}
		if ev.Subscription == nil || ev.Subscription.CurrentEnd == nil {
			m.extendPeriod(sub, p, now)
		}
		if sub.FixedTermDone() {
			if err := m.transition(sub, model.SubscriptionStatusCompleted, now); err != nil {
				return nil, err
			}
		}
	case model.PaymentStatusFailed:
		// a failed first charge leaves the subscription in created
		if sub.Status == model.SubscriptionStatusActive {
			if err := m.transition(sub, model.SubscriptionStatusHalted, now); err != nil {
				return nil, err
			}
		}
	}

	if isNew || subscriptionChanged(&before, sub) {
		sub.UpdatedAt = now
		if err := m.subs.Save(ctx, tx, sub); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

func (m *SubscriptionMachine) applyOneOff(ctx context.Context, tx repository.Tx, userID string, p *model.Payment, ev *model.GatewayEvent, now time.Time) (*model.Subscription, error) {
	existing, err := m.subs.FindByOriginPayment(ctx, tx, p.GatewayPaymentID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	switch p.Status {
	case model.PaymentStatusCaptured:
		if existing != nil {
			return existing, nil
		}
		start := now
		if p.CapturedAt != nil {
			start = *p.CapturedAt
		}
		plan := ev.PlanType()
		sub, err := model.NewSyntheticSubscription(m.newID(), userID, plan, p.GatewayPaymentID, start, m.durations.For(plan))
		if err != nil {
			return nil, err
		}
		if err := m.subs.Save(ctx, tx, sub); err != nil {
			return nil, err
		}
		m.log.Debug().Str("subscription_id", sub.ID).Str("payment_id", p.GatewayPaymentID).
			Str("plan", string(plan)).Msg("one-off purchase activated")
		return sub, nil
	}
	return existing, nil
}

func (m *SubscriptionMachine) applyLifecycle(ctx context.Context, tx repository.Tx, userID string, ev *model.GatewayEvent, now time.Time) (*model.Subscription, error) {
	gid := ev.SubscriptionID()
	if gid == "" {
		return nil, fmt.Errorf("%w: %s without subscription id", domain.ErrInvalidArgument, ev.Name)
	}
	sub, err := m.subs.FindByGatewayID(ctx, tx, gid)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: subscription %s", domain.ErrNotFound, gid)
		}
		return nil, err
	}
	if sub.UserID != userID {
		return nil, fmt.Errorf("%w: subscription %s belongs to another user", domain.ErrConflict, gid)
	}
	before := *sub
	syncCycle(sub, ev.Subscription)

	var target model.SubscriptionStatus
	switch ev.Name {
	case model.EventSubscriptionCancelled:
		target = model.SubscriptionStatusCancelled
	case model.EventSubscriptionHalted:
		target = model.SubscriptionStatusHalted
	case model.EventSubscriptionCompleted:
		if sub.Status != model.SubscriptionStatusCompleted && !sub.FixedTermDone() {
			return nil, fmt.Errorf("%w: subscription %s completed after %d of %d cycles",
				domain.ErrInvalidStateTransition, sub.ID, sub.PaidCount, sub.TotalCount)
		}
		target = model.SubscriptionStatusCompleted
	}
	if err := m.transition(sub, target, now); err != nil {
		return nil, err
	}
	if subscriptionChanged(&before, sub) {
		sub.UpdatedAt = now
		if err := m.subs.Save(ctx, tx, sub); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// ExpireLapsed moves every entitled subscription of userID whose period has
// ended into expired, and returns the rows it changed.
func (m *SubscriptionMachine) ExpireLapsed(ctx context.Context, tx repository.Tx, userID string, now time.Time) ([]*model.Subscription, error) {
	subs, err := m.subs.ListByUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	var expired []*model.Subscription
	for _, s := range subs {
		if !s.Lapsed(now) {
			continue
		}
		if err := m.transition(s, model.SubscriptionStatusExpired, now); err != nil {
			return nil, err
		}
		s.UpdatedAt = now
		if err := m.subs.Save(ctx, tx, s); err != nil {
			return nil, err
		}
		expired = append(expired, s)
	}
	return expired, nil
}

func (m *SubscriptionMachine) loadOrCreate(ctx context.Context, tx repository.Tx, userID, gid string, ev *model.GatewayEvent, now time.Time) (*model.Subscription, bool, error) {
	sub, err := m.subs.FindByGatewayID(ctx, tx, gid)
	switch {
	case err == nil:
		if sub.UserID != userID {
			return nil, false, fmt.Errorf("%w: subscription %s belongs to another user", domain.ErrConflict, gid)
		}
		return sub, false, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, false, err
	}
	id := gid
	return &model.Subscription{
		ID:                    m.newID(),
		UserID:                userID,
		PlanType:              ev.PlanType(),
		GatewaySubscriptionID: &id,
		Status:                model.SubscriptionStatusCreated,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, true, nil
}

// extendPeriod grants one plan duration when the gateway sent no cycle window.
// The new period starts at capture, or at the current end if that is later.
func (m *SubscriptionMachine) extendPeriod(sub *model.Subscription, p *model.Payment, now time.Time) {
	start := now
	if p.CapturedAt != nil {
		start = *p.CapturedAt
	}
	if sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(start) {
		start = *sub.CurrentPeriodEnd
	}
	end := start.Add(m.durations.For(sub.PlanType))
	sub.CurrentPeriodStart, sub.CurrentPeriodEnd = &start, &end
}

// transition is a no-op when sub is already in to.
func (m *SubscriptionMachine) transition(sub *model.Subscription, to model.SubscriptionStatus, now time.Time) error {
	if sub.Status == to {
		return nil
	}
	if !sub.Status.CanTransition(to) {
		return fmt.Errorf("%w: subscription %s %s -> %s", domain.ErrInvalidStateTransition, sub.ID, sub.Status, to)
	}
	m.log.Debug().Str("subscription_id", sub.ID).Str("from", string(sub.Status)).
		Str("to", string(to)).Msg("subscription transition")
	sub.Status = to
	sub.UpdatedAt = now
	return nil
}

// syncCycle copies the gateway's billing-cycle view onto sub.
func syncCycle(sub *model.Subscription, gs *model.GatewaySubscription) {
	if gs == nil {
		return
	}
	if gs.CurrentStart != nil {
		t := *gs.CurrentStart
		sub.CurrentPeriodStart = &t
	}
	if gs.CurrentEnd != nil {
		t := *gs.CurrentEnd
		sub.CurrentPeriodEnd = &t
	}
	if gs.ChargeAt != nil {
		t := *gs.ChargeAt
		sub.NextBillingAt = &t
	}
	if gs.PaidCount != nil {
		sub.PaidCount = *gs.PaidCount
	}
	if gs.TotalCount != nil {
		sub.TotalCount = *gs.TotalCount
	}
	if gs.RemainingCount != nil {
		sub.RemainingCount = *gs.RemainingCount
	}
}

func subscriptionChanged(a, b *model.Subscription) bool {
	return a.Status != b.Status ||
		a.PaidCount != b.PaidCount ||
		a.TotalCount != b.TotalCount ||
		a.RemainingCount != b.RemainingCount ||
		!sameInstant(a.CurrentPeriodStart, b.CurrentPeriodStart) ||
		!sameInstant(a.CurrentPeriodEnd, b.CurrentPeriodEnd) ||
		!sameInstant(a.NextBillingAt, b.NextBillingAt)
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
