package model

import (
	"time"

	"premium-reconciler/internal/domain"
)

type PlanType string

const (
	PlanPremium   PlanType = "premium"
	PlanSuperUser PlanType = "super_user"
)

// PlanTypes lists every plan the status projection tracks.
var PlanTypes = []PlanType{PlanPremium, PlanSuperUser}

func (p PlanType) Valid() bool { return p == PlanPremium || p == PlanSuperUser }

type SubscriptionStatus string

const (
	SubscriptionStatusCreated   SubscriptionStatus = "created"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusHalted    SubscriptionStatus = "halted" // renewal failed, gateway retrying
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusCompleted SubscriptionStatus = "completed"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCancelled || s == SubscriptionStatusCompleted || s == SubscriptionStatusExpired
}

// IsEntitled reports whether the subscription currently grants its plan.
// A halted subscription keeps access while the gateway retries the charge.
func (s SubscriptionStatus) IsEntitled() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusHalted
}

var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusCreated: {SubscriptionStatusActive},
	SubscriptionStatusActive: {
		SubscriptionStatusHalted, SubscriptionStatusCancelled,
		SubscriptionStatusCompleted, SubscriptionStatusExpired,
	},
	SubscriptionStatusHalted: {
		SubscriptionStatusActive, SubscriptionStatusCancelled, SubscriptionStatusExpired,
	},
}

func (s SubscriptionStatus) CanTransition(next SubscriptionStatus) bool {
	for _, to := range subscriptionTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Subscription is a billing relationship between a user and a plan.
// One-off purchases get a synthetic row keyed by OriginPaymentID instead of
// a gateway subscription id.
type Subscription struct {
	ID                    string
	UserID                string
	PlanType              PlanType
	GatewaySubscriptionID *string
	OriginPaymentID       *string
	Status                SubscriptionStatus
	CurrentPeriodStart    *time.Time
	CurrentPeriodEnd      *time.Time
	NextBillingAt         *time.Time
	PaidCount             int
	TotalCount            int // 0 means open ended
	RemainingCount        int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewSyntheticSubscription creates the active row backing a one-off purchase.
func NewSyntheticSubscription(id, userID string, plan PlanType, paymentID string, start time.Time, duration time.Duration) (*Subscription, error) {
	if id == "" || userID == "" || paymentID == "" || !plan.Valid() || duration <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	end := start.Add(duration)
	return &Subscription{
		ID:                 id,
		UserID:             userID,
		PlanType:           plan,
		OriginPaymentID:    &paymentID,
		Status:             SubscriptionStatusActive,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		PaidCount:          1,
		TotalCount:         1,
		CreatedAt:          start,
		UpdatedAt:          start,
	}, nil
}

// Lapsed reports whether an entitled subscription has run past its period end.
func (s *Subscription) Lapsed(now time.Time) bool {
	return s.Status.IsEntitled() && s.CurrentPeriodEnd != nil && !now.Before(*s.CurrentPeriodEnd)
}

// FixedTermDone reports whether every cycle of a fixed-term plan has been paid.
func (s *Subscription) FixedTermDone() bool {
	return s.TotalCount > 0 && s.PaidCount >= s.TotalCount
}

func (s *Subscription) IsSynthetic() bool {
	return s.GatewaySubscriptionID == nil && s.OriginPaymentID != nil
}
