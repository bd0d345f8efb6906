package model

import "time"

// UserSubscriptionStatus is the per-user projection the rest of the application
// reads for authorization decisions. It is recomputed from payments and
// subscriptions, never edited by hand.
type UserSubscriptionStatus struct {
	UserID                  string
	IsPremium               bool
	IsSuperUser             bool
	PremiumExpiresAt        *time.Time
	SuperUserExpiresAt      *time.Time
	PremiumSubscriptionID   *string
	SuperUserSubscriptionID *string
	LifetimeSpend           int64 // captured amounts, minor units
	ProjectedAt             time.Time
}

// Stale reports whether a granted flag has outlived its expiry, meaning the
// projection must be recomputed before it is served.
func (s *UserSubscriptionStatus) Stale(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.IsPremium && s.PremiumExpiresAt != nil && !now.Before(*s.PremiumExpiresAt) {
		return true
	}
	if s.IsSuperUser && s.SuperUserExpiresAt != nil && !now.Before(*s.SuperUserExpiresAt) {
		return true
	}
	return false
}

// SameProjection compares every derived field, ignoring ProjectedAt.
func (s *UserSubscriptionStatus) SameProjection(o *UserSubscriptionStatus) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.UserID == o.UserID &&
		s.IsPremium == o.IsPremium &&
		s.IsSuperUser == o.IsSuperUser &&
		sameTime(s.PremiumExpiresAt, o.PremiumExpiresAt) &&
		sameTime(s.SuperUserExpiresAt, o.SuperUserExpiresAt) &&
		sameString(s.PremiumSubscriptionID, o.PremiumSubscriptionID) &&
		sameString(s.SuperUserSubscriptionID, o.SuperUserSubscriptionID) &&
		s.LifetimeSpend == o.LifetimeSpend
}

// Set stores the flag, expiry and backing subscription for one plan.
func (s *UserSubscriptionStatus) Set(plan PlanType, entitled bool, expiresAt *time.Time, subscriptionID *string) {
	switch plan {
	case PlanPremium:
		s.IsPremium, s.PremiumExpiresAt, s.PremiumSubscriptionID = entitled, expiresAt, subscriptionID
	case PlanSuperUser:
		s.IsSuperUser, s.SuperUserExpiresAt, s.SuperUserSubscriptionID = entitled, expiresAt, subscriptionID
	}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
