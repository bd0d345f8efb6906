package model

import (
	"strings"
	"time"
)

// User is the application's canonical account. This core only reads users;
// registration and profile flows own their lifecycle.
type User struct {
	ID             string
	Email          string // verified email, may be empty
	Phone          string
	WhatsAppNumber string
	DisplayName    string

	// Legacy direct grants made by older admin tooling, not backed by a Subscription row.
	LegacyPremiumUntil   *time.Time
	LegacySuperUserUntil *time.Time
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }

// LegacyGrant returns the direct-grant expiry for the given plan, if any.
func (u *User) LegacyGrant(plan PlanType) *time.Time {
	if u == nil {
		return nil
	}
	switch plan {
	case PlanPremium:
		return u.LegacyPremiumUntil
	case PlanSuperUser:
		return u.LegacySuperUserUntil
	}
	return nil
}

// NormalizeContact converts a free-form phone string into "+<digits>".
// Spaces and common punctuation are dropped, a "00" international prefix
// becomes "+", and a bare national number (optionally with a trunk "0") gets
// defaultCC. Anything with letters, or outside 8..15 digits, is rejected.
func NormalizeContact(raw, defaultCC string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	international := strings.HasPrefix(s, "+")
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.' || r == '/':
		default:
			return "", false
		}
	}
	digits := b.String()
	switch {
	case international:
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case defaultCC != "" && len(digits) <= 11:
		digits = defaultCC + strings.TrimPrefix(digits, "0")
	}
	if len(digits) < 8 || len(digits) > 15 {
		return "", false
	}
	return "+" + digits, true
}
