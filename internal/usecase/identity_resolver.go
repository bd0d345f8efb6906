package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"premium-reconciler/internal/domain"
	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/repository"
)

// ResolverConfig tunes the placeholder-email and phone normalization rules.
type ResolverConfig struct {
	// GenericEmails are full addresses the gateway substitutes when the payer's
	// real email is unknown or masked.
	GenericEmails []string
	// GenericLocalParts are mailbox names that never identify a person.
	GenericLocalParts []string
	// DefaultCountryCode is prepended (digits only, e.g. "91") to bare national numbers.
	DefaultCountryCode string
}

var (
	defaultGenericEmails = []string{
		"void@razorpay.com",
		"void@gateway.com",
		"noreply@razorpay.com",
	}
	defaultGenericLocalParts = []string{
		"void", "noreply", "no-reply", "donotreply", "do-not-reply",
		"test", "dummy", "na", "none", "null", "nil", "placeholder", "unknown",
	}
)

// Outcomes recorded per rule while resolving.
const (
	AttemptMatched   = "matched"
	AttemptAbsent    = "absent"
	AttemptGeneric   = "generic"
	AttemptInvalid   = "invalid"
	AttemptNoUser    = "no_user"
	AttemptAmbiguous = "ambiguous"
)

type ResolutionAttempt struct {
	Rule    model.ResolutionSource
	Outcome string
}

// Resolution is the resolver's verdict plus the trail of rules it tried.
type Resolution struct {
	UserID   string
	Source   model.ResolutionSource
	Attempts []ResolutionAttempt
}

func (r *Resolution) Resolved() bool { return r != nil && r.UserID != "" }

func (r *Resolution) note(rule model.ResolutionSource, outcome string) {
	r.Attempts = append(r.Attempts, ResolutionAttempt{Rule: rule, Outcome: outcome})
}

func (r *Resolution) match(rule model.ResolutionSource, userID string) *Resolution {
	r.note(rule, AttemptMatched)
	r.UserID = userID
	r.Source = rule
	return r
}

// Trail renders the attempts as "rule=outcome" pairs for logs.
func (r *Resolution) Trail() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		parts = append(parts, string(a.Rule)+"="+a.Outcome)
	}
	return strings.Join(parts, ",")
}

// IdentityResolver maps a gateway event to exactly one user. Rules are tried
// strongest first: the application's own stamped notes.user_id, then a
// non-placeholder email, then the contact number. A rule that matches several
// users counts as no match.
type IdentityResolver struct {
	users         repository.UserRepository
	genericEmails map[string]struct{}
	genericLocal  map[string]struct{}
	defaultCC     string
}

func NewIdentityResolver(users repository.UserRepository, cfg ResolverConfig) *IdentityResolver {
	emails := cfg.GenericEmails
	if len(emails) == 0 {
		emails = defaultGenericEmails
	}
	locals := cfg.GenericLocalParts
	if len(locals) == 0 {
		locals = defaultGenericLocalParts
	}
	r := &IdentityResolver{
		users:         users,
		genericEmails: make(map[string]struct{}, len(emails)),
		genericLocal:  make(map[string]struct{}, len(locals)),
		defaultCC:     strings.TrimPrefix(strings.TrimSpace(cfg.DefaultCountryCode), "+"),
	}
	for _, e := range emails {
		r.genericEmails[NormalizeEmail(e)] = struct{}{}
	}
	for _, l := range locals {
		r.genericLocal[strings.ToLower(strings.TrimSpace(l))] = struct{}{}
	}
	return r
}

// Resolve returns the matched user, or a Resolution carrying the attempt trail
// together with an error wrapping domain.ErrUnresolvedIdentity. Any other
// error comes from storage.
func (r *IdentityResolver) Resolve(ctx context.Context, tx repository.Tx, ev *model.GatewayEvent) (*Resolution, error) {
	res := &Resolution{}

	// 1. notes.user_id
	if id := ev.Notes.UserID; id == "" {
		res.note(model.ResolutionNotesUserID, AttemptAbsent)
	} else {
		u, err := r.users.FindByID(ctx, tx, id)
		switch {
		case err == nil && !u.IsZero():
			return res.match(model.ResolutionNotesUserID, u.ID), nil
		case err == nil || errors.Is(err, domain.ErrNotFound):
			res.note(model.ResolutionNotesUserID, AttemptNoUser)
		default:
			return res, err
		}
	}

	// 2. email, unless it is a gateway placeholder
	email := NormalizeEmail(ev.Email)
	switch {
	case email == "":
		res.note(model.ResolutionEmail, AttemptAbsent)
	case !strings.Contains(email, "@"):
		res.note(model.ResolutionEmail, AttemptInvalid)
	case r.IsGenericEmail(email):
		res.note(model.ResolutionEmail, AttemptGeneric)
	default:
		users, err := r.users.FindByEmail(ctx, tx, email)
		if err != nil {
			return res, err
		}
		if id, outcome := pickOne(users); id != "" {
			return res.match(model.ResolutionEmail, id), nil
		} else {
			res.note(model.ResolutionEmail, outcome)
		}
	}

	// 3. contact number against WhatsApp then phone
	number, ok := model.NormalizeContact(ev.Contact, r.defaultCC)
	switch {
	case strings.TrimSpace(ev.Contact) == "":
		res.note(model.ResolutionContact, AttemptAbsent)
	case !ok:
		res.note(model.ResolutionContact, AttemptInvalid)
	default:
		byWhatsApp, err := r.users.FindByWhatsApp(ctx, tx, number)
		if err != nil {
			return res, err
		}
		byPhone, err := r.users.FindByPhone(ctx, tx, number)
		if err != nil {
			return res, err
		}
		if id, outcome := pickOne(append(byWhatsApp, byPhone...)); id != "" {
			return res.match(model.ResolutionContact, id), nil
		} else {
			res.note(model.ResolutionContact, outcome)
		}
	}

	return res, fmt.Errorf("%w: payment %s (%s)", domain.ErrUnresolvedIdentity, ev.ID, res.Trail())
}

// IsGenericEmail recognizes placeholder or masked addresses that must never be matched.
func (r *IdentityResolver) IsGenericEmail(email string) bool {
	email = NormalizeEmail(email)
	if _, ok := r.genericEmails[email]; ok {
		return true
	}
	if strings.Contains(email, "*") || strings.Contains(email, "xxxx") {
		return true
	}
	local, _, found := strings.Cut(email, "@")
	if !found {
		return false
	}
	_, ok := r.genericLocal[local]
	return ok
}

// pickOne returns the single distinct user id in users, or an outcome explaining why not.
func pickOne(users []*model.User) (string, string) {
	id := ""
	for _, u := range users {
		if u.IsZero() {
			continue
		}
		if id != "" && u.ID != id {
			return "", AttemptAmbiguous
		}
		id = u.ID
	}
	if id == "" {
		return "", AttemptNoUser
	}
	return id, AttemptMatched
}

func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
