package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"premium-reconciler/internal/domain"
	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/repository"
)

var (
	_ repository.UserRepository         = (*UserRepo)(nil)
	_ repository.PaymentRepository      = (*PaymentRepo)(nil)
	_ repository.SubscriptionRepository = (*SubscriptionRepo)(nil)
	_ repository.StatusRepository       = (*StatusRepo)(nil)
	_ repository.QuarantineRepository   = (*QuarantineRepo)(nil)
)

// -----------------------------
// Users
// -----------------------------

type UserRepo struct{ s *Store }

func (r *UserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if _, err := txOf(tx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *UserRepo) FindByEmail(ctx context.Context, tx repository.Tx, email string) ([]*model.User, error) {
	return r.filter(tx, func(u *model.User) bool {
		return u.Email != "" && strings.ToLower(strings.TrimSpace(u.Email)) == email
	})
}

func (r *UserRepo) FindByWhatsApp(ctx context.Context, tx repository.Tx, number string) ([]*model.User, error) {
	return r.filter(tx, func(u *model.User) bool { return r.sameNumber(u.WhatsAppNumber, number) })
}

func (r *UserRepo) FindByPhone(ctx context.Context, tx repository.Tx, number string) ([]*model.User, error) {
	return r.filter(tx, func(u *model.User) bool { return r.sameNumber(u.Phone, number) })
}

func (r *UserRepo) sameNumber(stored, number string) bool {
	if stored == "" || number == "" {
		return false
	}
	n, ok := model.NormalizeContact(stored, r.s.defaultCC)
	return ok && n == number
}

func (r *UserRepo) filter(tx repository.Tx, keep func(*model.User) bool) ([]*model.User, error) {
	if _, err := txOf(tx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*model.User
	for _, u := range r.s.users {
		if keep(u) {
			c := *u
			out = append(out, &c)
		}
	}
	return sortUsers(out), nil
}

// -----------------------------
// Payments
// -----------------------------

type PaymentRepo struct{ s *Store }

func (r *PaymentRepo) InsertIfAbsent(ctx context.Context, tx repository.Tx, p *model.Payment) (*model.Payment, bool, error) {
	t, err := txOf(tx)
	if err != nil {
		return nil, false, err
	}
	if t != nil {
		if err := t.lock(ctx, "payment:"+p.GatewayPaymentID); err != nil {
			return nil, false, err
		}
		if existing := r.get(t, p.GatewayPaymentID); existing != nil {
			return existing, false, nil
		}
		t.payments[p.GatewayPaymentID] = clonePayment(p)
		t.inserted[p.GatewayPaymentID] = true
		return clonePayment(p), true, nil
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.payments[p.GatewayPaymentID]; ok {
		return clonePayment(existing), false, nil
	}
	r.s.payments[p.GatewayPaymentID] = clonePayment(p)
	return clonePayment(p), true, nil
}

func (r *PaymentRepo) FindByGatewayID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	t, err := txOf(tx)
	if err != nil {
		return nil, err
	}
	if t != nil {
		if err := t.lock(ctx, "payment:"+id); err != nil {
			return nil, err
		}
	}
	if p := r.get(t, id); p != nil {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (r *PaymentRepo) get(t *txn, id string) *model.Payment {
	if t != nil {
		if p, ok := t.payments[id]; ok {
			return clonePayment(p)
		}
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if p, ok := r.s.payments[id]; ok {
		return clonePayment(p)
	}
	return nil
}

func (r *PaymentRepo) Update(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	t, err := txOf(tx)
	if err != nil {
		return err
	}
	if r.get(t, p.GatewayPaymentID) == nil {
		return domain.ErrNotFound
	}
	c := clonePayment(p)
	if t != nil {
		t.payments[p.GatewayPaymentID] = c
		return nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.payments[p.GatewayPaymentID] = c
	return nil
}

func (r *PaymentRepo) ListUnresolved(ctx context.Context, tx repository.Tx, pendingBefore time.Time, limit, offset int) ([]*model.Payment, error) {
	rows, err := r.view(tx)
	if err != nil {
		return nil, err
	}
	var out []*model.Payment
	for _, p := range rows {
		if p.AwaitsReconciliation(pendingBefore) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].GatewayPaymentID < out[j].GatewayPaymentID
	})
	return page(out, limit, offset), nil
}

func (r *PaymentRepo) SumCapturedByUser(ctx context.Context, tx repository.Tx, userID string) (int64, error) {
	rows, err := r.view(tx)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, p := range rows {
		if p.Status == model.PaymentStatusCaptured && p.ResolvedUserID != nil && *p.ResolvedUserID == userID {
			sum += p.Amount
		}
	}
	return sum, nil
}

// view merges staged rows over committed ones.
func (r *PaymentRepo) view(tx repository.Tx) (map[string]*model.Payment, error) {
	t, err := txOf(tx)
	if err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	out := make(map[string]*model.Payment, len(r.s.payments))
	for id, p := range r.s.payments {
		out[id] = clonePayment(p)
	}
	r.s.mu.RUnlock()
	if t != nil {
		for id, p := range t.payments {
			out[id] = clonePayment(p)
		}
	}
	return out, nil
}

// -----------------------------
// Subscriptions
// -----------------------------

type SubscriptionRepo struct{ s *Store }

func (r *SubscriptionRepo) Save(ctx context.Context, tx repository.Tx, sub *model.Subscription) error {
	t, err := txOf(tx)
	if err != nil {
		return err
	}
	rows, err := r.view(tx)
	if err != nil {
		return err
	}
	for _, other := range rows {
		if other.ID == sub.ID {
			continue
		}
		if sameRef(other.GatewaySubscriptionID, sub.GatewaySubscriptionID) || sameRef(other.OriginPaymentID, sub.OriginPaymentID) {
			return fmt.Errorf("%w: subscription for the same gateway reference", domain.ErrAlreadyExists)
		}
	}
	c := cloneSubscription(sub)
	if t != nil {
		t.subs[sub.ID] = c
		return nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.subs[sub.ID] = c
	return nil
}

func (r *SubscriptionRepo) FindByGatewayID(ctx context.Context, tx repository.Tx, gid string) (*model.Subscription, error) {
	return r.find(ctx, tx, func(s *model.Subscription) bool { return sameRef(s.GatewaySubscriptionID, &gid) })
}

func (r *SubscriptionRepo) FindByOriginPayment(ctx context.Context, tx repository.Tx, paymentID string) (*model.Subscription, error) {
	return r.find(ctx, tx, func(s *model.Subscription) bool { return sameRef(s.OriginPaymentID, &paymentID) })
}

func (r *SubscriptionRepo) find(ctx context.Context, tx repository.Tx, match func(*model.Subscription) bool) (*model.Subscription, error) {
	rows, err := r.view(tx)
	if err != nil {
		return nil, err
	}
	for _, s := range rows {
		if !match(s) {
			continue
		}
		if t, _ := txOf(tx); t != nil {
			if err := t.lock(ctx, "subscription:"+s.ID); err != nil {
				return nil, err
			}
			// re-read after waiting for the row
			return r.findByID(t, s.ID)
		}
		return s, nil
	}
	return nil, domain.ErrNotFound
}

func (r *SubscriptionRepo) findByID(t *txn, id string) (*model.Subscription, error) {
	if s, ok := t.subs[id]; ok {
		return cloneSubscription(s), nil
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if s, ok := r.s.subs[id]; ok {
		return cloneSubscription(s), nil
	}
	return nil, domain.ErrNotFound
}

func (r *SubscriptionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Subscription, error) {
	rows, err := r.view(tx)
	if err != nil {
		return nil, err
	}
	var out []*model.Subscription
	for _, s := range rows {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *SubscriptionRepo) view(tx repository.Tx) (map[string]*model.Subscription, error) {
	t, err := txOf(tx)
	if err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	out := make(map[string]*model.Subscription, len(r.s.subs))
	for id, s := range r.s.subs {
		out[id] = cloneSubscription(s)
	}
	r.s.mu.RUnlock()
	if t != nil {
		for id, s := range t.subs {
			out[id] = cloneSubscription(s)
		}
	}
	return out, nil
}

func sameRef(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

// -----------------------------
// Status projection
// -----------------------------

type StatusRepo struct{ s *Store }

func (r *StatusRepo) Get(ctx context.Context, tx repository.Tx, userID string) (*model.UserSubscriptionStatus, error) {
	t, err := txOf(tx)
	if err != nil {
		return nil, err
	}
	if t != nil {
		if st, ok := t.statuses[userID]; ok {
			c := *st
			return &c, nil
		}
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	st, ok := r.s.statuses[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *st
	return &c, nil
}

func (r *StatusRepo) Upsert(ctx context.Context, tx repository.Tx, st *model.UserSubscriptionStatus) error {
	t, err := txOf(tx)
	if err != nil {
		return err
	}
	c := *st
	if t != nil {
		t.statuses[st.UserID] = &c
		return nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.statuses[st.UserID] = &c
	return nil
}

func (r *StatusRepo) ListExpired(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]string, error) {
	if _, err := txOf(tx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	var out []string
	for id, st := range r.s.statuses {
		if st.Stale(now) {
			out = append(out, id)
		}
	}
	r.s.mu.RUnlock()
	sort.Strings(out)
	return page(out, limit, 0), nil
}

// -----------------------------
// Quarantine
// -----------------------------

type QuarantineRepo struct{ s *Store }

func (r *QuarantineRepo) Save(ctx context.Context, tx repository.Tx, q *model.QuarantinedEvent) error {
	if _, err := txOf(tx); err != nil {
		return err
	}
	c := *q
	c.Payload = append([]byte(nil), q.Payload...)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.quarantine = append(r.s.quarantine, &c)
	return nil
}

// List returns the newest entries first.
func (r *QuarantineRepo) List(ctx context.Context, tx repository.Tx, limit, offset int) ([]*model.QuarantinedEvent, error) {
	if _, err := txOf(tx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	out := make([]*model.QuarantinedEvent, 0, len(r.s.quarantine))
	for i := len(r.s.quarantine) - 1; i >= 0; i-- {
		c := *r.s.quarantine[i]
		out = append(out, &c)
	}
	r.s.mu.RUnlock()
	return page(out, limit, offset), nil
}

// -----------------------------
// Copies
// -----------------------------

func clonePayment(p *model.Payment) *model.Payment {
	c := *p
	c.ResolvedUserID = cloneStr(p.ResolvedUserID)
	c.GatewaySubscriptionID = cloneStr(p.GatewaySubscriptionID)
	c.CapturedAt = cloneTime(p.CapturedAt)
	c.Notes = model.NotesFromMap(p.Notes.Map())
	c.RawEvent = append([]byte(nil), p.RawEvent...)
	return &c
}

func cloneSubscription(s *model.Subscription) *model.Subscription {
	c := *s
	c.GatewaySubscriptionID = cloneStr(s.GatewaySubscriptionID)
	c.OriginPaymentID = cloneStr(s.OriginPaymentID)
	c.CurrentPeriodStart = cloneTime(s.CurrentPeriodStart)
	c.CurrentPeriodEnd = cloneTime(s.CurrentPeriodEnd)
	c.NextBillingAt = cloneTime(s.NextBillingAt)
	return &c
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
