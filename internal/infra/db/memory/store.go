// Package memory is a process-local store implementing the repository ports.
// It backs local runs (database url "memory://") and the pipeline tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"premium-reconciler/internal/domain"
	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/repository"
)

// DSN selects the in-memory store instead of Postgres.
const DSN = "memory://"

type Store struct {
	mu         sync.RWMutex
	users      map[string]*model.User
	payments   map[string]*model.Payment
	subs       map[string]*model.Subscription
	statuses   map[string]*model.UserSubscriptionStatus
	quarantine []*model.QuarantinedEvent

	locks     *lockTable
	defaultCC string
}

type Option func(*Store)

// WithDefaultCountryCode is applied to stored phone numbers written without
// an international prefix.
func WithDefaultCountryCode(cc string) Option {
	return func(s *Store) { s.defaultCC = strings.TrimPrefix(strings.TrimSpace(cc), "+") }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		users:    make(map[string]*model.User),
		payments: make(map[string]*model.Payment),
		subs:     make(map[string]*model.Subscription),
		statuses: make(map[string]*model.UserSubscriptionStatus),
		locks:    newLockTable(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// txn stages writes until commit. Row locks taken by reads inside the
// transaction are held until it ends.
type txn struct {
	store    *Store
	wait     time.Duration
	payments map[string]*model.Payment
	inserted map[string]bool
	subs     map[string]*model.Subscription
	statuses map[string]*model.UserSubscriptionStatus
	held     []string
}

func (s *Store) begin(wait time.Duration) *txn {
	return &txn{
		store:    s,
		wait:     wait,
		payments: make(map[string]*model.Payment),
		inserted: make(map[string]bool),
		subs:     make(map[string]*model.Subscription),
		statuses: make(map[string]*model.UserSubscriptionStatus),
	}
}

func (t *txn) lock(ctx context.Context, key string) error {
	for _, k := range t.held {
		if k == key {
			return nil
		}
	}
	if err := t.store.locks.acquire(ctx, key, t.wait); err != nil {
		return err
	}
	t.held = append(t.held, key)
	return nil
}

func (t *txn) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.store.locks.release(t.held[i])
	}
	t.held = nil
}

// commit applies staged rows. A payment inserted concurrently by another
// transaction fails the commit the way a unique violation would.
func (t *txn) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range t.inserted {
		if _, ok := s.payments[id]; ok {
			return fmt.Errorf("%w: payment %s inserted concurrently", domain.ErrTransientStorage, id)
		}
	}
	for id, p := range t.payments {
		s.payments[id] = p
	}
	for id, sub := range t.subs {
		s.subs[id] = sub
	}
	for id, st := range t.statuses {
		s.statuses[id] = st
	}
	return nil
}

// txOf unwraps the handle passed by TxManager; NoTX reads committed state.
func txOf(tx repository.Tx) (*txn, error) {
	switch v := tx.(type) {
	case nil:
		return nil, nil
	case *txn:
		return v, nil
	default:
		return nil, domain.ErrInvalidExecContext
	}
}

// SeedUsers upserts application users. The pipeline itself never writes users.
func (s *Store) SeedUsers(users ...*model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		c := *u
		s.users[u.ID] = &c
	}
}

func (s *Store) Users() *UserRepo                 { return &UserRepo{s: s} }
func (s *Store) Payments() *PaymentRepo           { return &PaymentRepo{s: s} }
func (s *Store) Subscriptions() *SubscriptionRepo { return &SubscriptionRepo{s: s} }
func (s *Store) Statuses() *StatusRepo            { return &StatusRepo{s: s} }
func (s *Store) Quarantine() *QuarantineRepo      { return &QuarantineRepo{s: s} }

func page[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func sortUsers(us []*model.User) []*model.User {
	sort.Slice(us, func(i, j int) bool { return us[i].ID < us[j].ID })
	if len(us) > 5 {
		us = us[:5]
	}
	return us
}
