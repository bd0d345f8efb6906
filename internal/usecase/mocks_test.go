//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"premium-reconciler/internal/domain"
	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/adapter"
	"premium-reconciler/internal/domain/ports/repository"
	"premium-reconciler/internal/usecase"
)

// -----------------------------
// Utilities
// -----------------------------

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *fixedClock { return &fixedClock{t: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func timePtr(t time.Time) *time.Time {
	return &t
}

func clonePayment(p *model.Payment) *model.Payment {
	c := *p
	if p.ResolvedUserID != nil {
		c.ResolvedUserID = strPtr(*p.ResolvedUserID)
	}
	if p.GatewaySubscriptionID != nil {
		c.GatewaySubscriptionID = strPtr(*p.GatewaySubscriptionID)
	}
	if p.CapturedAt != nil {
		c.CapturedAt = timePtr(*p.CapturedAt)
	}
	c.RawEvent = append([]byte(nil), p.RawEvent...)
	return &c
}

func cloneSubscription(s *model.Subscription) *model.Subscription {
	c := *s
	for _, pp := range []**time.Time{&c.CurrentPeriodStart, &c.CurrentPeriodEnd, &c.NextBillingAt} {
		if *pp != nil {
			*pp = timePtr(**pp)
		}
	}
	return &c
}

func cloneStatus(s *model.UserSubscriptionStatus) *model.UserSubscriptionStatus {
	c := *s
	return &c
}

// -----------------------------
// Transactions
// -----------------------------

type MockTxManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	LockCalls int
	// WithUserLockFunc overrides the lock, e.g. to simulate a timeout.
	WithUserLockFunc func(ctx context.Context, userID string, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{locks: make(map[string]*sync.Mutex)}
}

func (m *MockTxManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, repository.NoTX)
}

func (m *MockTxManager) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithUserLockFunc != nil {
		return m.WithUserLockFunc(ctx, userID, fn)
	}
	m.mu.Lock()
	m.LockCalls++
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	m.mu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn(ctx, repository.NoTX)
}

// -----------------------------
// Users
// -----------------------------

type MockUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User

	FindByIDFunc func(ctx context.Context, tx repository.Tx, id string) (*model.User, error)
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo(users ...*model.User) *MockUserRepo {
	m := &MockUserRepo{users: make(map[string]*model.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (m *MockUserRepo) FindByEmail(ctx context.Context, tx repository.Tx, email string) ([]*model.User, error) {
	return m.filter(func(u *model.User) bool { return usecase.NormalizeEmail(u.Email) == email }), nil
}

func (m *MockUserRepo) FindByWhatsApp(ctx context.Context, tx repository.Tx, number string) ([]*model.User, error) {
	return m.filter(func(u *model.User) bool { return sameNumber(u.WhatsAppNumber, number) }), nil
}

func (m *MockUserRepo) FindByPhone(ctx context.Context, tx repository.Tx, number string) ([]*model.User, error) {
	return m.filter(func(u *model.User) bool { return sameNumber(u.Phone, number) }), nil
}

func (m *MockUserRepo) filter(keep func(*model.User) bool) []*model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.User
	for _, u := range m.users {
		if keep(u) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sameNumber(stored, number string) bool {
	if stored == "" {
		return false
	}
	n, ok := model.NormalizeContact(stored, "91")
	return ok && n == number
}

// -----------------------------
// Payments
// -----------------------------

type MockPaymentRepo struct {
	mu   sync.Mutex
	rows map[string]*model.Payment

	Updates int

	InsertIfAbsentFunc func(ctx context.Context, tx repository.Tx, p *model.Payment) (*model.Payment, bool, error)
	UpdateFunc         func(ctx context.Context, tx repository.Tx, p *model.Payment) error
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{rows: make(map[string]*model.Payment)}
}

func (m *MockPaymentRepo) InsertIfAbsent(ctx context.Context, tx repository.Tx, p *model.Payment) (*model.Payment, bool, error) {
	if m.InsertIfAbsentFunc != nil {
		return m.InsertIfAbsentFunc(ctx, tx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rows[p.GatewayPaymentID]; ok {
		return clonePayment(existing), false, nil
	}
	m.rows[p.GatewayPaymentID] = clonePayment(p)
	return clonePayment(p), true, nil
}

func (m *MockPaymentRepo) FindByGatewayID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clonePayment(p), nil
}

func (m *MockPaymentRepo) Update(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, tx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[p.GatewayPaymentID]; !ok {
		return domain.ErrNotFound
	}
	m.Updates++
	m.rows[p.GatewayPaymentID] = clonePayment(p)
	return nil
}

func (m *MockPaymentRepo) ListUnresolved(ctx context.Context, tx repository.Tx, pendingBefore time.Time, limit, offset int) ([]*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Payment
	for _, p := range m.rows {
		if p.AwaitsReconciliation(pendingBefore) {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GatewayPaymentID < out[j].GatewayPaymentID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockPaymentRepo) SumCapturedByUser(ctx context.Context, tx repository.Tx, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, p := range m.rows {
		if p.Status == model.PaymentStatusCaptured && p.ResolvedUserID != nil && *p.ResolvedUserID == userID {
			sum += p.Amount
		}
	}
	return sum, nil
}

func (m *MockPaymentRepo) Get(id string) *model.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.rows[id]; ok {
		return clonePayment(p)
	}
	return nil
}

func (m *MockPaymentRepo) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// -----------------------------
// Subscriptions
// -----------------------------

type MockSubscriptionRepo struct {
	mu   sync.Mutex
	rows map[string]*model.Subscription

	Saves int
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo(subs ...*model.Subscription) *MockSubscriptionRepo {
	m := &MockSubscriptionRepo{rows: make(map[string]*model.Subscription)}
	for _, s := range subs {
		m.rows[s.ID] = cloneSubscription(s)
	}
	return m
}

func (m *MockSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Saves++
	m.rows[s.ID] = cloneSubscription(s)
	return nil
}

func (m *MockSubscriptionRepo) FindByGatewayID(ctx context.Context, tx repository.Tx, gid string) (*model.Subscription, error) {
	return m.find(func(s *model.Subscription) bool {
		return s.GatewaySubscriptionID != nil && *s.GatewaySubscriptionID == gid
	})
}

func (m *MockSubscriptionRepo) FindByOriginPayment(ctx context.Context, tx repository.Tx, paymentID string) (*model.Subscription, error) {
	return m.find(func(s *model.Subscription) bool {
		return s.OriginPaymentID != nil && *s.OriginPaymentID == paymentID
	})
}

func (m *MockSubscriptionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Subscription, error) {
	return m.All(userID), nil
}

func (m *MockSubscriptionRepo) find(match func(*model.Subscription) bool) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if match(s) {
			return cloneSubscription(s), nil
		}
	}
	return nil, domain.ErrNotFound
}

// All returns the user's rows, most recent first.
func (m *MockSubscriptionRepo) All(userID string) []*model.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.rows {
		if s.UserID == userID {
			out = append(out, cloneSubscription(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// -----------------------------
// Status projection
// -----------------------------

type MockStatusRepo struct {
	mu   sync.Mutex
	rows map[string]*model.UserSubscriptionStatus

	Upserts int
	GetFunc func(ctx context.Context, tx repository.Tx, userID string) (*model.UserSubscriptionStatus, error)
}

var _ repository.StatusRepository = (*MockStatusRepo)(nil)

func NewMockStatusRepo() *MockStatusRepo {
	return &MockStatusRepo{rows: make(map[string]*model.UserSubscriptionStatus)}
}

func (m *MockStatusRepo) Get(ctx context.Context, tx repository.Tx, userID string) (*model.UserSubscriptionStatus, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, tx, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.rows[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneStatus(st), nil
}

func (m *MockStatusRepo) Upsert(ctx context.Context, tx repository.Tx, st *model.UserSubscriptionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Upserts++
	m.rows[st.UserID] = cloneStatus(st)
	return nil
}

func (m *MockStatusRepo) ListExpired(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, st := range m.rows {
		if st.Stale(now) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// -----------------------------
// Quarantine
// -----------------------------

type MockQuarantineRepo struct {
	mu   sync.Mutex
	rows []*model.QuarantinedEvent
}

var _ repository.QuarantineRepository = (*MockQuarantineRepo)(nil)

func (m *MockQuarantineRepo) Save(ctx context.Context, tx repository.Tx, q *model.QuarantinedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, q)
	return nil
}

func (m *MockQuarantineRepo) List(ctx context.Context, tx repository.Tx, limit, offset int) ([]*model.QuarantinedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset >= len(m.rows) {
		return nil, nil
	}
	out := m.rows[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// -----------------------------
// Cache and notifier
// -----------------------------

type MockStatusCache struct {
	mu          sync.Mutex
	rows        map[string]*model.UserSubscriptionStatus
	fences      map[string]time.Time
	Invalidated []string
}

var _ repository.StatusCache = (*MockStatusCache)(nil)

func NewMockStatusCache() *MockStatusCache {
	return &MockStatusCache{
		rows:   make(map[string]*model.UserSubscriptionStatus),
		fences: make(map[string]time.Time),
	}
}

func (m *MockStatusCache) Get(ctx context.Context, userID string) (*model.UserSubscriptionStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.rows[userID]
	if !ok {
		return nil, false
	}
	return cloneStatus(st), true
}

func (m *MockStatusCache) Set(ctx context.Context, st *model.UserSubscriptionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st.ProjectedAt.Before(m.fences[st.UserID]) {
		return
	}
	m.rows[st.UserID] = cloneStatus(st)
}

func (m *MockStatusCache) Invalidate(ctx context.Context, userID string, asOf time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, userID)
	if asOf.After(m.fences[userID]) {
		m.fences[userID] = asOf
	}
	m.Invalidated = append(m.Invalidated, userID)
}

type MockNotifier struct {
	mu       sync.Mutex
	Notified []string
}

var _ adapter.OperatorNotifier = (*MockNotifier)(nil)

func (m *MockNotifier) NotifyUnresolved(ctx context.Context, p *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notified = append(m.Notified, p.GatewayPaymentID)
	return nil
}

func (m *MockNotifier) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Notified)
}

// -----------------------------
// Harness
// -----------------------------

type harness struct {
	clock      *fixedClock
	tx         *MockTxManager
	users      *MockUserRepo
	payments   *MockPaymentRepo
	subs       *MockSubscriptionRepo
	statuses   *MockStatusRepo
	cache      *MockStatusCache
	notifier   *MockNotifier
	repos      usecase.Repositories
	cfg        usecase.EngineConfig
	reconciler usecase.ReconciliationUseCase
	status     usecase.StatusUseCase
}

var baseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newHarness(users ...*model.User) *harness {
	h := &harness{
		clock:    newClock(baseTime),
		tx:       NewMockTxManager(),
		users:    NewMockUserRepo(users...),
		payments: NewMockPaymentRepo(),
		subs:     NewMockSubscriptionRepo(),
		statuses: NewMockStatusRepo(),
		cache:    NewMockStatusCache(),
		notifier: &MockNotifier{},
	}
	h.repos = usecase.Repositories{
		Tx:            h.tx,
		Users:         h.users,
		Payments:      h.payments,
		Subscriptions: h.subs,
		Statuses:      h.statuses,
	}
	h.cfg = usecase.EngineConfig{
		Resolver: usecase.ResolverConfig{DefaultCountryCode: "91"},
		Plans: usecase.PlanDurations{
			model.PlanPremium:   30 * 24 * time.Hour,
			model.PlanSuperUser: 30 * 24 * time.Hour,
		},
		Clock: h.clock.Now,
	}
	h.reconciler = usecase.NewReconciliationUseCase(h.repos, h.cfg, h.cache, h.notifier, newTestLogger())
	h.status = usecase.NewStatusUseCase(h.repos, h.cfg, h.cache, newTestLogger())
	return h
}

func capturedEvent(id string, amount int64) *model.GatewayEvent {
	return &model.GatewayEvent{
		ID:         id,
		Name:       "payment.captured",
		Amount:     amount,
		Currency:   "INR",
		Status:     model.PaymentStatusCaptured,
		Method:     "upi",
		OccurredAt: baseTime,
	}
}
