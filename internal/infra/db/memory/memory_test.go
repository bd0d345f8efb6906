//go:build !integration

package memory_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"premium-reconciler/internal/domain"
	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/repository"
	"premium-reconciler/internal/infra/db/memory"
	"premium-reconciler/internal/usecase"
)

var baseTime = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func payment(id string, created time.Time) *model.Payment {
	ev := &model.GatewayEvent{ID: id, Amount: 45100, Currency: "INR", Status: model.PaymentStatusCreated}
	return model.NewPaymentFromEvent(ev, model.PaymentStatusCreated, created)
}

func TestTxManager(t *testing.T) {
	ctx := context.Background()

	t.Run("should discard staged writes when the callback fails", func(t *testing.T) {
		s := memory.NewStore()
		tm := memory.NewTxManager(s, time.Second)
		boom := errors.New("boom")

		err := tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			_, inserted, err := s.Payments().InsertIfAbsent(ctx, tx, payment("pay_rb", baseTime))
			require.NoError(t, err)
			require.True(t, inserted)
			got, err := s.Payments().FindByGatewayID(ctx, tx, "pay_rb")
			require.NoError(t, err, "staged rows must be visible inside the transaction")
			assert.Equal(t, "pay_rb", got.GatewayPaymentID)
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = s.Payments().FindByGatewayID(ctx, repository.NoTX, "pay_rb")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("should time out waiting for a held user lock", func(t *testing.T) {
		s := memory.NewStore()
		tm := memory.NewTxManager(s, 20*time.Millisecond)
		held := make(chan struct{})
		done := make(chan struct{})

		go func() {
			_ = tm.WithUserLock(ctx, "u-1", func(ctx context.Context, tx repository.Tx) error {
				close(held)
				<-done
				return nil
			})
		}()
		<-held
		err := tm.WithUserLock(ctx, "u-1", func(ctx context.Context, tx repository.Tx) error { return nil })
		close(done)
		assert.ErrorIs(t, err, domain.ErrLockTimeout)

		assert.NoError(t, tm.WithUserLock(ctx, "u-2", func(ctx context.Context, tx repository.Tx) error { return nil }))
	})

	t.Run("should reject an empty user id", func(t *testing.T) {
		tm := memory.NewTxManager(memory.NewStore(), 0)
		err := tm.WithUserLock(ctx, "", func(ctx context.Context, tx repository.Tx) error { return nil })
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("should reject foreign transaction handles", func(t *testing.T) {
		s := memory.NewStore()
		_, err := s.Payments().FindByGatewayID(ctx, "not-a-tx", "pay_1")
		assert.ErrorIs(t, err, domain.ErrInvalidExecContext)
	})
}

func TestPaymentRepo(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	repo := s.Payments()

	for i, id := range []string{"pay_c", "pay_a", "pay_b"} {
		p := payment(id, baseTime.Add(time.Duration(i)*time.Minute))
		p.ResolutionSource = model.ResolutionUnresolved
		_, _, err := repo.InsertIfAbsent(ctx, repository.NoTX, p)
		require.NoError(t, err)
	}
	resolved := payment("pay_ok", baseTime)
	owner := "u-1"
	resolved.ResolvedUserID = &owner
	resolved.ResolutionSource = model.ResolutionEmail
	resolved.Status = model.PaymentStatusCaptured
	_, _, err := repo.InsertIfAbsent(ctx, repository.NoTX, resolved)
	require.NoError(t, err)

	t.Run("should return the stored row on a second insert", func(t *testing.T) {
		stored, inserted, err := repo.InsertIfAbsent(ctx, repository.NoTX, payment("pay_ok", baseTime))
		require.NoError(t, err)
		assert.False(t, inserted)
		assert.Equal(t, model.PaymentStatusCaptured, stored.Status)
	})

	t.Run("should list unresolved payments oldest first", func(t *testing.T) {
		rows, err := repo.ListUnresolved(ctx, repository.NoTX, baseTime, 2, 0)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "pay_c", rows[0].GatewayPaymentID)
		assert.Equal(t, "pay_a", rows[1].GatewayPaymentID)

		rows, err = repo.ListUnresolved(ctx, repository.NoTX, baseTime, 2, 2)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "pay_b", rows[0].GatewayPaymentID)
	})

	t.Run("should list skeletons left behind once the grace period passes", func(t *testing.T) {
		_, _, err := repo.InsertIfAbsent(ctx, repository.NoTX, payment("pay_stuck", baseTime.Add(-time.Hour)))
		require.NoError(t, err)

		rows, err := repo.ListUnresolved(ctx, repository.NoTX, baseTime.Add(-2*time.Hour), 10, 0)
		require.NoError(t, err)
		assert.Len(t, rows, 3)

		rows, err = repo.ListUnresolved(ctx, repository.NoTX, baseTime, 10, 0)
		require.NoError(t, err)
		require.Len(t, rows, 4)
		assert.Equal(t, "pay_stuck", rows[0].GatewayPaymentID)
		assert.Equal(t, model.ResolutionPending, rows[0].ResolutionSource)
	})

	t.Run("should sum only captured payments of the user", func(t *testing.T) {
		sum, err := repo.SumCapturedByUser(ctx, repository.NoTX, "u-1")
		require.NoError(t, err)
		assert.EqualValues(t, 45100, sum)
	})

	t.Run("should hand out copies", func(t *testing.T) {
		got, err := repo.FindByGatewayID(ctx, repository.NoTX, "pay_ok")
		require.NoError(t, err)
		*got.ResolvedUserID = "mutated"
		again, err := repo.FindByGatewayID(ctx, repository.NoTX, "pay_ok")
		require.NoError(t, err)
		assert.Equal(t, "u-1", *again.ResolvedUserID)
	})
}

func TestUserRepo(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore(memory.WithDefaultCountryCode("+91"))
	s.SeedUsers(
		&model.User{ID: "44885683", Email: " Asha@Example.com", WhatsAppNumber: "+91 89732 97600"},
		&model.User{ID: "51002211", Phone: "+91 90000 11111"},
		&model.User{ID: "51002212", Phone: "080000 22222", WhatsAppNumber: "8000033333"},
	)
	users := s.Users()

	byEmail, err := users.FindByEmail(ctx, repository.NoTX, "asha@example.com")
	require.NoError(t, err)
	require.Len(t, byEmail, 1)
	assert.Equal(t, "44885683", byEmail[0].ID)

	byWA, err := users.FindByWhatsApp(ctx, repository.NoTX, "+918973297600")
	require.NoError(t, err)
	require.Len(t, byWA, 1)

	byPhone, err := users.FindByPhone(ctx, repository.NoTX, "+919000011111")
	require.NoError(t, err)
	require.Len(t, byPhone, 1)
	assert.Equal(t, "51002211", byPhone[0].ID)

	// national numbers stored without the country code
	byPhone, err = users.FindByPhone(ctx, repository.NoTX, "+918000022222")
	require.NoError(t, err)
	require.Len(t, byPhone, 1)
	assert.Equal(t, "51002212", byPhone[0].ID)

	byWA, err = users.FindByWhatsApp(ctx, repository.NoTX, "+918000033333")
	require.NoError(t, err)
	require.Len(t, byWA, 1)
	assert.Equal(t, "51002212", byWA[0].ID)

	_, err = users.FindByID(ctx, repository.NoTX, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPipelineAgainstMemoryStore(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.New(io.Discard)

	newEngine := func() (*memory.Store, usecase.ReconciliationUseCase) {
		s := memory.NewStore(memory.WithDefaultCountryCode("91"))
		s.SeedUsers(
			&model.User{ID: "44885683", Email: "asha@example.com"},
			&model.User{ID: "51002212", Phone: "08973297611"},
		)
		repos := usecase.Repositories{
			Tx:            memory.NewTxManager(s, time.Second),
			Users:         s.Users(),
			Payments:      s.Payments(),
			Subscriptions: s.Subscriptions(),
			Statuses:      s.Statuses(),
		}
		cfg := usecase.EngineConfig{
			Resolver: usecase.ResolverConfig{DefaultCountryCode: "91"},
			Plans:    usecase.PlanDurations{model.PlanPremium: 30 * 24 * time.Hour},
			Clock:    func() time.Time { return baseTime },
		}
		return s, usecase.NewReconciliationUseCase(repos, cfg, nil, nil, &logger)
	}
	captured := func() *model.GatewayEvent {
		return &model.GatewayEvent{
			ID:         "pay_dup",
			Name:       "payment.captured",
			Amount:     45100,
			Currency:   "INR",
			Status:     model.PaymentStatusCaptured,
			Email:      "asha@example.com",
			OccurredAt: baseTime,
		}
	}

	t.Run("should resolve a contact against a phone stored without the country code", func(t *testing.T) {
		_, engine := newEngine()
		ev := captured()
		ev.ID = "pay_national"
		ev.Email = "void@gateway.com"
		ev.Contact = "+91 89732 97611"

		res, err := engine.ProcessEvent(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, usecase.OutcomeProcessed, res.Outcome)
		assert.Equal(t, "51002212", res.UserID)
		assert.Equal(t, model.ResolutionContact, res.Source)
	})

	t.Run("should apply parallel duplicate deliveries once", func(t *testing.T) {
		s, engine := newEngine()

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := engine.ProcessEvent(ctx, captured())
				if err != nil {
					errs <- err
					return
				}
				if res.Outcome == usecase.OutcomeUnresolved {
					errs <- errors.New("delivery left unresolved")
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("unexpected: %v", err)
		}

		spend, err := s.Payments().SumCapturedByUser(ctx, repository.NoTX, "44885683")
		require.NoError(t, err)
		assert.EqualValues(t, 45100, spend)

		subs, err := s.Subscriptions().ListByUser(ctx, repository.NoTX, "44885683")
		require.NoError(t, err)
		assert.Len(t, subs, 1)

		st, err := s.Statuses().Get(ctx, repository.NoTX, "44885683")
		require.NoError(t, err)
		assert.True(t, st.IsPremium)
		require.NotNil(t, st.PremiumExpiresAt)
		assert.True(t, st.PremiumExpiresAt.Equal(baseTime.Add(30*24*time.Hour)))
	})

	t.Run("should acknowledge a redelivery as duplicate", func(t *testing.T) {
		_, engine := newEngine()
		_, err := engine.ProcessEvent(ctx, captured())
		require.NoError(t, err)

		res, err := engine.ProcessEvent(ctx, captured())
		require.NoError(t, err)
		assert.Equal(t, usecase.OutcomeDuplicate, res.Outcome)
		assert.Equal(t, "44885683", res.UserID)
	})

	t.Run("should flag an unknown payer and resolve it manually", func(t *testing.T) {
		s, engine := newEngine()
		ev := captured()
		ev.ID = "pay_orphan"
		ev.Email = "void@gateway.com"

		res, err := engine.ProcessEvent(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, usecase.OutcomeUnresolved, res.Outcome)

		open, err := engine.ListUnresolved(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, open, 1)

		res, err = engine.ResolveManually(ctx, "pay_orphan", "44885683")
		require.NoError(t, err)
		assert.Equal(t, model.ResolutionManual, res.Source)
		assert.True(t, res.Status.IsPremium)

		open, err = engine.ListUnresolved(ctx, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, open)

		stored, err := s.Payments().FindByGatewayID(ctx, repository.NoTX, "pay_orphan")
		require.NoError(t, err)
		assert.Equal(t, "44885683", *stored.ResolvedUserID)
	})
}
