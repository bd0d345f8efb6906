//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"premium-reconciler/internal/domain"
	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/repository"
)

func newTestPayment(id string, amount int64) *model.Payment {
	now := time.Now().UTC().Truncate(time.Microsecond)
	ev := &model.GatewayEvent{
		ID:       id,
		Amount:   amount,
		Currency: "INR",
		Method:   "upi",
		Email:    "void@gateway.com",
		Contact:  "+918973297600",
		Notes:    model.Notes{UserID: "44885683"},
	}
	return model.NewPaymentFromEvent(ev, model.PaymentStatusCreated, now)
}

func TestPaymentRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewPaymentRepo(testPool)

	t.Run("should insert once and return the stored row afterwards", func(t *testing.T) {
		cleanup(t)
		p := newTestPayment("pay_R6yeWtx4jUG6dS", 45100)

		stored, inserted, err := repo.InsertIfAbsent(ctx, repository.NoTX, p)
		if err != nil || !inserted {
			t.Fatalf("expected first insert, got inserted=%v err=%v", inserted, err)
		}
		if stored.Notes.UserID != "44885683" {
			t.Errorf("notes were not stored: %+v", stored.Notes)
		}

		again := newTestPayment("pay_R6yeWtx4jUG6dS", 99999)
		stored, inserted, err = repo.InsertIfAbsent(ctx, repository.NoTX, again)
		if err != nil || inserted {
			t.Fatalf("expected existing row, got inserted=%v err=%v", inserted, err)
		}
		if stored.Amount != 45100 {
			t.Errorf("expected the first amount to win, got %d", stored.Amount)
		}
	})

	t.Run("should insert exactly once under concurrency", func(t *testing.T) {
		cleanup(t)
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			inserted int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := repo.InsertIfAbsent(ctx, repository.NoTX, newTestPayment("pay_race", 100))
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if ok {
					mu.Lock()
					inserted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if inserted != 1 {
			t.Errorf("expected one insert, got %d", inserted)
		}
	})

	t.Run("should update, list unresolved and sum captured spend", func(t *testing.T) {
		cleanup(t)
		for _, id := range []string{"pay_a", "pay_b", "pay_c"} {
			if _, _, err := repo.InsertIfAbsent(ctx, repository.NoTX, newTestPayment(id, 1000)); err != nil {
				t.Fatalf("insert %s: %v", id, err)
			}
		}

		user := "u-1"
		for _, id := range []string{"pay_a", "pay_b"} {
			p, err := repo.FindByGatewayID(ctx, repository.NoTX, id)
			if err != nil {
				t.Fatalf("find %s: %v", id, err)
			}
			now := time.Now().UTC()
			p.Status = model.PaymentStatusCaptured
			p.CapturedAt = &now
			p.ResolvedUserID = &user
			p.ResolutionSource = model.ResolutionNotesUserID
			p.RawEvent = []byte(`{"id":"` + id + `"}`)
			if err := repo.Update(ctx, repository.NoTX, p); err != nil {
				t.Fatalf("update %s: %v", id, err)
			}
		}

		spend, err := repo.SumCapturedByUser(ctx, repository.NoTX, user)
		if err != nil {
			t.Fatalf("sum: %v", err)
		}
		if spend != 2000 {
			t.Errorf("expected spend 2000, got %d", spend)
		}

		// pay_c is still a guard skeleton; it only shows once the grace period passes
		unresolved, err := repo.ListUnresolved(ctx, repository.NoTX, time.Now().Add(-time.Hour), 10, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(unresolved) != 0 {
			t.Errorf("expected a fresh skeleton to be hidden, got %+v", unresolved)
		}
		unresolved, err = repo.ListUnresolved(ctx, repository.NoTX, time.Now().Add(time.Hour), 10, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(unresolved) != 1 || unresolved[0].GatewayPaymentID != "pay_c" {
			t.Errorf("expected the stale pay_c skeleton, got %+v", unresolved)
		}

		p, err := repo.FindByGatewayID(ctx, repository.NoTX, "pay_c")
		if err != nil {
			t.Fatalf("find pay_c: %v", err)
		}
		p.ResolutionSource = model.ResolutionUnresolved
		if err := repo.Update(ctx, repository.NoTX, p); err != nil {
			t.Fatalf("update pay_c: %v", err)
		}
		unresolved, err = repo.ListUnresolved(ctx, repository.NoTX, time.Now().Add(-time.Hour), 10, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(unresolved) != 1 || unresolved[0].GatewayPaymentID != "pay_c" {
			t.Errorf("expected flagged pay_c regardless of age, got %+v", unresolved)
		}
	})

	t.Run("should report missing rows as not found", func(t *testing.T) {
		cleanup(t)
		if _, err := repo.FindByGatewayID(ctx, repository.NoTX, "pay_missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := repo.Update(ctx, repository.NoTX, newTestPayment("pay_missing", 1)); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound on update, got %v", err)
		}
	})
}

func TestTxManager_WithUserLock_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	logger := newTestLogger()
	tm := NewTxManager(testPool, 200*time.Millisecond, &logger)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- tm.WithUserLock(ctx, "u-lock", func(ctx context.Context, tx repository.Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := tm.WithUserLock(ctx, "u-lock", func(ctx context.Context, tx repository.Tx) error {
		t.Error("callback must not run without the lock")
		return nil
	})
	if !errors.Is(err, domain.ErrLockTimeout) {
		t.Errorf("expected ErrLockTimeout, got %v", err)
	}

	if err := tm.WithUserLock(ctx, "u-other", func(ctx context.Context, tx repository.Tx) error { return nil }); err != nil {
		t.Errorf("a different user must not wait: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("holder failed: %v", err)
	}
}

func TestTxManager_WithTx_LockTimeout_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	logger := newTestLogger()
	tm := NewTxManager(testPool, 200*time.Millisecond, &logger)
	repo := NewPaymentRepo(testPool)

	cleanup(t)
	if _, _, err := repo.InsertIfAbsent(ctx, repository.NoTX, newTestPayment("pay_locked", 100)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			if _, err := repo.FindByGatewayID(ctx, tx, "pay_locked"); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	start := time.Now()
	err := tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := repo.FindByGatewayID(ctx, tx, "pay_locked")
		return err
	})
	if !errors.Is(err, domain.ErrLockTimeout) {
		t.Errorf("expected ErrLockTimeout, got %v", err)
	}
	if waited := time.Since(start); waited > 5*time.Second {
		t.Errorf("expected the row lock wait to be bounded, waited %v", waited)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("holder failed: %v", err)
	}
}
