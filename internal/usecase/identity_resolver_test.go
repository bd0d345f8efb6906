//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"

	"premium-reconciler/internal/domain"
	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/repository"
	"premium-reconciler/internal/usecase"
)

func TestNormalizeContact(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"+91 8973 297600", "+918973297600", true},
		{"+91-8973-297600", "+918973297600", true},
		{"00918973297600", "+918973297600", true},
		{"8973297600", "+918973297600", true},
		{"08973297600", "+918973297600", true},
		{"(+91) 8973297600", "", false},
		{"+1 (415) 555-0100", "+14155550100", true},
		{"call me", "", false},
		{"12345", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := model.NormalizeContact(c.raw, "91")
		if ok != c.ok || got != c.want {
			t.Errorf("NormalizeContact(%q) = %q, %v; expected %q, %v", c.raw, got, ok, c.want, c.ok)
		}
	}
}

func TestIdentityResolver_IsGenericEmail(t *testing.T) {
	r := usecase.NewIdentityResolver(NewMockUserRepo(), usecase.ResolverConfig{})
	for _, e := range []string{"void@gateway.com", " VOID@razorpay.com ", "noreply@example.com", "ab****@gmail.com", "test@shop.in"} {
		if !r.IsGenericEmail(e) {
			t.Errorf("expected %q to be generic", e)
		}
	}
	for _, e := range []string{"asha@example.com", "void.walker@example.com"} {
		if r.IsGenericEmail(e) {
			t.Errorf("expected %q to be a real address", e)
		}
	}
}

func TestIdentityResolver_Resolve(t *testing.T) {
	ctx := context.Background()
	asha := &model.User{ID: "44885683", Email: "asha@example.com", WhatsAppNumber: "+91 89732 97600"}
	ravi := &model.User{ID: "51002211", Email: "ravi@example.com", Phone: "+91 90000 11111"}
	resolver := usecase.NewIdentityResolver(NewMockUserRepo(asha, ravi), usecase.ResolverConfig{DefaultCountryCode: "91"})

	t.Run("should prefer notes.user_id over email and contact", func(t *testing.T) {
		ev := &model.GatewayEvent{
			ID:      "pay_1",
			Email:   "ravi@example.com",
			Contact: "+91 9000011111",
			Notes:   model.Notes{UserID: "44885683"},
		}
		res, err := resolver.Resolve(ctx, repository.NoTX, ev)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if res.UserID != asha.ID || res.Source != model.ResolutionNotesUserID {
			t.Errorf("expected %s via notes, got %s via %s", asha.ID, res.UserID, res.Source)
		}
	})

	t.Run("should fall through to email when the noted user does not exist", func(t *testing.T) {
		ev := &model.GatewayEvent{ID: "pay_2", Email: " Ravi@Example.com", Notes: model.Notes{UserID: "999"}}
		res, err := resolver.Resolve(ctx, repository.NoTX, ev)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if res.UserID != ravi.ID || res.Source != model.ResolutionEmail {
			t.Errorf("expected %s via email, got %s via %s", ravi.ID, res.UserID, res.Source)
		}
		if res.Attempts[0].Outcome != usecase.AttemptNoUser {
			t.Errorf("expected notes attempt to record no_user, got %s", res.Attempts[0].Outcome)
		}
	})

	t.Run("should skip placeholder email and match the contact", func(t *testing.T) {
		ev := &model.GatewayEvent{ID: "pay_3", Email: "void@gateway.com", Contact: "+91 8973 297600"}
		res, err := resolver.Resolve(ctx, repository.NoTX, ev)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if res.UserID != asha.ID || res.Source != model.ResolutionContact {
			t.Errorf("expected %s via contact, got %s via %s", asha.ID, res.UserID, res.Source)
		}
		if res.Attempts[1].Outcome != usecase.AttemptGeneric {
			t.Errorf("expected email attempt to be generic, got %s", res.Attempts[1].Outcome)
		}
	})

	t.Run("should match a bare national phone number", func(t *testing.T) {
		ev := &model.GatewayEvent{ID: "pay_4", Contact: "9000011111"}
		res, err := resolver.Resolve(ctx, repository.NoTX, ev)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if res.UserID != ravi.ID {
			t.Errorf("expected %s, got %s", ravi.ID, res.UserID)
		}
	})

	t.Run("should report unresolved when nothing matches", func(t *testing.T) {
		ev := &model.GatewayEvent{ID: "pay_5", Email: "void@gateway.com", Contact: "+91 7000000000"}
		res, err := resolver.Resolve(ctx, repository.NoTX, ev)
		if !errors.Is(err, domain.ErrUnresolvedIdentity) {
			t.Fatalf("expected ErrUnresolvedIdentity, got %v", err)
		}
		if res.Resolved() {
			t.Error("expected an unresolved result")
		}
		if len(res.Attempts) != 3 {
			t.Errorf("expected three attempts, got %d (%s)", len(res.Attempts), res.Trail())
		}
	})

	t.Run("should treat an ambiguous contact as no match", func(t *testing.T) {
		twin := &model.User{ID: "60000001", Phone: "+91 8973297600"}
		r := usecase.NewIdentityResolver(NewMockUserRepo(asha, twin), usecase.ResolverConfig{})
		ev := &model.GatewayEvent{ID: "pay_6", Contact: "+918973297600"}
		res, err := r.Resolve(ctx, repository.NoTX, ev)
		if !errors.Is(err, domain.ErrUnresolvedIdentity) {
			t.Fatalf("expected ErrUnresolvedIdentity, got %v", err)
		}
		if last := res.Attempts[len(res.Attempts)-1]; last.Outcome != usecase.AttemptAmbiguous {
			t.Errorf("expected ambiguous contact, got %s", last.Outcome)
		}
	})

	t.Run("should propagate storage errors", func(t *testing.T) {
		boom := errors.New("connection reset")
		users := NewMockUserRepo()
		users.FindByIDFunc = func(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
			return nil, boom
		}
		r := usecase.NewIdentityResolver(users, usecase.ResolverConfig{})
		_, err := r.Resolve(ctx, repository.NoTX, &model.GatewayEvent{ID: "pay_7", Notes: model.Notes{UserID: "1"}})
		if !errors.Is(err, boom) {
			t.Errorf("expected storage error, got %v", err)
		}
	})
}
