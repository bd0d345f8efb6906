package usecase

import (
	"context"
	"time"

	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/repository"
)

type GuardDecision int

const (
	GuardProceed GuardDecision = iota
	GuardAlreadyProcessed
)

func (d GuardDecision) String() string {
	if d == GuardAlreadyProcessed {
		return "already_processed"
	}
	return "proceed"
}

// IdempotencyGuard claims a gateway payment id on first sight. The claim is a
// single insert-or-get of a skeleton ledger row, so two concurrent deliveries
// of the same id agree on which row exists. A delivery is a duplicate once the
// stored payment is terminal, whatever status the redelivery carries.
type IdempotencyGuard struct {
	payments repository.PaymentRepository
	now      func() time.Time
}

func NewIdempotencyGuard(payments repository.PaymentRepository, clock func() time.Time) *IdempotencyGuard {
	if clock == nil {
		clock = time.Now
	}
	return &IdempotencyGuard{payments: payments, now: clock}
}

// Check returns the decision and the stored row. Subscription-only events
// have no payment to claim and always proceed.
func (g *IdempotencyGuard) Check(ctx context.Context, ev *model.GatewayEvent) (GuardDecision, *model.Payment, error) {
	if !ev.HasPayment() {
		return GuardProceed, nil, nil
	}
	skeleton := model.NewPaymentFromEvent(ev, model.PaymentStatusCreated, g.now())
	stored, inserted, err := g.payments.InsertIfAbsent(ctx, repository.NoTX, skeleton)
	if err != nil {
		return GuardProceed, nil, err
	}
	if inserted {
		return GuardProceed, stored, nil
	}
	if stored.Status.IsTerminal() {
		return GuardAlreadyProcessed, stored, nil
	}
	return GuardProceed, stored, nil
}
