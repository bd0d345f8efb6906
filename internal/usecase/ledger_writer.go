package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"premium-reconciler/internal/domain"
	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/repository"
)

// LedgerResult describes what a Record call did to the payment row.
type LedgerResult struct {
	Payment  *model.Payment
	Previous model.PaymentStatus
	Inserted bool
	// StatusChanged is set when the stored status advanced along the lattice.
	StatusChanged bool
	// NewlyResolved is set when this call filled the resolved user.
	NewlyResolved bool
	// Flagged is set when this call first marked the payment unresolved.
	Flagged bool
	// Rejected is set when the incoming status could not move the stored one.
	Rejected bool
}

// NeedsStateMachine reports whether the subscription side has something new to react to.
func (r *LedgerResult) NeedsStateMachine() bool {
	return r.Payment.IsResolved() && (r.Inserted || r.StatusChanged || r.NewlyResolved)
}

// LedgerWriter upserts payment rows. The stored status only moves forward
// along the payment lattice; a resolved user, once set, is never replaced.
type LedgerWriter struct {
	payments repository.PaymentRepository
	now      func() time.Time
}

func NewLedgerWriter(payments repository.PaymentRepository, clock func() time.Time) *LedgerWriter {
	if clock == nil {
		clock = time.Now
	}
	return &LedgerWriter{payments: payments, now: clock}
}

// Record writes ev into the ledger inside tx. res may be unresolved, in which
// case the row is flagged for manual reconciliation.
func (w *LedgerWriter) Record(ctx context.Context, tx repository.Tx, ev *model.GatewayEvent, res *Resolution) (*LedgerResult, error) {
	if !ev.HasPayment() {
		return nil, fmt.Errorf("%w: event %s carries no payment", domain.ErrInvalidArgument, ev.ID)
	}
	now := w.now()
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", ev.ID, err)
	}

	p, err := w.payments.FindByGatewayID(ctx, tx, ev.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		fresh := model.NewPaymentFromEvent(ev, ev.Status, now)
		fresh.RawEvent = raw
		applyStatusDetails(fresh, ev, now)
		flagged := applyResolution(fresh, res)
		stored, inserted, err := w.payments.InsertIfAbsent(ctx, tx, fresh)
		if err != nil {
			return nil, err
		}
		if inserted {
			return &LedgerResult{
				Payment:       stored,
				Previous:      model.PaymentStatusCreated,
				Inserted:      true,
				StatusChanged: ev.Status != model.PaymentStatusCreated,
				NewlyResolved: stored.IsResolved(),
				Flagged:       flagged,
			}, nil
		}
		// lost an insert race; fall through to the update path with the winner's row
		if p, err = w.payments.FindByGatewayID(ctx, tx, ev.ID); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	result := &LedgerResult{Payment: p, Previous: p.Status}
	changed := false

	if ev.Status != p.Status {
		if p.Status.CanTransition(ev.Status) {
			p.Status = ev.Status
			p.RawEvent = raw
			applyStatusDetails(p, ev, now)
			result.StatusChanged = true
			changed = true
		} else {
			result.Rejected = true
		}
	}
	if len(p.RawEvent) == 0 {
		p.RawEvent = raw
		changed = true
	}
	if !p.IsResolved() {
		wasFlagged := p.ResolutionSource == model.ResolutionUnresolved
		if applyResolution(p, res) {
			result.Flagged = !wasFlagged
			changed = changed || !wasFlagged
		} else {
			result.NewlyResolved = true
			changed = true
		}
	}

	if changed {
		p.UpdatedAt = now
		if err := w.payments.Update(ctx, tx, p); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// applyResolution fills the resolved user from res, or marks the payment
// unresolved. It returns true when the payment ends up unresolved.
func applyResolution(p *model.Payment, res *Resolution) bool {
	if res.Resolved() {
		uid := res.UserID
		p.ResolvedUserID = &uid
		p.ResolutionSource = res.Source
		return false
	}
	p.ResolutionSource = model.ResolutionUnresolved
	return true
}

func applyStatusDetails(p *model.Payment, ev *model.GatewayEvent, now time.Time) {
	switch p.Status {
	case model.PaymentStatusCaptured:
		if p.CapturedAt == nil {
			at := ev.OccurredAt
			if at.IsZero() {
				at = now
			}
			p.CapturedAt = &at
		}
	case model.PaymentStatusFailed:
		if ev.ErrorDescription != "" {
			p.FailureReason = ev.ErrorDescription
		}
	}
}
