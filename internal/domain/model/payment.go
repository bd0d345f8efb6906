package model

import (
	"encoding/json"
	"time"
)

type PaymentStatus string

const (
	PaymentStatusCreated    PaymentStatus = "created"    // first sight, nothing known beyond the attempt
	PaymentStatusAuthorized PaymentStatus = "authorized" // funds held at the gateway
	PaymentStatusCaptured   PaymentStatus = "captured"   // money moved; terminal
	PaymentStatusRefunded   PaymentStatus = "refunded"   // terminal
	PaymentStatusFailed     PaymentStatus = "failed"     // terminal
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusCreated, PaymentStatusAuthorized, PaymentStatusCaptured,
		PaymentStatusRefunded, PaymentStatusFailed:
		return true
	}
	return false
}

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCaptured || s == PaymentStatusRefunded || s == PaymentStatusFailed
}

// CanTransition reports whether a stored status may move to next.
// The lattice is created -> authorized -> captured, with refunded and failed
// reachable from any non-terminal state. Terminal statuses never move, and
// nothing moves back toward created. Equal statuses are not a transition.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	if s == next || !next.Valid() {
		return false
	}
	switch s {
	case PaymentStatusCreated:
		return next != PaymentStatusCreated
	case PaymentStatusAuthorized:
		return next == PaymentStatusCaptured || next == PaymentStatusRefunded || next == PaymentStatusFailed
	default:
		return false
	}
}

// ResolutionSource records which rule linked a payment to a user.
type ResolutionSource string

const (
	ResolutionPending      ResolutionSource = ""           // guard skeleton, not yet recorded
	ResolutionUnresolved   ResolutionSource = "unresolved" // flagged for manual reconciliation
	ResolutionNotesUserID  ResolutionSource = "notes_user_id"
	ResolutionEmail        ResolutionSource = "email"
	ResolutionContact      ResolutionSource = "contact"
	ResolutionSubscription ResolutionSource = "subscription" // owner of an already-linked gateway subscription
	ResolutionManual       ResolutionSource = "manual"
)

// Payment is one gateway payment attempt, keyed by the gateway payment id.
// Only Status, ResolvedUserID, ResolutionSource, FailureReason and CapturedAt
// change after creation.
type Payment struct {
	GatewayPaymentID      string
	GatewayOrderID        string
	GatewaySubscriptionID *string
	Amount                int64 // minor units
	Currency              string
	Status                PaymentStatus
	Method                string
	Email                 string
	Contact               string
	Notes                 Notes
	ResolvedUserID        *string
	ResolutionSource      ResolutionSource
	FailureReason         string
	RawEvent              json.RawMessage // validated event as received, used to re-drive the pipeline
	CreatedAt             time.Time
	UpdatedAt             time.Time
	CapturedAt            *time.Time
}

func (p *Payment) IsResolved() bool {
	return p != nil && p.ResolvedUserID != nil && *p.ResolvedUserID != ""
}

// AwaitsReconciliation reports whether an operator should look at the row:
// it was flagged unresolved, or it is a guard skeleton older than
// pendingBefore whose processing never committed.
func (p *Payment) AwaitsReconciliation(pendingBefore time.Time) bool {
	switch p.ResolutionSource {
	case ResolutionUnresolved:
		return true
	case ResolutionPending:
		return p.CreatedAt.Before(pendingBefore)
	}
	return false
}

// NewPaymentFromEvent builds the first-sight ledger row for an event.
func NewPaymentFromEvent(ev *GatewayEvent, status PaymentStatus, now time.Time) *Payment {
	p := &Payment{
		GatewayPaymentID: ev.ID,
		GatewayOrderID:   ev.OrderID,
		Amount:           ev.Amount,
		Currency:         ev.Currency,
		Status:           status,
		Method:           ev.Method,
		Email:            ev.Email,
		Contact:          ev.Contact,
		Notes:            ev.Notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if id := ev.SubscriptionID(); id != "" {
		p.GatewaySubscriptionID = &id
	}
	return p
}

// QuarantinedEvent keeps an authentic but unparseable webhook body for inspection.
type QuarantinedEvent struct {
	ID             string
	ReceivedAt     time.Time
	Reason         string
	Payload        []byte
	SignatureValid bool
}
