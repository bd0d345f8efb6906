package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Lifecycle events that carry no payment of their own.
const (
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionHalted    = "subscription.halted"
	EventSubscriptionCompleted = "subscription.completed"
)

// Notes is the validated form of the gateway's free-form notes bag.
// Known keys are lifted into typed fields; everything else stays in Extra.
type Notes struct {
	UserID string
	Plan   PlanType
	Extra  map[string]string
}

const (
	noteUserID = "user_id"
	notePlan   = "plan"
)

// Map flattens the notes back into the gateway's key/value shape.
func (n Notes) Map() map[string]string {
	out := make(map[string]string, len(n.Extra)+2)
	for k, v := range n.Extra {
		out[k] = v
	}
	if n.UserID != "" {
		out[noteUserID] = n.UserID
	}
	if n.Plan != "" {
		out[notePlan] = string(n.Plan)
	}
	return out
}

// NotesFromMap lifts known keys out of an already-validated map.
func NotesFromMap(m map[string]string) Notes {
	n := Notes{}
	for k, v := range m {
		switch k {
		case noteUserID:
			n.UserID = strings.TrimSpace(v)
		case notePlan:
			n.Plan = PlanType(strings.ToLower(strings.TrimSpace(v)))
		default:
			if n.Extra == nil {
				n.Extra = make(map[string]string)
			}
			n.Extra[k] = v
		}
	}
	return n
}

func (n Notes) MarshalJSON() ([]byte, error) { return json.Marshal(n.Map()) }

func (n *Notes) UnmarshalJSON(b []byte) error {
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*n = NotesFromMap(m)
	return nil
}

// GatewaySubscription is the subscription entity embedded in billing-cycle events.
type GatewaySubscription struct {
	ID             string     `json:"id"`
	PlanType       PlanType   `json:"plan_type,omitempty"`
	Status         string     `json:"status,omitempty"`
	CurrentStart   *time.Time `json:"current_start,omitempty"`
	CurrentEnd     *time.Time `json:"current_end,omitempty"`
	ChargeAt       *time.Time `json:"charge_at,omitempty"`
	PaidCount      *int       `json:"paid_count,omitempty"`
	TotalCount     *int       `json:"total_count,omitempty"`
	RemainingCount *int       `json:"remaining_count,omitempty"`
}

// GatewayEvent is a validated webhook notification. ID is the gateway payment
// id for payment events and the gateway event id for subscription-only ones.
type GatewayEvent struct {
	ID               string               `json:"id"`
	Name             string               `json:"event,omitempty"`
	OrderID          string               `json:"order_id,omitempty"`
	Amount           int64                `json:"amount"`
	Currency         string               `json:"currency,omitempty"`
	Status           PaymentStatus        `json:"status,omitempty"`
	Method           string               `json:"method,omitempty"`
	Email            string               `json:"email,omitempty"`
	Contact          string               `json:"contact,omitempty"`
	Notes            Notes                `json:"notes"`
	ErrorDescription string               `json:"error_description,omitempty"`
	OccurredAt       time.Time            `json:"occurred_at"`
	Subscription     *GatewaySubscription `json:"subscription,omitempty"`
}

// HasPayment reports whether the event carries a payment for the ledger.
func (e *GatewayEvent) HasPayment() bool { return e.Status != "" }

// IsSubscriptionOnly reports lifecycle events with no payment attached.
func (e *GatewayEvent) IsSubscriptionOnly() bool {
	switch e.Name {
	case EventSubscriptionCancelled, EventSubscriptionHalted, EventSubscriptionCompleted:
		return !e.HasPayment()
	}
	return false
}

func (e *GatewayEvent) SubscriptionID() string {
	if e.Subscription == nil {
		return ""
	}
	return e.Subscription.ID
}

// PlanType picks the plan from the subscription entity, then the notes,
// falling back to premium.
func (e *GatewayEvent) PlanType() PlanType {
	if e.Subscription != nil && e.Subscription.PlanType.Valid() {
		return e.Subscription.PlanType
	}
	if e.Notes.Plan.Valid() {
		return e.Notes.Plan
	}
	return PlanPremium
}

// EventFromPayment rebuilds a minimal event from a ledger row that has no raw event stored.
func EventFromPayment(p *Payment) *GatewayEvent {
	ev := &GatewayEvent{
		ID:         p.GatewayPaymentID,
		OrderID:    p.GatewayOrderID,
		Amount:     p.Amount,
		Currency:   p.Currency,
		Status:     p.Status,
		Method:     p.Method,
		Email:      p.Email,
		Contact:    p.Contact,
		Notes:      p.Notes,
		OccurredAt: p.CreatedAt,
	}
	if p.GatewaySubscriptionID != nil {
		ev.Subscription = &GatewaySubscription{ID: *p.GatewaySubscriptionID}
	}
	return ev
}
