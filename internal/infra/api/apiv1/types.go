package apiv1

import (
	"time"

	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/usecase"
)

// SubscriptionStatus is the read model other services authorize against.
type SubscriptionStatus struct {
	UserID             string     `json:"userId"`
	IsPremium          bool       `json:"isPremium"`
	IsSuperUser        bool       `json:"isSuperUser"`
	PremiumExpiresAt   *time.Time `json:"premiumExpiresAt"`
	SuperUserExpiresAt *time.Time `json:"superUserExpiresAt"`
}

type Payment struct {
	PaymentID      string            `json:"paymentId"`
	OrderID        string            `json:"orderId,omitempty"`
	SubscriptionID *string           `json:"subscriptionId,omitempty"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Status         string            `json:"status"`
	Method         string            `json:"method,omitempty"`
	Email          string            `json:"email,omitempty"`
	Contact        string            `json:"contact,omitempty"`
	Notes          map[string]string `json:"notes"`
	FailureReason  string            `json:"failureReason,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	CapturedAt     *time.Time        `json:"capturedAt,omitempty"`
}

type PaymentList struct {
	Items  []Payment `json:"items"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

type ResolveRequest struct {
	UserID string `json:"userId" validate:"required,max=64"`
}

type ReconcileResult struct {
	Outcome   string              `json:"outcome"`
	PaymentID string              `json:"paymentId"`
	UserID    string              `json:"userId,omitempty"`
	Source    string              `json:"source,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	Status    *SubscriptionStatus `json:"status,omitempty"`
}

type QuarantinedEvent struct {
	ID             string    `json:"id"`
	ReceivedAt     time.Time `json:"receivedAt"`
	Reason         string    `json:"reason"`
	SignatureValid bool      `json:"signatureValid"`
	Payload        string    `json:"payload"`
}

type QuarantineList struct {
	Items  []QuarantinedEvent `json:"items"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// PageParams are the limit/offset query parameters shared by list endpoints.
type PageParams struct {
	Limit  *int `form:"limit,omitempty" json:"limit,omitempty"`
	Offset *int `form:"offset,omitempty" json:"offset,omitempty"`
}

func toStatus(st *model.UserSubscriptionStatus) *SubscriptionStatus {
	if st == nil {
		return nil
	}
	return &SubscriptionStatus{
		UserID:             st.UserID,
		IsPremium:          st.IsPremium,
		IsSuperUser:        st.IsSuperUser,
		PremiumExpiresAt:   st.PremiumExpiresAt,
		SuperUserExpiresAt: st.SuperUserExpiresAt,
	}
}

func toPayment(p *model.Payment) Payment {
	return Payment{
		PaymentID:      p.GatewayPaymentID,
		OrderID:        p.GatewayOrderID,
		SubscriptionID: p.GatewaySubscriptionID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Status:         string(p.Status),
		Method:         p.Method,
		Email:          p.Email,
		Contact:        p.Contact,
		Notes:          p.Notes.Map(),
		FailureReason:  p.FailureReason,
		CreatedAt:      p.CreatedAt,
		CapturedAt:     p.CapturedAt,
	}
}

func toResult(res *usecase.ProcessResult) ReconcileResult {
	return ReconcileResult{
		Outcome:   string(res.Outcome),
		PaymentID: res.PaymentID,
		UserID:    res.UserID,
		Source:    string(res.Source),
		Reason:    res.Reason,
		Status:    toStatus(res.Status),
	}
}

func toQuarantined(q *model.QuarantinedEvent) QuarantinedEvent {
	return QuarantinedEvent{
		ID:             q.ID,
		ReceivedAt:     q.ReceivedAt,
		Reason:         q.Reason,
		SignatureValid: q.SignatureValid,
		Payload:        string(q.Payload),
	}
}
