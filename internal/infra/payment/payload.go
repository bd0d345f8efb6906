package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"premium-reconciler/internal/domain"
	"premium-reconciler/internal/domain/model"
)

// Quarantine reasons reported by Parse.
const (
	ReasonInvalidJSON         = "invalid_json"
	ReasonMissingStatus       = "missing_status"
	ReasonMissingAmount       = "missing_amount"
	ReasonMissingSubscription = "missing_subscription"
	ReasonInvalidNotes        = "invalid_notes"
	reasonInvalidFieldPrefix  = "invalid_field:"
)

// MalformedError carries the quarantine reason for a payload that failed
// validation. It matches domain.ErrMalformedPayload.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed payload (%s): %v", e.Reason, e.Err)
	}
	return "malformed payload (" + e.Reason + ")"
}

func (e *MalformedError) Unwrap() error { return domain.ErrMalformedPayload }

func malformed(reason string, err error) error {
	return &MalformedError{Reason: reason, Err: err}
}

// ReasonOf extracts the quarantine reason, or "" for other errors.
func ReasonOf(err error) string {
	var me *MalformedError
	if errors.As(err, &me) {
		return me.Reason
	}
	return ""
}

type wireSubscription struct {
	ID             string `json:"id" validate:"required,max=64"`
	PlanType       string `json:"plan_type" validate:"omitempty,oneof=premium super_user"`
	Status         string `json:"status" validate:"omitempty,max=32"`
	CurrentStart   *int64 `json:"current_start" validate:"omitempty,gt=0"`
	CurrentEnd     *int64 `json:"current_end" validate:"omitempty,gt=0"`
	ChargeAt       *int64 `json:"charge_at" validate:"omitempty,gt=0"`
	PaidCount      *int   `json:"paid_count" validate:"omitempty,min=0"`
	TotalCount     *int   `json:"total_count" validate:"omitempty,min=0"`
	RemainingCount *int   `json:"remaining_count" validate:"omitempty,min=0"`
}

type wirePayload struct {
	ID               string            `json:"id" validate:"required,max=64,printascii"`
	Event            string            `json:"event" validate:"omitempty,max=64"`
	OrderID          string            `json:"order_id" validate:"omitempty,max=64"`
	Amount           *int64            `json:"amount" validate:"omitempty,min=0"`
	Currency         string            `json:"currency" validate:"omitempty,len=3,alpha"`
	Status           string            `json:"status" validate:"omitempty,oneof=created authorized captured failed refunded"`
	Method           string            `json:"method" validate:"omitempty,max=32"`
	Email            string            `json:"email" validate:"omitempty,max=254"`
	Contact          string            `json:"contact" validate:"omitempty,max=32"`
	Notes            json.RawMessage   `json:"notes"`
	ErrorDescription string            `json:"error_description" validate:"omitempty,max=512"`
	CreatedAt        *int64            `json:"created_at" validate:"omitempty,gt=0"`
	Subscription     *wireSubscription `json:"subscription"`
}

// Parser turns an authenticated webhook body into a GatewayEvent.
type Parser struct {
	validate *validator.Validate
}

func NewParser() *Parser {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Parser{validate: v}
}

// Parse validates body strictly. receivedAt stands in for a missing created_at.
// Every failure is a *MalformedError.
func (p *Parser) Parse(body []byte, receivedAt time.Time) (*model.GatewayEvent, error) {
	var w wirePayload
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&w); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return nil, malformed(reasonInvalidFieldPrefix+typeErr.Field, err)
		}
		return nil, malformed(ReasonInvalidJSON, err)
	}
	if dec.More() {
		return nil, malformed(ReasonInvalidJSON, errors.New("trailing data after payload"))
	}

	if err := p.validate.Struct(&w); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, malformed(reasonInvalidFieldPrefix+fieldPath(verrs[0]), err)
		}
		return nil, malformed(ReasonInvalidJSON, err)
	}

	notes, err := parseNotes(w.Notes)
	if err != nil {
		return nil, malformed(ReasonInvalidNotes, err)
	}

	ev := &model.GatewayEvent{
		ID:               strings.TrimSpace(w.ID),
		Name:             strings.ToLower(strings.TrimSpace(w.Event)),
		OrderID:          w.OrderID,
		Currency:         strings.ToUpper(w.Currency),
		Status:           model.PaymentStatus(w.Status),
		Method:           w.Method,
		Email:            w.Email,
		Contact:          w.Contact,
		Notes:            notes,
		ErrorDescription: w.ErrorDescription,
		OccurredAt:       receivedAt.UTC(),
	}
	if w.Amount != nil {
		ev.Amount = *w.Amount
	}
	if w.CreatedAt != nil {
		ev.OccurredAt = unix(*w.CreatedAt)
	}
	if s := w.Subscription; s != nil {
		ev.Subscription = &model.GatewaySubscription{
			ID:             s.ID,
			PlanType:       model.PlanType(s.PlanType),
			Status:         s.Status,
			CurrentStart:   unixPtr(s.CurrentStart),
			CurrentEnd:     unixPtr(s.CurrentEnd),
			ChargeAt:       unixPtr(s.ChargeAt),
			PaidCount:      s.PaidCount,
			TotalCount:     s.TotalCount,
			RemainingCount: s.RemainingCount,
		}
	}

	switch {
	case ev.IsSubscriptionOnly():
		if ev.SubscriptionID() == "" {
			return nil, malformed(ReasonMissingSubscription, nil)
		}
	case !ev.HasPayment():
		return nil, malformed(ReasonMissingStatus, nil)
	case w.Amount == nil:
		return nil, malformed(ReasonMissingAmount, nil)
	}
	return ev, nil
}

// parseNotes accepts an object of scalars, an empty array (PHP-style gateways
// encode an empty map that way) or null.
func parseNotes(raw json.RawMessage) (model.Notes, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return model.Notes{}, nil
	}
	if trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return model.Notes{}, err
		}
		if len(arr) != 0 {
			return model.Notes{}, errors.New("notes must be an object")
		}
		return model.Notes{}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return model.Notes{}, err
	}
	flat := make(map[string]string, len(obj))
	for k, v := range obj {
		s, err := scalarString(v)
		if err != nil {
			return model.Notes{}, fmt.Errorf("notes.%s: %w", k, err)
		}
		flat[k] = s
	}
	return model.NotesFromMap(flat), nil
}

func scalarString(v json.RawMessage) (string, error) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return "", errors.New("empty value")
	}
	switch v[0] {
	case '"':
		var s string
		err := json.Unmarshal(v, &s)
		return s, err
	case '{', '[':
		return "", errors.New("nested values are not allowed")
	case 'n':
		return "", nil
	default:
		// numbers and booleans keep their literal text, so 44885683 stays exact
		return string(v), nil
	}
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}

func unix(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func unixPtr(sec *int64) *time.Time {
	if sec == nil {
		return nil
	}
	t := unix(*sec)
	return &t
}
