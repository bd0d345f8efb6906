package apiv1

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"premium-reconciler/internal/infra/api"
	"premium-reconciler/internal/infra/logging"
	"premium-reconciler/internal/infra/redis"
	"premium-reconciler/internal/usecase"
)

// Compile-time check
var _ ServerInterface = (*Server)(nil)

// Limiter throttles operator actions per subject.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// ActionLimit bounds manual reconciliation actions per operator.
type ActionLimit struct {
	Count  int
	Window time.Duration
}

type Server struct {
	status     usecase.StatusUseCase
	reconciler usecase.ReconciliationUseCase
	quarantine usecase.QuarantineUseCase
	limiter    Limiter
	limit      ActionLimit
	validate   *validator.Validate
	log        *zerolog.Logger
}

// NewServer wires the v1 handlers. limiter may be nil.
func NewServer(
	status usecase.StatusUseCase,
	reconciler usecase.ReconciliationUseCase,
	quarantine usecase.QuarantineUseCase,
	limiter Limiter,
	limit ActionLimit,
	logger *zerolog.Logger,
) *Server {
	if limit.Count <= 0 {
		limit.Count = 30
	}
	if limit.Window <= 0 {
		limit.Window = time.Minute
	}
	l := logging.Component(logger, "apiv1")
	return &Server{
		status:     status,
		reconciler: reconciler,
		quarantine: quarantine,
		limiter:    limiter,
		limit:      limit,
		validate:   validator.New(),
		log:        l,
	}
}

func (s *Server) GetSubscriptionStatus(w http.ResponseWriter, r *http.Request, userID string) {
	st, err := s.status.GetStatus(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toStatus(st))
}

func (s *Server) ListUnresolvedPayments(w http.ResponseWriter, r *http.Request, params PageParams) {
	limit, offset := page(params)
	items, err := s.reconciler.ListUnresolved(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := PaymentList{Items: make([]Payment, 0, len(items)), Limit: limit, Offset: offset}
	for _, p := range items {
		out.Items = append(out.Items, toPayment(p))
	}
	api.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) ResolvePayment(w http.ResponseWriter, r *http.Request, paymentID string) {
	if !s.allow(w, r, "resolve") {
		return
	}
	var req ResolveRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "userId is required")
		return
	}
	res, err := s.reconciler.ResolveManually(r.Context(), paymentID, req.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	logging.With(r.Context(), s.log).Info().
		Str("payment_id", paymentID).
		Str("user_id", req.UserID).
		Str("operator", subject(r)).
		Str("outcome", string(res.Outcome)).
		Msg("payment resolved manually")
	api.WriteJSON(w, http.StatusOK, toResult(res))
}

func (s *Server) RetryPayment(w http.ResponseWriter, r *http.Request, paymentID string) {
	if !s.allow(w, r, "retry") {
		return
	}
	res, err := s.reconciler.RetryResolution(r.Context(), paymentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toResult(res))
}

func (s *Server) ListQuarantine(w http.ResponseWriter, r *http.Request, params PageParams) {
	limit, offset := page(params)
	items, err := s.quarantine.List(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := QuarantineList{Items: make([]QuarantinedEvent, 0, len(items)), Limit: limit, Offset: offset}
	for _, q := range items {
		out.Items = append(out.Items, toQuarantined(q))
	}
	api.WriteJSON(w, http.StatusOK, out)
}

// allow applies the operator rate limit. Limiter failures let the request through.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, action string) bool {
	if s.limiter == nil {
		return true
	}
	ok, err := s.limiter.Allow(r.Context(), redis.OperatorActionKey(subject(r), action), s.limit.Count, s.limit.Window)
	if err != nil {
		s.log.Warn().Err(err).Str("action", action).Msg("rate limiter unavailable")
		return true
	}
	if !ok {
		api.WriteError(w, http.StatusTooManyRequests, "too many requests")
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if api.StatusFor(err) >= http.StatusInternalServerError {
		logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	api.WriteDomainError(w, err)
}

func subject(r *http.Request) string {
	if c, ok := api.ClaimsFrom(r.Context()); ok && c.Subject != "" {
		return c.Subject
	}
	return "anonymous"
}

// page mirrors the use case clamp so the response echoes the applied window.
func page(p PageParams) (int, int) {
	var limit, offset int
	if p.Limit != nil {
		limit = *p.Limit
	}
	if p.Offset != nil {
		offset = *p.Offset
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
