package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"premium-reconciler/internal/domain"
	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/adapter"
	"premium-reconciler/internal/infra/logging"
	"premium-reconciler/internal/infra/metrics"
	"premium-reconciler/internal/infra/payment"
	"premium-reconciler/internal/usecase"
)

// WebhookHandler is the gateway's entry point: verify, parse, reconcile.
type WebhookHandler struct {
	verifier   adapter.WebhookVerifier
	parser     *payment.Parser
	reconciler usecase.ReconciliationUseCase
	quarantine usecase.QuarantineUseCase
	sigHeader  string
	maxBody    int64
	now        func() time.Time
	log        *zerolog.Logger
}

type WebhookConfig struct {
	SignatureHeader string
	MaxBodyBytes    int64
	Clock           func() time.Time
}

func NewWebhookHandler(
	verifier adapter.WebhookVerifier,
	reconciler usecase.ReconciliationUseCase,
	quarantine usecase.QuarantineUseCase,
	cfg WebhookConfig,
	logger *zerolog.Logger,
) *WebhookHandler {
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = "X-Gateway-Signature"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &WebhookHandler{
		verifier:   verifier,
		parser:     payment.NewParser(),
		reconciler: reconciler,
		quarantine: quarantine,
		sigHeader:  cfg.SignatureHeader,
		maxBody:    cfg.MaxBodyBytes,
		now:        cfg.Clock,
		log:        logging.Component(logger, "webhook"),
	}
}

type webhookResponse struct {
	Outcome      string `json:"outcome"`
	PaymentID    string `json:"paymentId,omitempty"`
	QuarantineID string `json:"quarantineId,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := h.handle(w, r)
	metrics.ObserveWebhook(h.verifier.Name(), result, time.Since(start))
}

// handle writes the response and returns the metrics label for it.
func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) string {
	ctx := r.Context()
	l := logging.With(ctx, h.log)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return "too_large"
		}
		WriteError(w, http.StatusBadRequest, "unreadable body")
		return "unreadable"
	}

	// Nothing is read, stored or logged from an unauthenticated body.
	if err := h.verifier.Verify(body, r.Header.Get(h.sigHeader)); err != nil {
		l.Warn().Str("remote", r.RemoteAddr).Msg("webhook signature rejected")
		WriteError(w, http.StatusUnauthorized, domain.ErrInvalidSignature.Error())
		return "invalid_signature"
	}

	ev, err := h.parser.Parse(body, h.now())
	if err != nil {
		return h.quarantineBody(ctx, w, l, body, payment.ReasonOf(err))
	}

	ctx = logging.WithPaymentID(ctx, ev.ID)
	res, err := h.reconciler.ProcessEvent(ctx, ev)
	if err != nil {
		metrics.IncReconcileOutcome("webhook", "error")
		if domain.IsRetryable(err) {
			logging.With(ctx, h.log).Warn().Err(err).Msg("webhook deferred, gateway will redeliver")
		} else {
			logging.With(ctx, h.log).Error().Err(err).Msg("webhook processing failed")
		}
		WriteDomainError(w, err)
		return "error"
	}

	h.observe(ev, res)
	WriteJSON(w, http.StatusOK, webhookResponse{Outcome: string(res.Outcome), PaymentID: res.PaymentID, Reason: res.Reason})
	return string(res.Outcome)
}

func (h *WebhookHandler) quarantineBody(ctx context.Context, w http.ResponseWriter, l *zerolog.Logger, body []byte, reason string) string {
	if reason == "" {
		reason = payment.ReasonInvalidJSON
	}
	q, err := h.quarantine.Quarantine(ctx, body, reason)
	if err != nil {
		l.Error().Err(err).Str("reason", reason).Msg("failed to quarantine malformed payload")
		WriteError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry later")
		return "error"
	}
	metrics.IncQuarantined(reason)
	WriteJSON(w, http.StatusAccepted, webhookResponse{Outcome: "quarantined", QuarantineID: q.ID, Reason: reason})
	return "quarantined"
}

func (h *WebhookHandler) observe(ev *model.GatewayEvent, res *usecase.ProcessResult) {
	metrics.IncReconcileOutcome("webhook", string(res.Outcome))
	if res.Outcome == usecase.OutcomeDuplicate || !ev.HasPayment() {
		return
	}
	metrics.IncPayment(string(ev.Status))
	if res.Outcome == usecase.OutcomeProcessed {
		metrics.IncIdentityResolution(string(res.Source))
		if ev.Status == model.PaymentStatusCaptured {
			metrics.AddCapturedAmount(ev.Currency, ev.Amount)
		}
	}
}
