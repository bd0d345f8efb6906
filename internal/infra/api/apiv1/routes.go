package apiv1

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"premium-reconciler/internal/infra/api"
)

// ServerInterface lists the v1 operations.
type ServerInterface interface {
	// (GET /api/v1/users/{userId}/subscription-status)
	GetSubscriptionStatus(w http.ResponseWriter, r *http.Request, userID string)
	// (GET /api/v1/reconciliation/payments)
	ListUnresolvedPayments(w http.ResponseWriter, r *http.Request, params PageParams)
	// (POST /api/v1/reconciliation/payments/{paymentId}/resolve)
	ResolvePayment(w http.ResponseWriter, r *http.Request, paymentID string)
	// (POST /api/v1/reconciliation/payments/{paymentId}/retry)
	RetryPayment(w http.ResponseWriter, r *http.Request, paymentID string)
	// (GET /api/v1/reconciliation/quarantine)
	ListQuarantine(w http.ResponseWriter, r *http.Request, params PageParams)
}

// wrapper binds path and query parameters before calling the handler.
type wrapper struct {
	handler ServerInterface
}

func (siw *wrapper) GetSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	var userID string
	if err := bindPath("userId", chi.URLParam(r, "userId"), &userID); err != nil {
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	siw.handler.GetSubscriptionStatus(w, r, userID)
}

func (siw *wrapper) ListUnresolvedPayments(w http.ResponseWriter, r *http.Request) {
	params, err := bindPage(r)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	siw.handler.ListUnresolvedPayments(w, r, params)
}

func (siw *wrapper) ResolvePayment(w http.ResponseWriter, r *http.Request) {
	var paymentID string
	if err := bindPath("paymentId", chi.URLParam(r, "paymentId"), &paymentID); err != nil {
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	siw.handler.ResolvePayment(w, r, paymentID)
}

func (siw *wrapper) RetryPayment(w http.ResponseWriter, r *http.Request) {
	var paymentID string
	if err := bindPath("paymentId", chi.URLParam(r, "paymentId"), &paymentID); err != nil {
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	siw.handler.RetryPayment(w, r, paymentID)
}

func (siw *wrapper) ListQuarantine(w http.ResponseWriter, r *http.Request) {
	params, err := bindPage(r)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	siw.handler.ListQuarantine(w, r, params)
}

func bindPath(name, value string, dest *string) error {
	err := runtime.BindStyledParameterWithOptions("simple", name, value, dest,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return fmt.Errorf("invalid format for parameter %s: %w", name, err)
	}
	return nil
}

func bindPage(r *http.Request) (PageParams, error) {
	var params PageParams
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "limit", q, &params.Limit); err != nil {
		return params, fmt.Errorf("invalid format for parameter limit: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", q, &params.Offset); err != nil {
		return params, fmt.Errorf("invalid format for parameter offset: %w", err)
	}
	return params, nil
}

// Guards holds the per-audience middleware applied to route groups.
type Guards struct {
	Service api.Middleware // status reads
	Admin   api.Middleware // reconciliation surface
}

// RegisterAPIV1 mounts the v1 routes on r under absolute /api/v1 paths.
func RegisterAPIV1(r chi.Router, si ServerInterface, guards Guards) {
	w := &wrapper{handler: si}
	pass := func(next http.Handler) http.Handler { return next }
	if guards.Service == nil {
		guards.Service = pass
	}
	if guards.Admin == nil {
		guards.Admin = pass
	}

	r.Group(func(r chi.Router) {
		r.Use(guards.Service)
		r.Get("/api/v1/users/{userId}/subscription-status", w.GetSubscriptionStatus)
	})
	r.Group(func(r chi.Router) {
		r.Use(guards.Admin)
		r.Get("/api/v1/reconciliation/payments", w.ListUnresolvedPayments)
		r.Post("/api/v1/reconciliation/payments/{paymentId}/resolve", w.ResolvePayment)
		r.Post("/api/v1/reconciliation/payments/{paymentId}/retry", w.RetryPayment)
		r.Get("/api/v1/reconciliation/quarantine", w.ListQuarantine)
	})
}
