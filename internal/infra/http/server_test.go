//go:build !integration

package http_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"premium-reconciler/internal/config"
	"premium-reconciler/internal/infra/api"
	"premium-reconciler/internal/infra/api/apiv1"
	reconhttp "premium-reconciler/internal/infra/http"
)

type stubAPI struct{}

func (stubAPI) GetSubscriptionStatus(w http.ResponseWriter, r *http.Request, userID string) {
	api.WriteJSON(w, http.StatusOK, apiv1.SubscriptionStatus{UserID: userID})
}
func (stubAPI) ListUnresolvedPayments(w http.ResponseWriter, r *http.Request, params apiv1.PageParams) {
	api.WriteJSON(w, http.StatusOK, apiv1.PaymentList{})
}
func (stubAPI) ResolvePayment(w http.ResponseWriter, r *http.Request, paymentID string) {}
func (stubAPI) RetryPayment(w http.ResponseWriter, r *http.Request, paymentID string)   {}
func (stubAPI) ListQuarantine(w http.ResponseWriter, r *http.Request, params apiv1.PageParams) {
}

func newServer(cfg config.HTTPConfig, health map[string]reconhttp.HealthFunc) (*reconhttp.Server, *api.AuthManager) {
	logger := zerolog.Nop()
	auth := api.NewAuthManager("0123456789abcdef-test-secret", "")
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) })
	return reconhttp.NewServer(cfg, reconhttp.Deps{
		Webhook: webhook,
		API:     stubAPI{},
		Auth:    auth,
		Health:  health,
	}, &logger), auth
}

func serve(h http.Handler, method, path, token string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter(t *testing.T) {
	t.Run("should route the webhook for POST only", func(t *testing.T) {
		s, _ := newServer(config.HTTPConfig{}, nil)
		assert.Equal(t, http.StatusAccepted, serve(s.Router(), http.MethodPost, "/webhooks/payments", "", nil).Code)
		assert.Equal(t, http.StatusMethodNotAllowed, serve(s.Router(), http.MethodGet, "/webhooks/payments", "", nil).Code)
	})

	t.Run("should guard the v1 routes", func(t *testing.T) {
		s, auth := newServer(config.HTTPConfig{}, nil)
		r := s.Router()
		assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/api/v1/users/1/subscription-status", "", nil).Code)

		svc, err := auth.Mint("billing", api.RoleService, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/users/1/subscription-status", svc, nil).Code)
		assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/api/v1/reconciliation/payments", svc, nil).Code)
	})

	t.Run("should tag every response with a request id", func(t *testing.T) {
		s, _ := newServer(config.HTTPConfig{}, nil)
		rec := serve(s.Router(), http.MethodGet, "/health", "", map[string]string{"X-Request-Id": "abc"})
		assert.Equal(t, "abc", rec.Header().Get("X-Request-Id"))
	})

	t.Run("should expose prometheus metrics", func(t *testing.T) {
		s, _ := newServer(config.HTTPConfig{}, nil)
		rec := serve(s.Router(), http.MethodGet, "/metrics", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "go_goroutines")
	})

	t.Run("should answer preflight requests for configured origins only", func(t *testing.T) {
		s, _ := newServer(config.HTTPConfig{CORSOrigins: []string{"https://ops.example.com"}}, nil)
		pre := map[string]string{"Origin": "https://ops.example.com", "Access-Control-Request-Method": "GET"}
		rec := serve(s.Router(), http.MethodOptions, "/api/v1/users/1/subscription-status", "", pre)
		assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

		pre["Origin"] = "https://evil.example.com"
		rec = serve(s.Router(), http.MethodOptions, "/api/v1/users/1/subscription-status", "", pre)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestHealth(t *testing.T) {
	t.Run("should report ok when every dependency answers", func(t *testing.T) {
		s, _ := newServer(config.HTTPConfig{}, map[string]reconhttp.HealthFunc{
			"postgres": func(ctx context.Context) error { return nil },
		})
		rec := serve(s.Router(), http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok","checks":{"postgres":"ok"}}`, rec.Body.String())
	})

	t.Run("should degrade when a dependency is down", func(t *testing.T) {
		s, _ := newServer(config.HTTPConfig{}, map[string]reconhttp.HealthFunc{
			"postgres": func(ctx context.Context) error { return nil },
			"redis":    func(ctx context.Context) error { return errors.New("dial tcp: refused") },
		})
		rec := serve(s.Router(), http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.JSONEq(t, `{"status":"degraded","checks":{"postgres":"ok","redis":"down"}}`, rec.Body.String())
	})
}

func TestServer_Serve(t *testing.T) {
	s, _ := newServer(config.HTTPConfig{ReadTimeout: time.Second, WriteTimeout: time.Second}, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
