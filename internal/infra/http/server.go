package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"premium-reconciler/internal/config"
	"premium-reconciler/internal/infra/api"
	"premium-reconciler/internal/infra/api/apiv1"
	"premium-reconciler/internal/infra/logging"
)

const shutdownGrace = 15 * time.Second

// HealthFunc reports whether a dependency is reachable.
type HealthFunc func(ctx context.Context) error

// Deps are the handlers the server routes to.
type Deps struct {
	Webhook http.Handler
	API     apiv1.ServerInterface
	Auth    *api.AuthManager
	Health  map[string]HealthFunc
	Metrics http.Handler
}

type Server struct {
	cfg    config.HTTPConfig
	deps   Deps
	log    *zerolog.Logger
	server *http.Server
}

func NewServer(cfg config.HTTPConfig, deps Deps, logger *zerolog.Logger) *Server {
	if deps.Metrics == nil {
		deps.Metrics = promhttp.Handler()
	}
	s := &Server{cfg: cfg, deps: deps, log: logging.Component(logger, "http")}
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

// Router builds the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(api.TraceID(), api.Recover(s.log), api.RequestLog(s.log), s.corsMiddleware())

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.deps.Metrics)

	r.Group(func(r chi.Router) {
		if s.cfg.RequestTimeout > 0 {
			r.Use(api.Timeout(s.cfg.RequestTimeout))
		}
		if s.deps.Webhook != nil {
			r.Method(http.MethodPost, "/webhooks/payments", s.deps.Webhook)
		}
		if s.deps.API != nil {
			guards := apiv1.Guards{}
			if s.deps.Auth != nil {
				guards.Service = s.deps.Auth.RequireRole(api.RoleService)
				guards.Admin = s.deps.Auth.RequireRole(api.RoleAdmin)
			}
			apiv1.RegisterAPIV1(r, s.deps.API, guards)
		}
	})
	return r
}

// corsMiddleware admits browser dashboards from the configured origins.
// Without origins no CORS headers are sent and browsers refuse cross-origin calls.
func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	if len(s.cfg.CORSOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:         300,
	})
	return c.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.deps.Health))
	code := http.StatusOK
	for name, check := range s.deps.Health {
		if err := check(ctx); err != nil {
			s.log.Warn().Err(err).Str("dependency", name).Msg("health check failed")
			checks[name] = "down"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	status := "ok"
	if code != http.StatusOK {
		status = "degraded"
	}
	api.WriteJSON(w, code, map[string]any{"status": status, "checks": checks})
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	s.log.Info().Msg("http server shutting down")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
