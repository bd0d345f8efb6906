package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"premium-reconciler/internal/config"
	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/adapter"
	"premium-reconciler/internal/domain/ports/repository"
	"premium-reconciler/internal/fixtures"
	"premium-reconciler/internal/infra/api"
	"premium-reconciler/internal/infra/api/apiv1"
	"premium-reconciler/internal/infra/db/memory"
	pg "premium-reconciler/internal/infra/db/postgres"
	httpserver "premium-reconciler/internal/infra/http"
	"premium-reconciler/internal/infra/logging"
	"premium-reconciler/internal/infra/metrics"
	"premium-reconciler/internal/infra/payment"
	red "premium-reconciler/internal/infra/redis"
	"premium-reconciler/internal/infra/sched"
	"premium-reconciler/internal/infra/telegram"
	"premium-reconciler/internal/infra/worker"
	"premium-reconciler/internal/usecase"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("reconciler stopped")
	}
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	logger.Info().Str("version", version).Str("commit", commit).Bool("dev", cfg.Runtime.Dev).Msg("starting reconciler")

	// ---- Storage ----
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()
	repos := store.repos
	health := store.health

	// ---- Redis (optional) ----
	var (
		cache   repository.StatusCache
		locker  red.Locker
		limiter apiv1.Limiter
	)
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		defer rc.Close()
		cache = red.NewStatusCache(rc, cfg.Redis.StatusTTL, logger)
		locker = red.NewLocker(rc)
		limiter = red.NewRateLimiter(rc)
		health["redis"] = rc.Ping
	} else {
		logger.Warn().Msg("redis not configured; status cache and reconciler lock disabled")
	}

	// ---- Operator alerts ----
	workers := worker.NewPool(cfg.Worker.Size, logging.Component(logger, "worker"))
	var notifier adapter.OperatorNotifier = telegram.NoopNotifier{}
	if cfg.Telegram.Token != "" {
		n, err := telegram.NewOperatorNotifier(&cfg.Telegram, workers, logging.Component(logger, "telegram"), cfg.Runtime.Dev)
		if err != nil {
			return err
		}
		notifier = n
	}

	// ---- Use cases ----
	engine := usecase.EngineConfig{
		Resolver: usecase.ResolverConfig{
			GenericEmails:      cfg.Payment.GenericEmails,
			DefaultCountryCode: cfg.Payment.DefaultCountryCode,
		},
		Plans:        planDurations(cfg.Plans),
		PendingGrace: cfg.Reconciler.PendingGrace,
	}
	reconcileUC := usecase.NewReconciliationUseCase(repos, engine, cache, notifier, logging.Component(logger, "reconciliation"))
	statusUC := usecase.NewStatusUseCase(repos, engine, cache, logging.Component(logger, "status"))
	quarantineUC := usecase.NewQuarantineUseCase(store.quarantine, nil, logging.Component(logger, "quarantine"))

	// ---- HTTP ----
	webhook := api.NewWebhookHandler(
		payment.NewHMACVerifier(cfg.Payment.Gateway, cfg.Payment.WebhookSecret),
		reconcileUC,
		quarantineUC,
		api.WebhookConfig{SignatureHeader: cfg.Payment.SignatureHeader, MaxBodyBytes: cfg.HTTP.MaxBodyBytes},
		logger,
	)
	server := httpserver.NewServer(cfg.HTTP, httpserver.Deps{
		Webhook: webhook,
		API:     apiv1.NewServer(statusUC, reconcileUC, quarantineUC, limiter, apiv1.ActionLimit{}, logger),
		Auth:    api.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Health:  health,
	}, logger)

	// ---- Background work ----
	g, gctx := errgroup.WithContext(ctx)
	workers.Start(gctx)
	defer workers.Stop()

	if store.stats != nil {
		g.Go(func() error {
			store.stats(gctx)
			return nil
		})
	}
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error {
		r := sched.NewUnresolvedReconciler(reconcileUC, locker, cfg.Reconciler.Interval, cfg.Reconciler.Batch, cfg.Reconciler.LockTTL, logger)
		return ignoreCancel(r.Run(gctx))
	})
	if cfg.ExpirySweep.Interval > 0 {
		g.Go(func() error {
			w := sched.NewExpiryWorker(cfg.ExpirySweep.Interval, cfg.ExpirySweep.Batch, repos.Statuses, statusUC, locker, nil, logger)
			return ignoreCancel(w.Run(gctx))
		})
	}

	err = g.Wait()
	logger.Info().Msg("reconciler stopped")
	return err
}

type storage struct {
	repos      usecase.Repositories
	quarantine repository.QuarantineRepository
	health     map[string]httpserver.HealthFunc
	stats      func(ctx context.Context)
	close      func()
}

// openStorage connects to Postgres, or builds the in-memory store when the
// database url is memory://. The memory store is seeded with the fixture
// users so a local run can reconcile sample webhooks.
func openStorage(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*storage, error) {
	if cfg.Database.URL == memory.DSN {
		logger.Warn().Msg("using the in-memory store; nothing survives a restart")
		s := memory.NewStore(memory.WithDefaultCountryCode(cfg.Payment.DefaultCountryCode))
		s.SeedUsers(fixtures.Users(time.Now().UTC())...)
		return &storage{
			repos: usecase.Repositories{
				Tx:            memory.NewTxManager(s, cfg.Locking.UserLockTimeout),
				Users:         s.Users(),
				Payments:      s.Payments(),
				Subscriptions: s.Subscriptions(),
				Statuses:      s.Statuses(),
			},
			quarantine: s.Quarantine(),
			health:     map[string]httpserver.HealthFunc{},
			close:      func() {},
		}, nil
	}

	if cfg.Database.Migrate {
		if err := pg.RunMigrations(ctx, cfg.Database.URL); err != nil {
			return nil, err
		}
		logger.Info().Msg("migrations applied")
	}
	pool, err := pg.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, err
	}
	return &storage{
		repos: usecase.Repositories{
			Tx:            pg.NewTxManager(pool, cfg.Locking.UserLockTimeout, logger),
			Users:         pg.NewPostgresUserRepo(pool, cfg.Payment.DefaultCountryCode),
			Payments:      pg.NewPaymentRepo(pool),
			Subscriptions: pg.NewSubscriptionRepo(pool),
			Statuses:      pg.NewStatusRepo(pool),
		},
		quarantine: pg.NewQuarantineRepo(pool),
		health:     map[string]httpserver.HealthFunc{"postgres": pool.Ping},
		stats: func(ctx context.Context) {
			pg.ReportPoolStats(ctx, pool, cfg.Database.StatsInterval)
		},
		close: pool.Close,
	}, nil
}

func planDurations(in map[string]time.Duration) usecase.PlanDurations {
	out := make(usecase.PlanDurations, len(in))
	for name, d := range in {
		out[model.PlanType(name)] = d
	}
	return out
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
