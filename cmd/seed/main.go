package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"premium-reconciler/internal/config"
	"premium-reconciler/internal/domain/ports/repository"
	"premium-reconciler/internal/fixtures"
	"premium-reconciler/internal/infra/api"
	"premium-reconciler/internal/infra/db/memory"
	pg "premium-reconciler/internal/infra/db/postgres"
	"premium-reconciler/internal/infra/logging"
	"premium-reconciler/internal/infra/payment"
)

// Seeds a local database with users the sample webhooks resolve against and
// prints tokens for calling the API.
func main() {
	reset := flag.Bool("reset", false, "truncate reconciliation tables before seeding")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the printed tokens")

	cfg, err := config.LoadConfig()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	if cfg.Database.URL == memory.DSN {
		logger.Fatal().Msg("the in-memory store seeds itself on start; point database.url at Postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := pg.RunMigrations(ctx, cfg.Database.URL); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}
	pool, err := pg.NewPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	if *reset {
		_, err := pool.Exec(ctx, `TRUNCATE payments, subscriptions, user_subscription_status, quarantined_events CASCADE`)
		if err != nil {
			logger.Fatal().Err(err).Msg("reset")
		}
		logger.Info().Msg("reconciliation tables truncated")
	}

	users := pg.NewPostgresUserRepo(pool, cfg.Payment.DefaultCountryCode)
	for _, u := range fixtures.Users(time.Now().UTC()) {
		if err := users.Save(ctx, repository.NoTX, u); err != nil {
			logger.Fatal().Err(err).Str("user_id", u.ID).Msg("seed user")
		}
		fmt.Printf("seeded user %s (%s)\n", u.ID, u.DisplayName)
	}

	auth := api.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	for _, role := range []string{api.RoleService, api.RoleAdmin} {
		tok, err := auth.Mint("seed-"+role, role, *tokenTTL)
		if err != nil {
			logger.Fatal().Err(err).Str("role", role).Msg("mint token")
		}
		fmt.Printf("\n%s token:\n%s\n", role, tok)
	}

	body := fixtures.SampleWebhook(time.Now().UTC())
	fmt.Printf("\nsample webhook (%s: %s):\n%s\n", cfg.Payment.SignatureHeader, payment.SignHex(cfg.Payment.WebhookSecret, []byte(body)), body)
}
