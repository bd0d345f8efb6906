// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment overrides, e.g. RECON_DATABASE_URL.
const EnvPrefix = "RECON"

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr" envconfig:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout" envconfig:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" envconfig:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" envconfig:"max_body_bytes"`
	CORSOrigins    []string      `yaml:"cors_origins" envconfig:"cors_origins"`
}

type LogConfig struct {
	Level    string `yaml:"level" envconfig:"level" validate:"oneof=trace debug info warn error"`
	Format   string `yaml:"format" envconfig:"format" validate:"oneof=json console"`
	Sampling bool   `yaml:"sampling" envconfig:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL           string        `yaml:"url" envconfig:"url" validate:"required"`
	MaxConns      int32         `yaml:"max_conns" envconfig:"max_conns"`
	Migrate       bool          `yaml:"migrate" envconfig:"migrate"`
	StatsInterval time.Duration `yaml:"stats_interval" envconfig:"stats_interval"`
}

// RedisConfig is optional; without a URL the status cache and the
// reconciler's cross-instance lock are disabled.
type RedisConfig struct {
	URL       string        `yaml:"url" envconfig:"url"`
	Password  string        `yaml:"password" envconfig:"password"`
	DB        int           `yaml:"db" envconfig:"db"`
	StatusTTL time.Duration `yaml:"status_ttl" envconfig:"status_ttl"`
}

type PaymentConfig struct {
	Gateway            string   `yaml:"gateway" envconfig:"gateway"`
	WebhookSecret      string   `yaml:"webhook_secret" envconfig:"webhook_secret" validate:"required"`
	SignatureHeader    string   `yaml:"signature_header" envconfig:"signature_header"`
	GenericEmails      []string `yaml:"generic_emails" envconfig:"generic_emails"`
	DefaultCountryCode string   `yaml:"default_country_code" envconfig:"default_country_code" validate:"omitempty,numeric,max=3"`
}

type LockingConfig struct {
	UserLockTimeout time.Duration `yaml:"user_lock_timeout" envconfig:"user_lock_timeout"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" envconfig:"jwt_secret" validate:"required,min=16"`
	Issuer    string `yaml:"issuer" envconfig:"issuer"`
}

type TelegramConfig struct {
	Token           string  `yaml:"token" envconfig:"token"`
	OperatorChatIDs []int64 `yaml:"operator_chat_ids" envconfig:"operator_chat_ids"`
	Language        string  `yaml:"language" envconfig:"language" validate:"omitempty,oneof=en hi"`
}

type ReconcilerConfig struct {
	Interval     time.Duration `yaml:"interval" envconfig:"interval"`
	Batch        int           `yaml:"batch" envconfig:"batch"`
	LockTTL      time.Duration `yaml:"lock_ttl" envconfig:"lock_ttl"`
	PendingGrace time.Duration `yaml:"pending_grace" envconfig:"pending_grace"`
}

// ExpirySweepConfig is off unless Interval is set.
type ExpirySweepConfig struct {
	Interval time.Duration `yaml:"interval" envconfig:"interval"`
	Batch    int           `yaml:"batch" envconfig:"batch"`
}

type WorkerConfig struct {
	Size int `yaml:"size" envconfig:"size"`
}

type Config struct {
	HTTP        HTTPConfig               `yaml:"http" envconfig:"http"`
	Log         LogConfig                `yaml:"log" envconfig:"log"`
	Database    DatabaseConfig           `yaml:"database" envconfig:"database"`
	Redis       RedisConfig              `yaml:"redis" envconfig:"redis"`
	Payment     PaymentConfig            `yaml:"payment" envconfig:"payment"`
	Plans       map[string]time.Duration `yaml:"plans" envconfig:"plans"`
	Locking     LockingConfig            `yaml:"locking" envconfig:"locking"`
	Auth        AuthConfig               `yaml:"auth" envconfig:"auth"`
	Telegram    TelegramConfig           `yaml:"telegram" envconfig:"telegram"`
	Reconciler  ReconcilerConfig         `yaml:"reconciler" envconfig:"reconciler"`
	ExpirySweep ExpirySweepConfig        `yaml:"expiry_sweep" envconfig:"expiry_sweep"`
	Worker      WorkerConfig             `yaml:"worker" envconfig:"worker"`

	Runtime RuntimeConfig `yaml:"-" ignored:"true"`
}

// LoadConfig reads flags, then delegates to Load.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	return Load(configPath, dev)
}

// Load builds the configuration from the YAML file at path (optional), a
// .env file in the working directory (optional) and RECON_* environment
// variables, in increasing order of precedence.
func Load(path string, dev bool) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// env-only deployments
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ReadTimeout <= 0 {
		cfg.HTTP.ReadTimeout = 10 * time.Second
	}
	if cfg.HTTP.WriteTimeout <= 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 10 * time.Second
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = 1 << 20
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 20
	}
	cfg.Redis.StatusTTL = normalizeTTL(cfg.Redis.StatusTTL)
	if cfg.Payment.Gateway == "" {
		cfg.Payment.Gateway = "razorpay"
	}
	if cfg.Payment.SignatureHeader == "" {
		cfg.Payment.SignatureHeader = "X-Gateway-Signature"
	}
	if cfg.Payment.DefaultCountryCode == "" {
		cfg.Payment.DefaultCountryCode = "91"
	}
	if len(cfg.Plans) == 0 {
		cfg.Plans = map[string]time.Duration{
			"premium":    30 * 24 * time.Hour,
			"super_user": 30 * 24 * time.Hour,
		}
	}
	if cfg.Locking.UserLockTimeout <= 0 {
		cfg.Locking.UserLockTimeout = 5 * time.Second
	}
	if cfg.Reconciler.Interval <= 0 {
		cfg.Reconciler.Interval = 10 * time.Minute
	}
	if cfg.Reconciler.Batch <= 0 {
		cfg.Reconciler.Batch = 100
	}
	if cfg.Reconciler.LockTTL <= 0 {
		cfg.Reconciler.LockTTL = 5 * time.Minute
	}
	if cfg.Reconciler.PendingGrace <= 0 {
		cfg.Reconciler.PendingGrace = 15 * time.Minute
	}
	if cfg.ExpirySweep.Batch <= 0 {
		cfg.ExpirySweep.Batch = 200
	}
	if cfg.Worker.Size <= 0 {
		cfg.Worker.Size = 4
	}
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Minute
	}
	return d
}
