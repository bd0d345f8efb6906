package redis

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"premium-reconciler/internal/config"
)

// Nil is returned by Get for a missing key.
var Nil = redis.Nil

type RedisClient interface {
	Ping(ctx context.Context) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	// IncrWindow increments key and starts its expiry on the first hit, atomically.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
	Del(ctx context.Context, keys ...string) error
	// CompareAndDelete removes key only while it still holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	// SetVersioned stores version:payload unless key already carries a greater
	// version. Versions are fixed-width decimal strings.
	SetVersioned(ctx context.Context, key, version, payload string, expiration time.Duration) (bool, error)
	Close() error
}

var _ RedisClient = (*redClient)(nil)

type redClient struct {
	cli *redis.Client
}

// NewClient accepts either a redis:// URL or a bare host:port; a password or
// db in the config overrides the URL's.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redClient, error) {
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &redClient{cli: c}, nil
}

func clientOptions(cfg *config.RedisConfig) (*redis.Options, error) {
	opts := &redis.Options{Addr: cfg.URL}
	if strings.HasPrefix(cfg.URL, "redis://") || strings.HasPrefix(cfg.URL, "rediss://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, err
		}
		opts = parsed
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	return opts, nil
}

func (c *redClient) Ping(ctx context.Context) error { return c.cli.Ping(ctx).Err() }

func (c *redClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.cli.Set(ctx, key, value, expiration).Err()
}

func (c *redClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return c.cli.SetNX(ctx, key, value, expiration).Result()
}

func (c *redClient) Get(ctx context.Context, key string) (string, error) {
	return c.cli.Get(ctx, key).Result()
}

var luaIncrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n`)

func (c *redClient) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	return luaIncrWindow.Run(ctx, c.cli, []string{key}, window.Milliseconds()).Int64()
}

func (c *redClient) Del(ctx context.Context, keys ...string) error {
	return c.cli.Del(ctx, keys...).Err()
}

var luaCompareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (c *redClient) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := luaCompareAndDelete.Run(ctx, c.cli, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var luaSetVersioned = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur and string.sub(cur, 1, string.len(ARGV[1])) > ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1] .. ":" .. ARGV[2], "PX", ARGV[3])
return 1`)

func (c *redClient) SetVersioned(ctx context.Context, key, version, payload string, expiration time.Duration) (bool, error) {
	n, err := luaSetVersioned.Run(ctx, c.cli, []string{key}, version, payload, expiration.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *redClient) Close() error { return c.cli.Close() }
