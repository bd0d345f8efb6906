package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/repository"
	"premium-reconciler/internal/infra/metrics"
)

var _ repository.StatusCache = (*StatusCache)(nil)

const cacheName = "status"

// StatusCache keeps projected statuses for a short TTL. Redis errors degrade
// to a cache miss; the database stays the source of truth.
type StatusCache struct {
	client RedisClient
	ttl    time.Duration
	log    *zerolog.Logger
}

func NewStatusCache(client RedisClient, ttl time.Duration, logger *zerolog.Logger) *StatusCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &StatusCache{client: client, ttl: ttl, log: logger}
}

func statusKey(userID string) string { return "subscription_status:" + userID }

// cachedStatus is the wire form; field names are stable across deploys.
type cachedStatus struct {
	UserID                  string     `json:"user_id"`
	IsPremium               bool       `json:"is_premium"`
	IsSuperUser             bool       `json:"is_super_user"`
	PremiumExpiresAt        *time.Time `json:"premium_expires_at,omitempty"`
	SuperUserExpiresAt      *time.Time `json:"super_user_expires_at,omitempty"`
	PremiumSubscriptionID   *string    `json:"premium_subscription_id,omitempty"`
	SuperUserSubscriptionID *string    `json:"super_user_subscription_id,omitempty"`
	LifetimeSpend           int64      `json:"lifetime_spend"`
	ProjectedAt             time.Time  `json:"projected_at"`
}

// version encodes a projection time so that later times sort after earlier
// ones as strings.
func version(t time.Time) string {
	if t.IsZero() {
		return fmt.Sprintf("%020d", 0)
	}
	return fmt.Sprintf("%020d", t.UnixNano())
}

func (c *StatusCache) Get(ctx context.Context, userID string) (*model.UserSubscriptionStatus, bool) {
	raw, err := c.client.Get(ctx, statusKey(userID))
	if err != nil {
		if !errors.Is(err, Nil) {
			metrics.IncCacheError(cacheName, "get")
			c.log.Warn().Err(err).Str("user_id", userID).Msg("status cache read failed")
		}
		metrics.IncCacheRequest(cacheName, "miss")
		return nil, false
	}
	_, payload, found := strings.Cut(raw, ":")
	if found && payload == "" {
		// tombstone left by Invalidate
		metrics.IncCacheRequest(cacheName, "miss")
		return nil, false
	}
	var cs cachedStatus
	if !found || json.Unmarshal([]byte(payload), &cs) != nil {
		metrics.IncCacheError(cacheName, "decode")
		_ = c.client.Del(ctx, statusKey(userID))
		metrics.IncCacheRequest(cacheName, "miss")
		return nil, false
	}
	metrics.IncCacheRequest(cacheName, "hit")
	st := model.UserSubscriptionStatus(cs)
	return &st, true
}

// Set writes st unless an entry or tombstone from a later projection is
// already there.
func (c *StatusCache) Set(ctx context.Context, st *model.UserSubscriptionStatus) {
	if st == nil {
		return
	}
	b, err := json.Marshal(cachedStatus(*st))
	if err != nil {
		metrics.IncCacheError(cacheName, "encode")
		return
	}
	ok, err := c.client.SetVersioned(ctx, statusKey(st.UserID), version(st.ProjectedAt), string(b), c.ttl)
	if err != nil {
		metrics.IncCacheError(cacheName, "set")
		c.log.Warn().Err(err).Str("user_id", st.UserID).Msg("status cache write failed")
		return
	}
	if !ok {
		c.log.Debug().Str("user_id", st.UserID).Time("projected_at", st.ProjectedAt).Msg("stale status not cached")
	}
}

// Invalidate replaces the entry with a tombstone at asOf, so a reader that
// loaded an older projection cannot put it back.
func (c *StatusCache) Invalidate(ctx context.Context, userID string, asOf time.Time) {
	if _, err := c.client.SetVersioned(ctx, statusKey(userID), version(asOf), "", c.ttl); err != nil {
		metrics.IncCacheError(cacheName, "invalidate")
		c.log.Warn().Err(err).Str("user_id", userID).Msg("status cache invalidation failed")
	}
}
