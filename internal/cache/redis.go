// Package cache provides the Redis-backed cache tier for account records and
// the token revocation list.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/accounts/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is the lifetime of a cached account entry.
const DefaultTTL = 3600 * time.Second

// AccountCache stores serialized account snapshots keyed by username.
// Entries are derived copies of database rows and are never authoritative.
type AccountCache struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// NewAccountCache creates an AccountCache. Every call is bounded by timeout
// when it is positive.
func NewAccountCache(client redis.UniversalClient, prefix string, timeout time.Duration) *AccountCache {
	return &AccountCache{client: client, prefix: prefix, timeout: timeout}
}

func (c *AccountCache) key(username string) string {
	return c.prefix + username
}

func (c *AccountCache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Get returns the cached account for username. The boolean is false on a
// miss; err is set only when Redis could not be reached or the entry is
// corrupt.
func (c *AccountCache) Get(ctx context.Context, username string) (*models.Account, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	data, err := c.client.Get(ctx, c.key(username)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var acc models.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, false, fmt.Errorf("cache decode: %w", err)
	}
	return &acc, true, nil
}

// Set writes the account snapshot under its username with the given TTL.
func (c *AccountCache) Set(ctx context.Context, acc *models.Account, ttl time.Duration) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.Set(ctx, c.key(acc.Username), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Delete drops the cached entry for username. Missing entries are not an error.
func (c *AccountCache) Delete(ctx context.Context, username string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.Del(ctx, c.key(username)).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Ping reports the round-trip latency to Redis.
func (c *AccountCache) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}
