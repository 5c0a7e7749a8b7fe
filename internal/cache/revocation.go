package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revocations is a deny-list of token IDs. Each entry lives until the token
// it names would have expired anyway.
type Revocations struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// NewRevocations creates a Revocations list.
func NewRevocations(client redis.UniversalClient, prefix string, timeout time.Duration) *Revocations {
	return &Revocations{client: client, prefix: prefix, timeout: timeout}
}

// Revoke marks tokenID as revoked for ttl. A non-positive ttl means the token
// has already expired and nothing is stored.
func (r *Revocations) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := r.client.Set(ctx, r.prefix+tokenID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether tokenID was revoked.
func (r *Revocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	err := r.client.Get(ctx, r.prefix+tokenID).Err()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return false, fmt.Errorf("check revocation: %w", err)
}
