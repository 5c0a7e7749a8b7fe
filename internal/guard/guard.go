// Package guard keeps usernames unique across the account lifecycle by
// layering an in-process counting Bloom filter and a Redis cache in front of
// the authoritative PostgreSQL store.
//
// Lookups consult the filter first: a negative answer is trusted and ends
// the check without any I/O. A positive answer is verified against the cache
// and then the database. Mutations are committed to the database before the
// filter and cache are touched, so the accelerators never claim an account
// that was not durably written.
package guard

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/atinyakov/accounts/internal/models"
	"go.uber.org/zap"
)

// Filter is an approximate membership set with one-sided error.
type Filter interface {
	Add(key string)
	Remove(key string) bool
	Has(key string) bool
}

// Cache holds derived account snapshots keyed by username.
type Cache interface {
	Get(ctx context.Context, username string) (*models.Account, bool, error)
	Set(ctx context.Context, acc *models.Account, ttl time.Duration) error
	Delete(ctx context.Context, username string) error
}

// Store is the authoritative account store. Absence reported by Store is
// the only absence that is trusted without further checks.
type Store interface {
	FindByUsername(ctx context.Context, username string) (*models.Account, error)
	Insert(ctx context.Context, acc *models.Account) (*models.Account, error)
	Delete(ctx context.Context, username string) error
	DeleteUnverifiedBefore(ctx context.Context, username string, cutoff time.Time) error
}

// Reservation is the outcome of CheckAndReserve.
type Reservation struct {
	// Available is true when the username may be registered.
	Available bool
	// Existing is the account holding the username, when known.
	Existing *models.Account
}

// Stats counts how existence checks were resolved.
type Stats struct {
	FastPath       int64 `json:"fast_path"`
	CacheHits      int64 `json:"cache_hits"`
	StoreLookups   int64 `json:"store_lookups"`
	FalsePositives int64 `json:"false_positives"`
	CacheErrors    int64 `json:"cache_errors"`
}

// Guard orchestrates Filter, Cache and Store.
type Guard struct {
	filter Filter
	cache  Cache
	store  Store
	ttl    time.Duration
	log    *zap.Logger

	// ready is false until the filter holds every stored username; until
	// then negative filter answers are not trusted.
	ready atomic.Bool

	fastPath       atomic.Int64
	cacheHits      atomic.Int64
	storeLookups   atomic.Int64
	falsePositives atomic.Int64
	cacheErrors    atomic.Int64
}

// New creates a Guard. The guard starts not ready; call MarkReady once the
// filter has been populated.
func New(filter Filter, cache Cache, store Store, ttl time.Duration, log *zap.Logger) *Guard {
	return &Guard{
		filter: filter,
		cache:  cache,
		store:  store,
		ttl:    ttl,
		log:    log,
	}
}

// MarkReady enables the filter fast path.
func (g *Guard) MarkReady() {
	g.ready.Store(true)
}

// Ready reports whether the filter fast path is enabled.
func (g *Guard) Ready() bool {
	return g.ready.Load()
}

// Stats returns a snapshot of the lookup counters.
func (g *Guard) Stats() Stats {
	return Stats{
		FastPath:       g.fastPath.Load(),
		CacheHits:      g.cacheHits.Load(),
		StoreLookups:   g.storeLookups.Load(),
		FalsePositives: g.falsePositives.Load(),
		CacheErrors:    g.cacheErrors.Load(),
	}
}

// CheckAndReserve reports whether username is free to register.
//
// A filter miss returns Available without contacting the cache or the
// store. Otherwise a cache hit is a conflict, and on a cache miss the store
// decides; a stored account is written back to the cache.
func (g *Guard) CheckAndReserve(ctx context.Context, username string) (Reservation, error) {
	if g.Ready() && !g.filter.Has(username) {
		g.fastPath.Add(1)
		return Reservation{Available: true}, nil
	}

	if acc, ok := g.cacheGet(ctx, username); ok {
		g.cacheHits.Add(1)
		return Reservation{Existing: acc}, nil
	}

	g.storeLookups.Add(1)
	acc, err := g.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			g.falsePositives.Add(1)
			return Reservation{Available: true}, nil
		}
		return Reservation{}, err
	}

	g.cacheSet(ctx, acc)
	return Reservation{Existing: acc}, nil
}

// CommitCreate inserts draft and, only after the insert succeeds, records the
// username in the filter and caches the new account. A concurrent insert of
// the same username surfaces as models.ErrConflict.
func (g *Guard) CommitCreate(ctx context.Context, draft *models.Account) (*models.Account, error) {
	acc, err := g.store.Insert(ctx, draft)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			g.log.Info("lost username race", zap.String("username", draft.Username))
		}
		return nil, err
	}

	g.filter.Add(acc.Username)
	g.cacheSet(ctx, acc)
	return acc, nil
}

// ResolveForAuth returns the account for username, reading through the
// cache. A store hit is written back to the cache and re-added to the filter
// if the filter had lost it. A missing account yields models.ErrNotFound.
func (g *Guard) ResolveForAuth(ctx context.Context, username string) (*models.Account, error) {
	if acc, ok := g.cacheGet(ctx, username); ok {
		g.cacheHits.Add(1)
		return acc, nil
	}

	g.storeLookups.Add(1)
	acc, err := g.store.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	g.cacheSet(ctx, acc)
	if !g.filter.Has(username) {
		g.log.Warn("filter missing stored username, re-adding", zap.String("username", username))
		g.filter.Add(username)
	}
	return acc, nil
}

// CommitDelete removes the account from the store, then from the filter and
// the cache.
func (g *Guard) CommitDelete(ctx context.Context, username string) error {
	return g.commitDelete(ctx, username, g.store.Delete)
}

// CommitPurge removes the account only if it is still unverified and was
// created before cutoff, then updates the filter and the cache the same way
// CommitDelete does. A models.ErrNotFound result means the account was
// verified, deleted or re-registered since it was selected.
func (g *Guard) CommitPurge(ctx context.Context, username string, cutoff time.Time) error {
	return g.commitDelete(ctx, username, func(ctx context.Context, username string) error {
		return g.store.DeleteUnverifiedBefore(ctx, username, cutoff)
	})
}

// commitDelete runs del against the store first. The filter is decremented
// only when a row was deleted and the filter is complete: before bootstrap
// finishes, Has may be true through collisions with loaded usernames, and
// decrementing would turn those into false negatives.
func (g *Guard) commitDelete(ctx context.Context, username string, del func(context.Context, string) error) error {
	if err := del(ctx, username); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			g.cacheDelete(ctx, username)
		}
		return err
	}

	if g.Ready() && g.filter.Has(username) {
		g.filter.Remove(username)
	}
	g.cacheDelete(ctx, username)
	return nil
}

// Refresh overwrites the cached snapshot after the stored account changed.
func (g *Guard) Refresh(ctx context.Context, acc *models.Account) {
	g.cacheSet(ctx, acc)
}

func (g *Guard) cacheGet(ctx context.Context, username string) (*models.Account, bool) {
	acc, ok, err := g.cache.Get(ctx, username)
	if err != nil {
		g.cacheErrors.Add(1)
		g.log.Warn("cache read failed, treating as miss", zap.String("username", username), zap.Error(err))
		return nil, false
	}
	return acc, ok
}

func (g *Guard) cacheSet(ctx context.Context, acc *models.Account) {
	if err := g.cache.Set(ctx, acc, g.ttl); err != nil {
		g.cacheErrors.Add(1)
		g.log.Warn("cache write failed", zap.String("username", acc.Username), zap.Error(err))
	}
}

func (g *Guard) cacheDelete(ctx context.Context, username string) {
	if err := g.cache.Delete(ctx, username); err != nil {
		g.cacheErrors.Add(1)
		// a stale entry survives until its TTL
		g.log.Error("cache delete failed", zap.String("username", username), zap.Error(err))
	}
}
