package db

import (
	"context"
	"errors"
	"time"

	"github.com/atinyakov/accounts/internal/models"
	"go.uber.org/zap"
)

// purgeBatch bounds how many accounts one tick removes.
const purgeBatch = 500

// UnverifiedLister finds accounts that never confirmed their email.
type UnverifiedLister interface {
	ListUnverifiedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// AccountPurger removes an account together with its derived cache and
// filter state, provided it is still unverified and older than cutoff.
type AccountPurger interface {
	CommitPurge(ctx context.Context, username string, cutoff time.Time) error
}

// StartUnverifiedPurger deletes unverified accounts older than retention
// every interval until ctx is cancelled.
func StartUnverifiedPurger(
	ctx context.Context,
	lister UnverifiedLister,
	purger AccountPurger,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-retention)
				names, err := lister.ListUnverifiedBefore(ctx, cutoff, purgeBatch)
				if err != nil {
					log.Error("failed to list unverified accounts", zap.Error(err))
					continue
				}
				removed := 0
				for _, name := range names {
					if err := purger.CommitPurge(ctx, name, cutoff); err != nil {
						if errors.Is(err, models.ErrNotFound) {
							// verified or re-registered since listing
							log.Debug("skipped purge of changed account", zap.String("username", name))
							continue
						}
						log.Warn("failed to purge unverified account", zap.String("username", name), zap.Error(err))
						continue
					}
					removed++
				}
				if removed > 0 {
					log.Info("purged unverified accounts", zap.Int("removed", removed))
				}
			}
		}
	}()
}
