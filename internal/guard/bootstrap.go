package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// UsernameLister pages through every stored username in ascending order.
type UsernameLister interface {
	ListUsernames(ctx context.Context, after string, limit int) ([]string, error)
}

// Reconciler rebuilds the filter from the store on process start. Filter
// state does not survive restarts.
type Reconciler struct {
	lister     UsernameLister
	filter     Filter
	pageSize   int
	maxElapsed time.Duration
	log        *zap.Logger
}

// NewReconciler creates a Reconciler. Each page fetch is retried with
// exponential backoff for up to maxElapsed.
func NewReconciler(lister UsernameLister, filter Filter, pageSize int, maxElapsed time.Duration, log *zap.Logger) *Reconciler {
	if pageSize < 1 {
		pageSize = 1000
	}
	return &Reconciler{
		lister:     lister,
		filter:     filter,
		pageSize:   pageSize,
		maxElapsed: maxElapsed,
		log:        log,
	}
}

// Run adds every stored username to the filter and returns how many were
// loaded. Pages are retried individually so a transient failure never adds
// a username twice.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	start := time.Now()
	loaded := 0
	after := ""

	for {
		var page []string
		op := func() error {
			var err error
			page, err = r.lister.ListUsernames(ctx, after, r.pageSize)
			if err != nil {
				r.log.Warn("bootstrap page failed, retrying", zap.String("after", after), zap.Error(err))
			}
			return err
		}

		policy := backoff.NewExponentialBackOff()
		policy.MaxElapsedTime = r.maxElapsed
		if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
			return loaded, fmt.Errorf("bootstrap after %d usernames: %w", loaded, err)
		}

		for _, name := range page {
			r.filter.Add(name)
		}
		loaded += len(page)

		if len(page) < r.pageSize {
			break
		}
		after = page[len(page)-1]
	}

	r.log.Info("filter bootstrapped",
		zap.Int("usernames", loaded),
		zap.Duration("took", time.Since(start)),
	)
	return loaded, nil
}

// Start runs the reconciler in the background and marks g ready on success.
// The returned channel receives the result and is then closed.
func (r *Reconciler) Start(ctx context.Context, g *Guard) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		if _, err := r.Run(ctx); err != nil {
			done <- err
			return
		}
		g.MarkReady()
		done <- nil
	}()
	return done
}
