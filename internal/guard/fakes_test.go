package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atinyakov/accounts/internal/models"
)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]models.Account
	getErr  error
	setErr  error
	delErr  error

	gets, sets, deletes int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]models.Account{}}
}

func (c *fakeCache) Get(ctx context.Context, username string) (*models.Account, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	acc, ok := c.entries[username]
	if !ok {
		return nil, false, nil
	}
	return &acc, true, nil
}

func (c *fakeCache) Set(ctx context.Context, acc *models.Account, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[acc.Username] = *acc
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	if c.delErr != nil {
		return c.delErr
	}
	delete(c.entries, username)
	return nil
}

func (c *fakeCache) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets + c.sets + c.deletes
}

func (c *fakeCache) has(username string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[username]
	return ok
}

func (c *fakeCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// fakeStore enforces username uniqueness like the accounts table does.
type fakeStore struct {
	mu       sync.Mutex
	rows     map[string]models.Account
	nextID   int64
	findErr  error
	listErrs []error

	finds, inserts, deletes int
}

func newFakeStore(usernames ...string) *fakeStore {
	s := &fakeStore{rows: map[string]models.Account{}}
	for _, u := range usernames {
		s.nextID++
		s.rows[u] = models.Account{ID: s.nextID, Username: u}
	}
	return s
}

func (s *fakeStore) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	if s.findErr != nil {
		return nil, s.findErr
	}
	acc, ok := s.rows[username]
	if !ok {
		return nil, fmt.Errorf("find %q: %w", username, models.ErrNotFound)
	}
	return &acc, nil
}

func (s *fakeStore) Insert(ctx context.Context, acc *models.Account) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if _, ok := s.rows[acc.Username]; ok {
		return nil, fmt.Errorf("insert %q: %w", acc.Username, models.ErrConflict)
	}
	s.nextID++
	created := *acc
	created.ID = s.nextID
	s.rows[acc.Username] = created
	return &created, nil
}

func (s *fakeStore) Delete(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	if _, ok := s.rows[username]; !ok {
		return fmt.Errorf("delete %q: %w", username, models.ErrNotFound)
	}
	delete(s.rows, username)
	return nil
}

func (s *fakeStore) DeleteUnverifiedBefore(ctx context.Context, username string, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	acc, ok := s.rows[username]
	if !ok || acc.Verified || !acc.CreatedAt.Before(cutoff) {
		return fmt.Errorf("purge %q: %w", username, models.ErrNotFound)
	}
	delete(s.rows, username)
	return nil
}

// ListUsernames pages in lexical order; queued listErrs fail calls first.
func (s *fakeStore) ListUsernames(ctx context.Context, after string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listErrs) > 0 {
		err := s.listErrs[0]
		s.listErrs = s.listErrs[1:]
		return nil, err
	}
	var names []string
	for name := range s.rows {
		if name > after {
			names = append(names, name)
		}
	}
	sortStrings(names)
	if len(names) > limit {
		names = names[:limit]
	}
	return names, nil
}

func (s *fakeStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finds + s.inserts + s.deletes
}

func sortStrings(a []string) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j] < a[j-1]; j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}

var errUnavailable = errors.New("connection refused")
