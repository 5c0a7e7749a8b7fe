package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/atinyakov/accounts/internal/cache"
	"github.com/atinyakov/accounts/internal/filter"
	"github.com/atinyakov/accounts/internal/guard"
	"github.com/atinyakov/accounts/internal/models"
	"github.com/atinyakov/accounts/internal/password"
	"github.com/atinyakov/accounts/internal/token"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// memStore is an in-memory accounts table with a unique username index.
type memStore struct {
	mu     sync.Mutex
	rows   map[string]models.Account
	nextID int64
	finds  int
}

func newMemStore() *memStore { return &memStore{rows: map[string]models.Account{}} }

func (s *memStore) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	acc, ok := s.rows[username]
	if !ok {
		return nil, fmt.Errorf("find: %w", models.ErrNotFound)
	}
	return &acc, nil
}

func (s *memStore) Insert(ctx context.Context, acc *models.Account) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[acc.Username]; ok {
		return nil, fmt.Errorf("insert: %w", models.ErrConflict)
	}
	s.nextID++
	created := *acc
	created.ID = s.nextID
	created.CreatedAt = time.Now()
	s.rows[acc.Username] = created
	return &created, nil
}

func (s *memStore) Delete(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[username]; !ok {
		return fmt.Errorf("delete: %w", models.ErrNotFound)
	}
	delete(s.rows, username)
	return nil
}

func (s *memStore) DeleteUnverifiedBefore(ctx context.Context, username string, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.rows[username]
	if !ok || acc.Verified || !acc.CreatedAt.Before(cutoff) {
		return fmt.Errorf("purge: %w", models.ErrNotFound)
	}
	delete(s.rows, username)
	return nil
}

func (s *memStore) UpdateVerification(ctx context.Context, id int64, verified bool, tok *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, acc := range s.rows {
		if acc.ID == id {
			acc.Verified = verified
			acc.VerificationToken = tok
			s.rows[name] = acc
			return nil
		}
	}
	return fmt.Errorf("update: %w", models.ErrNotFound)
}

func (s *memStore) findCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finds
}

type lifecycle struct {
	svc    *AccountService
	guard  *guard.Guard
	filter *filter.Counting
	store  *memStore
	redis  *miniredis.Miniredis
	tokens *token.Manager
	mail   *recordingNotifier
}

func newLifecycle(t *testing.T, opts Options) *lifecycle {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	f := filter.New(1_000_000, 5)
	store := newMemStore()
	g := guard.New(f, cache.NewAccountCache(rdb, "user:", time.Second), store, cache.DefaultTTL, zap.NewNop())
	g.MarkReady()

	tokens, err := token.NewManager([]byte("lifecycle-secret-lifecycle-secret"), time.Hour, 24*time.Hour)
	require.NoError(t, err)

	mail := &recordingNotifier{}
	svc := NewAccountService(g, store, password.NewBcrypt(bcrypt.MinCost), tokens, mail,
		cache.NewRevocations(rdb, "revoked:", time.Second), opts, zap.NewNop())

	return &lifecycle{svc: svc, guard: g, filter: f, store: store, redis: mr, tokens: tokens, mail: mail}
}

func TestLifecycle_SignupLoginDeleteResignup(t *testing.T) {
	lc := newLifecycle(t, Options{})
	ctx := context.Background()

	sess, err := lc.svc.Signup(ctx, SignupInput{Name: "Alice", Email: "alice@example.com", Username: "alice", Password: "secret1"})
	require.NoError(t, err)
	assert.True(t, lc.filter.Has("alice"))
	assert.True(t, lc.redis.Exists("user:alice"))

	// the cached entry answers the duplicate check and the login
	before := lc.store.findCount()
	_, err = lc.svc.Signup(ctx, SignupInput{Name: "A2", Email: "a2@example.com", Username: "alice", Password: "secret2"})
	assert.ErrorIs(t, err, models.ErrConflict)
	_, err = lc.svc.Login(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, before, lc.store.findCount())

	claims, err := lc.tokens.Verify(sess.Token)
	require.NoError(t, err)
	require.NoError(t, lc.svc.Delete(ctx, claims, "secret1"))

	assert.False(t, lc.filter.Has("alice"))
	assert.False(t, lc.redis.Exists("user:alice"))
	assert.True(t, lc.redis.Exists("revoked:"+claims.ID))

	_, err = lc.svc.Login(ctx, "alice", "secret1")
	assert.ErrorIs(t, err, models.ErrAuth)

	_, err = lc.svc.Signup(ctx, SignupInput{Name: "Alice", Email: "alice@example.com", Username: "alice", Password: "secret3"})
	assert.NoError(t, err)
}

func TestLifecycle_ConcurrentSignupsSameUsername(t *testing.T) {
	lc := newLifecycle(t, Options{})
	ctx := context.Background()

	const racers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := lc.svc.Signup(ctx, SignupInput{Name: "Bob", Email: "bob@example.com", Username: "bob", Password: fmt.Sprintf("pw%d", i)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, models.ErrConflict):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, racers-1, conflicts)
	assert.EqualValues(t, 1, lc.filter.Len())
}

func TestLifecycle_EmailVerification(t *testing.T) {
	lc := newLifecycle(t, Options{EmailVerification: true, PublicBaseURL: "http://localhost:8080"})
	ctx := context.Background()

	sess, err := lc.svc.Signup(ctx, SignupInput{Name: "Carol", Email: "carol@example.com", Username: "carol", Password: "secret1"})
	require.NoError(t, err)
	require.NotNil(t, sess.Account.VerificationToken)
	assert.Contains(t, lc.mail.body, "/api/verify-email?token=")

	_, err = lc.svc.Login(ctx, "carol", "secret1")
	assert.ErrorIs(t, err, models.ErrAuth)

	acc, err := lc.svc.VerifyEmail(ctx, *sess.Account.VerificationToken)
	require.NoError(t, err)
	assert.True(t, acc.Verified)

	// cache was refreshed, so login sees the verified snapshot
	_, err = lc.svc.Login(ctx, "carol", "secret1")
	assert.NoError(t, err)
}

func TestLifecycle_CacheOutageDegradesToStore(t *testing.T) {
	lc := newLifecycle(t, Options{})
	ctx := context.Background()

	_, err := lc.svc.Signup(ctx, SignupInput{Name: "Dave", Email: "dave@example.com", Username: "dave", Password: "secret1"})
	require.NoError(t, err)

	lc.redis.Close()

	_, err = lc.svc.Login(ctx, "dave", "secret1")
	assert.NoError(t, err)

	_, err = lc.svc.Signup(ctx, SignupInput{Name: "Dave", Email: "dave@example.com", Username: "dave", Password: "secret1"})
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Positive(t, lc.guard.Stats().CacheErrors)
}

func TestLifecycle_OverlongPasswordIsValidationError(t *testing.T) {
	lc := newLifecycle(t, Options{})
	ctx := context.Background()

	_, err := lc.svc.Signup(ctx, SignupInput{Name: "Erin", Email: "erin@example.com", Username: "erin", Password: strings.Repeat("x", 80)})
	require.ErrorIs(t, err, models.ErrValidation)
	var e *models.Error
	require.True(t, errors.As(err, &e))
	assert.Contains(t, e.Msg, "72 bytes")
	assert.False(t, lc.filter.Has("erin"), "nothing was created")
}

func TestLifecycle_PurgeSparesAccountVerifiedAfterListing(t *testing.T) {
	lc := newLifecycle(t, Options{EmailVerification: true, PublicBaseURL: "http://localhost:8080"})
	ctx := context.Background()

	sess, err := lc.svc.Signup(ctx, SignupInput{Name: "Fay", Email: "fay@example.com", Username: "fay", Password: "secret1"})
	require.NoError(t, err)
	_, err = lc.svc.Signup(ctx, SignupInput{Name: "Gus", Email: "gus@example.com", Username: "gus", Password: "secret1"})
	require.NoError(t, err)

	// both were unverified when the purger selected them
	cutoff := time.Now().Add(time.Minute)

	_, err = lc.svc.VerifyEmail(ctx, *sess.Account.VerificationToken)
	require.NoError(t, err)

	assert.ErrorIs(t, lc.guard.CommitPurge(ctx, "fay", cutoff), models.ErrNotFound)
	require.NoError(t, lc.guard.CommitPurge(ctx, "gus", cutoff))

	_, err = lc.svc.Login(ctx, "fay", "secret1")
	assert.NoError(t, err, "verified account survives the purge")

	res, err := lc.guard.CheckAndReserve(ctx, "gus")
	require.NoError(t, err)
	assert.True(t, res.Available, "purged username is free again")
}
