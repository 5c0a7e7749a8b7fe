package guard

import (
	"context"
	"testing"
	"time"

	"github.com/atinyakov/accounts/internal/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReconciler_LoadsEveryUsername(t *testing.T) {
	names := []string{"alice", "bob", "carol", "dave", "erin", "frank", "gina"}
	store := newFakeStore(names...)
	f := filter.New(10_000, 5)

	r := NewReconciler(store, f, 3, time.Second, zap.NewNop())
	n, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(names), n)
	assert.EqualValues(t, len(names), f.Len())
	for _, name := range names {
		assert.True(t, f.Has(name), name)
	}
}

func TestReconciler_RetriesPageWithoutDoubleAdd(t *testing.T) {
	store := newFakeStore("alice", "bob", "carol")
	store.listErrs = []error{errUnavailable, errUnavailable}
	f := filter.New(10_000, 5)

	r := NewReconciler(store, f, 2, 5*time.Second, zap.NewNop())
	n, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.EqualValues(t, 3, f.Len())
}

func TestReconciler_GivesUpWhenCancelled(t *testing.T) {
	store := newFakeStore("alice")
	store.listErrs = make([]error, 1000)
	for i := range store.listErrs {
		store.listErrs[i] = errUnavailable
	}
	f := filter.New(100, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	r := NewReconciler(store, f, 10, 0, zap.NewNop())
	_, err := r.Run(ctx)
	assert.Error(t, err)
	assert.False(t, f.Has("alice"))
}

func TestReconciler_StartMarksGuardReady(t *testing.T) {
	store := newFakeStore("alice")
	f := filter.New(1000, 3)
	g := New(f, newFakeCache(), store, time.Hour, zap.NewNop())
	require.False(t, g.Ready())

	r := NewReconciler(store, f, 10, time.Second, zap.NewNop())
	select {
	case err := <-r.Start(context.Background(), g):
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bootstrap did not finish")
	}
	assert.True(t, g.Ready())

	// with the filter loaded, an unknown name takes the fast path
	before := store.calls()
	res, err := g.CheckAndReserve(context.Background(), "zed")
	require.NoError(t, err)
	assert.True(t, res.Available)
	assert.Equal(t, before, store.calls())
}

func TestReconciler_StartReportsFailure(t *testing.T) {
	store := newFakeStore()
	store.listErrs = []error{errUnavailable, errUnavailable, errUnavailable, errUnavailable}
	f := filter.New(100, 3)
	g := New(f, newFakeCache(), store, time.Hour, zap.NewNop())

	r := NewReconciler(store, f, 10, time.Millisecond, zap.NewNop())
	err := <-r.Start(context.Background(), g)
	assert.Error(t, err)
	assert.False(t, g.Ready())
}
