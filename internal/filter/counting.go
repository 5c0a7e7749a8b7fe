// Package filter provides an in-process counting Bloom filter used to answer
// "definitely absent" / "possibly present" for usernames without a database
// round trip.
package filter

import (
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Counting is a counting Bloom filter. Each key maps to k counters; Add
// increments them and Remove decrements them, so keys can be deleted
// without rebuilding the filter.
//
// A key that was added more times than it was removed always tests
// present. Keys never added test present only on a hash collision.
//
// Counting is safe for concurrent use.
type Counting struct {
	mu       sync.RWMutex
	counters []uint32
	hashes   uint32
	count    int64
}

// New returns a filter with size counters and hashes hash functions.
// Non-positive arguments fall back to a single counter or hash function;
// size is capped at math.MaxUint32 since positions are 32-bit.
func New(size, hashes int) *Counting {
	size = clampSize(size)
	if hashes < 1 {
		hashes = 1
	}
	return &Counting{
		counters: make([]uint32, size),
		hashes:   uint32(hashes),
	}
}

func clampSize(size int) int {
	if size < 1 {
		return 1
	}
	if uint64(size) > math.MaxUint32 {
		return math.MaxUint32
	}
	return size
}

// NewWithEstimates sizes a filter for n expected keys at false-positive
// rate fp.
func NewWithEstimates(n int, fp float64) *Counting {
	if n < 1 {
		n = 1
	}
	if fp <= 0 || fp >= 1 {
		fp = 0.01
	}
	m := math.Ceil(-float64(n) * math.Log(fp) / (math.Ln2 * math.Ln2))
	k := math.Round(m / float64(n) * math.Ln2)
	return New(int(m), int(math.Max(k, 1)))
}

// positions derives the counter indexes for key by double hashing a
// single 64-bit xxhash digest.
func (f *Counting) positions(key string) []uint32 {
	sum := xxhash.Sum64String(key)
	h1 := uint32(sum)
	h2 := uint32(sum>>32) | 1
	m := uint32(len(f.counters))

	pos := make([]uint32, f.hashes)
	for i := uint32(0); i < f.hashes; i++ {
		pos[i] = (h1 + i*h2) % m
	}
	return pos
}

// Add registers one occurrence of key.
func (f *Counting) Add(key string) {
	pos := f.positions(key)

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range pos {
		if f.counters[p] < math.MaxUint32 {
			f.counters[p]++
		}
	}
	f.count++
}

// Remove decrements the counters of key. If any counter is already zero the
// key was never added and the call is a no-op, so other keys are untouched.
// It reports whether the counters were decremented.
func (f *Counting) Remove(key string) bool {
	pos := f.positions(key)

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range pos {
		if f.counters[p] == 0 {
			return false
		}
	}
	for _, p := range pos {
		// saturated counters stay pinned
		if c := f.counters[p]; c > 0 && c < math.MaxUint32 {
			f.counters[p]--
		}
	}
	f.count--
	return true
}

// Has returns false only if key is definitely absent.
func (f *Counting) Has(key string) bool {
	pos := f.positions(key)

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range pos {
		if f.counters[p] == 0 {
			return false
		}
	}
	return true
}

// Len returns the net number of Add calls not matched by a Remove.
func (f *Counting) Len() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// Reset zeroes every counter.
func (f *Counting) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.counters)
	f.count = 0
}

// FalsePositiveRate estimates the current false-positive probability from
// the net number of keys held.
func (f *Counting) FalsePositiveRate() float64 {
	f.mu.RLock()
	n := float64(f.count)
	f.mu.RUnlock()
	if n <= 0 {
		return 0
	}
	k := float64(f.hashes)
	m := float64(len(f.counters))
	return math.Pow(1-math.Exp(-k*n/m), k)
}
