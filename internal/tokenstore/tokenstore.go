// Package tokenstore provides an expiring key/value map for hashed tokens.
//
// Every entry lives for the store-wide TTL measured from its last write. An
// entry written at T is treated as absent at or after T+TTL. Reads check
// expiry lazily; an optional sweeper goroutine reclaims memory. Capacity is
// unbounded.
//
// There is no delete. Invalidation overwrites the value with a tombstone,
// which reads as absent and expires like any other entry.
package tokenstore

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	tombstone bool
	writtenAt time.Time
}

type options struct {
	now           func() time.Time
	sweepInterval time.Duration
}

// Option configures a Store.
type Option func(*options)

// WithClock overrides the wall clock used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithSweepInterval starts a background goroutine that removes expired
// entries every d. Zero disables sweeping.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		o.sweepInterval = d
	}
}

// Store is a concurrency-safe expiring map keyed by hashed token bytes.
// Each Store has its own lock.
type Store[V any] struct {
	mu   sync.RWMutex
	data map[string]entry[V]
	ttl  time.Duration
	now  func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Store whose entries expire ttl after they are written.
func New[V any](ttl time.Duration, opts ...Option) *Store[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Store[V]{
		data:   make(map[string]entry[V]),
		ttl:    ttl,
		now:    o.now,
		stopCh: make(chan struct{}),
	}
	if o.sweepInterval > 0 {
		go s.sweepLoop(o.sweepInterval)
	}
	return s
}

// TTL returns the store-wide entry lifetime.
func (s *Store[V]) TTL() time.Duration {
	return s.ttl
}

// Set stores value under key, replacing any previous entry and restarting
// its lifetime.
func (s *Store[V]) Set(key []byte, value V) {
	s.mu.Lock()
	s.data[string(key)] = entry[V]{value: value, writtenAt: s.now()}
	s.mu.Unlock()
}

// Tombstone overwrites key with an empty marker. Subsequent reads report the
// key as absent.
func (s *Store[V]) Tombstone(key []byte) {
	s.mu.Lock()
	s.data[string(key)] = entry[V]{tombstone: true, writtenAt: s.now()}
	s.mu.Unlock()
}

// Get returns the live value stored under key. Missing, expired and
// tombstoned entries all report ok == false.
func (s *Store[V]) Get(key []byte) (V, bool) {
	var zero V
	s.mu.RLock()
	e, ok := s.data[string(key)]
	s.mu.RUnlock()
	if !ok || e.tombstone || s.expired(e, s.now()) {
		return zero, false
	}
	return e.value, true
}

// Len returns the number of entries held, including expired entries that
// have not been swept yet.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Sweep removes expired entries and returns how many were removed.
func (s *Store[V]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, e := range s.data {
		if s.expired(e, now) {
			delete(s.data, k)
			removed++
		}
	}
	return removed
}

// Close stops the sweeper goroutine. It is safe to call multiple times.
func (s *Store[V]) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *Store[V]) expired(e entry[V], now time.Time) bool {
	return !now.Before(e.writtenAt.Add(s.ttl))
}

func (s *Store[V]) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
