package tokenstore

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStore_SetGet(t *testing.T) {
	s := New[string](time.Hour)
	defer s.Close()

	s.Set([]byte("k1"), "alice")
	got, ok := s.Get([]byte("k1"))
	require.True(t, ok)
	assert.Equal(t, "alice", got)

	_, ok = s.Get([]byte("missing"))
	assert.False(t, ok)
}

func TestStore_ExpiresAtTTL(t *testing.T) {
	clock := newFakeClock()
	s := New[string](10*time.Minute, WithClock(clock.Now))

	s.Set([]byte("k"), "alice")

	clock.Advance(10*time.Minute - time.Nanosecond)
	_, ok := s.Get([]byte("k"))
	assert.True(t, ok, "entry should be visible just before its TTL")

	clock.Advance(time.Nanosecond)
	_, ok = s.Get([]byte("k"))
	assert.False(t, ok, "entry must be absent exactly at its TTL")
}

func TestStore_OverwriteRestartsLifetime(t *testing.T) {
	clock := newFakeClock()
	s := New[int](time.Hour, WithClock(clock.Now))

	s.Set([]byte("k"), 1)
	clock.Advance(59 * time.Minute)
	s.Set([]byte("k"), 2)
	clock.Advance(59 * time.Minute)

	got, ok := s.Get([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestStore_Tombstone(t *testing.T) {
	clock := newFakeClock()
	s := New[string](time.Hour, WithClock(clock.Now))

	s.Set([]byte("k"), "alice")
	s.Tombstone([]byte("k"))

	_, ok := s.Get([]byte("k"))
	assert.False(t, ok, "tombstoned entry must read as absent")
	assert.Equal(t, 1, s.Len(), "tombstone is an entry, not a deletion")

	clock.Advance(time.Hour)
	assert.Equal(t, 1, s.Sweep(), "tombstone expires naturally")
	assert.Equal(t, 0, s.Len())
}

func TestStore_TombstoneUnknownKey(t *testing.T) {
	s := New[string](time.Hour)
	s.Tombstone([]byte("never-set"))
	_, ok := s.Get([]byte("never-set"))
	assert.False(t, ok)
}

func TestStore_Sweep(t *testing.T) {
	clock := newFakeClock()
	s := New[bool](time.Minute, WithClock(clock.Now))

	s.Set([]byte("old"), true)
	clock.Advance(30 * time.Second)
	s.Set([]byte("new"), true)
	clock.Advance(31 * time.Second)

	assert.Equal(t, 1, s.Sweep())
	_, ok := s.Get([]byte("new"))
	assert.True(t, ok)
}

func TestStore_SweeperGoroutine(t *testing.T) {
	s := New[bool](time.Millisecond, WithSweepInterval(5*time.Millisecond))
	defer s.Close()

	s.Set([]byte("k"), true)
	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStore_CloseIdempotent(t *testing.T) {
	s := New[bool](time.Minute, WithSweepInterval(time.Minute))
	s.Close()
	s.Close()
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := New[int](time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := []byte(fmt.Sprintf("k-%d-%d", i, j%10))
				s.Set(key, j)
				if v, ok := s.Get(key); ok && v < 0 {
					t.Errorf("unexpected value %d", v)
				}
				if j%7 == 0 {
					s.Tombstone(key)
				}
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, s.Len(), 160)
}
