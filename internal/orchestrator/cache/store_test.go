package cache

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func set(s *Store[int], key string, v int) error {
	_, err := s.Update(key, func(int, bool) int { return v })
	return err
}

func newTestStore(t *testing.T, ttl time.Duration) (*Store[int], *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := NewWithInterval[int](ttl, time.Hour)
	s.now = clock.Now
	t.Cleanup(s.Close)
	return s, clock
}

func TestStore_SetAndGet(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)

	if err := set(s, "S1/Chart", 1); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	v, ok := s.Get("S1/Chart")
	if !ok {
		t.Fatal("Expected value to be found")
	}
	if v != 1 {
		t.Errorf("Expected 1, got %d", v)
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", s.Len())
	}
}

func TestStore_UpdateEmptyKey(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)

	if _, err := s.Update("", func(int, bool) int { return 1 }); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Expected ErrEmptyKey from Update, got %v", err)
	}
}

func TestStore_Expiry(t *testing.T) {
	s, clock := newTestStore(t, time.Minute)

	_ = set(s, "k", 7)
	clock.Advance(2 * time.Minute)

	if _, ok := s.Get("k"); ok {
		t.Error("Expected expired entry to be reported missing")
	}
	if s.Len() != 1 {
		t.Errorf("Expected expired entry to remain until swept, got %d", s.Len())
	}

	s.cleanup()
	if s.Len() != 0 {
		t.Errorf("Expected sweep to remove expired entry, got %d", s.Len())
	}
}

func TestStore_Update(t *testing.T) {
	s, clock := newTestStore(t, time.Minute)

	v, err := s.Update("k", func(current int, found bool) int {
		if found {
			t.Error("Expected missing key on first update")
		}
		return current + 1
	})
	if err != nil || v != 1 {
		t.Fatalf("Expected 1, got %d (%v)", v, err)
	}

	clock.Advance(30 * time.Second)
	v, _ = s.Update("k", func(current int, found bool) int {
		if !found {
			t.Error("Expected existing key on second update")
		}
		return current + 1
	})
	if v != 2 {
		t.Errorf("Expected 2, got %d", v)
	}

	// the second write refreshed the TTL
	clock.Advance(45 * time.Second)
	if _, ok := s.Get("k"); !ok {
		t.Error("Expected TTL to be refreshed by Update")
	}
}

func TestStore_UpdateExpiredStartsOver(t *testing.T) {
	s, clock := newTestStore(t, time.Minute)

	_ = set(s, "k", 5)
	clock.Advance(2 * time.Minute)

	v, _ := s.Update("k", func(current int, found bool) int {
		if found {
			t.Error("Expected expired entry to be treated as missing")
		}
		return current + 1
	})
	if v != 1 {
		t.Errorf("Expected 1, got %d", v)
	}
}

func TestStore_DeleteAndClear(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)

	_ = set(s, "a", 1)
	_ = set(s, "b", 2)
	s.Delete("a")
	s.Delete("missing")

	if _, ok := s.Get("a"); ok {
		t.Error("Expected a to be deleted")
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", s.Len())
	}

	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Expected empty store, got %d", s.Len())
	}
}

func TestStore_CloseTwice(t *testing.T) {
	s := New[string](time.Minute)
	s.Close()
	s.Close()
}
