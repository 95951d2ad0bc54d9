package store

import (
	"sync"
	"testing"
	"time"
)

func TestTTLStoreSetGet(t *testing.T) {
	s := NewTTLStore[string, int](time.Minute, nil)
	defer s.Close()

	s.Set("a", 1, time.Minute)

	if v, ok := s.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if _, ok := s.Get("missing"); ok {
		t.Error("Get(missing) found a value")
	}
	if !s.Has("a") || s.Has("missing") {
		t.Error("Has() inconsistent with Get()")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestTTLStoreExpiry(t *testing.T) {
	s := NewTTLStore[string, int](time.Minute, nil)
	defer s.Close()

	s.Set("short", 1, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	if _, ok := s.Get("short"); ok {
		t.Error("expired entry still visible")
	}
	if s.Has("short") {
		t.Error("Has() true for expired entry")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d counts expired entries", s.Len())
	}
}

func TestTTLStoreRefresh(t *testing.T) {
	s := NewTTLStore[string, int](time.Minute, nil)
	defer s.Close()

	s.Set("a", 1, 20*time.Millisecond)
	if !s.Refresh("a", time.Minute) {
		t.Fatal("Refresh() on existing key returned false")
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok := s.Get("a"); !ok {
		t.Error("refreshed entry expired")
	}

	if s.Refresh("missing", time.Minute) {
		t.Error("Refresh() on missing key returned true")
	}
}

func TestTTLStoreEvictionCallback(t *testing.T) {
	var mu sync.Mutex
	var evicted []string

	s := NewTTLStore[string, int](10*time.Millisecond, func(key string, value int) {
		mu.Lock()
		evicted = append(evicted, key)
		mu.Unlock()
	})
	defer s.Close()

	s.Set("doomed", 1, time.Millisecond)
	s.Set("kept", 2, time.Minute)
	s.Set("deleted", 3, time.Minute)
	s.Delete("deleted")

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(evicted)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(evicted) != 1 || evicted[0] != "doomed" {
		t.Errorf("evicted = %v, want [doomed]; manual deletes must not evict", evicted)
	}
}

func TestTTLStoreForEach(t *testing.T) {
	s := NewTTLStore[string, int](time.Minute, nil)
	defer s.Close()

	s.Set("a", 1, time.Minute)
	s.Set("b", 2, time.Minute)

	sum := 0
	s.ForEach(func(key string, value int) bool {
		sum += value
		return true
	})
	if sum != 3 {
		t.Errorf("ForEach sum = %d, want 3", sum)
	}
}
