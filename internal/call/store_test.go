package call

import (
	"fmt"
	"sync"
	"testing"
)

func TestStoreMutateCreatesAndUpdates(t *testing.T) {
	s := NewStore()

	rec, ok := s.Mutate("Call-A", func(cur *Record) *Record {
		if cur != nil {
			t.Fatal("expected no existing record")
		}
		return NewInbound("Call-A", "+15550001111")
	})
	if !ok {
		t.Fatal("expected record to be stored")
	}
	if rec.ID != "call-a" {
		t.Errorf("ID = %q, want normalized call-a", rec.ID)
	}

	// Lookup with different casing hits the same record.
	got, ok := s.Get("CALL-a")
	if !ok {
		t.Fatal("Get with different casing missed")
	}
	if got.ID != rec.ID {
		t.Errorf("Get returned %q, want %q", got.ID, rec.ID)
	}

	rec, ok = s.Mutate("call-a", func(cur *Record) *Record {
		return cur.WithStatus(StatusAnswered)
	})
	if !ok || rec.Status != StatusAnswered {
		t.Errorf("after update: ok=%v status=%s", ok, rec.Status)
	}
}

func TestStoreMutateNilLeavesAbsent(t *testing.T) {
	s := NewStore()

	rec, ok := s.Mutate("ghost", func(cur *Record) *Record {
		return cur // nil in, nil out
	})
	if ok || rec != nil {
		t.Errorf("Mutate on absent id returning nil: rec=%v ok=%v", rec, ok)
	}
	if s.Len() != 0 {
		t.Errorf("store should be empty, has %d entries", s.Len())
	}
	if _, ok := s.Get("ghost"); ok {
		t.Error("ghost id should not exist")
	}
}

func TestStoreRemove(t *testing.T) {
	s := NewStore()
	s.Mutate("call-b", func(*Record) *Record {
		return NewInbound("call-b", "+15550002222")
	})

	if !s.Remove("CALL-B") {
		t.Error("Remove should report a record was present")
	}
	if s.Remove("call-b") {
		t.Error("second Remove should report absence")
	}
	if _, ok := s.Get("call-b"); ok {
		t.Error("record should be gone")
	}
}

func TestStoreAnswered(t *testing.T) {
	s := NewStore()
	s.Mutate("r1", func(*Record) *Record { return NewInbound("r1", "100") })
	s.Mutate("a1", func(*Record) *Record {
		return NewInbound("a1", "200").WithStatus(StatusAnswered)
	})
	s.Mutate("a2", func(*Record) *Record {
		return NewOutbound("a2", "300").WithStatus(StatusAnswered)
	})

	answered := s.Answered()
	if len(answered) != 2 {
		t.Fatalf("Answered() returned %d records, want 2", len(answered))
	}
	for _, rec := range answered {
		if rec.Status != StatusAnswered {
			t.Errorf("record %s has status %s", rec.ID, rec.Status)
		}
	}
}

func TestStoreConcurrentMutateDistinctIDs(t *testing.T) {
	s := NewStore()
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("call-%d", i)
			s.Mutate(id, func(*Record) *Record {
				return NewInbound(id, "+1555000")
			})
			s.Mutate(id, func(cur *Record) *Record {
				return cur.WithStatus(StatusAnswered)
			})
		}(i)
	}
	wg.Wait()

	if s.Len() != n {
		t.Errorf("Len() = %d, want %d", s.Len(), n)
	}
	if len(s.Answered()) != n {
		t.Errorf("Answered() = %d records, want %d", len(s.Answered()), n)
	}
}

func TestStoreConcurrentTerminalRace(t *testing.T) {
	s := NewStore()
	const rounds = 100

	for i := 0; i < rounds; i++ {
		id := fmt.Sprintf("race-%d", i)
		s.Mutate(id, func(*Record) *Record {
			return NewInbound(id, "+1555000").WithStatus(StatusAnswered)
		})

		// Two goroutines race to complete the same call. Exactly one may
		// observe the transition.
		var wg sync.WaitGroup
		wins := make(chan struct{}, 2)
		for g := 0; g < 2; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Mutate(id, func(cur *Record) *Record {
					if cur == nil || cur.Status == StatusCompleted {
						return cur
					}
					wins <- struct{}{}
					return cur.WithStatus(StatusCompleted)
				})
			}()
		}
		wg.Wait()
		close(wins)

		count := 0
		for range wins {
			count++
		}
		if count != 1 {
			t.Fatalf("round %d: %d winners, want exactly 1", i, count)
		}
	}
}

func TestStoreMutateAfterRemove(t *testing.T) {
	s := NewStore()
	s.Mutate("call-c", func(*Record) *Record {
		return NewInbound("call-c", "+1555000")
	})
	s.Remove("call-c")

	// Mutating after removal starts a fresh record, it does not revive
	// the removed one.
	rec, ok := s.Mutate("call-c", func(cur *Record) *Record {
		if cur != nil {
			t.Error("expected nil current record after removal")
		}
		return NewInbound("call-c", "+1555999")
	})
	if !ok {
		t.Fatal("expected fresh record stored")
	}
	if rec.Number != "+1555999" {
		t.Errorf("Number = %q, want fresh record", rec.Number)
	}
}
