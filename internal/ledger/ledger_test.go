package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/mailwarden/internal/model"
)

func TestBudgetEnforced(t *testing.T) {
	l := New(map[model.Actor]int{model.ActorAgent: 3})
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if _, err := l.Consume(model.ActorAgent, now); err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
	}

	// The (N+1)-th consume in the same bucket must fail.
	if _, err := l.Consume(model.ActorAgent, now.Add(30*time.Minute)); err == nil {
		t.Fatal("4th consume in bucket should fail")
	}

	check := l.Check(model.ActorAgent, now)
	if !check.Exceeded {
		t.Error("Check should report exceeded")
	}
	if check.Used != 3 || check.Budget != 3 {
		t.Errorf("check = %+v, want used=3 budget=3", check)
	}
}

func TestWindowRollsOver(t *testing.T) {
	l := New(map[model.Actor]int{"*": 1})
	now := time.Date(2026, 8, 30, 14, 59, 0, 0, time.UTC)

	if _, err := l.Consume(model.ActorAgent, now); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Consume(model.ActorAgent, now); err == nil {
		t.Fatal("second consume in bucket should fail")
	}

	// Next hour bucket opens a fresh budget.
	if _, err := l.Consume(model.ActorAgent, now.Add(time.Minute)); err != nil {
		t.Fatalf("consume after rollover: %v", err)
	}
}

func TestExpiredEntriesRetained(t *testing.T) {
	l := New(map[model.Actor]int{"*": 1})
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	l.Consume(model.ActorAgent, now)
	l.Consume(model.ActorAgent, now.Add(time.Hour))
	l.Consume(model.ActorAgent, now.Add(2*time.Hour))

	if got := len(l.Entries()); got != 3 {
		t.Errorf("expired entries must be retained: got %d, want 3", got)
	}
}

func TestActorsIndependent(t *testing.T) {
	l := New(map[model.Actor]int{"*": 1})
	now := time.Now()

	if _, err := l.Consume(model.ActorAgent, now); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Consume(model.ActorHuman, now); err != nil {
		t.Errorf("human budget must be independent of agent: %v", err)
	}
}

func TestBudgetFallback(t *testing.T) {
	l := New(map[model.Actor]int{model.ActorAgent: 5, "*": 2})
	if got := l.BudgetFor(model.ActorAgent); got != 5 {
		t.Errorf("explicit budget = %d, want 5", got)
	}
	if got := l.BudgetFor(model.ActorHuman); got != 2 {
		t.Errorf("fallback budget = %d, want 2", got)
	}

	empty := New(nil)
	if got := empty.BudgetFor(model.ActorAgent); got != DefaultBudget {
		t.Errorf("default budget = %d, want %d", got, DefaultBudget)
	}
}

func TestRestoreRebuildCounts(t *testing.T) {
	l := New(map[model.Actor]int{"*": 2})
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	l.Restore(Entry{Actor: model.ActorAgent, Bucket: BucketKey(now), Timestamp: now})
	l.Restore(Entry{Actor: model.ActorAgent, Bucket: BucketKey(now), Timestamp: now})

	if _, err := l.Consume(model.ActorAgent, now); err == nil {
		t.Error("restored entries must count against the budget")
	}
}

func TestConcurrentConsumeNeverExceedsBudget(t *testing.T) {
	const budget = 10
	l := New(map[model.Actor]int{"*": budget})
	now := time.Now()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Consume(model.ActorAgent, now)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		}
	}
	if ok != budget {
		t.Errorf("%d consumes succeeded, want exactly %d", ok, budget)
	}
}
