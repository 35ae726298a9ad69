// Package ledger tracks consumed send slots per actor in hour buckets.
// The ledger is append-only: entries outside the current window are
// logically expired but retained for audit, never deleted.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/ppiankov/mailwarden/internal/model"
)

// DefaultBudget is the per-actor sends-per-hour budget when no explicit
// budget is configured.
const DefaultBudget = 10

// Entry is one consumed send slot.
type Entry struct {
	Actor     model.Actor `json:"actor"`
	Bucket    string      `json:"bucket"`
	Timestamp time.Time   `json:"ts"`
}

// CheckResult is the outcome of a budget check.
type CheckResult struct {
	Exceeded bool
	Used     int
	Budget   int
	Reason   string
}

// Ledger enforces per-actor hourly send budgets.
// Invariant: the count of entries for an actor within one hour bucket
// never exceeds that actor's budget.
type Ledger struct {
	mu      sync.Mutex
	budgets map[model.Actor]int
	entries []Entry
	counts  map[string]int // actor|bucket → consumed
}

// New creates a Ledger with per-actor budgets. The "*" key is the
// fallback for unlisted actors; absent that, DefaultBudget applies.
func New(budgets map[model.Actor]int) *Ledger {
	if budgets == nil {
		budgets = make(map[model.Actor]int)
	}
	return &Ledger{
		budgets: budgets,
		counts:  make(map[string]int),
	}
}

// BucketKey returns the hour bucket for a timestamp, in UTC.
func BucketKey(now time.Time) string {
	return now.UTC().Format("2006-01-02T15")
}

// BudgetFor returns the effective budget for an actor.
// Budgets are fixed at construction, so no lock is needed.
func (l *Ledger) BudgetFor(actor model.Actor) int {
	return l.budgetForLocked(actor)
}

// Used returns the consumed count for the actor's current bucket.
func (l *Ledger) Used(actor model.Actor, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[countKey(actor, BucketKey(now))]
}

// Check reports whether one more send would exceed the actor's budget.
// Read-only; nothing is consumed.
func (l *Ledger) Check(actor model.Actor, now time.Time) CheckResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	budget := l.budgetForLocked(actor)
	used := l.counts[countKey(actor, BucketKey(now))]
	if used >= budget {
		return CheckResult{
			Exceeded: true,
			Used:     used,
			Budget:   budget,
			Reason: fmt.Sprintf("rate budget exhausted: %d/%d sends in hour bucket %s",
				used, budget, BucketKey(now)),
		}
	}
	return CheckResult{Used: used, Budget: budget}
}

// Consume appends one entry for the actor's current bucket.
// Returns an error instead of appending when the budget is exhausted,
// preserving the ledger invariant.
func (l *Ledger) Consume(actor model.Actor, now time.Time) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := BucketKey(now)
	budget := l.budgetForLocked(actor)
	key := countKey(actor, bucket)
	if l.counts[key] >= budget {
		return Entry{}, fmt.Errorf("rate budget exhausted: %d/%d in bucket %s",
			l.counts[key], budget, bucket)
	}

	entry := Entry{Actor: actor, Bucket: bucket, Timestamp: now.UTC()}
	l.entries = append(l.entries, entry)
	l.counts[key]++
	return entry, nil
}

// Restore replays a previously persisted entry into the ledger without
// budget enforcement. Used when rebuilding in-memory state at startup.
func (l *Ledger) Restore(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	l.counts[countKey(entry.Actor, entry.Bucket)]++
}

// Entries returns a copy of all ledger entries, including logically
// expired ones.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Ledger) budgetForLocked(actor model.Actor) int {
	if b, ok := l.budgets[actor]; ok && b > 0 {
		return b
	}
	if b, ok := l.budgets["*"]; ok && b > 0 {
		return b
	}
	return DefaultBudget
}

func countKey(actor model.Actor, bucket string) string {
	return string(actor) + "|" + bucket
}
