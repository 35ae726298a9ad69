// Package anomaly maintains a rolling behavioral baseline per actor and
// flags actions that deviate beyond configured tolerances. Detection is
// advisory: it never blocks outright, only forces manual review.
//
// Baselines live in an explicit keyed store passed into each evaluation
// and are updated through an explicit Commit step — never hidden globals.
package anomaly

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/mailwarden/internal/model"
)

// Tolerances configures the deviation thresholds.
type Tolerances struct {
	// VolumeSpikeFactor flags when sends this hour exceed the historical
	// hourly mean by this multiple (first hours are exempt until the
	// baseline has MinObservations).
	VolumeSpikeFactor float64 `yaml:"volume_spike_factor"`
	// MinObservations is the number of recorded sends before volume
	// deviation is meaningful.
	MinObservations int `yaml:"min_observations"`
}

// DefaultTolerances returns the built-in thresholds.
func DefaultTolerances() Tolerances {
	return Tolerances{
		VolumeSpikeFactor: 3.0,
		MinObservations:   5,
	}
}

// Baseline is one actor's rolling behavioral snapshot.
type Baseline struct {
	Actor          model.Actor    `json:"actor"`
	SeenRecipients map[string]int `json:"seen_recipients"`
	SeenThreads    map[string]int `json:"seen_threads"`
	TotalSends     int            `json:"total_sends"`
	HoursObserved  int            `json:"hours_observed"`
	CurrentHour    string         `json:"current_hour"`
	SendsThisHour  int            `json:"sends_this_hour"`
}

func newBaseline(actor model.Actor) *Baseline {
	return &Baseline{
		Actor:          actor,
		SeenRecipients: make(map[string]int),
		SeenThreads:    make(map[string]int),
	}
}

// hourlyMean is the historical sends-per-observed-hour average.
func (b *Baseline) hourlyMean() float64 {
	if b.HoursObserved == 0 {
		return 0
	}
	return float64(b.TotalSends) / float64(b.HoursObserved)
}

// Flag describes one anomalous dimension.
type Flag struct {
	Dimension string `json:"dimension"`
	Detail    string `json:"detail"`
}

// Store is the keyed actor → baseline store.
type Store struct {
	mu        sync.Mutex
	baselines map[model.Actor]*Baseline
	tol       Tolerances
}

// NewStore creates a baseline store with the given tolerances.
func NewStore(tol Tolerances) *Store {
	if tol.VolumeSpikeFactor <= 0 {
		tol.VolumeSpikeFactor = DefaultTolerances().VolumeSpikeFactor
	}
	if tol.MinObservations <= 0 {
		tol.MinObservations = DefaultTolerances().MinObservations
	}
	return &Store{
		baselines: make(map[model.Actor]*Baseline),
		tol:       tol,
	}
}

// Evaluate checks a proposed action against the actor's baseline without
// mutating it. A request is anomalous if any tracked dimension deviates:
// never-seen recipient, hourly volume spike, or reuse of another thread's
// recipients on this thread (cross-thread data reuse).
func (s *Store) Evaluate(req *model.ActionRequest, now time.Time) []Flag {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.baselines[req.Actor]
	if b == nil {
		b = newBaseline(req.Actor)
		s.baselines[req.Actor] = b
	}

	var flags []Flag

	for _, target := range req.Targets {
		key := strings.ToLower(target)
		if b.TotalSends > 0 && b.SeenRecipients[key] == 0 {
			flags = append(flags, Flag{
				Dimension: "new_recipient",
				Detail:    fmt.Sprintf("never-seen recipient %s", key),
			})
		}
		// Recipient known globally but never on this thread — the body
		// may be carrying one conversation's content to another.
		if b.SeenRecipients[key] > 0 && b.SeenThreads[threadKey(req.ThreadID, key)] == 0 {
			flags = append(flags, Flag{
				Dimension: "cross_thread_reuse",
				Detail:    fmt.Sprintf("recipient %s previously seen only on other threads", key),
			})
		}
	}

	if b.TotalSends >= s.tol.MinObservations {
		mean := b.hourlyMean()
		projected := float64(s.sendsThisHour(b, now) + 1)
		if mean > 0 && projected > mean*s.tol.VolumeSpikeFactor {
			flags = append(flags, Flag{
				Dimension: "volume_spike",
				Detail: fmt.Sprintf("projected %d sends this hour vs %.1f/hour baseline",
					int(projected), mean),
			})
		}
	}

	return flags
}

// Commit records a completed send into the actor's baseline.
// Called by the orchestrator only after an approved send is committed.
func (s *Store) Commit(req *model.ActionRequest, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.baselines[req.Actor]
	if b == nil {
		b = newBaseline(req.Actor)
		s.baselines[req.Actor] = b
	}

	hour := now.UTC().Format("2006-01-02T15")
	if b.CurrentHour != hour {
		if b.CurrentHour != "" {
			b.HoursObserved++
		}
		b.CurrentHour = hour
		b.SendsThisHour = 0
	}
	b.SendsThisHour++
	b.TotalSends++

	for _, target := range req.Targets {
		key := strings.ToLower(target)
		b.SeenRecipients[key]++
		b.SeenThreads[threadKey(req.ThreadID, key)]++
	}
}

// Snapshot returns a copy of the actor's baseline for inspection.
func (s *Store) Snapshot(actor model.Actor) Baseline {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.baselines[actor]
	if b == nil {
		return *newBaseline(actor)
	}
	cp := *b
	cp.SeenRecipients = make(map[string]int, len(b.SeenRecipients))
	for k, v := range b.SeenRecipients {
		cp.SeenRecipients[k] = v
	}
	cp.SeenThreads = make(map[string]int, len(b.SeenThreads))
	for k, v := range b.SeenThreads {
		cp.SeenThreads[k] = v
	}
	return cp
}

func (s *Store) sendsThisHour(b *Baseline, now time.Time) int {
	if b.CurrentHour != now.UTC().Format("2006-01-02T15") {
		return 0
	}
	return b.SendsThisHour
}

func threadKey(threadID, recipient string) string {
	return threadID + "|" + recipient
}
