package safeguard

import (
	"fmt"
	"sync"
	"time"

	"github.com/ppiankov/mailwarden/internal/anomaly"
	"github.com/ppiankov/mailwarden/internal/audit"
	"github.com/ppiankov/mailwarden/internal/blocklist"
	"github.com/ppiankov/mailwarden/internal/injection"
	"github.com/ppiankov/mailwarden/internal/ledger"
	"github.com/ppiankov/mailwarden/internal/model"
	"github.com/ppiankov/mailwarden/internal/sanitize"
	"github.com/ppiankov/mailwarden/internal/thread"
	"github.com/ppiankov/mailwarden/internal/trust"
)

// AuditRecorder appends one entry to the audit trail.
type AuditRecorder interface {
	Record(entry audit.AuditEntry) error
}

// EventSink persists security events. A sink error means the store is
// unavailable, which blocks the action retryably.
type EventSink interface {
	SaveEvent(ev model.SecurityEvent) error
}

// Deps are the collaborators the orchestrator composes. Blocklist,
// Ledger, Catalog, and Anomalies may be nil; the corresponding checks
// then fail closed instead of being skipped.
type Deps struct {
	Blocklist  *blocklist.Blocklist
	Ledger     *ledger.Ledger
	Catalog    *injection.Catalog
	Anomalies  *anomaly.Store
	Threads    *thread.Machine
	Audit      AuditRecorder
	Events     EventSink
	PolicyHash string
	Clock      func() time.Time
}

// Orchestrator is the only component with write access to the rate
// ledger, the anomaly baselines, and thread state. All evaluation and
// commit work for one thread runs under that thread's lock; different
// threads proceed in parallel.
type Orchestrator struct {
	cfg  *Config
	deps Deps

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	scores  map[string][]int             // threadID → message-level trust scores
	inbound map[string]model.ContentUnit // threadID → last inbound unit
}

// New creates an orchestrator. Threads and Audit are required.
func New(cfg *Config, deps Deps) (*Orchestrator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if deps.Threads == nil {
		return nil, fmt.Errorf("orchestrator requires a thread machine")
	}
	if deps.Audit == nil {
		return nil, fmt.Errorf("orchestrator requires an audit recorder")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		locks:   make(map[string]*sync.Mutex),
		scores:  make(map[string][]int),
		inbound: make(map[string]model.ContentUnit),
	}, nil
}

// Evaluate runs the check chain for one ActionRequest and, for an
// approved send, commits ledger consumption, the WAITING_REPLY
// transition, and the audit append inside the same per-thread critical
// section. Exactly one decision entry is appended per evaluation; an
// append failure returns an error and the caller retries from the
// decision step.
func (o *Orchestrator) Evaluate(req *model.ActionRequest) (*model.Decision, error) {
	if req == nil || req.ThreadID == "" {
		return nil, fmt.Errorf("evaluate: request must name a thread")
	}
	if req.Actor == "" {
		req.Actor = model.ActorAgent
	}

	lock := o.threadLock(req.ThreadID)
	lock.Lock()
	defer lock.Unlock()

	now := o.deps.Clock()
	req.State = o.deps.Threads.State(req.ThreadID)
	score := trust.Score(req.InboundMeta)

	// A caller that omits the last inbound content must not erase what
	// this thread has already received: fall back to the unit retained
	// by OnInbound so the injection check still sees it.
	if req.LastInbound == nil {
		o.mu.Lock()
		if unit, ok := o.inbound[req.ThreadID]; ok {
			req.LastInbound = &unit
		}
		o.mu.Unlock()
	}

	ctx := &evalContext{
		req:   req,
		cfg:   o.cfg,
		bl:    o.deps.Blocklist,
		rl:    o.deps.Ledger,
		cat:   o.deps.Catalog,
		anom:  o.deps.Anomalies,
		score: score,
		now:   now,
	}

	verdict := model.Approve
	var reasons []string
	var ran []string
	var events []model.SecurityEvent
	firstFired := ""
	retryable := false

	for _, c := range checkChain {
		ran = append(ran, c.id)
		out := c.run(ctx)
		if !out.fired {
			continue
		}
		if firstFired == "" {
			firstFired = c.id
		}
		reasons = append(reasons, out.reason)
		if out.retryable {
			retryable = true
		}
		if out.event != nil {
			ev := *out.event
			ev.ID = NewEventID()
			ev.ThreadID = req.ThreadID
			ev.Resolution = model.Unresolved
			ev.CreatedAt = now.UTC()
			events = append(events, ev)
		}
		if out.verdict == model.Block {
			verdict = model.Block
			break
		}
		verdict = model.Draft
	}

	for _, ev := range events {
		if o.deps.Events == nil {
			break
		}
		if err := o.deps.Events.SaveEvent(ev); err != nil {
			verdict = model.Block
			retryable = true
			reasons = append(reasons, fmt.Sprintf("event store unavailable: %v", err))
			break
		}
	}

	// Commit order: ledger consume → state transition → audit append.
	// At most one in-flight approved send per thread: a thread already
	// waiting on a reply (or closed) cannot take another send, which
	// also keeps two serialized requests from both committing.
	if verdict == model.Approve && consumesSlot(req.Kind) {
		switch st := o.deps.Threads.State(req.ThreadID); st {
		case model.StateWaitingReply, model.StateGoalMet, model.StateArchived:
			verdict = model.Block
			reasons = append(reasons, fmt.Sprintf("thread in state %s cannot accept a send", st))
		}
	}
	if verdict == model.Approve && consumesSlot(req.Kind) {
		if o.deps.Ledger == nil {
			verdict = model.Block
			retryable = true
			reasons = append(reasons, "rate ledger unavailable, failing closed")
		} else if _, err := o.deps.Ledger.Consume(req.Actor, now); err != nil {
			verdict = model.Block
			retryable = true
			reasons = append(reasons, err.Error())
		} else if err := o.deps.Threads.OnOutboundCommitted(req.ThreadID, req.Actor, now); err != nil {
			// The consumed slot is not released; losing a slot is the
			// conservative direction. The caller retries the request.
			return nil, fmt.Errorf("evaluate %s: state transition failed after ledger write: %w",
				req.ThreadID, err)
		} else if o.deps.Anomalies != nil {
			o.deps.Anomalies.Commit(req, now)
		}
	}

	if verdict == model.Approve {
		reasons = append(reasons, "all checks passed")
	}

	var rate *audit.RateState
	if o.deps.Ledger != nil {
		rate = &audit.RateState{
			Used:   o.deps.Ledger.Used(req.Actor, now),
			Budget: o.deps.Ledger.BudgetFor(req.Actor),
		}
	}

	entry := audit.AuditEntry{
		Timestamp:  now.UTC().Format(audit.TimestampFormat),
		ThreadID:   req.ThreadID,
		Kind:       audit.KindDecision,
		Actor:      string(req.Actor),
		Action:     string(req.Kind),
		Verdict:    string(verdict),
		Checks:     ran,
		Reasons:    reasons,
		Score:      score,
		Rate:       rate,
		PolicyHash: o.deps.PolicyHash,
	}
	if err := o.deps.Audit.Record(entry); err != nil {
		return nil, fmt.Errorf("evaluate %s: audit append failed: %w", req.ThreadID, err)
	}

	return &model.Decision{
		Verdict:   verdict,
		Reasons:   reasons,
		Events:    events,
		CheckID:   firstFired,
		Retryable: retryable,
		Score:     score,
	}, nil
}

// OnInbound sanitizes a new inbound message, scans it, folds the
// message score into the thread's history, and drives the automatic
// state transition. The returned unit carries the isolated text the
// compose layer may show to the agent.
func (o *Orchestrator) OnInbound(threadID, raw string, meta model.MessageMeta) (model.ContentUnit, []model.DetectionMatch, error) {
	lock := o.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	unit := sanitize.Sanitize(raw, model.Inbound)

	var matches []model.DetectionMatch
	if o.deps.Catalog != nil && !unit.ParseFailed {
		matches = o.deps.Catalog.Scan(sanitize.Inner(unit))
	}
	meta.PatternMatches = len(matches)

	o.mu.Lock()
	o.scores[threadID] = append(o.scores[threadID], trust.Score(meta))
	o.inbound[threadID] = unit
	o.mu.Unlock()

	if err := o.deps.Threads.OnInbound(threadID); err != nil {
		return unit, matches, fmt.Errorf("inbound %s: %w", threadID, err)
	}
	return unit, matches, nil
}

// ThreadScore is the arithmetic mean of the message scores seen on a
// thread, worst case zero when no history exists.
func (o *Orchestrator) ThreadScore(threadID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return trust.ThreadScore(o.scores[threadID])
}

// RestoreScores seeds a thread's score history from persistence.
func (o *Orchestrator) RestoreScores(threadID string, scores []int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scores[threadID] = append([]int(nil), scores...)
}

func (o *Orchestrator) threadLock(threadID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[threadID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[threadID] = l
	}
	return l
}

func consumesSlot(kind model.ActionKind) bool {
	return kind == model.ActionSend || kind == model.ActionReply
}
