// Package thread owns the conversation lifecycle state machine.
// Transition is the only mutator: no component may set a thread state
// directly, and no transition skips emitting an audit entry.
package thread

import (
	"fmt"
	"sync"
	"time"

	"github.com/ppiankov/mailwarden/internal/audit"
	"github.com/ppiankov/mailwarden/internal/model"
)

// Recorder is the audit sink every transition writes to.
type Recorder interface {
	Record(audit.AuditEntry) error
}

// DefaultFollowUpAfter is the silence interval before a waiting thread
// moves to FOLLOW_UP.
const DefaultFollowUpAfter = 72 * time.Hour

// DefaultMaxFollowUps is the number of follow-up rounds before a thread
// is archived automatically.
const DefaultMaxFollowUps = 3

// allowed is the automatic transition table. Transitions outside this
// table require a manual override.
var allowed = map[model.ThreadState][]model.ThreadState{
	model.StateNew:          {model.StateActive, model.StateGoalMet, model.StateArchived},
	model.StateActive:       {model.StateWaitingReply, model.StateFollowUp, model.StateGoalMet, model.StateArchived},
	model.StateWaitingReply: {model.StateActive, model.StateFollowUp, model.StateGoalMet, model.StateArchived},
	model.StateFollowUp:     {model.StateWaitingReply, model.StateActive, model.StateGoalMet, model.StateArchived},
	model.StateGoalMet:      {model.StateArchived},
	model.StateArchived:     {},
}

type threadInfo struct {
	state        model.ThreadState
	lastOutbound time.Time
	followUps    int
}

// Machine holds per-thread lifecycle state.
type Machine struct {
	mu            sync.Mutex
	threads       map[string]*threadInfo
	rec           Recorder
	followUpAfter time.Duration
	maxFollowUps  int
}

// Option configures a Machine.
type Option func(*Machine)

// WithFollowUpAfter sets the silence interval before follow-up.
func WithFollowUpAfter(d time.Duration) Option {
	return func(m *Machine) { m.followUpAfter = d }
}

// WithMaxFollowUps sets the follow-up exhaustion count.
func WithMaxFollowUps(n int) Option {
	return func(m *Machine) { m.maxFollowUps = n }
}

// New creates a Machine writing transitions to rec.
func New(rec Recorder, opts ...Option) *Machine {
	m := &Machine{
		threads:       make(map[string]*threadInfo),
		rec:           rec,
		followUpAfter: DefaultFollowUpAfter,
		maxFollowUps:  DefaultMaxFollowUps,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the current state of a thread. Unseen threads are NEW.
func (m *Machine) State(threadID string) model.ThreadState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(threadID).state
}

// Restore seeds a thread's state from persisted storage without
// emitting an audit entry. Startup only.
func (m *Machine) Restore(threadID string, state model.ThreadState) error {
	if !model.ValidState(state) {
		return fmt.Errorf("restore %s: unknown state %q", threadID, state)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[threadID] = &threadInfo{state: state}
	return nil
}

// Transition moves a thread to target. Transitions in the automatic
// table need only a valid target; anything else is a manual override,
// which requires a non-agent actor and a reason, and is flagged in the
// audit entry. The audit entry is written before the state is applied —
// if the append fails, the state does not change.
func (m *Machine) Transition(threadID string, target model.ThreadState, actor model.Actor, reason string) error {
	if !model.ValidState(target) {
		return fmt.Errorf("transition %s: unknown state %q", threadID, target)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	info := m.get(threadID)
	from := info.state
	if from == target {
		return fmt.Errorf("transition %s: already in %s", threadID, target)
	}

	override := !isAllowed(from, target)
	if override {
		if actor == model.ActorAgent {
			return fmt.Errorf("transition %s: %s → %s requires manual override, agent may not override", threadID, from, target)
		}
		if reason == "" {
			return fmt.Errorf("transition %s: override %s → %s requires a reason", threadID, from, target)
		}
	}

	entry := audit.AuditEntry{
		ThreadID:  threadID,
		Kind:      audit.KindTransition,
		Actor:     string(actor),
		FromState: string(from),
		ToState:   string(target),
		Reason:    reason,
		Override:  override,
	}
	if err := m.rec.Record(entry); err != nil {
		return fmt.Errorf("transition %s: audit append failed, state unchanged: %w", threadID, err)
	}

	info.state = target
	return nil
}

// OnInbound drives the automatic transitions for a new inbound message:
// NEW threads activate on first interaction, waiting and follow-up
// threads return to ACTIVE.
func (m *Machine) OnInbound(threadID string) error {
	switch m.State(threadID) {
	case model.StateNew:
		return m.Transition(threadID, model.StateActive, model.ActorSystem, "first interaction")
	case model.StateWaitingReply, model.StateFollowUp:
		return m.Transition(threadID, model.StateActive, model.ActorSystem, "inbound reply received")
	}
	return nil
}

// OnOutboundCommitted drives the automatic transition the instant an
// outbound send is committed. A NEW thread activates first, so every
// step appears in the audit trail.
func (m *Machine) OnOutboundCommitted(threadID string, actor model.Actor, now time.Time) error {
	if m.State(threadID) == model.StateNew {
		if err := m.Transition(threadID, model.StateActive, model.ActorSystem, "first interaction"); err != nil {
			return err
		}
	}
	if err := m.Transition(threadID, model.StateWaitingReply, actor, "outbound send committed"); err != nil {
		return err
	}
	m.mu.Lock()
	info := m.get(threadID)
	info.lastOutbound = now
	info.followUps = 0
	m.mu.Unlock()
	return nil
}

// CheckFollowUp moves a silent waiting thread to FOLLOW_UP once the
// configured interval elapses, and archives it after follow-up
// exhaustion. Returns the resulting state.
func (m *Machine) CheckFollowUp(threadID string, now time.Time) (model.ThreadState, error) {
	m.mu.Lock()
	info := m.get(threadID)
	state := info.state
	lastOut := info.lastOutbound
	rounds := info.followUps
	m.mu.Unlock()

	switch state {
	case model.StateWaitingReply, model.StateActive, model.StateFollowUp:
	default:
		return state, nil
	}
	if lastOut.IsZero() || now.Sub(lastOut) < m.followUpAfter {
		return state, nil
	}

	if rounds >= m.maxFollowUps {
		if err := m.Transition(threadID, model.StateArchived, model.ActorSystem, "follow-up exhausted"); err != nil {
			return state, err
		}
		return model.StateArchived, nil
	}
	if state == model.StateFollowUp {
		// Already flagged for follow-up; nothing to do until a
		// follow-up send re-enters WAITING_REPLY.
		return state, nil
	}

	if err := m.Transition(threadID, model.StateFollowUp, model.ActorSystem, "follow-up interval elapsed"); err != nil {
		return state, err
	}
	m.mu.Lock()
	info.followUps++
	info.lastOutbound = now
	m.mu.Unlock()
	return model.StateFollowUp, nil
}

func (m *Machine) get(threadID string) *threadInfo {
	info := m.threads[threadID]
	if info == nil {
		info = &threadInfo{state: model.StateNew}
		m.threads[threadID] = info
	}
	return info
}

func isAllowed(from, to model.ThreadState) bool {
	for _, t := range allowed[from] {
		if t == to {
			return true
		}
	}
	return false
}
