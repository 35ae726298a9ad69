package model

import "time"

// Severity classifies how dangerous a detection is.
type Severity string

const (
	SevLow      Severity = "low"
	SevMedium   Severity = "medium"
	SevHigh     Severity = "high"
	SevCritical Severity = "critical"
)

// SevRank maps severity to a comparable integer for aggregation.
var SevRank = map[Severity]int{
	SevLow:      0,
	SevMedium:   1,
	SevHigh:     2,
	SevCritical: 3,
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if SevRank[b] > SevRank[a] {
		return b
	}
	return a
}

// Provenance records which side of the trust boundary content came from.
type Provenance string

const (
	Inbound  Provenance = "inbound"
	Outbound Provenance = "outbound"
)

// Actor identifies who is asking for an action.
type Actor string

const (
	ActorAgent  Actor = "agent"
	ActorHuman  Actor = "human"
	ActorSystem Actor = "system"
)

// ActionKind is the proposed operation on a thread.
type ActionKind string

const (
	ActionSend  ActionKind = "send"
	ActionDraft ActionKind = "draft"
	ActionReply ActionKind = "reply"
)

// Verdict is the safeguard decision outcome.
type Verdict string

const (
	Approve Verdict = "approve"
	Draft   Verdict = "draft"
	Block   Verdict = "block"
)

// ThreadState is the lifecycle state of a conversation.
// Owned exclusively by the thread state machine; everything else
// treats it as read-only context.
type ThreadState string

const (
	StateNew          ThreadState = "NEW"
	StateActive       ThreadState = "ACTIVE"
	StateWaitingReply ThreadState = "WAITING_REPLY"
	StateFollowUp     ThreadState = "FOLLOW_UP"
	StateGoalMet      ThreadState = "GOAL_MET"
	StateArchived     ThreadState = "ARCHIVED"
)

// ValidState reports whether s is one of the known thread states.
func ValidState(s ThreadState) bool {
	switch s {
	case StateNew, StateActive, StateWaitingReply, StateFollowUp, StateGoalMet, StateArchived:
		return true
	}
	return false
}

// ContentUnit is the text of one inbound or outbound message.
// Immutable once sanitized.
type ContentUnit struct {
	Raw        string     `json:"raw"`
	Sanitized  string     `json:"sanitized"`
	Provenance Provenance `json:"provenance"`
	Isolated   bool       `json:"isolated"`
	// ParseFailed is set when the raw bytes could not be treated as text.
	// The sanitized body is empty in that case — fail closed.
	ParseFailed bool `json:"parse_failed,omitempty"`
}

// DetectionMatch is one detector firing. Transient — aggregated into a
// SecurityEvent, never persisted individually.
type DetectionMatch struct {
	PatternID   string   `json:"pattern_id"`
	Severity    Severity `json:"severity"`
	Span        string   `json:"span"`
	Description string   `json:"description"`
}

// EventType categorizes a SecurityEvent.
type EventType string

const (
	EventInjection  EventType = "injection"
	EventCommitment EventType = "commitment"
	EventAnomaly    EventType = "anomaly"
	EventRateLimit  EventType = "rate_limit"
	EventBlocklist  EventType = "blocklist"
	// EventQuarantine records a trust score at or below the quarantine
	// threshold; resolving it is the human quarantine-approval action.
	EventQuarantine EventType = "quarantine"
)

// Resolution is the human disposition of a SecurityEvent.
type Resolution string

const (
	Unresolved    Resolution = "unresolved"
	Approved      Resolution = "approved"
	Dismissed     Resolution = "dismissed"
	FalsePositive Resolution = "false_positive"
)

// SecurityEvent is the durable record of a detection outcome tied to a
// thread. Created by the orchestrator, mutated only by an explicit human
// resolution, never deleted.
type SecurityEvent struct {
	ID          string     `json:"id"`
	ThreadID    string     `json:"thread_id"`
	Type        EventType  `json:"type"`
	Severity    Severity   `json:"severity"`
	Description string     `json:"description"`
	Quarantined bool       `json:"quarantined"`
	Resolution  Resolution `json:"resolution"`
	CreatedAt   time.Time  `json:"created_at"`
}

// MessageMeta is the static metadata the trust scorer reads.
// Missing knowledge is expressed as worst case: an unknown sender has
// KnownSender=false, unvetted links have SafeLinks=false.
type MessageMeta struct {
	Sender          string `json:"sender"`
	KnownSender     bool   `json:"known_sender"`
	PriorThreads    int    `json:"prior_threads"`
	HasLinks        bool   `json:"has_links"`
	SafeLinks       bool   `json:"safe_links"`
	HasAttachments  bool   `json:"has_attachments"`
	SafeAttachments bool   `json:"safe_attachments"`
	PatternMatches  int    `json:"pattern_matches"`
}

// ActionRequest is the unit the orchestrator evaluates.
type ActionRequest struct {
	ThreadID string      `json:"thread_id"`
	Actor    Actor       `json:"actor"`
	Kind     ActionKind  `json:"kind"`
	Targets  []string    `json:"targets"`
	Body     ContentUnit `json:"body"`
	State    ThreadState `json:"state"`

	// LastInbound is the most recent inbound content on the thread,
	// supplied by the storage layer. Injection gating reads it.
	LastInbound *ContentUnit `json:"last_inbound,omitempty"`
	// InboundMeta is the metadata of the most recent inbound message.
	InboundMeta MessageMeta `json:"inbound_meta"`
}

// Decision is the orchestrator output for one ActionRequest.
type Decision struct {
	Verdict   Verdict         `json:"verdict"`
	Reasons   []string        `json:"reasons"`
	Events    []SecurityEvent `json:"security_events,omitempty"`
	CheckID   string          `json:"check_id,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
	Score     int             `json:"score"`
}
