package audit

// Entry kinds. Every safeguard evaluation, state transition, and human
// resolution appends exactly one entry.
const (
	KindDecision   = "decision"
	KindTransition = "transition"
	KindResolution = "resolution"
)

// RateState is the ledger snapshot captured with a decision.
type RateState struct {
	Used   int `json:"used"`
	Budget int `json:"budget"`
}

// AuditEntry is one line in the hash-chained JSONL audit log.
// All fields are concrete types (no map[string]any) to guarantee
// deterministic json.Marshal field order for reproducible hashing.
// Entries are append-only: never mutated, never deleted.
type AuditEntry struct {
	Timestamp string `json:"ts"`
	ThreadID  string `json:"thread_id"`
	Kind      string `json:"kind"`
	Actor     string `json:"actor"`

	// Decision fields.
	Action  string    `json:"action,omitempty"`
	Verdict string    `json:"verdict,omitempty"`
	Checks  []string  `json:"checks,omitempty"`
	Reasons []string  `json:"reasons,omitempty"`
	Score   int        `json:"score,omitempty"`
	Rate    *RateState `json:"rate,omitempty"`

	// Transition fields.
	FromState string `json:"from_state,omitempty"`
	ToState   string `json:"to_state,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Override  bool   `json:"override,omitempty"`

	// Resolution fields.
	EventID    string `json:"event_id,omitempty"`
	Resolution string `json:"resolution,omitempty"`

	PolicyHash string `json:"policy_hash,omitempty"`
	PrevHash   string `json:"prev_hash"`
}
