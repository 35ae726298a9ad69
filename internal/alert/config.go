// Package alert posts webhook notifications for blocked actions and
// high-severity security events.
package alert

// Config defines a webhook alert destination.
type Config struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // verdicts ("block", "draft") or event types ("injection", "quarantine")
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Event is the payload sent to webhook endpoints.
type Event struct {
	Timestamp  string `json:"timestamp"`
	ThreadID   string `json:"thread_id"`
	Sender     string `json:"sender,omitempty"`
	Verdict    string `json:"verdict"`
	Check      string `json:"check,omitempty"`
	Reason     string `json:"reason"`
	Severity   string `json:"severity,omitempty"`
	Score      int    `json:"score"`
	PolicyHash string `json:"policy_hash,omitempty"`
	Type       string `json:"type,omitempty"` // security event type when one fired
}
