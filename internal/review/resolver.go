package review

import (
	"fmt"
	"time"

	"github.com/ppiankov/mailwarden/internal/audit"
	"github.com/ppiankov/mailwarden/internal/model"
)

// EventStore is the slice of the persistence layer the resolver needs.
type EventStore interface {
	Event(id string) (*model.SecurityEvent, error)
	ResolveEvent(id string, resolution model.Resolution) error
}

// Recorder appends resolution entries to the audit trail.
type Recorder interface {
	Record(entry audit.AuditEntry) error
}

// Resolver applies human resolutions to security events. Every
// resolution is audited with the acting human; the agent may not
// resolve events.
type Resolver struct {
	events EventStore
	rec    Recorder
}

// NewResolver creates a Resolver over the given stores.
func NewResolver(events EventStore, rec Recorder) *Resolver {
	return &Resolver{events: events, rec: rec}
}

// Resolve marks an event approved, dismissed, or false_positive.
// The audit entry is written before the store is updated, so a store
// failure leaves a visible record of the attempt.
func (r *Resolver) Resolve(eventID string, resolution model.Resolution, actor model.Actor, note string) error {
	if actor == model.ActorAgent {
		return fmt.Errorf("resolve %s: agent may not resolve security events", eventID)
	}

	ev, err := r.events.Event(eventID)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", eventID, err)
	}
	if ev.Resolution != model.Unresolved {
		return fmt.Errorf("resolve %s: already %s", eventID, ev.Resolution)
	}

	entry := audit.AuditEntry{
		Timestamp:  time.Now().UTC().Format(audit.TimestampFormat),
		ThreadID:   ev.ThreadID,
		Kind:       audit.KindResolution,
		Actor:      string(actor),
		EventID:    eventID,
		Resolution: string(resolution),
		Reason:     note,
	}
	if err := r.rec.Record(entry); err != nil {
		return fmt.Errorf("resolve %s: audit append failed: %w", eventID, err)
	}

	if err := r.events.ResolveEvent(eventID, resolution); err != nil {
		return fmt.Errorf("resolve %s: %w", eventID, err)
	}
	return nil
}
