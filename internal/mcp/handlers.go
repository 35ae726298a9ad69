package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/mailwarden/internal/injection"
	"github.com/ppiankov/mailwarden/internal/mailparse"
	"github.com/ppiankov/mailwarden/internal/model"
	"github.com/ppiankov/mailwarden/internal/review"
	"github.com/ppiankov/mailwarden/internal/sanitize"
)

// --- Input/Output types ---

// EvaluateInput defines parameters for the mailwarden_evaluate tool.
type EvaluateInput struct {
	ThreadID    string   `json:"thread_id" jsonschema:"conversation thread identifier"`
	Actor       string   `json:"actor,omitempty" jsonschema:"who proposes the action (agent/human/system), default agent"`
	Kind        string   `json:"kind" jsonschema:"proposed action (send/draft/reply)"`
	Targets     []string `json:"targets" jsonschema:"recipient addresses"`
	Body        string   `json:"body" jsonschema:"outbound body text"`
	LastInbound string   `json:"last_inbound,omitempty" jsonschema:"most recent inbound body on the thread"`

	Sender       string `json:"sender,omitempty" jsonschema:"sender of the last inbound message"`
	KnownSender  bool   `json:"known_sender,omitempty" jsonschema:"sender is in the known registry"`
	PriorThreads int    `json:"prior_threads,omitempty" jsonschema:"completed prior threads with this sender"`
}

// EvaluateOutput is the gating decision.
type EvaluateOutput struct {
	Verdict   string   `json:"verdict"`
	Reasons   []string `json:"reasons"`
	Check     string   `json:"check,omitempty"`
	Retryable bool     `json:"retryable,omitempty"`
	Score     int      `json:"score"`
	EventIDs  []string `json:"event_ids,omitempty"`
}

// InboundInput defines parameters for the mailwarden_inbound tool.
type InboundInput struct {
	ThreadID     string `json:"thread_id" jsonschema:"conversation thread identifier"`
	RawEmail     string `json:"raw_email,omitempty" jsonschema:"full RFC-5322 message, preferred"`
	Body         string `json:"body,omitempty" jsonschema:"plain body text when no raw email is available"`
	Sender       string `json:"sender,omitempty" jsonschema:"sender address when body is used"`
	PriorThreads int    `json:"prior_threads,omitempty" jsonschema:"completed prior threads with this sender"`
}

// InboundOutput reports the sanitized content and scan result.
type InboundOutput struct {
	Sanitized   string   `json:"sanitized"`
	ParseFailed bool     `json:"parse_failed,omitempty"`
	PatternIDs  []string `json:"pattern_ids,omitempty"`
	Severity    string   `json:"severity"`
	ThreadScore int      `json:"thread_score"`
	State       string   `json:"state"`
}

// ScanInput defines parameters for the mailwarden_scan tool.
type ScanInput struct {
	Text string `json:"text" jsonschema:"text to scan"`
}

// ScanMatch is one signature hit.
type ScanMatch struct {
	PatternID string `json:"pattern_id"`
	Severity  string `json:"severity"`
	Span      string `json:"span"`
}

// ScanOutput lists all signature hits and the aggregate severity.
type ScanOutput struct {
	Matches  []ScanMatch `json:"matches"`
	Severity string      `json:"severity"`
}

// PendingInput is empty — no parameters needed.
type PendingInput struct{}

// PendingItem describes one draft awaiting review.
type PendingItem struct {
	ID        string   `json:"id"`
	ThreadID  string   `json:"thread_id"`
	Targets   []string `json:"targets"`
	Reasons   []string `json:"reasons"`
	CreatedAt string   `json:"created_at"`
}

// PendingOutput lists all pending drafts.
type PendingOutput struct {
	Drafts []PendingItem `json:"drafts"`
}

// ReviewInput defines parameters for the mailwarden_review tool.
type ReviewInput struct {
	DraftID  string `json:"draft_id" jsonschema:"draft identifier from mailwarden_pending"`
	Decision string `json:"decision" jsonschema:"approved or denied"`
	Reviewer string `json:"reviewer" jsonschema:"human reviewer identity"`
}

// ReviewOutput confirms the review decision.
type ReviewOutput struct {
	DraftID string `json:"draft_id"`
	Status  string `json:"status"`
	State   string `json:"state,omitempty"`
}

// ResolveInput defines parameters for the mailwarden_resolve tool.
type ResolveInput struct {
	EventID    string `json:"event_id" jsonschema:"security event identifier"`
	Resolution string `json:"resolution" jsonschema:"approved, dismissed, or false_positive"`
	Note       string `json:"note,omitempty" jsonschema:"reviewer note"`
}

// ResolveOutput confirms the resolution.
type ResolveOutput struct {
	EventID    string `json:"event_id"`
	Resolution string `json:"resolution"`
}

// TransitionInput defines parameters for the mailwarden_transition tool.
type TransitionInput struct {
	ThreadID string `json:"thread_id" jsonschema:"conversation thread identifier"`
	Target   string `json:"target" jsonschema:"target state (NEW/ACTIVE/WAITING_REPLY/FOLLOW_UP/GOAL_MET/ARCHIVED)"`
	Actor    string `json:"actor,omitempty" jsonschema:"who requests the change (human/system), default human"`
	Reason   string `json:"reason,omitempty" jsonschema:"required for overrides"`
}

// TransitionOutput reports the new state.
type TransitionOutput struct {
	ThreadID string `json:"thread_id"`
	State    string `json:"state"`
}

// --- Handlers ---

func (s *Server) handleEvaluate(ctx context.Context, req *mcpsdk.CallToolRequest, input EvaluateInput) (*mcpsdk.CallToolResult, EvaluateOutput, error) {
	kind := model.ActionKind(input.Kind)
	switch kind {
	case model.ActionSend, model.ActionDraft, model.ActionReply:
	default:
		return nil, EvaluateOutput{}, fmt.Errorf("unknown action kind %q", input.Kind)
	}

	actor := model.Actor(input.Actor)
	if actor == "" {
		actor = model.ActorAgent
	}

	areq := &model.ActionRequest{
		ThreadID: input.ThreadID,
		Actor:    actor,
		Kind:     kind,
		Targets:  input.Targets,
		Body:     sanitize.Sanitize(input.Body, model.Outbound),
		InboundMeta: model.MessageMeta{
			Sender:       input.Sender,
			KnownSender:  input.KnownSender || s.warden.Known.IsKnown(input.Sender),
			PriorThreads: input.PriorThreads,
		},
	}
	if input.LastInbound != "" {
		unit := sanitize.Sanitize(input.LastInbound, model.Inbound)
		areq.LastInbound = &unit
	}

	s.mu.Lock()
	d, err := s.warden.EvaluateSend(areq)
	s.mu.Unlock()
	if err != nil {
		return nil, EvaluateOutput{}, err
	}

	out := EvaluateOutput{
		Verdict:   string(d.Verdict),
		Reasons:   d.Reasons,
		Check:     d.CheckID,
		Retryable: d.Retryable,
		Score:     d.Score,
	}
	for _, ev := range d.Events {
		out.EventIDs = append(out.EventIDs, ev.ID)
	}

	if d.Verdict == model.Block {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleInbound(ctx context.Context, req *mcpsdk.CallToolRequest, input InboundInput) (*mcpsdk.CallToolResult, InboundOutput, error) {
	body := input.Body
	meta := model.MessageMeta{Sender: input.Sender, PriorThreads: input.PriorThreads}

	if input.RawEmail != "" {
		email, err := mailparse.Parse([]byte(input.RawEmail))
		if err != nil {
			return nil, InboundOutput{}, fmt.Errorf("parse inbound email: %w", err)
		}
		body = email.Body
		meta = mailparse.BuildMeta(email, s.warden.Known, s.warden.Safe, input.PriorThreads, 0)
	} else if meta.Sender != "" {
		meta.KnownSender = s.warden.Known.IsKnown(meta.Sender)
	}

	s.mu.Lock()
	unit, matches, err := s.warden.Inbound(input.ThreadID, body, meta)
	threadScore := s.warden.Orchestrator.ThreadScore(input.ThreadID)
	state := s.warden.Threads.State(input.ThreadID)
	s.mu.Unlock()
	if err != nil {
		return nil, InboundOutput{}, err
	}

	out := InboundOutput{
		Sanitized:   unit.Sanitized,
		ParseFailed: unit.ParseFailed,
		Severity:    string(injection.AggregateSeverity(matches)),
		ThreadScore: threadScore,
		State:       string(state),
	}
	for _, m := range matches {
		out.PatternIDs = append(out.PatternIDs, m.PatternID)
	}
	return nil, out, nil
}

func (s *Server) handleScan(ctx context.Context, req *mcpsdk.CallToolRequest, input ScanInput) (*mcpsdk.CallToolResult, ScanOutput, error) {
	cat := s.warden.Catalog
	if cat == nil {
		return nil, ScanOutput{}, fmt.Errorf("signature catalog unavailable")
	}

	// Scan the normalized inner text, same as the inbound path. Raw
	// input can hide signatures behind zero-width characters or smuggle
	// isolation delimiters that would self-match the escape patterns.
	unit := sanitize.Sanitize(input.Text, model.Inbound)
	matches := cat.Scan(sanitize.Inner(unit))
	out := ScanOutput{Severity: string(injection.AggregateSeverity(matches))}
	for _, m := range matches {
		out.Matches = append(out.Matches, ScanMatch{
			PatternID: m.PatternID,
			Severity:  string(m.Severity),
			Span:      m.Span,
		})
	}
	return nil, out, nil
}

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, input PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	drafts, err := s.warden.Reviews.Pending()
	if err != nil {
		return nil, PendingOutput{}, err
	}
	out := PendingOutput{}
	for _, d := range drafts {
		out.Drafts = append(out.Drafts, PendingItem{
			ID:        d.ID,
			ThreadID:  d.ThreadID,
			Targets:   d.Targets,
			Reasons:   d.Reasons,
			CreatedAt: d.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}
	return nil, out, nil
}

func (s *Server) handleReview(ctx context.Context, req *mcpsdk.CallToolRequest, input ReviewInput) (*mcpsdk.CallToolResult, ReviewOutput, error) {
	var d *review.Draft
	var err error

	s.mu.Lock()
	switch input.Decision {
	case string(review.StatusApproved):
		d, err = s.warden.ApproveDraft(input.DraftID, input.Reviewer)
	case string(review.StatusDenied):
		d, err = s.warden.DenyDraft(input.DraftID, input.Reviewer)
	default:
		err = fmt.Errorf("decision must be approved or denied, got %q", input.Decision)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, ReviewOutput{}, err
	}

	return nil, ReviewOutput{
		DraftID: d.ID,
		Status:  string(d.Status),
		State:   string(s.warden.Threads.State(d.ThreadID)),
	}, nil
}

func (s *Server) handleResolve(ctx context.Context, req *mcpsdk.CallToolRequest, input ResolveInput) (*mcpsdk.CallToolResult, ResolveOutput, error) {
	if s.warden.Resolver == nil {
		return nil, ResolveOutput{}, fmt.Errorf("state store unavailable, cannot resolve events")
	}
	err := s.warden.Resolver.Resolve(input.EventID, model.Resolution(input.Resolution), model.ActorHuman, input.Note)
	if err != nil {
		return nil, ResolveOutput{}, err
	}
	return nil, ResolveOutput{EventID: input.EventID, Resolution: input.Resolution}, nil
}

func (s *Server) handleTransition(ctx context.Context, req *mcpsdk.CallToolRequest, input TransitionInput) (*mcpsdk.CallToolResult, TransitionOutput, error) {
	actor := model.Actor(input.Actor)
	if actor == "" {
		actor = model.ActorHuman
	}

	s.mu.Lock()
	err := s.warden.Transition(input.ThreadID, model.ThreadState(input.Target), actor, input.Reason)
	state := s.warden.Threads.State(input.ThreadID)
	s.mu.Unlock()
	if err != nil {
		return nil, TransitionOutput{}, err
	}

	return nil, TransitionOutput{ThreadID: input.ThreadID, State: string(state)}, nil
}
