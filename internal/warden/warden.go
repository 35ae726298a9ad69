// Package warden wires the safeguard engine from configuration: it
// loads the blocklist, signature catalog, and known senders, opens the
// persistence layer, replays persisted state into the in-memory ledger
// and thread machine, and exposes the operations the CLI and MCP
// surfaces share.
package warden

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/mailwarden/internal/alert"
	"github.com/ppiankov/mailwarden/internal/anomaly"
	"github.com/ppiankov/mailwarden/internal/audit"
	"github.com/ppiankov/mailwarden/internal/blocklist"
	"github.com/ppiankov/mailwarden/internal/injection"
	"github.com/ppiankov/mailwarden/internal/ledger"
	"github.com/ppiankov/mailwarden/internal/mailparse"
	"github.com/ppiankov/mailwarden/internal/model"
	"github.com/ppiankov/mailwarden/internal/review"
	"github.com/ppiankov/mailwarden/internal/safeguard"
	"github.com/ppiankov/mailwarden/internal/store"
	"github.com/ppiankov/mailwarden/internal/thread"
	"github.com/ppiankov/mailwarden/internal/trust"
)

// Config names the file inputs of a Warden. Empty paths fall back to
// the safeguard config's paths, then to built-in defaults.
type Config struct {
	ConfigPath string
	// Ephemeral disables the SQLite layer; state lives only in memory.
	// Used by one-shot CLI commands that must not touch the daemon's DB.
	Ephemeral bool
}

// Warden is the assembled engine.
type Warden struct {
	Cfg        *safeguard.Config
	PolicyHash string

	Orchestrator *safeguard.Orchestrator
	Blocklist    *blocklist.Blocklist
	Ledger       *ledger.Ledger
	Catalog      *injection.Catalog
	Anomalies    *anomaly.Store
	Threads      *thread.Machine
	Known        *trust.KnownSenders
	Safe         *mailparse.SafeDomains
	Audit        *audit.Log
	Store        *store.Store
	Reviews      *review.Store
	Resolver     *review.Resolver
	Dispatcher   *alert.Dispatcher
}

// New builds a Warden from configuration and replays persisted state.
func New(wc Config) (*Warden, error) {
	cfg, hash, err := safeguard.LoadConfigWithHash(wc.ConfigPath)
	if err != nil {
		return nil, err
	}

	bl, err := blocklist.Load(cfg.BlocklistFile)
	if err != nil {
		return nil, fmt.Errorf("load blocklist: %w", err)
	}

	cat, err := loadCatalog(cfg.SignaturesFile)
	if err != nil {
		// Fail closed downstream: a nil catalog makes the injection
		// check fire on every request instead of being skipped.
		cat = nil
	}

	known := trust.NewKnownSenders(nil)
	if cfg.KnownSendersFile != "" {
		known, err = trust.LoadKnownSenders(cfg.KnownSendersFile)
		if err != nil {
			return nil, fmt.Errorf("load known senders: %w", err)
		}
	}

	auditPath := cfg.AuditLog
	if auditPath == "" {
		auditPath = filepath.Join(defaultHome(), "audit.log")
	}
	log, err := audit.Open(auditPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	rl := ledger.New(cfg.BudgetsByActor())
	threads := thread.New(log,
		thread.WithFollowUpAfter(cfg.FollowUpAfter),
		thread.WithMaxFollowUps(cfg.MaxFollowUps))
	anomalies := anomaly.NewStore(cfg.Anomaly)

	w := &Warden{
		Cfg:        cfg,
		PolicyHash: hash,
		Blocklist:  bl,
		Ledger:     rl,
		Catalog:    cat,
		Anomalies:  anomalies,
		Threads:    threads,
		Known:      known,
		Safe:       mailparse.NewSafeDomains(cfg.SafeDomains),
		Audit:      log,
		Dispatcher: alert.NewDispatcher(cfg.Alerts),
	}

	var sink safeguard.EventSink
	if !wc.Ephemeral {
		statePath := cfg.StatePath
		if statePath == "" {
			statePath = filepath.Join(defaultHome(), "mailwarden.db")
		}
		db, err := store.Open(statePath)
		if err != nil {
			log.Close()
			return nil, fmt.Errorf("open state store: %w", err)
		}
		w.Store = db
		sink = db

		if err := w.restore(); err != nil {
			w.Close()
			return nil, err
		}
	}

	pendingDir := cfg.PendingDir
	if pendingDir == "" {
		pendingDir = review.DefaultDir()
	}
	reviews, err := review.NewStore(pendingDir)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("open review store: %w", err)
	}
	w.Reviews = reviews
	if w.Store != nil {
		w.Resolver = review.NewResolver(w.Store, log)
	}

	orch, err := safeguard.New(cfg, safeguard.Deps{
		Blocklist:  bl,
		Ledger:     rl,
		Catalog:    cat,
		Anomalies:  anomalies,
		Threads:    threads,
		Audit:      log,
		Events:     sink,
		PolicyHash: hash,
	})
	if err != nil {
		w.Close()
		return nil, err
	}
	w.Orchestrator = orch

	if w.Store != nil {
		scores, err := w.Store.ScoresByThread()
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("restore scores: %w", err)
		}
		for id, s := range scores {
			orch.RestoreScores(id, s)
		}
	}

	return w, nil
}

// ReloadLists re-reads the blocklist and known-senders files and swaps
// their contents in place. Evaluations in flight keep the pointers they
// already hold; the next evaluation sees the new lists.
func (w *Warden) ReloadLists() error {
	fresh, err := blocklist.Load(w.Cfg.BlocklistFile)
	if err != nil {
		return fmt.Errorf("reload blocklist: %w", err)
	}
	w.Blocklist.Replace(blocklist.Patterns{Addresses: fresh.List()})

	if w.Cfg.KnownSendersFile != "" {
		ks, err := trust.LoadKnownSenders(w.Cfg.KnownSendersFile)
		if err != nil {
			return fmt.Errorf("reload known senders: %w", err)
		}
		w.Known.Replace(ks.Patterns())
	}
	return nil
}

// restore replays persisted ledger entries and thread states.
func (w *Warden) restore() error {
	entries, err := w.Store.LedgerEntries()
	if err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	for _, e := range entries {
		w.Ledger.Restore(e)
	}

	states, err := w.Store.ThreadStates()
	if err != nil {
		return fmt.Errorf("restore thread states: %w", err)
	}
	for id, st := range states {
		if err := w.Threads.Restore(id, st); err != nil {
			return fmt.Errorf("restore thread %s: %w", id, err)
		}
	}
	return nil
}

// Close releases the audit log and the state store.
func (w *Warden) Close() error {
	var firstErr error
	if w.Store != nil {
		if err := w.Store.Close(); err != nil {
			firstErr = err
		}
	}
	if w.Audit != nil {
		if err := w.Audit.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EvaluateSend runs the full gate for a proposed action, persists the
// outcome, files a draft for review on downgrade, and dispatches
// alerts. This is the one entry point for both the CLI and MCP tools.
func (w *Warden) EvaluateSend(req *model.ActionRequest) (*model.Decision, error) {
	d, err := w.Orchestrator.Evaluate(req)
	if err != nil {
		return nil, err
	}

	if w.Store != nil {
		now := time.Now()
		if err := w.Store.SaveThreadState(req.ThreadID, w.Threads.State(req.ThreadID), now); err != nil {
			return d, fmt.Errorf("persist thread state: %w", err)
		}
		if d.Verdict == model.Approve && req.Kind != model.ActionDraft {
			entries := w.Ledger.Entries()
			if len(entries) > 0 {
				if err := w.Store.AppendLedgerEntry(entries[len(entries)-1]); err != nil {
					return d, fmt.Errorf("persist ledger entry: %w", err)
				}
			}
		}
	}

	if d.Verdict == model.Draft {
		draft := review.FromDecision(safeguard.NewEventID(), req, d)
		if err := w.Reviews.Put(draft); err != nil {
			return d, fmt.Errorf("file draft for review: %w", err)
		}
	}

	w.dispatch(req, d)
	return d, nil
}

// Inbound runs the inbound half: sanitize, scan, score, activate, and
// persist the new score and state.
func (w *Warden) Inbound(threadID, raw string, meta model.MessageMeta) (model.ContentUnit, []model.DetectionMatch, error) {
	unit, matches, err := w.Orchestrator.OnInbound(threadID, raw, meta)
	if err != nil {
		return unit, matches, err
	}
	if w.Store != nil {
		meta.PatternMatches = len(matches)
		if err := w.Store.AppendScore(threadID, trust.Score(meta)); err != nil {
			return unit, matches, fmt.Errorf("persist score: %w", err)
		}
		if err := w.Store.SaveThreadState(threadID, w.Threads.State(threadID), time.Now()); err != nil {
			return unit, matches, fmt.Errorf("persist thread state: %w", err)
		}
	}
	return unit, matches, nil
}

// ApproveDraft commits a reviewed draft as a human-authorized send:
// the draft is marked approved, a ledger slot is consumed for the
// reviewer, and the thread transitions to WAITING_REPLY under the
// human actor.
func (w *Warden) ApproveDraft(draftID, reviewer string) (*review.Draft, error) {
	d, err := w.Reviews.Get(draftID)
	if err != nil {
		return nil, err
	}
	if d.Status != review.StatusPending {
		return nil, fmt.Errorf("draft %q already %s", draftID, d.Status)
	}
	if reviewer == "" {
		return nil, fmt.Errorf("approve draft %s: reviewer required", draftID)
	}

	now := time.Now()
	entry, err := w.Ledger.Consume(model.ActorHuman, now)
	if err != nil {
		return nil, fmt.Errorf("approve draft %s: %w", draftID, err)
	}
	if err := w.Threads.OnOutboundCommitted(d.ThreadID, model.ActorHuman, now); err != nil {
		return nil, fmt.Errorf("approve draft %s: %w", draftID, err)
	}

	if w.Store != nil {
		if err := w.Store.AppendLedgerEntry(entry); err != nil {
			return nil, fmt.Errorf("approve draft %s: persist ledger entry: %w", draftID, err)
		}
		if err := w.Store.SaveThreadState(d.ThreadID, w.Threads.State(d.ThreadID), now); err != nil {
			return nil, fmt.Errorf("approve draft %s: persist thread state: %w", draftID, err)
		}
	}

	// The draft is marked approved only after the slot and transition
	// committed; a failure above leaves it pending and retryable.
	d, err = w.Reviews.Decide(draftID, review.StatusApproved, reviewer)
	if err != nil {
		return nil, fmt.Errorf("approve draft %s: %w", draftID, err)
	}
	return d, nil
}

// DenyDraft marks a reviewed draft denied. The thread stays as it was.
func (w *Warden) DenyDraft(draftID, reviewer string) (*review.Draft, error) {
	return w.Reviews.Decide(draftID, review.StatusDenied, reviewer)
}

// Transition applies a manual state change and persists it.
func (w *Warden) Transition(threadID string, target model.ThreadState, actor model.Actor, reason string) error {
	if err := w.Threads.Transition(threadID, target, actor, reason); err != nil {
		return err
	}
	if w.Store != nil {
		if err := w.Store.SaveThreadState(threadID, target, time.Now()); err != nil {
			return fmt.Errorf("persist thread state: %w", err)
		}
	}
	return nil
}

func (w *Warden) dispatch(req *model.ActionRequest, d *model.Decision) {
	if w.Dispatcher == nil {
		return
	}
	ev := alert.Event{
		Timestamp:  time.Now().UTC().Format(audit.TimestampFormat),
		ThreadID:   req.ThreadID,
		Sender:     req.InboundMeta.Sender,
		Verdict:    string(d.Verdict),
		Check:      d.CheckID,
		Score:      d.Score,
		PolicyHash: w.PolicyHash,
	}
	if len(d.Reasons) > 0 {
		ev.Reason = d.Reasons[0]
	}
	if len(d.Events) > 0 {
		ev.Type = string(d.Events[0].Type)
		ev.Severity = string(d.Events[0].Severity)
	}
	w.Dispatcher.Dispatch(ev)
}

func loadCatalog(path string) (*injection.Catalog, error) {
	if path == "" {
		return injection.NewDefault(), nil
	}
	return injection.Load(path)
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".mailwarden")
}
