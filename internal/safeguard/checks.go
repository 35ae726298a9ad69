package safeguard

import (
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/mailwarden/internal/anomaly"
	"github.com/ppiankov/mailwarden/internal/blocklist"
	"github.com/ppiankov/mailwarden/internal/commitment"
	"github.com/ppiankov/mailwarden/internal/injection"
	"github.com/ppiankov/mailwarden/internal/ledger"
	"github.com/ppiankov/mailwarden/internal/model"
	"github.com/ppiankov/mailwarden/internal/sanitize"
	"github.com/ppiankov/mailwarden/internal/trust"
)

// evalContext carries everything a check reads. Checks never mutate
// shared state; the orchestrator commits side effects after the verdict.
type evalContext struct {
	req   *model.ActionRequest
	cfg   *Config
	bl    *blocklist.Blocklist
	rl    *ledger.Ledger
	cat   *injection.Catalog
	anom  *anomaly.Store
	score int
	now   time.Time
}

// outcome is a single check's contribution to the decision.
type outcome struct {
	fired     bool
	verdict   model.Verdict
	reason    string
	event     *model.SecurityEvent // partial: orchestrator stamps ID, thread, time
	retryable bool
}

type check struct {
	id  string
	run func(*evalContext) outcome
}

// checkChain is the evaluation order. It must not be changed:
//  1. blocklist — hard block, permanent
//  2. rate ledger — hard block, retryable after the hour rolls over
//  3. trust quarantine — hard block, human approval mandatory
//  4. commitment in outbound body — downgrade to draft
//  5. critical/high injection in last inbound — downgrade to draft
//  6. sensitive topics in outbound body — downgrade to draft
//  7. anomaly flags — downgrade to draft
//
// Hard blocks short-circuit; downgrades accumulate reasons and never
// re-upgrade.
var checkChain = []check{
	{"blocklist", checkBlocklist},
	{"rate_ledger", checkRateLedger},
	{"trust_score", checkTrustScore},
	{"commitment", checkCommitment},
	{"inbound_injection", checkInboundInjection},
	{"sensitive_topics", checkSensitiveTopics},
	{"anomaly", checkAnomaly},
}

func checkBlocklist(ctx *evalContext) outcome {
	if ctx.bl == nil {
		return outcome{
			fired:     true,
			verdict:   model.Block,
			reason:    "blocklist unavailable, failing closed",
			retryable: true,
		}
	}
	addr, pattern, blocked := ctx.bl.AnyBlocked(ctx.req.Targets)
	if !blocked {
		return outcome{}
	}
	return outcome{
		fired:   true,
		verdict: model.Block,
		reason:  fmt.Sprintf("target %s is blocklisted (pattern %s)", addr, pattern),
		event: &model.SecurityEvent{
			Type:        model.EventBlocklist,
			Severity:    model.SevCritical,
			Description: fmt.Sprintf("attempted %s to blocklisted address %s", ctx.req.Kind, addr),
		},
	}
}

func checkRateLedger(ctx *evalContext) outcome {
	// Drafts cost nothing; only sends consume budget.
	if ctx.req.Kind == model.ActionDraft {
		return outcome{}
	}
	if ctx.rl == nil {
		return outcome{
			fired:     true,
			verdict:   model.Block,
			reason:    "rate ledger unavailable, failing closed",
			retryable: true,
		}
	}
	res := ctx.rl.Check(ctx.req.Actor, ctx.now)
	if !res.Exceeded {
		return outcome{}
	}
	return outcome{
		fired:     true,
		verdict:   model.Block,
		reason:    res.Reason,
		retryable: true,
		event: &model.SecurityEvent{
			Type:        model.EventRateLimit,
			Severity:    model.SevMedium,
			Description: res.Reason,
		},
	}
}

func checkTrustScore(ctx *evalContext) outcome {
	if trust.LevelFor(ctx.score) != trust.Quarantine {
		return outcome{}
	}
	reason := fmt.Sprintf("trust score %d is at or below the quarantine threshold %d",
		ctx.score, trust.ThresholdQuarantine)
	return outcome{
		fired:   true,
		verdict: model.Block,
		reason:  reason,
		event: &model.SecurityEvent{
			Type:        model.EventQuarantine,
			Severity:    model.SevHigh,
			Description: reason,
			Quarantined: true,
		},
	}
}

func checkCommitment(ctx *evalContext) outcome {
	if ctx.req.Body.ParseFailed {
		return outcome{
			fired:   true,
			verdict: model.Draft,
			reason:  "outbound body failed to parse as text, treating as suspect",
		}
	}
	res := commitment.Detect(sanitize.Inner(ctx.req.Body))
	if !res.Found {
		return outcome{}
	}
	cats := make([]string, len(res.Categories))
	sev := model.SevMedium
	for i, c := range res.Categories {
		cats[i] = string(c)
		if c == commitment.Money || c == commitment.Legal {
			sev = model.SevHigh
		}
	}
	reason := fmt.Sprintf("outbound body implies a commitment (%s), needs human review",
		strings.Join(cats, ", "))
	return outcome{
		fired:   true,
		verdict: model.Draft,
		reason:  reason,
		event: &model.SecurityEvent{
			Type:        model.EventCommitment,
			Severity:    sev,
			Description: reason,
		},
	}
}

func checkInboundInjection(ctx *evalContext) outcome {
	if ctx.cat == nil {
		// Unloadable catalog: treat the check as fired rather than
		// silently skipping it.
		return outcome{
			fired:   true,
			verdict: model.Draft,
			reason:  "injection catalog unavailable, treating inbound content as suspect",
		}
	}
	if ctx.req.LastInbound == nil {
		return outcome{}
	}
	if ctx.req.LastInbound.ParseFailed {
		return outcome{
			fired:   true,
			verdict: model.Draft,
			reason:  "last inbound message failed to parse as text, treating as suspect",
		}
	}

	matches := ctx.cat.Scan(sanitize.Inner(*ctx.req.LastInbound))
	sev := injection.AggregateSeverity(matches)
	if model.SevRank[sev] < model.SevRank[model.SevHigh] {
		return outcome{}
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.PatternID
	}
	reason := fmt.Sprintf("thread carries %s-severity injection signal (%s)",
		sev, strings.Join(ids, ", "))
	return outcome{
		fired:   true,
		verdict: model.Draft,
		reason:  reason,
		event: &model.SecurityEvent{
			Type:        model.EventInjection,
			Severity:    sev,
			Description: reason,
		},
	}
}

func checkSensitiveTopics(ctx *evalContext) outcome {
	body := strings.ToLower(sanitize.Inner(ctx.req.Body))
	var hits []string
	for _, topic := range ctx.cfg.SensitiveTopics {
		for _, kw := range topic.Keywords {
			if strings.Contains(body, strings.ToLower(kw)) {
				hits = append(hits, topic.Name)
				break
			}
		}
	}
	if len(hits) == 0 {
		return outcome{}
	}
	return outcome{
		fired:   true,
		verdict: model.Draft,
		reason:  fmt.Sprintf("outbound body touches sensitive topics (%s)", strings.Join(hits, ", ")),
	}
}

func checkAnomaly(ctx *evalContext) outcome {
	if ctx.anom == nil {
		return outcome{
			fired:   true,
			verdict: model.Draft,
			reason:  "anomaly baselines unavailable, treating action as suspect",
		}
	}
	flags := ctx.anom.Evaluate(ctx.req, ctx.now)
	if len(flags) == 0 {
		return outcome{}
	}
	details := make([]string, len(flags))
	for i, f := range flags {
		details[i] = f.Detail
	}
	reason := fmt.Sprintf("action deviates from actor baseline: %s", strings.Join(details, "; "))
	return outcome{
		fired:   true,
		verdict: model.Draft,
		reason:  reason,
		event: &model.SecurityEvent{
			Type:        model.EventAnomaly,
			Severity:    model.SevMedium,
			Description: reason,
		},
	}
}
