package scenario

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/mailwarden/internal/anomaly"
	"github.com/ppiankov/mailwarden/internal/audit"
	"github.com/ppiankov/mailwarden/internal/blocklist"
	"github.com/ppiankov/mailwarden/internal/injection"
	"github.com/ppiankov/mailwarden/internal/ledger"
	"github.com/ppiankov/mailwarden/internal/model"
	"github.com/ppiankov/mailwarden/internal/safeguard"
	"github.com/ppiankov/mailwarden/internal/sanitize"
	"github.com/ppiankov/mailwarden/internal/thread"
)

// nopRecorder discards audit entries. Scenario runs assert verdicts,
// they never touch durable state.
type nopRecorder struct{}

func (nopRecorder) Record(audit.AuditEntry) error { return nil }

// Run evaluates all cases in a scenario against the given config,
// blocklist, and signature catalog. Each case gets a fresh gate so
// earlier cases cannot spend later cases' budget.
func Run(s *Scenario, cfg *safeguard.Config, bl *blocklist.Blocklist, cat *injection.Catalog) *RunResult {
	result := &RunResult{
		Name:  s.Name,
		Total: len(s.Cases),
	}

	for i, c := range s.Cases {
		d, err := runCase(i, &c, cfg, bl, cat)

		cr := CaseResult{
			Index:    i + 1,
			Kind:     c.Action.Kind,
			Targets:  c.Action.Targets,
			Expected: strings.ToLower(c.Expect),
		}
		if err != nil {
			cr.Actual = "error"
			cr.Reason = err.Error()
		} else {
			cr.Actual = string(d.Verdict)
			cr.Check = d.CheckID
			if len(d.Reasons) > 0 {
				cr.Reason = d.Reasons[0]
			}
		}

		if cr.Actual == cr.Expected {
			cr.Passed = true
			result.Passed++
		} else {
			result.Failed++
		}

		result.Cases = append(result.Cases, cr)
	}

	return result
}

func runCase(i int, c *Case, cfg *safeguard.Config, bl *blocklist.Blocklist, cat *injection.Catalog) (*model.Decision, error) {
	orch, err := safeguard.New(cfg, safeguard.Deps{
		Blocklist: bl,
		Ledger:    ledger.New(cfg.BudgetsByActor()),
		Catalog:   cat,
		Anomalies: anomaly.NewStore(cfg.Anomaly),
		Threads:   thread.New(nopRecorder{}),
		Audit:     nopRecorder{},
	})
	if err != nil {
		return nil, err
	}

	actor := model.Actor(c.Action.Actor)
	if actor == "" {
		actor = model.ActorAgent
	}
	kind := model.ActionKind(c.Action.Kind)
	if kind == "" {
		kind = model.ActionSend
	}

	req := &model.ActionRequest{
		ThreadID: fmt.Sprintf("scenario-%d", i),
		Actor:    actor,
		Kind:     kind,
		Targets:  c.Action.Targets,
		Body:     sanitize.Sanitize(c.Action.Body, model.Outbound),
		InboundMeta: model.MessageMeta{
			Sender:       c.Sender,
			KnownSender:  c.KnownSender,
			PriorThreads: c.PriorThreads,
		},
	}
	if c.Inbound != "" {
		unit := sanitize.Sanitize(c.Inbound, model.Inbound)
		req.LastInbound = &unit
		if cat != nil {
			req.InboundMeta.PatternMatches = len(cat.Scan(sanitize.Inner(unit)))
		}
	}

	return orch.Evaluate(req)
}

// LoadAndRun loads a scenario YAML file plus the config, blocklist, and
// signature catalog, and runs all cases.
func LoadAndRun(path, configPath, blocklistPath, signaturesPath string) (*RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	cfg, err := safeguard.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	bl, err := blocklist.Load(blocklistPath)
	if err != nil {
		return nil, fmt.Errorf("load blocklist: %w", err)
	}

	cat := injection.NewDefault()
	if signaturesPath != "" {
		cat, err = injection.Load(signaturesPath)
		if err != nil {
			return nil, fmt.Errorf("load signatures: %w", err)
		}
	}

	result := Run(&s, cfg, bl, cat)
	result.File = path

	return result, nil
}
