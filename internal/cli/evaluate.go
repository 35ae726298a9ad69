package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/mailwarden/internal/injection"
	"github.com/ppiankov/mailwarden/internal/mailparse"
	"github.com/ppiankov/mailwarden/internal/model"
	"github.com/ppiankov/mailwarden/internal/sanitize"
)

var (
	evalThread   string
	evalTargets  []string
	evalKind     string
	evalActor    string
	evalBody     string
	evalBodyFile string
	evalInbound  string
	evalFormat   string
)

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringVar(&evalThread, "thread", "", "Thread identifier (required)")
	evaluateCmd.Flags().StringSliceVar(&evalTargets, "to", nil, "Recipient addresses (required)")
	evaluateCmd.Flags().StringVar(&evalKind, "kind", "send", "Action kind (send|draft|reply)")
	evaluateCmd.Flags().StringVar(&evalActor, "actor", "agent", "Proposing actor (agent|human|system)")
	evaluateCmd.Flags().StringVar(&evalBody, "body", "", "Outbound body text")
	evaluateCmd.Flags().StringVar(&evalBodyFile, "body-file", "", "Read outbound body from file ('-' for stdin)")
	evaluateCmd.Flags().StringVar(&evalInbound, "inbound", "", "Path to the most recent inbound message (RFC 5322)")
	evaluateCmd.Flags().StringVarP(&evalFormat, "format", "f", "text", "Output format (text|json)")
	evaluateCmd.MarkFlagRequired("thread")
	evaluateCmd.MarkFlagRequired("to")
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run the full gate for a proposed outbound action",
	Long: "Evaluates a proposed send, reply, or draft through the safeguard\n" +
		"chain and prints the decision. Approved sends consume a rate-ledger\n" +
		"slot and move the thread to WAITING_REPLY; downgraded actions are\n" +
		"filed as drafts for human review.\n\n" +
		"Exit code 0 on approve, 2 on draft, 1 on block.",
	RunE: runEvaluate,
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	kind := model.ActionKind(evalKind)
	switch kind {
	case model.ActionSend, model.ActionDraft, model.ActionReply:
	default:
		return fmt.Errorf("unknown action kind %q", evalKind)
	}

	body, err := resolveBody(evalBody, evalBodyFile)
	if err != nil {
		return err
	}

	w, err := openWarden()
	if err != nil {
		return err
	}
	defer w.Close()

	req := &model.ActionRequest{
		ThreadID: evalThread,
		Actor:    model.Actor(evalActor),
		Kind:     kind,
		Targets:  evalTargets,
		Body:     sanitize.Sanitize(body, model.Outbound),
	}

	if evalInbound != "" {
		raw, err := os.ReadFile(evalInbound)
		if err != nil {
			return fmt.Errorf("read inbound message: %w", err)
		}
		email, err := mailparse.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse inbound message: %w", err)
		}
		unit := sanitize.Sanitize(email.Body, model.Inbound)
		req.LastInbound = &unit
		req.InboundMeta = mailparse.BuildMeta(email, w.Known, w.Safe, 0, inboundMatches(w.Catalog, unit))
	}

	d, err := w.EvaluateSend(req)
	if err != nil {
		return err
	}

	if evalFormat == "json" {
		out, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		printDecision(d)
	}

	switch d.Verdict {
	case model.Block:
		os.Exit(1)
	case model.Draft:
		os.Exit(2)
	}
	return nil
}

func printDecision(d *model.Decision) {
	fmt.Printf("verdict:  %s\n", d.Verdict)
	if d.CheckID != "" {
		fmt.Printf("check:    %s\n", d.CheckID)
	}
	fmt.Printf("score:    %d\n", d.Score)
	if d.Retryable {
		fmt.Println("retryable: yes")
	}
	for _, r := range d.Reasons {
		fmt.Printf("  - %s\n", r)
	}
	for _, ev := range d.Events {
		fmt.Printf("  event %s [%s/%s]: %s\n", ev.ID, ev.Type, ev.Severity, ev.Description)
	}
}

// inboundMatches counts signature hits on the inner text of a
// sanitized unit. The isolation delimiters are never scanned — they
// would self-match the escape signatures.
func inboundMatches(cat *injection.Catalog, unit model.ContentUnit) int {
	if cat == nil || unit.ParseFailed {
		return 0
	}
	return len(cat.Scan(sanitize.Inner(unit)))
}

func resolveBody(inline, file string) (string, error) {
	if file == "" {
		return inline, nil
	}
	if file == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read body from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read body file: %w", err)
	}
	return string(data), nil
}
