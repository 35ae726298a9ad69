package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/mailwarden/internal/audit"
)

var (
	tailLines    int
	replayThread string
	replayFrom   string
	replayTo     string
	replayFormat string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditReplayCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditReplayCmd.Flags().StringVar(&replayThread, "thread", "", "Thread identifier (required)")
	auditReplayCmd.Flags().StringVar(&replayFrom, "from", "", "Only entries at or after this RFC 3339 time")
	auditReplayCmd.Flags().StringVar(&replayTo, "to", "", "Only entries at or before this RFC 3339 time")
	auditReplayCmd.Flags().StringVarP(&replayFormat, "format", "f", "text", "Output format (text|json)")
	auditReplayCmd.MarkFlagRequired("thread")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained audit log.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the JSONL audit log and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail <path>",
	Short: "Show recent audit log entries",
	Long:  "Reads the last N entries from the JSONL audit log and pretty-prints them.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditTail,
}

var auditReplayCmd = &cobra.Command{
	Use:   "replay <path>",
	Short: "Reconstruct one thread's decision history",
	Long: "Filters the audit log to a single thread and prints a timeline of\n" +
		"decisions, transitions, and resolutions with verdict counts.",
	Args: cobra.ExactArgs(1),
	RunE: runAuditReplay,
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	result := audit.Verify(args[0])
	if result.Valid {
		fmt.Printf("OK: %d entries verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	if result.Kind != "" {
		fmt.Fprintf(os.Stderr, "  broken entry: kind=%s thread=%s\n", result.Kind, result.ThreadID)
	}
	os.Exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	start := len(lines) - tailLines
	if start < 0 {
		start = 0
	}

	for _, line := range lines[start:] {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			fmt.Println(line)
			continue
		}
		pretty, _ := json.MarshalIndent(entry, "", "  ")
		fmt.Println(string(pretty))
	}
	return nil
}

func runAuditReplay(cmd *cobra.Command, args []string) error {
	filter := audit.ReplayFilter{ThreadID: replayThread}

	if replayFrom != "" {
		t, err := time.Parse(time.RFC3339, replayFrom)
		if err != nil {
			return fmt.Errorf("invalid --from time: %w", err)
		}
		filter.From = t
	}
	if replayTo != "" {
		t, err := time.Parse(time.RFC3339, replayTo)
		if err != nil {
			return fmt.Errorf("invalid --to time: %w", err)
		}
		filter.To = t
	}

	result, err := audit.Replay(args[0], filter)
	if err != nil {
		return err
	}

	if replayFormat == "json" {
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}
	fmt.Print(audit.FormatTimeline(result))
	return nil
}
