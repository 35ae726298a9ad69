package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/mailwarden/internal/injection"
	"github.com/ppiankov/mailwarden/internal/mailparse"
	"github.com/ppiankov/mailwarden/internal/trust"
)

var (
	inboundThread string
	inboundFile   string
	inboundPrior  int
)

func init() {
	rootCmd.AddCommand(inboundCmd)
	inboundCmd.Flags().StringVar(&inboundThread, "thread", "", "Thread identifier (required)")
	inboundCmd.Flags().StringVar(&inboundFile, "file", "-", "Path to the raw message ('-' for stdin)")
	inboundCmd.Flags().IntVar(&inboundPrior, "prior-threads", 0, "Completed prior threads with this sender")
	inboundCmd.MarkFlagRequired("thread")
}

var inboundCmd = &cobra.Command{
	Use:   "inbound",
	Short: "Ingest an inbound message into a thread",
	Long: "Parses a raw RFC 5322 message, sanitizes and scans the body,\n" +
		"appends a trust score observation, and activates the thread.",
	RunE: runInbound,
}

func runInbound(cmd *cobra.Command, args []string) error {
	var raw []byte
	var err error
	if inboundFile == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(inboundFile)
	}
	if err != nil {
		return fmt.Errorf("read message: %w", err)
	}

	w, err := openWarden()
	if err != nil {
		return err
	}
	defer w.Close()

	email, err := mailparse.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse message: %w", err)
	}
	meta := mailparse.BuildMeta(email, w.Known, w.Safe, inboundPrior, 0)

	unit, matches, err := w.Inbound(inboundThread, email.Body, meta)
	if err != nil {
		return err
	}

	meta.PatternMatches = len(matches)

	fmt.Printf("thread:   %s\n", inboundThread)
	fmt.Printf("state:    %s\n", w.Threads.State(inboundThread))
	fmt.Printf("score:    %d (thread %d)\n",
		trust.Score(meta), w.Orchestrator.ThreadScore(inboundThread))
	if unit.ParseFailed {
		fmt.Println("sanitize: FAILED — content will be treated as hostile")
	}
	if len(matches) > 0 {
		fmt.Printf("matches:  %d (%s)\n", len(matches), injection.AggregateSeverity(matches))
		for _, m := range matches {
			fmt.Printf("  - %s [%s] %q\n", m.PatternID, m.Severity, m.Span)
		}
	}
	return nil
}
