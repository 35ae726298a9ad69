package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/mailwarden/internal/injection"
	"github.com/ppiankov/mailwarden/internal/model"
	"github.com/ppiankov/mailwarden/internal/sanitize"
)

var (
	scanSignatures string
	scanFormat     string
)

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringVar(&scanSignatures, "signatures", "", "Path to signature catalog YAML (default: built-in)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "text", "Output format (text|json)")
}

var scanCmd = &cobra.Command{
	Use:   "scan [file]",
	Short: "Scan text for injection patterns without touching state",
	Long: "Sanitizes the input and runs it through the signature catalog.\n" +
		"Reads from the file argument or stdin. Nothing is recorded.\n\n" +
		"Exit code 0 when clean, 1 when any pattern fires.",
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	var raw []byte
	var err error
	if len(args) == 1 {
		raw, err = os.ReadFile(args[0])
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	cat := injection.NewDefault()
	if scanSignatures != "" {
		cat, err = injection.Load(scanSignatures)
		if err != nil {
			return fmt.Errorf("load signatures: %w", err)
		}
	}

	unit := sanitize.Sanitize(string(raw), model.Inbound)
	matches := cat.Scan(sanitize.Inner(unit))

	if scanFormat == "json" {
		out, err := json.MarshalIndent(struct {
			ParseFailed bool                   `json:"parse_failed,omitempty"`
			Severity    model.Severity         `json:"severity"`
			Matches     []model.DetectionMatch `json:"matches"`
		}{unit.ParseFailed, injection.AggregateSeverity(matches), matches}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		if unit.ParseFailed {
			fmt.Println("sanitize: FAILED — content would be treated as hostile")
		}
		if len(matches) == 0 {
			fmt.Println("clean: no patterns matched")
		}
		for _, m := range matches {
			fmt.Printf("%-28s %-9s %q\n", m.PatternID, m.Severity, m.Span)
		}
	}

	if len(matches) > 0 || unit.ParseFailed {
		os.Exit(1)
	}
	return nil
}
