package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List drafts awaiting human review",
	Long:  "Shows all downgraded actions held for review, oldest first.",
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	w, err := openWarden()
	if err != nil {
		return err
	}
	defer w.Close()

	drafts, err := w.Reviews.Pending()
	if err != nil {
		return fmt.Errorf("list pending drafts: %w", err)
	}

	if len(drafts) == 0 {
		fmt.Println("No pending drafts.")
		return nil
	}

	fmt.Printf("%-18s %-16s %-28s %-9s %s\n", "ID", "THREAD", "TO", "CREATED", "REASON")
	for _, d := range drafts {
		reason := ""
		if len(d.Reasons) > 0 {
			reason = d.Reasons[0]
		}
		fmt.Printf("%-18s %-16s %-28s %-9s %s\n",
			d.ID,
			truncate(d.ThreadID, 16),
			truncate(strings.Join(d.Targets, ","), 28),
			d.CreatedAt.Format("15:04:05"),
			truncate(reason, 48),
		)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
