package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reviewer string

func init() {
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(denyCmd)
	approveCmd.Flags().StringVar(&reviewer, "by", "", "Reviewer identity (required)")
	denyCmd.Flags().StringVar(&reviewer, "by", "", "Reviewer identity (required)")
	approveCmd.MarkFlagRequired("by")
	denyCmd.MarkFlagRequired("by")
}

var approveCmd = &cobra.Command{
	Use:   "approve <draft-id>",
	Short: "Approve a pending draft as a human-authorized send",
	Long: "Marks the draft approved, consumes a rate-ledger slot for the\n" +
		"reviewer, and moves the thread to WAITING_REPLY.",
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

var denyCmd = &cobra.Command{
	Use:   "deny <draft-id>",
	Short: "Deny a pending draft",
	Long:  "Marks the draft denied. The thread state is unchanged.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeny,
}

func runApprove(cmd *cobra.Command, args []string) error {
	w, err := openWarden()
	if err != nil {
		return err
	}
	defer w.Close()

	d, err := w.ApproveDraft(args[0], reviewer)
	if err != nil {
		return err
	}
	fmt.Printf("Approved %s (thread %s → %s)\n", d.ID, d.ThreadID, w.Threads.State(d.ThreadID))
	return nil
}

func runDeny(cmd *cobra.Command, args []string) error {
	w, err := openWarden()
	if err != nil {
		return err
	}
	defer w.Close()

	d, err := w.DenyDraft(args[0], reviewer)
	if err != nil {
		return err
	}
	fmt.Printf("Denied %s (thread %s)\n", d.ID, d.ThreadID)
	return nil
}
