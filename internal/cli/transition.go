package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/mailwarden/internal/model"
)

var (
	transitionActor  string
	transitionReason string
)

func init() {
	rootCmd.AddCommand(transitionCmd)
	transitionCmd.Flags().StringVar(&transitionActor, "actor", "human", "Requesting actor (human|system)")
	transitionCmd.Flags().StringVar(&transitionReason, "reason", "", "Required when overriding the normal lifecycle")
}

var transitionCmd = &cobra.Command{
	Use:   "transition <thread-id> <state>",
	Short: "Move a thread to another lifecycle state",
	Long: "Applies a manual state change. Transitions outside the normal\n" +
		"lifecycle are overrides and require --reason; every transition is\n" +
		"written to the audit log.",
	Args: cobra.ExactArgs(2),
	RunE: runTransition,
}

func runTransition(cmd *cobra.Command, args []string) error {
	target := model.ThreadState(args[1])
	if !model.ValidState(target) {
		return fmt.Errorf("unknown state %q", args[1])
	}

	w, err := openWarden()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Transition(args[0], target, model.Actor(transitionActor), transitionReason); err != nil {
		return err
	}
	fmt.Printf("Thread %s → %s\n", args[0], target)
	return nil
}
