package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/mailwarden/internal/model"
)

var (
	resolveAs   string
	resolveNote string
)

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().StringVar(&resolveAs, "as", "", "Resolution (approved|dismissed|false_positive), required")
	resolveCmd.Flags().StringVar(&resolveNote, "note", "", "Reviewer note recorded in the audit log")
	resolveCmd.MarkFlagRequired("as")
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <event-id>",
	Short: "Resolve a security event",
	Long: "Records a human disposition for an unresolved security event.\n" +
		"The audit entry is written before the event is mutated; a resolved\n" +
		"event cannot be resolved again.",
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func runResolve(cmd *cobra.Command, args []string) error {
	w, err := openWarden()
	if err != nil {
		return err
	}
	defer w.Close()

	if w.Resolver == nil {
		return fmt.Errorf("state store unavailable, cannot resolve events")
	}

	if err := w.Resolver.Resolve(args[0], model.Resolution(resolveAs), model.ActorHuman, resolveNote); err != nil {
		return err
	}
	fmt.Printf("Resolved %s as %s\n", args[0], resolveAs)
	return nil
}
