package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/mailwarden/internal/store"
)

var (
	eventsThread string
	eventsAll    bool
)

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().StringVar(&eventsThread, "thread", "", "Filter by thread identifier")
	eventsCmd.Flags().BoolVar(&eventsAll, "all", false, "Include resolved events")
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List security events",
	Long:  "Shows security events from the state store, newest first.\nUnresolved events only unless --all is given.",
	RunE:  runEvents,
}

func runEvents(cmd *cobra.Command, args []string) error {
	w, err := openWarden()
	if err != nil {
		return err
	}
	defer w.Close()

	if w.Store == nil {
		return fmt.Errorf("state store unavailable")
	}

	events, err := w.Store.Events(store.EventFilter{
		ThreadID:   eventsThread,
		Unresolved: !eventsAll,
	})
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	if len(events) == 0 {
		fmt.Println("No events.")
		return nil
	}

	fmt.Printf("%-16s %-16s %-12s %-9s %-15s %s\n", "ID", "THREAD", "TYPE", "SEVERITY", "RESOLUTION", "DESCRIPTION")
	for _, ev := range events {
		fmt.Printf("%-16s %-16s %-12s %-9s %-15s %s\n",
			ev.ID,
			truncate(ev.ThreadID, 16),
			ev.Type,
			ev.Severity,
			ev.Resolution,
			truncate(ev.Description, 60),
		)
	}
	return nil
}
