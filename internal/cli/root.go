package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/mailwarden/internal/warden"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "mailwarden",
	Short: "Security gate for autonomous email agents",
	Long: `mailwarden sits between an email agent and the outbox. Every proposed
send passes through a fixed chain of checks — blocklist, rate ledger,
trust score, commitment detection, inbound injection scanning,
sensitive topics, and behavioral anomalies — before it is approved,
downgraded to a human-reviewed draft, or blocked.

All decisions land in a hash-chained audit log.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config YAML (default: built-in defaults)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openWarden builds a fully wired Warden from the --config flag.
func openWarden() (*warden.Warden, error) {
	return warden.New(warden.Config{ConfigPath: cfgPath})
}
