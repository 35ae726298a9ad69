package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap mailwarden configuration",
	Long: `Creates ~/.mailwarden with a starter config, an empty blocklist, and
an empty known-senders registry. Existing files are left alone unless
--force is given.`,
	RunE: runInit,
}

const configTemplate = `# mailwarden configuration
budgets:
  "*": 10

follow_up_after: 72h
max_follow_ups: 3

safe_domains: []

blocklist_file: %[1]s/blocklist.yaml
known_senders_file: %[1]s/known_senders.txt
audit_log: %[1]s/audit.log
state_path: %[1]s/mailwarden.db
pending_dir: %[1]s/pending

# alerts:
#   - url: https://hooks.slack.com/services/...
#     format: slack
#     events: [block, draft]
`

const blocklistTemplate = `# Addresses that must never receive agent-initiated sends.
# Exact addresses or @domain wildcards, one per line under addresses:.
addresses: []
`

const knownSendersTemplate = `# Known correspondents, one pattern per line.
# Exact addresses or @domain.com wildcards.
`

func runInit(cmd *cobra.Command, args []string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".mailwarden")
	if err := os.MkdirAll(filepath.Join(dir, "pending"), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	files := map[string]string{
		filepath.Join(dir, "config.yaml"):       fmt.Sprintf(configTemplate, dir),
		filepath.Join(dir, "blocklist.yaml"):    blocklistTemplate,
		filepath.Join(dir, "known_senders.txt"): knownSendersTemplate,
	}

	var created []string
	for path, content := range files {
		if _, err := os.Stat(path); err == nil && !initForce {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		created = append(created, path)
	}

	if len(created) == 0 {
		fmt.Println("Nothing to do — config already exists (use --force to overwrite).")
		return nil
	}
	for _, p := range created {
		fmt.Printf("Created %s\n", p)
	}
	fmt.Printf("\nRun with: mailwarden serve --config %s\n", filepath.Join(dir, "config.yaml"))
	return nil
}
