package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/mailwarden/internal/blocklist"
	"github.com/ppiankov/mailwarden/internal/safeguard"
)

func init() {
	rootCmd.AddCommand(blocklistCmd)
	blocklistCmd.AddCommand(blocklistAddCmd)
	blocklistCmd.AddCommand(blocklistRemoveCmd)
	blocklistCmd.AddCommand(blocklistListCmd)
}

var blocklistCmd = &cobra.Command{
	Use:   "blocklist",
	Short: "Manage the never-send address list",
	Long: "Adds, removes, and lists blocklist patterns. Patterns are exact\n" +
		"addresses or @domain wildcards; changes are written back to the\n" +
		"blocklist file named in the config.",
}

var blocklistAddCmd = &cobra.Command{
	Use:   "add <pattern>",
	Short: "Add an address or @domain pattern",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlocklistAdd,
}

var blocklistRemoveCmd = &cobra.Command{
	Use:   "remove <pattern>",
	Short: "Remove a pattern",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlocklistRemove,
}

var blocklistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all patterns",
	RunE:  runBlocklistList,
}

// openBlocklist loads the blocklist file named in the config without
// starting the full warden.
func openBlocklist() (*blocklist.Blocklist, string, error) {
	cfg, err := safeguard.LoadConfig(cfgPath)
	if err != nil {
		return nil, "", err
	}
	if cfg.BlocklistFile == "" {
		return nil, "", fmt.Errorf("no blocklist_file set in config")
	}
	bl, err := blocklist.Load(cfg.BlocklistFile)
	if err != nil {
		return nil, "", err
	}
	return bl, cfg.BlocklistFile, nil
}

func runBlocklistAdd(cmd *cobra.Command, args []string) error {
	bl, path, err := openBlocklist()
	if err != nil {
		return err
	}
	bl.Add(args[0])
	if err := bl.Save(path); err != nil {
		return err
	}
	fmt.Printf("Added %q to %s\n", args[0], path)
	return nil
}

func runBlocklistRemove(cmd *cobra.Command, args []string) error {
	bl, path, err := openBlocklist()
	if err != nil {
		return err
	}
	if !bl.Remove(args[0]) {
		return fmt.Errorf("pattern %q not in blocklist", args[0])
	}
	if err := bl.Save(path); err != nil {
		return err
	}
	fmt.Printf("Removed %q from %s\n", args[0], path)
	return nil
}

func runBlocklistList(cmd *cobra.Command, args []string) error {
	bl, _, err := openBlocklist()
	if err != nil {
		return err
	}
	patterns := bl.List()
	if len(patterns) == 0 {
		fmt.Println("Blocklist is empty.")
		return nil
	}
	for _, p := range patterns {
		fmt.Println(p)
	}
	return nil
}
