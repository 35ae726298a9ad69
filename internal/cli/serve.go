package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/mailwarden/internal/mcp"
	"github.com/ppiankov/mailwarden/internal/warden"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs mailwarden as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes the gating tools: evaluate, inbound, scan, pending, review,\n" +
		"resolve, transition.\n\n" +
		"The blocklist and known-senders files are hot-reloaded on change.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	w, err := openWarden()
	if err != nil {
		return fmt.Errorf("failed to create warden: %w", err)
	}
	defer w.Close()

	srv := mcp.New(w)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloader, err := warden.NewReloader(w)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
	} else {
		go reloader.Run(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	fmt.Fprintln(os.Stderr, "mailwarden MCP server running on stdio")
	fmt.Fprintf(os.Stderr, "Policy: %s\n", w.PolicyHash)
	if reloader != nil && len(reloader.Paths()) > 0 {
		fmt.Fprintf(os.Stderr, "Watching: %s\n", strings.Join(reloader.Paths(), ", "))
	}
	fmt.Fprintln(os.Stderr)

	err = srv.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
