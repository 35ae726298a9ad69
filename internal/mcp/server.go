// Package mcp exposes the safeguard engine as MCP tools so an agent
// framework can gate its email actions without linking this module.
package mcp

import (
	"context"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/mailwarden/internal/warden"
)

// Server wraps the MCP SDK server around a Warden.
type Server struct {
	mcpServer *mcpsdk.Server
	warden    *warden.Warden
	mu        sync.Mutex
}

// New creates an MCP server over an assembled warden.
func New(w *warden.Warden) *Server {
	s := &Server{warden: w}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "mailwarden",
			Version: "0.1.0",
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close releases the warden's resources.
func (s *Server) Close() error {
	return s.warden.Close()
}

// registerTools adds all mailwarden tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "mailwarden_evaluate",
		Description: "Evaluate a proposed email action (send/draft/reply) through the safeguard gate. Returns approve, draft, or block with reasons.",
	}, s.handleEvaluate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "mailwarden_inbound",
		Description: "Register a new inbound email on a thread: sanitize, scan for injection patterns, update the thread trust score and state.",
	}, s.handleInbound)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "mailwarden_scan",
		Description: "Scan text against the injection signature catalog without touching any state (dry-run).",
	}, s.handleScan)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "mailwarden_pending",
		Description: "List drafts waiting for human review.",
	}, s.handlePending)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "mailwarden_review",
		Description: "Approve or deny a pending draft as a human reviewer. Approval commits the send and transitions the thread.",
	}, s.handleReview)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "mailwarden_resolve",
		Description: "Resolve a security event (approved/dismissed/false_positive) as a human reviewer.",
	}, s.handleResolve)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "mailwarden_transition",
		Description: "Manually move a thread to a new lifecycle state. Overrides require a reason and are flagged in the audit trail.",
	}, s.handleTransition)
}
