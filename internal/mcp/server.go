// Package mcp exposes the chain to MCP clients over stdio. Every tool is
// read-only; sweeps and participant changes stay with the CLI and daemon.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"chainwatch/internal/version"
)

// NewServer creates an MCP server with every chain tool registered.
func NewServer(reader ChainReader) *server.MCPServer {
	s := server.NewMCPServer(
		"chainwatch",
		version.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	best := NewChainBestTool(reader)
	s.AddTool(best.Definition(), best.Handle)

	diag := NewChainDiagnosticsTool(reader)
	s.AddTool(diag.Definition(), diag.Handle)

	lookup := NewParticipantLookupTool(reader)
	s.AddTool(lookup.Definition(), lookup.Handle)

	summary := NewChainSummaryTool(reader)
	s.AddTool(summary.Definition(), summary.Handle)

	return s
}

// ServeStdio serves s on stdin and stdout until the client disconnects.
// Protocol errors go to logger since stdout carries the protocol.
func ServeStdio(s *server.MCPServer, logger *slog.Logger) error {
	return server.ServeStdio(s,
		server.WithErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError)),
	)
}

const instructions = `chainwatch tracks a chain of participants, each pointing at the one
before them in their profile, all the way back to an anchor.

Use chain_best to see the current longest chain, chain_diagnostics to find
what participants should fix, participant_lookup to check one person, and
chain_summary for a quick status. Results reflect the last sweep; a chain
is recomputed only when links or participants changed.`
