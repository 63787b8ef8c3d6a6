package main

import (
	"github.com/spf13/cobra"

	"chainwatch/internal/app"
	"chainwatch/internal/mcp"
	"chainwatch/internal/slogutil"
	"chainwatch/internal/version"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server on stdio",
	Long: `Start the Model Context Protocol (MCP) server.

MCP clients can read the chain through these tools:
  - chain_best: the current best chain, as text or json
  - chain_diagnostics: advice for repairing or extending the chain
  - participant_lookup: one participant and their place in the chain
  - chain_summary: length, breaks, branches and search effort

The server communicates via stdio. Logs go to the mcp log file since
stdout carries the protocol.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	a, err := app.Open(e.cfg, e.layout, app.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	logger := a.Logger(slogutil.SubsystemMCP)
	logger.Info("Starting MCP server", "version", version.Version)

	if err := mcp.ServeStdio(mcp.NewServer(a.Engine), logger); err != nil {
		logger.Error("MCP server error", "error", err.Error())
		return err
	}
	return nil
}
