package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	brainmcp "github.com/Modzer0/Brain-sub000/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP (Model Context Protocol) server over stdio",
		Long: `Starts an MCP JSON-RPC 2.0 server that reads from stdin and writes to stdout.
All diagnostic logs go to stderr so that stdout remains exclusively MCP protocol traffic.

Tools exposed:
  remember    store a memory in either tier
  recall      retrieve memories within a token budget
  search      content search with relevance scores
  associate   link or unlink two memories
  associated  walk associations from a memory
  coherence   validate, restore or sync coherence
  stats       statistics for both tiers`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("mcp: %w", err)
			}
			defer closeSession(s)

			srv := brainmcp.NewServer(s.mgr, logger)

			// Use a standard log.Logger pointing at stderr for the mcp-go error logger.
			errLogger := log.New(os.Stderr, "mcp: ", log.LstdFlags)

			logger.Info("mcp: brain-memory MCP server starting", "transport", "stdio", "session", s.mgr.SessionID())

			return mcpserver.ServeStdio(
				srv.MCPServer(),
				mcpserver.WithErrorLogger(errLogger),
			)
		},
	}

	return cmd
}
