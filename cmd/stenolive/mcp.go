package main

import (
	"github.com/spf13/cobra"

	"github.com/jwulff/steno-live/internal/mcpserver"
)

func newMCPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve correction tools over MCP on stdio",
		Long: `Run an MCP server on stdin/stdout exposing list_topics, topic_tokens,
resolve_selection, assign_speaker and list_participants.

Logs go to the stenolive log file so stdout stays a clean protocol stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			return mcpserver.New(client, version, log, stats).ServeStdio()
		},
	}
}
