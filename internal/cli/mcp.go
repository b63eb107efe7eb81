package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	agentqmcp "github.com/valter-silva-au/agentq/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the agentq MCP server on stdio",
	Long: `Run the agentq MCP (Model Context Protocol) server on stdio.
"agentq mcp" and "agentq mcp serve" are equivalent.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentq MCP server on stdio",
	Long: `Start the agentq MCP server on stdio transport.

The server exposes the queue as MCP tools that AI coding assistants can call:
send_message, queue_status, list_pairings, approve_pairing, get_conversation
and get_metrics. Messages sent through MCP use the mcp channel and pass the
same pairing gate as every other channel.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	if Intake == nil || Queue == nil {
		return fmt.Errorf("queue not initialized")
	}

	srv := agentqmcp.NewServer(agentqmcp.Deps{
		Intake:      Intake,
		Queue:       Queue,
		Pairing:     Gate,
		Transcripts: Transcripts,
		MetricsCalc: MetricsCalc,
	}, appVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("running MCP server: %w", err)
	}
	return nil
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
