package cmd

import (
	"github.com/spf13/cobra"

	"github.com/vibeagents/vibe/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server over stdio",
	Long: `Run a Model Context Protocol server on stdin/stdout, exposing
built projects as tools (vibe_list_projects, vibe_get_project,
vibe_delete_project) to MCP clients such as Claude Desktop.

Example client config:

  {
    "mcpServers": {
      "vibe": {
        "command": "vibe",
        "args": ["mcp"]
      }
    }
  }`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	// No UI output here: stdout carries the MCP protocol.
	srv := mcp.NewServer(s)
	return srv.ServeStdio(rootCmd.Context(), buildVersion)
}
