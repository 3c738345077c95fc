package aiapi

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/aiapi-dev/aiapi/internal/mcpbridge"
	"github.com/aiapi-dev/aiapi/pkg/aiapi"
)

// NewMCPCmd creates the mcp command
func NewMCPCmd(g *GlobalOptions) *cobra.Command {
	var packs []string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Expose the tools over MCP on stdio",
		Long: `Run a Model Context Protocol server on stdin/stdout exposing every registered
tool. Packs named with --packs are loaded first; packs loaded by tool calls
are exposed as they appear. Logs go to stderr.

Examples:
  aiapi mcp
  aiapi mcp --packs default,./packs/weather.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := g.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			for _, ref := range packs {
				if _, err := loadPack(cmd, app, ref); err != nil {
					return err
				}
			}

			bridge := mcpbridge.New(app.Registry, aiapi.AppName, app.Version, app.Metrics)
			return bridge.Serve(cmd.Context(), os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringSliceVar(&packs, "packs", nil, "Tool packs to load before serving")
	return cmd
}
