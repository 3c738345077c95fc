package aiapi

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/aiapi-dev/aiapi/pkg/aiapi"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/toolpack"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/tools"
)

const descriptionWidth = 60

// NewToolsCmd creates the tools command
func NewToolsCmd(g *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List or load tools",
	}
	cmd.AddCommand(newToolsListCmd(g))
	cmd.AddCommand(newToolsLoadCmd(g))
	return cmd
}

func newToolsListCmd(g *GlobalOptions) *cobra.Command {
	var packs []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tools",
		Long: `List the tools available to the model. Packs named with --packs are loaded
first, from a file when the name is a path and from the tool hub otherwise.

Examples:
  aiapi tools list
  aiapi tools list --packs vand-weather,./packs/calendar.yaml`,
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
			renderTools(cmd.OutOrStdout(), app.Registry)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&packs, "packs", nil, "Tool packs to load before listing")
	return cmd
}

func newToolsLoadCmd(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <pack-id|file>",
		Short: "Load a tool pack and show its functions",
		Long: `Load a tool pack from a YAML or JSON file, or fetch it from the tool hub by
id, and print the functions it provides.

Examples:
  aiapi tools load vand-weather
  aiapi tools load ./packs/weather.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := g.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			pack, err := loadPack(cmd, app, args[0])
			if err != nil {
				return err
			}
			renderPack(cmd.OutOrStdout(), pack)
			return nil
		},
	}
}

// loadPack registers the pack named by ref: a file when ref exists on disk,
// a hub pack otherwise.
func loadPack(cmd *cobra.Command, app *aiapi.App, ref string) (*toolpack.Pack, error) {
	if _, err := os.Stat(ref); err == nil {
		pack, err := toolpack.LoadFile(ref)
		if err != nil {
			return nil, err
		}
		if err := app.Packs.Register(pack); err != nil {
			return nil, err
		}
		return pack, nil
	}
	return app.Packs.Load(cmd.Context(), ref)
}

func renderTools(out io.Writer, registry *tools.Registry) {
	title := cases.Title(language.English)

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Kind", "Description"})
	for _, name := range registry.Names() {
		reg, ok := registry.Lookup(name)
		if !ok {
			continue
		}
		t.AppendRow(table.Row{name, title.String(reg.Kind.String()), oneLine(reg.Spec.Description)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Description", WidthMax: descriptionWidth, WidthMaxEnforcer: text.WrapSoft},
	})
	t.Render()
}

func renderPack(out io.Writer, pack *toolpack.Pack) {
	fmt.Fprintf(out, "Pack %s: %s\n", pack.ID, oneLine(pack.Description))

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Function", "Method", "Path"})
	for _, fn := range pack.Functions {
		method, path := "", ""
		if ep, ok := pack.FindEndpoint(fn.Name); ok {
			method, path = ep.Method, ep.Path
		}
		t.AppendRow(table.Row{fn.Name, method, path})
	}
	t.Render()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
