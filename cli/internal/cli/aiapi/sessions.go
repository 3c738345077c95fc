package aiapi

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewSessionsCmd creates the sessions command
func NewSessionsCmd(g *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored sessions, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("failed to open session store: %w", err)
			}
			if st == nil {
				return fmt.Errorf("no session store configured (store.driver is none)")
			}
			defer st.Close()

			list, err := st.List(cmd.Context())
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"ID", "Title", "Model", "Messages", "Updated"})
			for _, s := range list {
				t.AppendRow(table.Row{s.ID, s.Title, s.Model, s.Messages, s.UpdatedAt.Local().Format(time.DateTime)})
			}
			t.Render()
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print the messages of a stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := g.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			sess, err := app.Session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, sess.String())
			for _, m := range sess.Messages() {
				fmt.Fprintln(out, formatMessage(m))
			}
			return nil
		},
	})

	return cmd
}
