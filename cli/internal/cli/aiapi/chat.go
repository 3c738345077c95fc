package aiapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/abiosoft/ishell/v2"
	"github.com/fatih/color"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"

	"github.com/aiapi-dev/aiapi/pkg/aiapi"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/session"
)

// NewChatCmd creates the interactive chat command
func NewChatCmd(g *GlobalOptions) *cobra.Command {
	opts := &TurnOptions{}
	var title string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Start an interactive conversation. Every line you type is sent to the model;
the session keeps the history.

Shell commands:
  functions a,b   set the tools offered on later turns
  history         print the conversation so far
  usage           print token totals
  exit            leave the shell

Examples:
  aiapi chat
  aiapi chat --functions currentTime --stream
  aiapi chat --session 4f7c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := g.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			sess, err := resumeOrCreate(cmd.Context(), app, opts.SessionID, title)
			if err != nil {
				return err
			}
			newShell(cmd.Context(), app, sess, opts).Run()
			return nil
		},
	}

	addTurnFlags(cmd.Flags(), opts)
	cmd.Flags().StringVar(&title, "title", "", "Title for a new session")
	return cmd
}

func newShell(ctx context.Context, app *aiapi.App, sess *session.Session, opts *TurnOptions) *ishell.Shell {
	shell := ishell.New()
	shell.SetPrompt(color.New(color.FgGreen, color.Bold).Sprint("you> "))
	shell.Println(color.New(color.Faint).Sprintf("session %s, model %s", sess.ID, sess.Model))

	assistant := color.New(color.FgCyan).SprintFunc()

	shell.AddCmd(&ishell.Cmd{
		Name: "functions",
		Help: "set the tools offered to the model, comma separated",
		Func: func(c *ishell.Context) {
			opts.Functions = nil
			for _, arg := range c.Args {
				for _, name := range strings.Split(arg, ",") {
					if name = strings.TrimSpace(name); name != "" {
						opts.Functions = append(opts.Functions, name)
					}
				}
			}
			c.Printf("functions: %s\n", strings.Join(opts.Functions, ", "))
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "history",
		Help: "print the conversation so far",
		Func: func(c *ishell.Context) {
			for _, m := range sess.Messages() {
				c.Println(formatMessage(m))
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "usage",
		Help: "print token totals",
		Func: func(c *ishell.Context) {
			u := sess.Totals()
			c.Printf("prompt %d, completion %d, total %d\n", u.PromptTokens, u.CompletionTokens, u.TotalTokens)
		},
	})

	shell.NotFound(func(c *ishell.Context) {
		prompt := strings.TrimSpace(strings.Join(c.RawArgs, " "))
		if prompt == "" {
			return
		}
		if opts.Stream {
			if err := runTurn(ctx, color.Output, app, sess.ID, prompt, opts); err != nil {
				c.Err(err)
			}
			return
		}
		var out strings.Builder
		if err := runTurn(ctx, &out, app, sess.ID, prompt, opts); err != nil {
			c.Err(err)
			return
		}
		c.Print(assistant(out.String()))
	})

	return shell
}

func formatMessage(m session.Message) string {
	label := string(m.Role)
	if m.Name != "" {
		label = fmt.Sprintf("%s(%s)", m.Role, m.Name)
	}
	switch m.Role {
	case session.RoleUser:
		label = color.GreenString(label)
	case session.RoleAssistant:
		label = color.CyanString(label)
	case session.RoleFunction:
		label = color.YellowString(label)
	}
	return fmt.Sprintf("%s: %s", label, wordwrap.String(m.Content, wrapWidth))
}
