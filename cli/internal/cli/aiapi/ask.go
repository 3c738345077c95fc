package aiapi

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aiapi-dev/aiapi/pkg/aiapi"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/llm"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/session"
)

const wrapWidth = 100

// TurnOptions holds the flags that shape one turn
type TurnOptions struct {
	Functions []string
	System    string
	Stream    bool
	NoSave    bool
	SessionID string
}

func addTurnFlags(fs *pflag.FlagSet, o *TurnOptions) {
	fs.StringSliceVarP(&o.Functions, "functions", "f", nil, "Tools or tool packs to offer the model (comma separated)")
	fs.StringVar(&o.System, "system", "", "System prompt for this turn")
	fs.BoolVarP(&o.Stream, "stream", "s", false, "Print the answer as it is generated")
	fs.BoolVar(&o.NoSave, "no-save", false, "Do not record this turn in the session")
	fs.StringVar(&o.SessionID, "session", "", "Continue a stored session")
}

func (o *TurnOptions) request(prompt string) aiapi.ChatRequest {
	req := aiapi.ChatRequest{
		Prompt:    prompt,
		Functions: o.Functions,
		System:    o.System,
	}
	if o.NoSave {
		req.Save = session.Override(false)
	}
	return req
}

// NewAskCmd creates the ask command
func NewAskCmd(g *GlobalOptions) *cobra.Command {
	opts := &TurnOptions{}

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Ask a single question",
		Long: `Ask the model a single question and print the answer.

Tools named with --functions are offered to the model; names starting with the
hub pack prefix are loaded from the tool hub first.

Examples:
  aiapi ask "What time is it?" --functions currentTime
  aiapi ask --stream "Write a haiku about Go"
  aiapi ask --session 4f7c... "And tomorrow?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := g.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			sess, err := resumeOrCreate(cmd.Context(), app, opts.SessionID, "")
			if err != nil {
				return err
			}
			return runTurn(cmd.Context(), cmd.OutOrStdout(), app, sess.ID, strings.Join(args, " "), opts)
		},
	}

	addTurnFlags(cmd.Flags(), opts)
	return cmd
}

// runTurn sends prompt on the session and prints the answer to out.
func runTurn(ctx context.Context, out io.Writer, app *aiapi.App, id, prompt string, opts *TurnOptions) error {
	if opts.Stream {
		_, err := app.Stream(ctx, id, opts.request(prompt), func(ev llm.DeltaEvent) error {
			_, err := fmt.Fprint(out, ev.Fragment)
			return err
		})
		fmt.Fprintln(out)
		return err
	}

	stop := startSpinner()
	reply, err := app.Chat(ctx, id, opts.request(prompt))
	stop()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, wordwrap.String(reply.Text, wrapWidth))
	return nil
}

// startSpinner shows progress on an interactive terminal and returns the
// function that stops it.
func startSpinner() func() {
	if color.NoColor {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(color.Error))
	s.Suffix = " thinking"
	s.Start()
	return s.Stop
}
