package aiapi

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aiapi-dev/aiapi/internal/logging"
	"github.com/aiapi-dev/aiapi/internal/store"
	"github.com/aiapi-dev/aiapi/pkg/aiapi"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/config"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/session"
)

// GlobalOptions holds flags shared by every subcommand
type GlobalOptions struct {
	ConfigFile string
	LogLevel   string
	Version    string
}

// NewRootCmd creates the root aiapi command
func NewRootCmd(version string) *cobra.Command {
	g := &GlobalOptions{Version: version}

	cmd := &cobra.Command{
		Use:   "aiapi",
		Short: "Chat with function-calling models",
		Long: `aiapi runs conversations against chat-completions endpoints that use the
functions protocol. The model may call local tools or tools loaded from tool
packs; results are fed back until it answers in text.

Available subcommands:
  ask         Ask a single question
  chat        Start an interactive conversation
  tools       List or load tools
  sessions    List stored sessions
  serve       Serve the HTTP API
  mcp         Expose the tools over MCP on stdio

Examples:
  aiapi ask "What time is it?" --functions currentTime
  aiapi ask --stream "Tell me a story"
  aiapi tools load vand-weather
  aiapi serve --config aiapi.yaml`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&g.ConfigFile, "config", "", "Path to configuration file (YAML or JSON)")
	cmd.PersistentFlags().StringVar(&g.LogLevel, "log-level", "", "Log level: debug, info or error (default from config)")

	cmd.AddCommand(NewAskCmd(g))
	cmd.AddCommand(NewChatCmd(g))
	cmd.AddCommand(NewToolsCmd(g))
	cmd.AddCommand(NewSessionsCmd(g))
	cmd.AddCommand(NewServeCmd(g))
	cmd.AddCommand(NewMCPCmd(g))

	return cmd
}

// loadConfig reads the configuration and installs the logger.
func (g *GlobalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(g.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Setup(cfg.LogLevel, os.Stderr)
	return cfg, nil
}

// openStore opens the configured session store; it returns nil for the
// none driver.
func openStore(cfg *config.Config) (*store.Store, error) {
	if cfg.Store.Driver == config.DriverNone {
		return nil, nil
	}
	return store.Open(cfg.Store.Driver, cfg.Store.DSN)
}

// newApp builds the application. The returned cleanup releases the store
// and the key source.
func (g *GlobalOptions) newApp(ctx context.Context) (*aiapi.App, func(), error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session store: %w", err)
	}

	opts := aiapi.Options{Version: g.Version}
	if st != nil {
		opts.Store = st
	}
	app, err := aiapi.NewApp(cfg, opts)
	if err != nil {
		if st != nil {
			_ = st.Close()
		}
		return nil, nil, fmt.Errorf("failed to create app: %w", err)
	}
	if err := app.TokenService.Start(ctx); err != nil {
		if st != nil {
			_ = st.Close()
		}
		return nil, nil, err
	}

	cleanup := func() {
		app.Close()
		if st != nil {
			_ = st.Close()
		}
	}
	return app, cleanup, nil
}

// resumeOrCreate returns the stored session id when set, otherwise a new
// session.
func resumeOrCreate(ctx context.Context, app *aiapi.App, id, title string) (*session.Session, error) {
	if id != "" {
		return app.Session(ctx, id)
	}
	return app.NewSession(ctx, aiapi.CreateSessionRequest{Title: title})
}
