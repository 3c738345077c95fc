package aiapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/aiapi-dev/aiapi/pkg/aiapi"
)

const shutdownTimeout = 30 * time.Second

// NewServeCmd creates the serve command
func NewServeCmd(g *GlobalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve sessions, chat and streaming over HTTP.

Routes:
  GET  /health                 liveness
  GET  /info                   model and tool summary
  GET  /tools                  registered tool specs
  GET  /sessions               stored sessions
  POST /sessions               create a session
  GET  /sessions/{id}          session snapshot
  POST /sessions/{id}/chat     run a turn
  POST /sessions/{id}/stream   run a turn as server-sent events
  GET  /metrics                Prometheus metrics

Examples:
  aiapi serve
  aiapi serve --config aiapi.yaml --addr 127.0.0.1:9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := g.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			srv, err := app.Build(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to build server: %w", err)
			}
			if addr != "" {
				srv.Addr = addr
			}
			return Serve(cmd.Context(), srv)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config server.host:server.port)")
	return cmd
}

// Serve runs srv until an interrupt, SIGTERM or ctx cancellation, then shuts
// it down gracefully.
func Serve(ctx context.Context, srv *http.Server) error {
	log := ctrllog.FromContext(ctx).WithName(aiapi.AppName)

	errChan := make(chan error, 1)
	go func() {
		log.Info("Listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-sigChan:
		log.Info("Shutdown signal received")
	case <-ctx.Done():
		log.Info("Context cancelled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown gracefully: %w", err)
	}
	log.Info("Server stopped")
	return nil
}
