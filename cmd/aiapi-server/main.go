package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/aiapi-dev/aiapi/internal/logging"
	"github.com/aiapi-dev/aiapi/internal/store"
	"github.com/aiapi-dev/aiapi/pkg/aiapi"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/config"
)

const (
	defaultConfigPath = "config/aiapi.yaml"
)

var version = "dev"

func main() {
	// Parse command line arguments
	configPath := defaultConfigPath
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	bootLog := logging.Setup("info", os.Stderr).WithName("aiapi-server")

	cfg, err := loadConfiguration(configPath)
	if err != nil {
		bootLog.Error(err, "Failed to load configuration", "path", configPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		bootLog.Error(err, "Invalid configuration")
		os.Exit(1)
	}

	log := logging.Setup(cfg.LogLevel, os.Stderr).WithName("aiapi-server")
	log.Info("Starting aiapi server",
		"version", version,
		"model", cfg.Model.Model,
		"api_url", cfg.Model.APIURL,
		"hub", cfg.Hub.BaseURL,
		"store", cfg.Store.Driver,
		"addr", cfg.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	opts := aiapi.Options{Version: version}
	if cfg.Store.Driver != config.DriverNone {
		st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			log.Error(err, "Failed to open session store")
			os.Exit(1)
		}
		defer st.Close()
		opts.Store = st
	}

	app, err := aiapi.NewApp(cfg, opts)
	if err != nil {
		log.Error(err, "Failed to create app")
		os.Exit(1)
	}
	defer app.Close()

	httpServer, err := app.Build(ctx)
	if err != nil {
		log.Error(err, "Failed to build server")
		os.Exit(1)
	}

	go func() {
		log.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "HTTP server error")
			cancel()
		}
	}()

	// Wait for shutdown signal
	select {
	case <-sigChan:
		log.Info("Shutdown signal received, gracefully stopping")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "HTTP server shutdown error")
	}

	log.Info("Shutdown complete")
}

// loadConfiguration reads configPath, writing the defaults there first when
// the file does not exist.
func loadConfiguration(configPath string) (*config.Config, error) {
	log := logging.New("info", os.Stderr).WithName("aiapi-server")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Info("Config file not found, using defaults", "path", configPath)
		cfg := config.DefaultConfig()

		if err := config.SaveConfig(cfg, configPath); err != nil {
			log.Info("Could not save default config", "error", err.Error())
		} else {
			log.Info("Default configuration saved", "path", configPath)
		}

		// environment overrides still apply
		return config.LoadConfig("")
	}

	return config.LoadConfig(configPath)
}
