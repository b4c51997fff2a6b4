package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/tether/internal/config"
	"github.com/luciancaetano/tether/internal/scripting"
	"github.com/luciancaetano/tether/ws"
)

var (
	configPath   string
	handlersPath string
	envFile      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a tether server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "directory containing tether.yaml")
	serveCmd.Flags().StringVar(&handlersPath, "handlers", "", "Lua file with message handlers (overrides scripts.handlers)")
	serveCmd.Flags().StringVar(&envFile, "env-file", ".env", "file with environment overrides")
}

// loadEnv reads path into the environment. A missing file is not an error.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func serve(ctx context.Context) error {
	if err := loadEnv(envFile); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if handlersPath != "" {
		cfg.Scripts.Handlers = handlersPath
	}

	log, err := config.NewLogger(cfg)
	if err != nil {
		return err
	}

	server := ws.New(&ws.Config{
		Addr: cfg.Server.Addr,
		Path: cfg.Server.Path,
		RateLimit: &ws.RateLimitConfig{
			MessagesPerSecond: rate.Limit(cfg.RateLimit.MessagesPerSecond),
			Burst:             cfg.RateLimit.Burst,
			Enabled:           cfg.RateLimit.Enabled,
		},
		TimeSyncInterval: cfg.TimeSync.Interval,
		Logger:           log,
	})

	if cfg.Scripts.Handlers != "" {
		script, err := scripting.Load(cfg.Scripts.Handlers)
		if err != nil {
			return err
		}
		defer script.Close()

		if err := script.Register(server); err != nil {
			return err
		}
		log.WithField("types", script.Types()).Info("Registered Lua handlers")
	}

	if err := server.Start(context.Background()); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	<-ctx.Done()
	log.Info("Shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Stop(stopCtx)
}
