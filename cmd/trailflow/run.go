package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/illmade-knight/go-trailflow/pkg/config"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the ingestion pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				log.Error().Err(err).Msg("Failed to load configuration.")
				return err
			}
			level, _ := zerolog.ParseLevel(cfg.LogLevel)
			zerolog.SetGlobalLevel(level)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg, log.Logger)
		},
	}
}

// run blocks until ctx is cancelled, then drains in-flight work within the
// configured shutdown timeout.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to assemble pipeline.")
		return err
	}

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	}

	if err := a.server.Start(); err != nil {
		_ = shutdown()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := a.executor.Start(ctx); err != nil {
		_ = shutdown()
		return fmt.Errorf("failed to start executor: %w", err)
	}
	a.server.SetReady(true)
	logger.Info().Str("queue_backend", cfg.Queue.Backend).Str("sink", cfg.Sink.Backend).Msg("trailflow running.")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")
	if err := shutdown(); err != nil {
		logger.Error().Err(err).Msg("Shutdown did not complete cleanly.")
		return err
	}
	logger.Info().Msg("trailflow stopped.")
	return nil
}
