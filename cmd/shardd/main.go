// Command shardd runs one torua-cache shard process: it loads
// configuration, opens the configured backend and coordinator drivers,
// and serves the admin HTTP surface until a termination signal arrives.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dreamware/torua-cache/internal/adminapi"
	"github.com/dreamware/torua-cache/internal/config"
	"github.com/dreamware/torua-cache/pkg/cache"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "shardd",
		Short: "Run a torua-cache shard process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (optional; env vars and defaults otherwise)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Str("shard_id", cfg.ShardID).Logger()

	ctx := context.Background()
	store, err := cache.Open(ctx, cfg, cache.WithLogger(log))
	if err != nil {
		log.Error().Err(err).Msg("failed to open shard store")
		return err
	}

	go func() {
		for err := range store.Errors() {
			log.Warn().Err(err).Msg("background error")
		}
	}()

	admin := adminapi.NewServer(cfg.AdminAddr, cfg.ShardID, store, log)
	go func() {
		if err := admin.ListenAndServe(); err != nil {
			log.Fatal().Err(err).Msg("admin server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+5*time.Second)
	defer cancel()

	if err := admin.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("admin server shutdown error")
	}
	if err := store.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("store close error")
		return err
	}
	log.Info().Msg("shard stopped")
	return nil
}
