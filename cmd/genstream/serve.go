package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/namikmesic/genstream/internal/backend"
	"github.com/namikmesic/genstream/internal/config"
	"github.com/namikmesic/genstream/internal/generate"
	"github.com/namikmesic/genstream/internal/jetstream"
	"github.com/namikmesic/genstream/internal/processor"
	"github.com/namikmesic/genstream/internal/retry"
	"github.com/namikmesic/genstream/internal/server"
	"github.com/namikmesic/genstream/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the generation server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	policy := retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
	}

	pool, err := storage.NewPool(ctx, cfg.DatabaseURL, policy)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	if err := storage.RunMigrations(ctx, pool); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	natsServer, err := jetstream.NewServer(cfg.NATSStoreDir)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	defer natsServer.Shutdown()

	nc, err := natsServer.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}
	if err := jetstream.EnsureStream(js); err != nil {
		return fmt.Errorf("failed to create JetStream stream: %w", err)
	}

	writer := storage.NewBatchWriter(pool, cfg.WriterBufferSize, cfg.WriterBatchSize, time.Duration(cfg.WriterFlushMs)*time.Millisecond)
	defer writer.Shutdown()
	proc := processor.New(writer)

	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := proc.StartConsumer(consumerCtx, js); err != nil {
			log.Error().Err(err).Msg("frame recorder stopped")
		}
	}()

	gen, err := backend.New(cfg)
	if err != nil {
		return err
	}
	if warmer, ok := gen.Inner().(interface{ Warmup(context.Context) error }); ok {
		go func() {
			if err := warmer.Warmup(ctx); err != nil {
				log.Warn().Err(err).Str("backend", gen.Name()).Msg("model warmup failed")
			}
		}()
	}

	svc := generate.NewService(gen,
		generate.NewCache(cfg.CacheTTL, cfg.CacheMaxEntries),
		time.Duration(cfg.ProgressIntervalMs)*time.Millisecond,
	)
	handler := server.NewHandler(consumerCtx, cfg, svc, gen, writer, js)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(done)

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", cfg.Port).
			Str("backend", gen.Name()).
			Msg("genstream server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-done:
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	}
	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	consumerCancel()
	<-consumerDone
	if err := nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("nats drain failed")
	}
	writer.Shutdown()
	log.Info().Int64("dropped_jobs", writer.Dropped()).Msg("shutdown complete")
	return nil
}
