// Command hsync runs the historical sync engine against a live chain
// RPC endpoint, persisting coverage to Postgres or bbolt and publishing
// checkpoint and completion events to NATS JetStream.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainkit/hsync/internal/chain"
	"github.com/chainkit/hsync/internal/config"
	"github.com/chainkit/hsync/internal/engine"
	"github.com/chainkit/hsync/internal/events"
	"github.com/chainkit/hsync/internal/fetcher"
	"github.com/chainkit/hsync/internal/metrics"
	"github.com/chainkit/hsync/internal/store"
	"github.com/chainkit/hsync/internal/store/bolt"
	"github.com/chainkit/hsync/internal/store/postgres"
)

func main() {
	logger := config.InitLogger()
	logger.Info().Msg("starting historical sync engine")

	cfg, ko, err := config.Load(logger, "config.toml")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	config.UpdateLogLevel(ko, logger)

	sources, err := config.LoadSources(cfg.SourcesPath, cfg.ChainID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load event sources")
	}
	logger.Info().Int("count", len(sources)).Str("path", cfg.SourcesPath).Msg("loaded event sources")

	chainClient, err := chain.New(chain.Config{
		RPCURL:      cfg.RPCURL,
		ChainID:     cfg.ChainID,
		FinalityLag: uint64(cfg.FinalityLagBlocks),
	}, *logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create chain client")
	}
	defer chainClient.Close()
	logger.Info().Str("rpc_url", cfg.RPCURL).Int64("chain_id", cfg.ChainID).Msg("initialized chain client")

	eventStore, err := openStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open event store")
	}
	logger.Info().Str("backend", cfg.StoreBackend).Msg("initialized event store")

	sink, err := events.NewNATSSink(cfg.NATSURL, cfg.NATSDuplicateWindow, cfg.NATSSubjectPrefix, *logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create nats sink")
	}
	defer sink.Close()
	logger.Info().Str("url", cfg.NATSURL).Str("subject_prefix", cfg.NATSSubjectPrefix).Msg("initialized nats sink")

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	fetch := fetcher.New(chainClient, *logger, cfg.Network, m.RPCRequestDuration)

	bus := events.NewBus(256)

	eng := engine.New(engine.Config{
		ChainID:                  cfg.ChainID,
		Network:                  cfg.Network,
		Chain:                    chainClient,
		Fetcher:                  fetch,
		Store:                    eventStore,
		Sources:                  sources,
		DefaultMaxBlockRange:     cfg.DefaultMaxBlockRange,
		MaxRPCRequestConcurrency: cfg.MaxRPCRequestConcurrency,
		Metrics:                  m,
		Bus:                      bus,
		Logger:                   *logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sink.Run(ctx, bus.Events())

	metricsServer := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		logger.Info().Str("address", cfg.MetricsAddress).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	healthServer := &http.Server{Addr: cfg.HealthAddress, Handler: http.HandlerFunc(healthCheckHandler(eng))}
	go func() {
		logger.Info().Str("address", cfg.HealthAddress).Msg("starting health check server")
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health check server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- eng.Start(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errChan:
		if err != nil {
			logger.Error().Err(err).Msg("engine failed to start")
		} else {
			sig := <-sigChan
			logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		}
	}

	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("health server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "postgres":
		return postgres.Open(context.Background(), cfg.PostgresDSN)
	case "bolt":
		return bolt.Open(cfg.BoltPath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// healthCheckHandler reports whether the engine's last emitted
// checkpoint reflects a healthy run and whether historical sync has
// completed.
func healthCheckHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !eng.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "unhealthy\n")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "healthy\nsync_complete: %t\n", eng.Done())
	}
}
