// Command hsync-local drives the historical sync engine against a local
// Anvil (or otherwise forked) RPC endpoint for manual end-to-end
// verification: the sources from a sources.json file, a bolt store at a
// local path (hsync-local.db by default), no NATS sink, logs to the
// console, and exits once sync completes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chainkit/hsync/internal/chain"
	"github.com/chainkit/hsync/internal/config"
	"github.com/chainkit/hsync/internal/engine"
	"github.com/chainkit/hsync/internal/events"
	"github.com/chainkit/hsync/internal/fetcher"
	"github.com/chainkit/hsync/internal/metrics"
	"github.com/chainkit/hsync/internal/store/bolt"
)

func main() {
	rpcURL := flag.String("rpc-url", "http://127.0.0.1:8545", "forked/local RPC endpoint")
	chainID := flag.Int64("chain-id", 1, "chain id the fork reports")
	sourcesPath := flag.String("sources", "config/sources.json", "path to the sources.json file")
	boltPath := flag.String("bolt-path", "hsync-local.db", "path to the local bolt store")
	finalityLag := flag.Int64("finality-lag", 0, "blocks below head to treat as finalized, for forks without a finalized tag")
	flag.Parse()

	logger := config.InitLogger()
	logger.Info().Str("rpc_url", *rpcURL).Int64("chain_id", *chainID).Msg("starting local fork harness")

	sources, err := config.LoadSources(*sourcesPath, *chainID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load event sources")
	}
	logger.Info().Int("count", len(sources)).Msg("loaded event sources")

	chainClient, err := chain.New(chain.Config{
		RPCURL:      *rpcURL,
		ChainID:     *chainID,
		FinalityLag: uint64(*finalityLag),
	}, *logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to dial fork RPC")
	}
	defer chainClient.Close()

	eventStore, err := bolt.Open(*boltPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open local bolt store")
	}
	defer eventStore.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	fetch := fetcher.New(chainClient, *logger, "local-fork", m.RPCRequestDuration)

	bus := events.NewBus(256)
	go func() {
		for ev := range bus.Events() {
			switch e := ev.(type) {
			case events.HistoricalCheckpoint:
				logger.Info().Int64("block", e.BlockNumber).Uint64("timestamp", e.BlockTimestamp).Msg("checkpoint")
			case events.SyncComplete:
				logger.Info().Msg("sync complete")
			}
		}
	}()

	eng := engine.New(engine.Config{
		ChainID:                  *chainID,
		Network:                  "local-fork",
		Chain:                    chainClient,
		Fetcher:                  fetch,
		Store:                    eventStore,
		Sources:                  sources,
		DefaultMaxBlockRange:     2000,
		MaxRPCRequestConcurrency: 4,
		Metrics:                  m,
		Bus:                      bus,
		Logger:                   *logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("engine failed to start")
	}

	for !eng.Done() {
		time.Sleep(200 * time.Millisecond)
	}

	fmt.Fprintln(os.Stdout, "historical sync reached completion")
}
