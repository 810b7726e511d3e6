// Package chain provides the historical sync engine's blockchain RPC
// client, wrapping go-ethereum's ethclient with finalized-head
// resolution and log-fetch plumbing.
package chain

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"github.com/chainkit/hsync/internal/fetcher"
)

// Client wraps an Ethereum JSON-RPC endpoint for the historical sync
// engine's needs: getLogs (via fetcher.RawLogFetcher), block fetch by
// number, and the finalized block number that bounds historical sync.
type Client struct {
	rpcClient   *ethclient.Client
	chainID     *big.Int
	logger      zerolog.Logger
	finalityLag uint64 // fallback lag below head when "finalized" tag is unsupported
}

// Config configures a new Client.
type Config struct {
	RPCURL      string
	ChainID     int64
	FinalityLag uint64
}

// New dials rpcURL and verifies the chain ID matches cfg.ChainID.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	rpcClient, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	actual, err := rpcClient.ChainID(context.Background())
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("chain: get chain id: %w", err)
	}

	expected := big.NewInt(cfg.ChainID)
	if actual.Cmp(expected) != 0 {
		rpcClient.Close()
		return nil, fmt.Errorf("chain: chain id mismatch: expected %d, got %d", cfg.ChainID, actual)
	}

	logger.Info().
		Int64("chain_id", cfg.ChainID).
		Str("rpc_url", cfg.RPCURL).
		Msg("historical sync chain client initialized")

	return &Client{
		rpcClient:   rpcClient,
		chainID:     expected,
		logger:      logger.With().Str("component", "chain").Logger(),
		finalityLag: cfg.FinalityLag,
	}, nil
}

// GetLogs implements fetcher.RawLogFetcher by issuing a single
// eth_getLogs call.
func (c *Client) GetLogs(ctx context.Context, q fetcher.Query) ([]types.Log, error) {
	logs, err := c.rpcClient.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(q.From),
		ToBlock:   big.NewInt(q.To),
		Addresses: q.Addresses,
		Topics:    q.Topics,
	})
	if err != nil {
		return nil, fmt.Errorf("chain: filter logs [%d,%d]: %w", q.From, q.To, err)
	}
	return logs, nil
}

// GetBlockByNumber fetches a block with its transactions.
func (c *Client) GetBlockByNumber(ctx context.Context, number int64) (*types.Block, error) {
	block, err := c.rpcClient.BlockByNumber(ctx, big.NewInt(number))
	if err != nil {
		return nil, fmt.Errorf("chain: get block %d: %w", number, err)
	}
	return block, nil
}

// LatestBlockNumber returns the chain's current head.
func (c *Client) LatestBlockNumber(ctx context.Context) (int64, error) {
	n, err := c.rpcClient.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: latest block number: %w", err)
	}
	return int64(n), nil
}

// FinalizedBlockNumber returns the highest block considered immutable —
// the upper bound of historical sync. It prefers the chain's native
// "finalized" tag; on chains without one (the call errors), it falls
// back to head minus the configured finality lag.
func (c *Client) FinalizedBlockNumber(ctx context.Context) (int64, error) {
	header, err := c.rpcClient.HeaderByNumber(ctx, big.NewInt(rpc.FinalizedBlockNumber.Int64()))
	if err == nil {
		return header.Number.Int64(), nil
	}

	c.logger.Debug().Err(err).Msg("finalized tag unsupported, falling back to head minus lag")
	head, err := c.LatestBlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	finalized := head - int64(c.finalityLag)
	if finalized < 0 {
		finalized = 0
	}
	return finalized, nil
}

// ChainID returns the verified chain ID.
func (c *Client) ChainID() *big.Int {
	return c.chainID
}

// Close closes the RPC connection.
func (c *Client) Close() {
	c.rpcClient.Close()
}

