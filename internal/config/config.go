// Package config loads the historical sync engine's runtime
// configuration: a TOML file with environment variable overrides for
// scalar settings, plus a separate JSON file for the typed list of
// event sources to track.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

// Config holds every scalar setting the engine's process wiring needs.
type Config struct {
	ChainID int64
	Network string

	RPCURL            string
	FinalityLagBlocks int64

	DefaultMaxBlockRange     int64
	MaxRPCRequestConcurrency int

	StoreBackend string // "postgres" | "bolt"
	PostgresDSN  string
	BoltPath     string

	NATSURL             string
	NATSSubjectPrefix   string
	NATSDuplicateWindow time.Duration

	MetricsAddress string
	HealthAddress  string

	SourcesPath string
}

// InitLogger builds a zerolog logger: pretty console output to a
// terminal, structured JSON otherwise.
func InitLogger() *zerolog.Logger {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var logger zerolog.Logger
	if isTerminal() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Caller().Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "hsync").Logger()
	}
	return &logger
}

// Load reads configPath as TOML, applies environment variable overrides
// (CHAIN_RPC_URL overrides chain.rpc_url, etc.), and returns both the
// typed Config and the underlying koanf instance for callers that need
// ad-hoc keys.
func Load(logger *zerolog.Logger, configPath string) (Config, *koanf.Koanf, error) {
	ko := koanf.New(".")

	if err := ko.Load(file.Provider(configPath), toml.Parser()); err != nil {
		return Config{}, nil, err
	}

	if err := ko.Load(env.Provider("", ".", func(s string) string {
		return strings.Replace(strings.ToLower(s), "_", ".", 1)
	}), nil); err != nil {
		logger.Warn().Err(err).Msg("failed to load environment variable overrides")
	}

	cfg := Config{
		ChainID:                  ko.Int64("chain.id"),
		Network:                  ko.String("chain.network"),
		RPCURL:                   ko.String("chain.rpc_url"),
		FinalityLagBlocks:        ko.Int64("chain.finality_lag_blocks"),
		DefaultMaxBlockRange:     ko.Int64("sync.default_max_block_range"),
		MaxRPCRequestConcurrency: ko.Int("sync.max_rpc_request_concurrency"),
		StoreBackend:             ko.String("store.backend"),
		PostgresDSN:              ko.String("store.postgres_dsn"),
		BoltPath:                 ko.String("store.bolt_path"),
		NATSURL:                  ko.String("nats.url"),
		NATSSubjectPrefix:        ko.String("nats.subject_prefix"),
		NATSDuplicateWindow:      ko.Duration("nats.duplicate_window"),
		MetricsAddress:           ko.String("metrics.address"),
		HealthAddress:            ko.String("health.address"),
		SourcesPath:              ko.String("sync.sources_path"),
	}
	applyDefaults(&cfg)

	logger.Info().
		Int64("chain_id", cfg.ChainID).
		Str("network", cfg.Network).
		Str("store_backend", cfg.StoreBackend).
		Msg("configuration loaded")

	return cfg, ko, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DefaultMaxBlockRange <= 0 {
		cfg.DefaultMaxBlockRange = 2000
	}
	if cfg.MaxRPCRequestConcurrency <= 0 {
		cfg.MaxRPCRequestConcurrency = 8
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "bolt"
	}
	if cfg.NATSSubjectPrefix == "" {
		cfg.NATSSubjectPrefix = "HSYNC"
	}
	if cfg.NATSDuplicateWindow <= 0 {
		cfg.NATSDuplicateWindow = 20 * time.Minute
	}
	if cfg.MetricsAddress == "" {
		cfg.MetricsAddress = ":9090"
	}
	if cfg.HealthAddress == "" {
		cfg.HealthAddress = ":9091"
	}
	if cfg.SourcesPath == "" {
		cfg.SourcesPath = "config/sources.json"
	}
}

// UpdateLogLevel sets the global zerolog level from the "logging.level"
// key, defaulting to info on an unrecognised value.
func UpdateLogLevel(ko *koanf.Koanf, logger *zerolog.Logger) {
	levelStr := ko.String("logging.level")
	if levelStr == "" {
		levelStr = "info"
	}

	var level zerolog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn", "warning":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
		logger.Warn().Str("configured_level", levelStr).Msg("unknown log level, defaulting to info")
	}

	zerolog.SetGlobalLevel(level)
	logger.Info().Str("level", level.String()).Msg("log level set")
}

func isTerminal() bool {
	fileInfo, _ := os.Stdout.Stat()
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
