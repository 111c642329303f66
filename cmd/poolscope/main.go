package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "poolscope",
		Short:        "Constant product pool indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Discover factory pools and update the checkpoint",
		RunE:  runSync,
	}

	syncCmd.Flags().String("rpc", "", "RPC URL")
	syncCmd.Flags().String("factory", "", "pair factory address")
	syncCmd.Flags().Uint64("factory-creation-block", 0, "block the factory was deployed at")
	syncCmd.Flags().Uint32("fee", 300, "pool fee, 300 = 0.30%")
	syncCmd.Flags().String("multicall", "", "Multicall3 address (default 0xcA11bde05977b3631167028862bE2a179976CA11)")
	syncCmd.Flags().String("strategy", "logs", "discovery strategy (logs, index)")
	syncCmd.Flags().Uint64("pairs-window", 1000, "factory indices per allPairs batch")
	syncCmd.Flags().Uint64("data-window", 200, "pools per state batch")
	syncCmd.Flags().Uint64("logs-window", 5000, "blocks per log query")
	syncCmd.Flags().Int("concurrency", 4, "concurrent window requests")
	syncCmd.Flags().Int("max-split-depth", 8, "maximum halvings of an oversized window")
	syncCmd.Flags().Bool("tolerant", false, "skip failed windows instead of aborting")
	syncCmd.Flags().Bool("bisect", true, "halve windows rejected as too large")
	syncCmd.Flags().Bool("refresh", false, "re-read state of checkpointed pools")
	syncCmd.Flags().Int("max-retries", 0, "retries of failed RPC requests")
	syncCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	syncCmd.Flags().String("out", "", "append synced pools to this JSONL file")
	syncCmd.Flags().String("pg-dsn", "", "Postgres DSN for pools and checkpoints")
	syncCmd.Flags().String("redis-addr", "", "Redis address to mirror pools into")
	syncCmd.Flags().String("redis-password", "", "Redis password")
	syncCmd.Flags().Int("redis-db", 0, "Redis database")
	syncCmd.Flags().String("redis-prefix", "poolscope", "Redis key prefix")
	syncCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	addCheckpointFlags(syncCmd)

	root.AddCommand(syncCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a swap against checkpointed reserves",
		RunE:  runQuote,
	}

	quoteCmd.Flags().String("token-in", "", "input token symbol or address")
	quoteCmd.Flags().String("token-out", "", "output token symbol or address")
	quoteCmd.Flags().String("amount", "", "input amount in raw units")
	quoteCmd.Flags().String("to", "", "recipient; when set, print pair swap calldata")
	addCheckpointFlags(quoteCmd)
	addListFlags(quoteCmd)

	root.AddCommand(quoteCmd)

	priceCmd := &cobra.Command{
		Use:   "price",
		Short: "Print pool prices or pool values in a quote token",
		RunE:  runPrice,
	}

	priceCmd.Flags().String("base", "", "base token symbol or address")
	priceCmd.Flags().String("quote", "", "quote token symbol or address")
	priceCmd.Flags().Bool("values", false, "print every pool's value in the quote token")
	priceCmd.Flags().Int("top", 20, "number of pools to print with --values")
	addCheckpointFlags(priceCmd)
	addListFlags(priceCmd)

	root.AddCommand(priceCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCheckpointFlags(cmd *cobra.Command) {
	cmd.Flags().String("checkpoint-dir", "./data", "checkpoint directory")
	cmd.Flags().String("checkpoint-key", "pools", "checkpoint name")
	if cmd.Flags().Lookup("pg-dsn") == nil {
		cmd.Flags().String("pg-dsn", "", "read checkpoints from Postgres")
	}
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func addListFlags(cmd *cobra.Command) {
	cmd.Flags().String("tokens", "./configs/tokens.yaml", "token symbols YAML")
	cmd.Flags().String("pairs", "./configs/pairs.yaml", "pair addresses YAML")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
