package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	StrategyLogs  = "logs"
	StrategyIndex = "index"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL               string
	Factory              string
	FactoryCreationBlock uint64
	Fee                  uint32
	Multicall            string
	Strategy             string

	CheckpointDir string
	CheckpointKey string

	PairsWindow   uint64
	DataWindow    uint64
	LogsWindow    uint64
	Concurrency   int
	MaxSplitDepth int
	Tolerant      bool
	Bisect        bool
	Refresh       bool
	MaxRetries    int
	RetryBackoff  time.Duration

	Out           string
	PGDSN         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	MetricsAddr   string

	Tokens   string
	Pairs    string
	LogLevel string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POOLSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("fee", 300)
	v.SetDefault("strategy", StrategyLogs)
	v.SetDefault("checkpoint-dir", "./data")
	v.SetDefault("checkpoint-key", "pools")
	v.SetDefault("pairs-window", uint64(1000))
	v.SetDefault("data-window", uint64(200))
	v.SetDefault("logs-window", uint64(5000))
	v.SetDefault("concurrency", 4)
	v.SetDefault("max-split-depth", 8)
	v.SetDefault("bisect", true)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("redis-prefix", "poolscope")
	v.SetDefault("tokens", "./configs/tokens.yaml")
	v.SetDefault("pairs", "./configs/pairs.yaml")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:               v.GetString("rpc"),
		Factory:              v.GetString("factory"),
		FactoryCreationBlock: v.GetUint64("factory-creation-block"),
		Fee:                  v.GetUint32("fee"),
		Multicall:            v.GetString("multicall"),
		Strategy:             strings.ToLower(strings.TrimSpace(v.GetString("strategy"))),
		CheckpointDir:        v.GetString("checkpoint-dir"),
		CheckpointKey:        v.GetString("checkpoint-key"),
		PairsWindow:          v.GetUint64("pairs-window"),
		DataWindow:           v.GetUint64("data-window"),
		LogsWindow:           v.GetUint64("logs-window"),
		Concurrency:          v.GetInt("concurrency"),
		MaxSplitDepth:        v.GetInt("max-split-depth"),
		Tolerant:             v.GetBool("tolerant"),
		Bisect:               v.GetBool("bisect"),
		Refresh:              v.GetBool("refresh"),
		MaxRetries:           v.GetInt("max-retries"),
		RetryBackoff:         v.GetDuration("retry-backoff"),
		Out:                  v.GetString("out"),
		PGDSN:                v.GetString("pg-dsn"),
		RedisAddr:            v.GetString("redis-addr"),
		RedisPassword:        v.GetString("redis-password"),
		RedisDB:              v.GetInt("redis-db"),
		RedisPrefix:          v.GetString("redis-prefix"),
		MetricsAddr:          v.GetString("metrics-addr"),
		Tokens:               v.GetString("tokens"),
		Pairs:                v.GetString("pairs"),
		LogLevel:             v.GetString("log-level"),
	}

	return cfg, nil
}

// ValidateSync checks the settings a sync run needs.
func (c Config) ValidateSync() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc is required")
	}
	if !common.IsHexAddress(c.Factory) {
		return fmt.Errorf("factory must be a hex address, got %q", c.Factory)
	}
	if c.Multicall != "" && !common.IsHexAddress(c.Multicall) {
		return fmt.Errorf("multicall must be a hex address, got %q", c.Multicall)
	}
	if c.Strategy != StrategyLogs && c.Strategy != StrategyIndex {
		return fmt.Errorf("strategy must be %q or %q, got %q", StrategyLogs, StrategyIndex, c.Strategy)
	}
	if c.Fee >= 10000 {
		return fmt.Errorf("fee %d must be below 10000", c.Fee)
	}
	if c.PairsWindow == 0 || c.DataWindow == 0 || c.LogsWindow == 0 {
		return fmt.Errorf("window sizes must be greater than zero")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be greater than zero")
	}
	if c.CheckpointKey == "" {
		return fmt.Errorf("checkpoint-key is required")
	}
	return nil
}

// FactoryAddress returns the parsed factory address.
func (c Config) FactoryAddress() common.Address {
	return common.HexToAddress(c.Factory)
}

// MulticallAddress returns the parsed multicall address, zero when unset.
func (c Config) MulticallAddress() common.Address {
	if c.Multicall == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Multicall)
}
