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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolScope/internal/batch"
	"poolScope/internal/chain"
	"poolScope/internal/checkpoint"
	"poolScope/internal/config"
	"poolScope/internal/discovery"
	"poolScope/internal/metrics"
	"poolScope/internal/model"
	"poolScope/internal/paginate"
	"poolScope/internal/storage"
	"poolScope/internal/storage/postgres"
	"poolScope/internal/storage/redis"
)

func runSync(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.ValidateSync(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry, "poolscope")
	if cfg.MetricsAddr != "" {
		shutdown := serveMetrics(cfg.MetricsAddr, registry, logger)
		defer shutdown()
	}

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	chainID, err := chainClient.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}

	var caller chain.Caller = chainClient
	if cfg.MaxRetries > 0 {
		caller = chain.NewRetryClient(chainClient, cfg.MaxRetries, cfg.RetryBackoff, logger)
	}
	source := batch.NewClient(caller, cfg.MulticallAddress(), logger)

	store, sinks, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	engine, err := discovery.New(discoveryConfig(cfg), source, logger, m)
	if err != nil {
		return err
	}

	logger.Info("sync start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("chain_id", chainID.String()),
		zap.String("factory", cfg.FactoryAddress().Hex()),
		zap.Uint64("creation_block", cfg.FactoryCreationBlock),
		zap.String("strategy", cfg.Strategy),
		zap.String("checkpoint_key", cfg.CheckpointKey),
		zap.Int("concurrency", cfg.Concurrency),
		zap.Bool("tolerant", cfg.Tolerant),
		zap.Int("sinks", len(sinks)),
	)

	var cp model.Checkpoint
	if cfg.Strategy == config.StrategyIndex {
		cp, err = engine.FullSync(ctx, store, cfg.CheckpointKey)
	} else {
		cp, err = engine.Sync(ctx, store, cfg.CheckpointKey)
	}
	if err != nil {
		return err
	}

	if err := sinks.WritePools(ctx, cp.BlockNumber, cp.Pools); err != nil {
		return fmt.Errorf("write pools: %w", err)
	}

	logger.Info("sync finished", zap.Uint64("block", cp.BlockNumber), zap.Int("pools", len(cp.Pools)))
	return nil
}

func discoveryConfig(cfg config.Config) discovery.Config {
	window := func(name string, size uint64) paginate.Config {
		p := paginate.DefaultConfig(name, size)
		p.MaxConcurrency = cfg.Concurrency
		p.MaxSplitDepth = cfg.MaxSplitDepth
		p.Bisect = cfg.Bisect
		if cfg.Tolerant {
			p.Mode = paginate.Tolerant
		}
		return p
	}
	return discovery.Config{
		Factory:       model.NewFactory(cfg.FactoryAddress(), cfg.FactoryCreationBlock, cfg.Fee),
		PairsPaginate: window("pairs", cfg.PairsWindow),
		DataPaginate:  window("data", cfg.DataWindow),
		LogsPaginate:  window("logs", cfg.LogsWindow),
		Refresh:       cfg.Refresh,
	}
}

// openStores picks the checkpoint store and the pool sinks. Postgres, when configured,
// holds both pools and checkpoints.
func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (checkpoint.Store, storage.Multi, func(), error) {
	var (
		sinks   storage.Multi
		closers []func()
		store   checkpoint.Store = checkpoint.NewFileStore(cfg.CheckpointDir)
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Out != "" {
		sinks = append(sinks, storage.NewJsonlStorage(cfg.Out))
	}
	if cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, closeAll, fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			closeAll()
			return nil, nil, func() {}, err
		}
		store = pg.Checkpoints()
		sinks = append(sinks, pg)
	}
	if cfg.RedisAddr != "" {
		rdb, err := redis.NewStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err != nil {
			closeAll()
			return nil, nil, func() {}, fmt.Errorf("connect redis: %w", err)
		}
		closers = append(closers, func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("close redis", zap.Error(err))
			}
		})
		sinks = append(sinks, rdb)
	}
	return store, sinks, closeAll, nil
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
