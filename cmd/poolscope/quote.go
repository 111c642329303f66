package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolScope/internal/checkpoint"
	"poolScope/internal/config"
	"poolScope/internal/dex"
	"poolScope/internal/model"
	"poolScope/internal/storage/postgres"
)

func runQuote(cmd *cobra.Command, _ []string) error {
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

	tokenInArg, _ := cmd.Flags().GetString("token-in")
	tokenOutArg, _ := cmd.Flags().GetString("token-out")
	amountArg, _ := cmd.Flags().GetString("amount")
	toArg, _ := cmd.Flags().GetString("to")

	amountIn, ok := new(big.Int).SetString(amountArg, 10)
	if !ok || amountIn.Sign() < 0 {
		return fmt.Errorf("amount must be a non-negative integer, got %q", amountArg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bk, err := openBook(ctx, cfg, logger)
	if err != nil {
		return err
	}
	tokenIn, err := bk.tokens.Resolve(tokenInArg)
	if err != nil {
		return fmt.Errorf("token-in: %w", err)
	}
	tokenOut, err := bk.tokens.Resolve(tokenOutArg)
	if err != nil {
		return fmt.Errorf("token-out: %w", err)
	}

	pool, err := bk.pool(tokenInArg, tokenOutArg, tokenIn, tokenOut)
	if err != nil {
		return err
	}

	amountOut := pool.SimulateSwap(tokenIn, amountIn)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "pool      %s (block %d)\n", pool.Address.Hex(), bk.cp.BlockNumber)
	fmt.Fprintf(out, "amountIn  %s\n", amountIn)
	fmt.Fprintf(out, "amountOut %s\n", amountOut)

	if toArg == "" {
		return nil
	}
	if !common.IsHexAddress(toArg) {
		return fmt.Errorf("to must be a hex address, got %q", toArg)
	}
	amount0Out, amount1Out := new(big.Int), new(big.Int)
	if tokenIn == pool.TokenA {
		amount1Out = amountOut
	} else {
		amount0Out = amountOut
	}
	calldata, err := dex.SwapCalldata(amount0Out, amount1Out, common.HexToAddress(toArg), nil)
	if err != nil {
		return fmt.Errorf("encode swap: %w", err)
	}
	fmt.Fprintf(out, "calldata  %s\n", hexutil.Encode(calldata))
	return nil
}

// book is a loaded checkpoint plus the symbol lists used to address its pools.
type book struct {
	cp     model.Checkpoint
	tokens config.Tokens
	pairs  config.Pairs
	logger *zap.Logger
}

func openBook(ctx context.Context, cfg config.Config, logger *zap.Logger) (*book, error) {
	var store checkpoint.Store = checkpoint.NewFileStore(cfg.CheckpointDir)
	if cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		store = pg.Checkpoints()
	}

	cp, ok, err := store.Load(ctx, cfg.CheckpointKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no checkpoint %q; run sync first", cfg.CheckpointKey)
	}

	b := &book{cp: cp, tokens: config.Tokens{}, pairs: config.Pairs{}, logger: logger}
	if tokens, err := config.LoadTokens(cfg.Tokens); err == nil {
		b.tokens = tokens
	} else {
		logger.Debug("token list unavailable", zap.Error(err))
	}
	if pairs, err := config.LoadPairs(cfg.Pairs); err == nil {
		b.pairs = pairs
	} else {
		logger.Debug("pair list unavailable", zap.Error(err))
	}
	return b, nil
}

// pool finds the pool trading a against b: the listed pair when the pair list names
// one, otherwise the checkpointed pool with the deepest reserve of a.
func (b *book) pool(symbolA, symbolB string, a, b2 common.Address) (model.Pool, error) {
	if listed, ok := b.pairs.Lookup(symbolA, symbolB); ok {
		for _, pool := range b.cp.Pools {
			if pool.Address == listed {
				return pool, nil
			}
		}
		b.logger.Warn("listed pair not in checkpoint", zap.String("pair", listed.Hex()))
	}

	var (
		best  model.Pool
		found bool
	)
	for _, pool := range b.cp.Pools {
		other, ok := pool.Other(a)
		if !ok || other != b2 {
			continue
		}
		if !found || pool.ReserveOf(a).Cmp(best.ReserveOf(a)) > 0 {
			best, found = pool, true
		}
	}
	if !found {
		return model.Pool{}, fmt.Errorf("no pool for %s/%s in checkpoint", a.Hex(), b2.Hex())
	}
	return best, nil
}
