package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"poolScope/internal/config"
	"poolScope/internal/model"
)

func runPrice(cmd *cobra.Command, _ []string) error {
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

	baseArg, _ := cmd.Flags().GetString("base")
	quoteArg, _ := cmd.Flags().GetString("quote")
	values, _ := cmd.Flags().GetBool("values")
	top, _ := cmd.Flags().GetInt("top")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bk, err := openBook(ctx, cfg, logger)
	if err != nil {
		return err
	}
	quote, err := bk.tokens.Resolve(quoteArg)
	if err != nil {
		return fmt.Errorf("quote: %w", err)
	}
	out := cmd.OutOrStdout()

	if values {
		valued := model.QuoteValues(bk.cp.Pools, quote)
		type entry struct {
			pool  model.Pool
			value *big.Int
		}
		entries := make([]entry, 0, len(valued))
		for _, pool := range bk.cp.Pools {
			if value, ok := valued[pool.Address]; ok {
				entries = append(entries, entry{pool: pool, value: value})
			}
		}
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].value.Cmp(entries[j].value) > 0
		})
		if top > 0 && len(entries) > top {
			entries = entries[:top]
		}
		for _, e := range entries {
			fmt.Fprintf(out, "%s %s\n", e.pool.Address.Hex(), e.value)
		}
		return nil
	}

	base, err := bk.tokens.Resolve(baseArg)
	if err != nil {
		return fmt.Errorf("base: %w", err)
	}
	pool, err := bk.pool(baseArg, quoteArg, base, quote)
	if err != nil {
		return err
	}
	q64, err := pool.CalculatePrice64x64(base)
	if err != nil {
		return err
	}
	price, err := pool.CalculatePrice(base)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "pool   %s (block %d)\n", pool.Address.Hex(), bk.cp.BlockNumber)
	fmt.Fprintf(out, "price  %g\n", price)
	fmt.Fprintf(out, "q64.64 %s\n", q64)
	return nil
}
