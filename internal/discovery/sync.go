package discovery

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"poolScope/internal/checkpoint"
	"poolScope/internal/model"
)

// Phase is a step of a checkpointed sync run.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseComputeRange
	PhaseFetch
	PhaseMerge
	PhaseDone
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseComputeRange:
		return "compute_range"
	case PhaseFetch:
		return "fetch"
	case PhaseMerge:
		return "merge"
	case PhaseDone:
		return "done"
	case PhaseAborted:
		return "aborted"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

type run struct {
	engine   *Engine
	strategy string
	phase    Phase
	logger   *zap.Logger
}

func (e *Engine) newRun(strategy, key string) *run {
	return &run{
		engine:   e,
		strategy: strategy,
		phase:    PhaseStart,
		logger:   e.logger.With(zap.String("strategy", strategy), zap.String("key", key)),
	}
}

func (r *run) enter(phase Phase) {
	r.logger.Debug("sync phase", zap.Stringer("from", r.phase), zap.Stringer("to", phase))
	r.phase = phase
}

func (r *run) abort(err error) error {
	r.logger.Warn("sync aborted", zap.Stringer("phase", r.phase), zap.Error(err))
	r.engine.metrics.ErrorsTotal.WithLabelValues(errorType(err)).Inc()
	r.phase = PhaseAborted
	return err
}

// Sync scans creation logs from the block after the stored checkpoint (or from the
// factory creation block on a first run) up to the current height, merges the new
// pools into the checkpoint and saves it. Nothing is saved when any step fails.
func (e *Engine) Sync(ctx context.Context, store checkpoint.Store, key string) (model.Checkpoint, error) {
	r := e.newRun(strategyLogs, key)

	prev, ok, err := e.load(ctx, store, key)
	if err != nil {
		return model.Checkpoint{}, r.abort(err)
	}

	r.enter(PhaseComputeRange)
	start := e.cfg.Factory.CreationBlock
	if ok {
		start = prev.BlockNumber + 1
	}
	height, err := e.source.LatestBlockNumber(ctx)
	if err != nil {
		return model.Checkpoint{}, r.abort(fmt.Errorf("latest block: %w", err))
	}
	if start > height {
		r.logger.Info("nothing to sync", zap.Uint64("from", start), zap.Uint64("height", height))
		if !ok {
			prev.Factory = e.cfg.Factory
		}
		r.enter(PhaseDone)
		return prev, nil
	}
	r.logger.Info("sync", zap.Uint64("from", start), zap.Uint64("to", height), zap.Bool("resume", ok))

	r.enter(PhaseFetch)
	result, err := e.DiscoverByLogs(ctx, start, height+1)
	if err != nil {
		return model.Checkpoint{}, r.abort(err)
	}
	pools := result.Pools
	if e.cfg.Refresh && len(prev.Pools) > 0 {
		refreshed, err := e.fetchPools(ctx, addressesOf(prev.Pools), strategyLogs)
		if err != nil {
			return model.Checkpoint{}, r.abort(fmt.Errorf("refresh: %w", err))
		}
		pools = append(refreshed.Pools, pools...)
	}

	return e.commit(ctx, r, store, key, prev, pools, result.BlockNumber)
}

// FullSync enumerates every pair by factory index and merges them into the checkpoint.
func (e *Engine) FullSync(ctx context.Context, store checkpoint.Store, key string) (model.Checkpoint, error) {
	r := e.newRun(strategyIndex, key)

	prev, _, err := e.load(ctx, store, key)
	if err != nil {
		return model.Checkpoint{}, r.abort(err)
	}

	r.enter(PhaseFetch)
	result, err := e.DiscoverByIndex(ctx)
	if err != nil {
		return model.Checkpoint{}, r.abort(err)
	}
	return e.commit(ctx, r, store, key, prev, result.Pools, result.BlockNumber)
}

func (e *Engine) load(ctx context.Context, store checkpoint.Store, key string) (model.Checkpoint, bool, error) {
	if store == nil {
		return model.Checkpoint{}, false, fmt.Errorf("checkpoint store is nil")
	}
	prev, ok, err := store.Load(ctx, key)
	if err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	if ok && prev.Factory.Address != e.cfg.Factory.Address {
		return model.Checkpoint{}, false, fmt.Errorf(
			"checkpoint %q belongs to factory %s, not %s",
			key, prev.Factory.Address.Hex(), e.cfg.Factory.Address.Hex(),
		)
	}
	return prev, ok, nil
}

func (e *Engine) commit(ctx context.Context, r *run, store checkpoint.Store, key string, prev model.Checkpoint, pools []model.Pool, height uint64) (model.Checkpoint, error) {
	r.enter(PhaseMerge)
	next := model.Checkpoint{
		Timestamp:   e.cfg.Now().Unix(),
		BlockNumber: height,
		Factory:     e.cfg.Factory,
		Pools:       model.MergePools(prev.Pools, pools),
	}
	if err := ctx.Err(); err != nil {
		return model.Checkpoint{}, r.abort(err)
	}
	if err := store.Save(ctx, key, next); err != nil {
		return model.Checkpoint{}, r.abort(fmt.Errorf("save checkpoint: %w", err))
	}

	factory := e.cfg.Factory.Address.Hex()
	e.metrics.SyncedBlock.WithLabelValues(factory).Set(float64(next.BlockNumber))
	e.metrics.PoolsTracked.WithLabelValues(factory).Set(float64(len(next.Pools)))
	r.enter(PhaseDone)
	r.logger.Info("sync complete",
		zap.Uint64("block", next.BlockNumber),
		zap.Int("pools", len(next.Pools)),
		zap.Int("new", len(next.Pools)-len(prev.Pools)),
	)
	return next, nil
}

func addressesOf(pools []model.Pool) []common.Address {
	out := make([]common.Address, len(pools))
	for i, pool := range pools {
		out[i] = pool.Address
	}
	return out
}
