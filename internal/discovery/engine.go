package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"poolScope/internal/chain"
	"poolScope/internal/checkpoint"
	"poolScope/internal/metrics"
	"poolScope/internal/model"
	"poolScope/internal/paginate"
)

const (
	strategyIndex = "index"
	strategyLogs  = "logs"
)

// Source is the chain capability discovery runs against.
type Source interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	PairsLength(ctx context.Context, factory common.Address) (uint64, error)
	FetchPairAddresses(ctx context.Context, factory common.Address, from, to uint64) ([]common.Address, error)
	FetchCreationEvents(ctx context.Context, factory common.Address, fromBlock, toBlock uint64) ([]common.Address, error)
	FetchPoolData(ctx context.Context, addresses []common.Address, fee uint32) ([]model.Pool, error)
}

// Config holds discovery settings.
type Config struct {
	Factory model.Factory
	// PairsPaginate windows factory indices, DataPaginate windows pool addresses and
	// LogsPaginate windows blocks.
	PairsPaginate paginate.Config
	DataPaginate  paginate.Config
	LogsPaginate  paginate.Config
	// Refresh re-reads the state of checkpointed pools during Sync.
	Refresh bool
	// Now stamps checkpoints. Defaults to time.Now.
	Now func() time.Time
}

// Result is the outcome of one discovery strategy.
type Result struct {
	Pools []model.Pool
	// BlockNumber is the last block the result covers.
	BlockNumber uint64
	// Dropped counts unpopulated pools that were skipped.
	Dropped int
	// Gaps lists the windows a tolerant paginator skipped, ordered by From.
	Gaps []paginate.Window
	// Missing lists addresses whose state could not be read.
	Missing []common.Address

	unread error
}

// UnpopulatedPoolError reports a pool with a missing token or an empty reserve.
type UnpopulatedPoolError struct {
	Address common.Address
}

func (e *UnpopulatedPoolError) Error() string {
	return fmt.Sprintf("pool %s is unpopulated", e.Address.Hex())
}

// Engine discovers the pools of one factory and keeps a checkpoint of them.
type Engine struct {
	cfg     Config
	source  Source
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New builds an Engine. A nil logger or metrics disables them.
func New(cfg Config, source Source, logger *zap.Logger, m *metrics.Metrics) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("source is nil")
	}
	if cfg.Factory.Address == (common.Address{}) {
		return nil, fmt.Errorf("factory address is required")
	}
	for name, p := range map[string]paginate.Config{
		"pairs": cfg.PairsPaginate,
		"data":  cfg.DataPaginate,
		"logs":  cfg.LogsPaginate,
	} {
		if p.WindowSize == 0 {
			return nil, fmt.Errorf("%s window size must be greater than zero", name)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger = logger.With(zap.String("factory", cfg.Factory.Address.Hex()))

	return &Engine{cfg: cfg, source: source, logger: logger, metrics: m}, nil
}

// paginator builds a paginator for one call, so failures are collected per call.
func (e *Engine) paginator(kind string, cfg paginate.Config, failed *failures) *paginate.Paginator {
	cfg.Name = kind
	bisections := e.metrics.Bisections.WithLabelValues(kind)
	cfg.OnBisect = func(paginate.Window) { bisections.Inc() }
	cfg.OnFailure = failed.record
	return paginate.New(cfg, e.logger)
}

// failures collects the sub-ranges a paginator gave up on.
type failures struct {
	mu   sync.Mutex
	errs []*paginate.WindowError
}

func (f *failures) record(err *paginate.WindowError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *failures) windows() []paginate.Window {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) == 0 {
		return nil
	}
	out := make([]paginate.Window, len(f.errs))
	for i, err := range f.errs {
		out[i] = err.Window
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out
}

func (f *failures) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	errs := make([]error, len(f.errs))
	for i, err := range f.errs {
		errs[i] = err
	}
	return errors.Join(errs...)
}

// created is a pair address tagged with the first block of the window that reported it.
type created struct {
	address common.Address
	from    uint64
}

// DiscoverByIndex enumerates every pair the factory registered and reads its state.
func (e *Engine) DiscoverByIndex(ctx context.Context) (Result, error) {
	started := time.Now()
	factory := e.cfg.Factory.Address

	height, err := e.source.LatestBlockNumber(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("latest block: %w", err)
	}
	count, err := e.source.PairsLength(ctx, factory)
	if err != nil {
		return Result{}, fmt.Errorf("pairs length: %w", err)
	}
	e.logger.Info("discover by index", zap.Uint64("pairs", count), zap.Uint64("block", height))

	skipped := &failures{}
	addresses, err := paginate.Run(ctx, e.paginator("pairs", e.cfg.PairsPaginate, skipped), 0, count, observe(e.metrics, "pairs", func(ctx context.Context, w paginate.Window) ([]common.Address, error) {
		return e.source.FetchPairAddresses(ctx, factory, w.From, w.To)
	}))
	if err != nil {
		return Result{}, fmt.Errorf("pair addresses: %w", err)
	}

	result, err := e.fetchPools(ctx, addresses, strategyIndex)
	if err != nil {
		return Result{}, err
	}
	result.BlockNumber = height
	result.Gaps = skipped.windows()
	e.metrics.SyncDuration.WithLabelValues(strategyIndex).Observe(time.Since(started).Seconds())
	return result, nil
}

// DiscoverByLogs finds pairs created in blocks [startBlock, endBlock) and reads their state.
// When a tolerant paginator skips part of the range, the result stops at the block
// before the first skipped one and BlockNumber says so; it fails when nothing after
// startBlock could be covered.
func (e *Engine) DiscoverByLogs(ctx context.Context, startBlock, endBlock uint64) (Result, error) {
	started := time.Now()
	if endBlock < startBlock {
		return Result{}, fmt.Errorf("end block %d is before start block %d", endBlock, startBlock)
	}
	factory := e.cfg.Factory.Address
	e.logger.Info("discover by logs", zap.Uint64("from", startBlock), zap.Uint64("to", endBlock))

	skipped := &failures{}
	events, err := paginate.Run(ctx, e.paginator("logs", e.cfg.LogsPaginate, skipped), startBlock, endBlock, observe(e.metrics, "logs", func(ctx context.Context, w paginate.Window) ([]created, error) {
		addresses, err := e.source.FetchCreationEvents(ctx, factory, w.From, w.To)
		out := make([]created, len(addresses))
		for i, address := range addresses {
			out[i] = created{address: address, from: w.From}
		}
		return out, err
	}))
	if err != nil {
		return Result{}, fmt.Errorf("creation events: %w", err)
	}

	origin := make(map[common.Address]uint64, len(events))
	addresses := make([]common.Address, 0, len(events))
	for _, event := range events {
		if _, ok := origin[event.address]; ok {
			continue
		}
		origin[event.address] = event.from
		addresses = append(addresses, event.address)
	}

	result, err := e.fetchPools(ctx, addresses, strategyLogs)
	if err != nil {
		return Result{}, err
	}
	result.Gaps = skipped.windows()

	cut := endBlock
	if len(result.Gaps) > 0 {
		cut = result.Gaps[0].From
	}
	for _, address := range result.Missing {
		if from := origin[address]; from < cut {
			cut = from
		}
	}
	if cut < endBlock {
		if cut <= startBlock {
			return Result{}, fmt.Errorf("no blocks covered from %d: %w", startBlock, errors.Join(skipped.err(), result.unread))
		}
		kept := result.Pools[:0]
		for _, pool := range result.Pools {
			if origin[pool.Address] < cut {
				kept = append(kept, pool)
			}
		}
		result.Pools = kept
		e.logger.Warn("log range truncated",
			zap.Uint64("covered_to", cut-1),
			zap.Uint64("requested_to", endBlock-1),
			zap.Int("gaps", len(result.Gaps)),
			zap.Int("unread", len(result.Missing)),
		)
	}
	if cut > 0 {
		result.BlockNumber = cut - 1
	}
	e.metrics.SyncDuration.WithLabelValues(strategyLogs).Observe(time.Since(started).Seconds())
	return result, nil
}

// fetchPools reads pool state for addresses and drops unpopulated pools. Addresses in
// data windows that were skipped land in Result.Missing.
func (e *Engine) fetchPools(ctx context.Context, addresses []common.Address, strategy string) (Result, error) {
	fee := e.cfg.Factory.Fee
	skipped := &failures{}
	pools, err := paginate.Run(ctx, e.paginator("data", e.cfg.DataPaginate, skipped), 0, uint64(len(addresses)), observe(e.metrics, "data", func(ctx context.Context, w paginate.Window) ([]model.Pool, error) {
		return e.source.FetchPoolData(ctx, addresses[w.From:w.To], fee)
	}))
	if err != nil {
		return Result{}, fmt.Errorf("pool data: %w", err)
	}

	result := Result{Pools: make([]model.Pool, 0, len(pools)), unread: skipped.err()}
	for _, w := range skipped.windows() {
		result.Missing = append(result.Missing, addresses[w.From:w.To]...)
	}
	for _, pool := range pools {
		if !pool.IsPopulated() {
			e.logger.Warn("drop pool", zap.Error(&UnpopulatedPoolError{Address: pool.Address}))
			result.Dropped++
			continue
		}
		result.Pools = append(result.Pools, pool)
	}
	e.metrics.PoolsDiscovered.WithLabelValues(strategy).Add(float64(len(result.Pools)))
	e.metrics.PoolsDropped.WithLabelValues(strategy).Add(float64(result.Dropped))
	return result, nil
}

func observe[T any](m *metrics.Metrics, kind string, fetch func(context.Context, paginate.Window) ([]T, error)) func(context.Context, paginate.Window) ([]T, error) {
	return func(ctx context.Context, w paginate.Window) ([]T, error) {
		items, err := fetch(ctx, w)
		m.Windows.WithLabelValues(kind, outcome(err)).Inc()
		return items, err
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case chain.IsOversized(err):
		return "oversized"
	default:
		return "failed"
	}
}

func errorType(err error) string {
	var (
		decodeErr  *chain.DecodeError
		persistErr *checkpoint.PersistenceError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &decodeErr):
		return "decode"
	case errors.As(err, &persistErr):
		return "persistence"
	case chain.IsOversized(err):
		return "oversized"
	case errors.Is(err, chain.ErrTransport):
		return "transport"
	default:
		return "other"
	}
}
