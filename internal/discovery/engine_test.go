package discovery

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolScope/internal/batch"
	"poolScope/internal/batch/batchtest"
	"poolScope/internal/chain"
	"poolScope/internal/checkpoint"
	"poolScope/internal/metrics"
	"poolScope/internal/model"
	"poolScope/internal/paginate"
)

var (
	multicall  = common.HexToAddress("0x00000000000000000000000000000000000000ca")
	factory    = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	tokenA     = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	tokenB     = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
	fixedClock = func() time.Time { return time.Unix(1700000000, 0) }
)

func pairAt(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x1000 + i)))
}

func addPair(sim *batchtest.Chain, i int, createdAt uint64) {
	sim.AddPair(batchtest.Pair{
		Address:   pairAt(i),
		Token0:    tokenA,
		Token1:    tokenB,
		Reserve0:  big.NewInt(int64(1000 + i)),
		Reserve1:  big.NewInt(int64(5000 + i)),
		CreatedAt: createdAt,
	})
}

func newSim(height uint64) *batchtest.Chain {
	sim := batchtest.NewChain(multicall, factory, height)
	sim.SetDecimals(tokenA, 18)
	sim.SetDecimals(tokenB, 6)
	return sim
}

func testConfig(window uint64) Config {
	return Config{
		Factory:       model.NewFactory(factory, 10, 300),
		PairsPaginate: paginate.DefaultConfig("pairs", window),
		DataPaginate:  paginate.DefaultConfig("data", window),
		LogsPaginate:  paginate.DefaultConfig("logs", window*5),
		Now:           fixedClock,
	}
}

func newEngine(t *testing.T, cfg Config, source Source) (*Engine, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry(), "test")
	engine, err := New(cfg, source, nil, m)
	require.NoError(t, err)
	return engine, m
}

// memStore is an in-memory checkpoint store that counts saves.
type memStore struct {
	mu      sync.Mutex
	entries map[string]model.Checkpoint
	saves   int
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]model.Checkpoint)}
}

func (s *memStore) Load(_ context.Context, key string) (model.Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.entries[key]
	return cp, ok, nil
}

func (s *memStore) Save(_ context.Context, key string, cp model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return &checkpoint.PersistenceError{Op: "write", Key: key, Err: s.saveErr}
	}
	s.entries[key] = cp
	s.saves++
	return nil
}

// recordingSource records the log windows it is asked for.
type recordingSource struct {
	*batch.Client
	mu      sync.Mutex
	windows []paginate.Window
}

func (s *recordingSource) FetchCreationEvents(ctx context.Context, f common.Address, fromBlock, toBlock uint64) ([]common.Address, error) {
	s.mu.Lock()
	s.windows = append(s.windows, paginate.Window{From: fromBlock, To: toBlock})
	s.mu.Unlock()
	return s.Client.FetchCreationEvents(ctx, f, fromBlock, toBlock)
}

func (s *recordingSource) lowest() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	low := ^uint64(0)
	for _, w := range s.windows {
		if w.From < low {
			low = w.From
		}
	}
	return low
}

func TestSyncResumesFromCheckpoint(t *testing.T) {
	sim := newSim(100)
	for i := 0; i < 5; i++ {
		addPair(sim, i, uint64(20+i*10))
	}
	source := &recordingSource{Client: batch.NewClient(sim, multicall, nil)}
	engine, _ := newEngine(t, testConfig(10), source)
	store := newMemStore()

	first, err := engine.Sync(context.Background(), store, "v2")
	require.NoError(t, err)
	require.Len(t, first.Pools, 5)
	assert.Equal(t, uint64(100), first.BlockNumber)
	assert.Equal(t, uint64(10), source.lowest(), "first run starts at the creation block")

	addPair(sim, 5, 120)
	addPair(sim, 6, 150)
	sim.SetHeight(150)
	source.windows = nil

	second, err := engine.Sync(context.Background(), store, "v2")
	require.NoError(t, err)
	assert.Equal(t, uint64(150), second.BlockNumber)
	require.Len(t, second.Pools, 7)
	for i, pool := range second.Pools {
		assert.Equal(t, pairAt(i), pool.Address)
	}
	assert.Equal(t, uint64(101), source.lowest(), "resync starts after the checkpoint")
	assert.Equal(t, 2, store.saves)
	assert.Equal(t, int64(1700000000), second.Timestamp)
	assert.Equal(t, factory, second.Factory.Address)
}

func TestSyncWithPreloadedCheckpoint(t *testing.T) {
	sim := newSim(150)
	for i := 0; i < 7; i++ {
		created := uint64(20 + i*10)
		if i >= 5 {
			created = uint64(101 + (i-5)*49)
		}
		addPair(sim, i, created)
	}
	engine, _ := newEngine(t, testConfig(10), batch.NewClient(sim, multicall, nil))

	store := newMemStore()
	prev, err := engine.DiscoverByLogs(context.Background(), 10, 101)
	require.NoError(t, err)
	require.Len(t, prev.Pools, 5)
	store.entries["v2"] = model.Checkpoint{BlockNumber: 100, Factory: testConfig(10).Factory, Pools: prev.Pools}

	cp, err := engine.Sync(context.Background(), store, "v2")
	require.NoError(t, err)
	assert.Len(t, cp.Pools, 7)
	assert.Equal(t, uint64(150), cp.BlockNumber)
}

func TestSyncNothingToDo(t *testing.T) {
	sim := newSim(100)
	addPair(sim, 0, 50)
	engine, _ := newEngine(t, testConfig(10), batch.NewClient(sim, multicall, nil))
	store := newMemStore()

	_, err := engine.Sync(context.Background(), store, "v2")
	require.NoError(t, err)
	aggregates := sim.Aggregates()

	cp, err := engine.Sync(context.Background(), store, "v2")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), cp.BlockNumber)
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, aggregates, sim.Aggregates())
}

func TestSyncDropsUnpopulatedPools(t *testing.T) {
	sim := newSim(100)
	addPair(sim, 0, 20)
	sim.AddPair(batchtest.Pair{Address: pairAt(1), Reverts: true, CreatedAt: 30})
	sim.AddPair(batchtest.Pair{Address: pairAt(2), Token0: tokenA, Token1: tokenB, Reserve0: big.NewInt(0), Reserve1: big.NewInt(7), CreatedAt: 40})
	addPair(sim, 3, 50)
	engine, m := newEngine(t, testConfig(10), batch.NewClient(sim, multicall, nil))

	result, err := engine.DiscoverByLogs(context.Background(), 0, 101)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Dropped)
	require.Len(t, result.Pools, 2)
	assert.Equal(t, pairAt(0), result.Pools[0].Address)
	assert.Equal(t, pairAt(3), result.Pools[1].Address)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.PoolsDropped.WithLabelValues("logs")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.PoolsDiscovered.WithLabelValues("logs")))
}

func TestSyncAbortSavesNothing(t *testing.T) {
	sim := newSim(100)
	addPair(sim, 0, 20)
	engine, m := newEngine(t, testConfig(10), batch.NewClient(sim, multicall, nil))
	store := newMemStore()

	sim.Err = errors.New("connection reset by peer")
	_, err := engine.Sync(context.Background(), store, "v2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, chain.ErrTransport))
	assert.Equal(t, 0, store.saves)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("transport")))
}

func TestSyncDecodeErrorIsHard(t *testing.T) {
	sim := newSim(100)
	addPair(sim, 0, 20)
	sim.AddPair(batchtest.Pair{Address: pairAt(1), Token0: tokenA, Token1: tokenB, Malformed: true, CreatedAt: 30})
	engine, _ := newEngine(t, testConfig(10), batch.NewClient(sim, multicall, nil))
	store := newMemStore()

	_, err := engine.Sync(context.Background(), store, "v2")
	var decodeErr *chain.DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, pairAt(1), decodeErr.Address)
	assert.Equal(t, 0, store.saves)
}

func TestSyncSaveFailure(t *testing.T) {
	sim := newSim(100)
	addPair(sim, 0, 20)
	engine, m := newEngine(t, testConfig(10), batch.NewClient(sim, multicall, nil))
	store := newMemStore()
	store.saveErr = errors.New("disk full")

	_, err := engine.Sync(context.Background(), store, "v2")
	var persistErr *checkpoint.PersistenceError
	require.True(t, errors.As(err, &persistErr))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("persistence")))
}

func TestSyncRejectsForeignCheckpoint(t *testing.T) {
	sim := newSim(100)
	engine, _ := newEngine(t, testConfig(10), batch.NewClient(sim, multicall, nil))
	store := newMemStore()
	store.entries["v2"] = model.Checkpoint{BlockNumber: 50, Factory: model.NewFactory(common.HexToAddress("0x01"), 0, 300)}

	_, err := engine.Sync(context.Background(), store, "v2")
	require.Error(t, err)
	assert.Equal(t, 0, store.saves)
}

func TestSyncCancelled(t *testing.T) {
	sim := newSim(100)
	addPair(sim, 0, 20)
	engine, _ := newEngine(t, testConfig(10), batch.NewClient(sim, multicall, nil))
	store := newMemStore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Sync(ctx, store, "v2")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.saves)
}

func TestSyncRefreshUpdatesReserves(t *testing.T) {
	sim := newSim(100)
	addPair(sim, 0, 20)
	cfg := testConfig(10)
	cfg.Refresh = true
	engine, _ := newEngine(t, cfg, batch.NewClient(sim, multicall, nil))
	store := newMemStore()

	stale := model.Pool{
		Address: pairAt(0), TokenA: tokenA, TokenB: tokenB,
		Reserve0: big.NewInt(1), Reserve1: big.NewInt(1), Fee: 300,
	}
	store.entries["v2"] = model.Checkpoint{BlockNumber: 90, Factory: cfg.Factory, Pools: []model.Pool{stale}}

	cp, err := engine.Sync(context.Background(), store, "v2")
	require.NoError(t, err)
	require.Len(t, cp.Pools, 1)
	assert.Equal(t, 0, cp.Pools[0].Reserve0.Cmp(big.NewInt(1000)))
	assert.Equal(t, uint8(18), cp.Pools[0].TokenADecimals)
}

func TestDiscoverByIndex(t *testing.T) {
	sim := newSim(500)
	for i := 0; i < 25; i++ {
		addPair(sim, i, uint64(20+i))
	}
	engine, _ := newEngine(t, testConfig(10), batch.NewClient(sim, multicall, nil))

	result, err := engine.DiscoverByIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(500), result.BlockNumber)
	require.Len(t, result.Pools, 25)
	for i, pool := range result.Pools {
		assert.Equal(t, pairAt(i), pool.Address)
	}
}

func TestDiscoverBisectsOversizedBatches(t *testing.T) {
	sim := newSim(500)
	for i := 0; i < 20; i++ {
		addPair(sim, i, uint64(20+i*10))
	}
	// Ten pairs need thirty sub-calls; allow at most fifteen per aggregate.
	sim.MaxCalls = 15
	sim.MaxLogRange = 40
	engine, m := newEngine(t, testConfig(10), batch.NewClient(sim, multicall, nil))

	byIndex, err := engine.DiscoverByIndex(context.Background())
	require.NoError(t, err)
	assert.Len(t, byIndex.Pools, 20)

	byLogs, err := engine.DiscoverByLogs(context.Background(), 0, 501)
	require.NoError(t, err)
	require.Len(t, byLogs.Pools, 20)
	for i, pool := range byLogs.Pools {
		assert.Equal(t, pairAt(i), pool.Address)
	}
	assert.Greater(t, testutil.ToFloat64(m.Bisections.WithLabelValues("data")), float64(0))
	assert.Greater(t, testutil.ToFloat64(m.Bisections.WithLabelValues("logs")), float64(0))
}

func TestFullSyncMergesIntoCheckpoint(t *testing.T) {
	sim := newSim(300)
	for i := 0; i < 4; i++ {
		addPair(sim, i, uint64(20+i))
	}
	engine, _ := newEngine(t, testConfig(10), batch.NewClient(sim, multicall, nil))
	store := newMemStore()

	extra := model.Pool{Address: common.HexToAddress("0xfeed"), TokenA: tokenA, TokenB: tokenB, Reserve0: big.NewInt(1), Reserve1: big.NewInt(1)}
	store.entries["v2"] = model.Checkpoint{BlockNumber: 10, Factory: testConfig(10).Factory, Pools: []model.Pool{extra}}

	cp, err := engine.FullSync(context.Background(), store, "v2")
	require.NoError(t, err)
	assert.Equal(t, uint64(300), cp.BlockNumber)
	require.Len(t, cp.Pools, 5)
	assert.Equal(t, extra.Address, cp.Pools[0].Address)
	assert.Equal(t, 1, store.saves)
}

func TestNewValidatesConfig(t *testing.T) {
	sim := newSim(1)
	source := batch.NewClient(sim, multicall, nil)

	_, err := New(Config{}, source, nil, nil)
	require.Error(t, err)

	cfg := testConfig(10)
	cfg.LogsPaginate.WindowSize = 0
	_, err = New(cfg, source, nil, nil)
	require.Error(t, err)

	_, err = New(testConfig(10), nil, nil, nil)
	require.Error(t, err)
}

func TestDiscoverDropsPoolWithoutTokenDecimals(t *testing.T) {
	sim := newSim(100)
	addPair(sim, 0, 20)
	sim.AddPair(batchtest.Pair{
		Address:   pairAt(1),
		Token0:    tokenA,
		Token1:    common.HexToAddress("0x000000000000000000000000000000000000dEaD"),
		Reserve0:  big.NewInt(10),
		Reserve1:  big.NewInt(20),
		CreatedAt: 30,
	})
	engine, m := newEngine(t, testConfig(10), batch.NewClient(sim, multicall, nil))

	result, err := engine.DiscoverByLogs(context.Background(), 10, 101)
	require.NoError(t, err)
	require.Len(t, result.Pools, 1)
	assert.Equal(t, pairAt(0), result.Pools[0].Address)
	assert.Equal(t, 1, result.Dropped)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PoolsDropped.WithLabelValues("logs")))
}

// outageSource fails log queries covering block once for the given number of calls.
type outageSource struct {
	*batch.Client
	mu    sync.Mutex
	block uint64
	left  int
}

func (s *outageSource) FetchCreationEvents(ctx context.Context, f common.Address, fromBlock, toBlock uint64) ([]common.Address, error) {
	s.mu.Lock()
	down := s.left > 0 && fromBlock <= s.block && s.block < toBlock
	if down {
		s.left--
	}
	s.mu.Unlock()
	if down {
		return nil, chain.ErrTransport
	}
	return s.Client.FetchCreationEvents(ctx, f, fromBlock, toBlock)
}

func tolerantLogs(window uint64) Config {
	cfg := testConfig(window)
	cfg.LogsPaginate.Mode = paginate.Tolerant
	return cfg
}

func TestSyncStopsCheckpointBeforeSkippedLogWindow(t *testing.T) {
	sim := newSim(100)
	addPair(sim, 0, 20)
	addPair(sim, 1, 70)
	source := &outageSource{Client: batch.NewClient(sim, multicall, nil), block: 70, left: 1}
	engine, _ := newEngine(t, tolerantLogs(10), source)
	store := newMemStore()

	// Log windows are [10,60) and [60,101); the second one is down.
	first, err := engine.Sync(context.Background(), store, "v2")
	require.NoError(t, err)
	assert.Equal(t, uint64(59), first.BlockNumber)
	require.Len(t, first.Pools, 1)
	assert.Equal(t, pairAt(0), first.Pools[0].Address)

	addPair(sim, 2, 150)
	sim.SetHeight(200)

	second, err := engine.Sync(context.Background(), store, "v2")
	require.NoError(t, err)
	assert.Equal(t, uint64(200), second.BlockNumber)
	require.Len(t, second.Pools, 3)
	for i, pool := range second.Pools {
		assert.Equal(t, pairAt(i), pool.Address)
	}
}

func TestSyncSavesNothingWhenFirstLogWindowIsSkipped(t *testing.T) {
	sim := newSim(100)
	addPair(sim, 0, 20)
	addPair(sim, 1, 70)
	source := &outageSource{Client: batch.NewClient(sim, multicall, nil), block: 20, left: 1}
	engine, m := newEngine(t, tolerantLogs(10), source)
	store := newMemStore()

	_, err := engine.Sync(context.Background(), store, "v2")
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrTransport)
	assert.Equal(t, 0, store.saves)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("transport")))

	cp, err := engine.Sync(context.Background(), store, "v2")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), cp.BlockNumber)
	assert.Len(t, cp.Pools, 2)
}

func TestDiscoverByLogsTruncatesAtUnreadPool(t *testing.T) {
	sim := newSim(100)
	addPair(sim, 0, 20)
	addPair(sim, 1, 70)
	cfg := testConfig(1)
	cfg.LogsPaginate = paginate.DefaultConfig("logs", 50)
	cfg.DataPaginate.Mode = paginate.Tolerant
	source := &unreadableSource{Client: batch.NewClient(sim, multicall, nil), pool: pairAt(1)}
	engine, _ := newEngine(t, cfg, source)

	result, err := engine.DiscoverByLogs(context.Background(), 10, 101)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{pairAt(1)}, result.Missing)
	assert.Equal(t, uint64(59), result.BlockNumber)
	require.Len(t, result.Pools, 1)
	assert.Equal(t, pairAt(0), result.Pools[0].Address)
}

// unreadableSource fails every state read that includes pool.
type unreadableSource struct {
	*batch.Client
	pool common.Address
}

func (s *unreadableSource) FetchPoolData(ctx context.Context, addresses []common.Address, fee uint32) ([]model.Pool, error) {
	for _, address := range addresses {
		if address == s.pool {
			return nil, chain.ErrTransport
		}
	}
	return s.Client.FetchPoolData(ctx, addresses, fee)
}
