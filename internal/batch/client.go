package batch

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"poolScope/internal/chain"
	"poolScope/internal/dex"
	"poolScope/internal/model"
)

// DefaultMulticall is the Multicall3 deployment address shared by most EVM chains.
var DefaultMulticall = common.HexToAddress("0xcA11bde05977b3631167028862bE2a179976CA11")

// ChainClient is the chain capability the batch client needs.
type ChainClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// Client batches pool, factory and token reads through Multicall3.
type Client struct {
	chain     ChainClient
	multicall common.Address
	decimals  *DecimalsCache
	logger    *zap.Logger
}

// NewClient creates a batch client. A zero multicall address uses DefaultMulticall.
func NewClient(chainClient ChainClient, multicall common.Address, logger *zap.Logger) *Client {
	if multicall == (common.Address{}) {
		multicall = DefaultMulticall
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{chain: chainClient, multicall: multicall, decimals: NewDecimalsCache(), logger: logger}
}

// LatestBlockNumber returns the current chain height.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	height, err := c.chain.LatestBlockNumber(ctx)
	if err != nil {
		return 0, chain.Classify(err)
	}
	return height, nil
}

// FetchPoolData reads token addresses, reserves and token decimals for every pair.
// The output has one pool per input address, in input order. Sub-calls that revert
// leave the field zero, and a pool whose token decimals cannot be read loses both
// token addresses, so such pools report IsPopulated() == false.
func (c *Client) FetchPoolData(ctx context.Context, addresses []common.Address, fee uint32) ([]model.Pool, error) {
	if len(addresses) == 0 {
		return nil, nil
	}

	token0Data, err := dex.Token0.Encode()
	if err != nil {
		return nil, err
	}
	token1Data, err := dex.Token1.Encode()
	if err != nil {
		return nil, err
	}
	reservesData, err := dex.GetReserves.Encode()
	if err != nil {
		return nil, err
	}

	calls := make([]dex.Call3, 0, len(addresses)*3)
	for _, address := range addresses {
		calls = append(calls,
			dex.Call3{Target: address, AllowFailure: true, CallData: token0Data},
			dex.Call3{Target: address, AllowFailure: true, CallData: token1Data},
			dex.Call3{Target: address, AllowFailure: true, CallData: reservesData},
		)
	}
	results, err := c.aggregate(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("pool state: %w", err)
	}

	pools := make([]model.Pool, len(addresses))
	for i, address := range addresses {
		pool := model.Pool{Address: address, Fee: fee}
		base := i * 3

		if err := decodeInto(results[base], address, dex.Token0, &pool.TokenA); err != nil {
			return nil, err
		}
		if err := decodeInto(results[base+1], address, dex.Token1, &pool.TokenB); err != nil {
			return nil, err
		}
		var reserves dex.Reserves
		if err := decodeInto(results[base+2], address, dex.GetReserves, &reserves); err != nil {
			return nil, err
		}
		pool.Reserve0 = reserves.Reserve0
		pool.Reserve1 = reserves.Reserve1
		pools[i] = pool
	}

	decimals, err := c.fetchDecimals(ctx, distinctTokens(pools))
	if err != nil {
		return nil, err
	}
	for i := range pools {
		decimalsA, okA := decimals[pools[i].TokenA]
		decimalsB, okB := decimals[pools[i].TokenB]
		if !okA || !okB {
			pools[i].TokenA, pools[i].TokenB = common.Address{}, common.Address{}
			continue
		}
		pools[i].TokenADecimals = decimalsA
		pools[i].TokenBDecimals = decimalsB
	}
	return pools, nil
}

// fetchDecimals resolves decimals for tokens, querying only the ones not cached yet.
// Tokens whose decimals() reverts or returns nothing are absent from the result.
func (c *Client) fetchDecimals(ctx context.Context, tokens []common.Address) (map[common.Address]uint8, error) {
	out := make(map[common.Address]uint8, len(tokens))
	missing := make([]common.Address, 0, len(tokens))
	for _, token := range tokens {
		if decimals, ok := c.decimals.Get(token); ok {
			out[token] = decimals
			continue
		}
		missing = append(missing, token)
	}
	if len(missing) == 0 {
		return out, nil
	}

	callData, err := dex.Decimals.Encode()
	if err != nil {
		return nil, err
	}
	calls := make([]dex.Call3, len(missing))
	for i, token := range missing {
		calls[i] = dex.Call3{Target: token, AllowFailure: true, CallData: callData}
	}
	results, err := c.aggregate(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("token decimals: %w", err)
	}
	for i, token := range missing {
		if !results[i].Success || len(results[i].ReturnData) == 0 {
			c.logger.Debug("token decimals unavailable", zap.String("token", token.Hex()))
			continue
		}
		var decimals uint8
		if err := decodeInto(results[i], token, dex.Decimals, &decimals); err != nil {
			return nil, err
		}
		out[token] = decimals
		c.decimals.Set(token, decimals)
	}
	c.logger.Debug("token decimals", zap.Int("queried", len(missing)), zap.Int("cached", c.decimals.Len()))
	return out, nil
}

// FetchPairAddresses reads allPairs(i) for i in [from, to). Reverted and zero
// entries are skipped; registry order is kept.
func (c *Client) FetchPairAddresses(ctx context.Context, factory common.Address, from, to uint64) ([]common.Address, error) {
	if from >= to {
		return nil, nil
	}
	calls := make([]dex.Call3, 0, to-from)
	for i := from; i < to; i++ {
		callData, err := dex.AllPairs.Encode(new(big.Int).SetUint64(i))
		if err != nil {
			return nil, err
		}
		calls = append(calls, dex.Call3{Target: factory, AllowFailure: true, CallData: callData})
	}
	results, err := c.aggregate(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("pair addresses [%d,%d): %w", from, to, err)
	}

	out := make([]common.Address, 0, len(results))
	for _, result := range results {
		var pair common.Address
		if err := decodeInto(result, factory, dex.AllPairs, &pair); err != nil {
			return nil, err
		}
		if pair == (common.Address{}) {
			continue
		}
		out = append(out, pair)
	}
	return out, nil
}

// FetchCreationEvents returns pairs created by factory in blocks [fromBlock, toBlock),
// in chain log order.
func (c *Client) FetchCreationEvents(ctx context.Context, factory common.Address, fromBlock, toBlock uint64) ([]common.Address, error) {
	if fromBlock >= toBlock {
		return nil, nil
	}
	topic, err := dex.PairCreatedTopic()
	if err != nil {
		return nil, err
	}
	logs, err := c.chain.FilterLogs(ctx, fromBlock, toBlock-1, []common.Address{factory}, []common.Hash{topic})
	if err != nil {
		return nil, fmt.Errorf("pair created logs [%d,%d): %w", fromBlock, toBlock, chain.Classify(err))
	}

	out := make([]common.Address, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		pair, err := dex.DecodePairCreated(log)
		if err != nil {
			return nil, &chain.DecodeError{Address: log.Address, Method: "PairCreated", Err: err}
		}
		out = append(out, pair)
	}
	return out, nil
}

// PairsLength returns the factory's allPairsLength.
func (c *Client) PairsLength(ctx context.Context, factory common.Address) (uint64, error) {
	length, err := call(ctx, c.chain, factory, dex.AllPairsLength)
	if err != nil {
		return 0, err
	}
	if !length.IsUint64() {
		return 0, &chain.DecodeError{Address: factory, Method: dex.AllPairsLength.Name(), Err: fmt.Errorf("length overflows uint64: %s", length)}
	}
	return length.Uint64(), nil
}

// GetPair returns the pair address the factory holds for tokenA and tokenB.
// The zero address means no pair exists.
func (c *Client) GetPair(ctx context.Context, factory, tokenA, tokenB common.Address) (common.Address, error) {
	return call(ctx, c.chain, factory, dex.GetPair, tokenA, tokenB)
}

func (c *Client) aggregate(ctx context.Context, calls []dex.Call3) ([]dex.Result, error) {
	results, err := call(ctx, c.chain, c.multicall, dex.Aggregate3, calls)
	if err != nil {
		return nil, err
	}
	if len(results) != len(calls) {
		return nil, &chain.DecodeError{
			Address: c.multicall,
			Method:  dex.Aggregate3.Name(),
			Err:     fmt.Errorf("got %d results for %d calls", len(results), len(calls)),
		}
	}
	c.logger.Debug("multicall", zap.Int("calls", len(calls)))
	return results, nil
}

func call[T any](ctx context.Context, client ChainClient, target common.Address, method dex.Method[T], args ...interface{}) (T, error) {
	var zero T
	data, err := method.Encode(args...)
	if err != nil {
		return zero, err
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data}, nil)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", method.Name(), chain.Classify(err))
	}
	value, err := method.Decode(out)
	if err != nil {
		return zero, &chain.DecodeError{Address: target, Method: method.Name(), Err: err}
	}
	return value, nil
}

// decodeInto decodes a successful sub-call into dst. Reverted calls and empty
// return data (a call to an address without code) leave dst untouched.
func decodeInto[T any](result dex.Result, target common.Address, method dex.Method[T], dst *T) error {
	if !result.Success || len(result.ReturnData) == 0 {
		return nil
	}
	value, err := method.Decode(result.ReturnData)
	if err != nil {
		return &chain.DecodeError{Address: target, Method: method.Name(), Err: err}
	}
	*dst = value
	return nil
}

func distinctTokens(pools []model.Pool) []common.Address {
	seen := make(map[common.Address]struct{}, len(pools)*2)
	out := make([]common.Address, 0, len(pools)*2)
	for _, pool := range pools {
		for _, token := range []common.Address{pool.TokenA, pool.TokenB} {
			if token == (common.Address{}) {
				continue
			}
			if _, ok := seen[token]; ok {
				continue
			}
			seen[token] = struct{}{}
			out = append(out, token)
		}
	}
	return out
}
