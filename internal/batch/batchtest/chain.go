// Package batchtest provides an in-memory chain that answers the calls the batch
// client issues: Multicall3 aggregate3, pair and factory views, ERC20 decimals and
// PairCreated logs.
package batchtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"poolScope/internal/dex"
)

// Pair is one simulated pair contract.
type Pair struct {
	Address   common.Address
	Token0    common.Address
	Token1    common.Address
	Reserve0  *big.Int
	Reserve1  *big.Int
	CreatedAt uint64
	// Reverts makes every pair view revert.
	Reverts bool
	// Malformed makes token0 return data that cannot be decoded.
	Malformed bool
}

// LimitError mimics a provider rejecting a request as too large.
type LimitError struct {
	Message string
}

func (e *LimitError) Error() string  { return e.Message }
func (e *LimitError) ErrorCode() int { return -32005 }

// Chain is a thread-safe simulated chain with one factory.
type Chain struct {
	Multicall common.Address
	Factory   common.Address

	// MaxCalls rejects aggregate3 batches with more sub-calls. Zero disables the limit.
	MaxCalls int
	// MaxLogRange rejects log queries spanning more blocks. Zero disables the limit.
	MaxLogRange uint64
	// Err, when set, is returned by every request.
	Err error

	mu         sync.Mutex
	height     uint64
	pairs      []Pair
	decimals   map[common.Address]uint8
	aggregates int
	logQueries int
}

// NewChain creates an empty chain at height.
func NewChain(multicall, factory common.Address, height uint64) *Chain {
	return &Chain{
		Multicall: multicall,
		Factory:   factory,
		height:    height,
		decimals:  make(map[common.Address]uint8),
	}
}

// AddPair registers a pair in the factory, in creation order.
func (c *Chain) AddPair(pair Pair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairs = append(c.pairs, pair)
}

// SetDecimals sets the decimals a token reports.
func (c *Chain) SetDecimals(token common.Address, decimals uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decimals[token] = decimals
}

// SetHeight moves the chain head.
func (c *Chain) SetHeight(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height = height
}

// Aggregates returns the number of aggregate3 calls served, including rejected ones.
func (c *Chain) Aggregates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aggregates
}

// LogQueries returns the number of log queries served, including rejected ones.
func (c *Chain) LogQueries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logQueries
}

// LatestBlockNumber returns the chain head.
func (c *Chain) LatestBlockNumber(ctx context.Context) (uint64, error) {
	if err := c.check(ctx); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height, nil
}

// FilterLogs returns PairCreated logs of the factory in the inclusive block range.
func (c *Chain) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logQueries++

	if toBlock < fromBlock {
		return nil, fmt.Errorf("invalid block range %d-%d", fromBlock, toBlock)
	}
	if c.MaxLogRange > 0 && toBlock-fromBlock+1 > c.MaxLogRange {
		return nil, &LimitError{Message: "query returned more than 10000 results"}
	}
	if !containsAddress(addresses, c.Factory) {
		return nil, nil
	}
	factoryABI, err := dex.FactoryABI()
	if err != nil {
		return nil, err
	}
	event := factoryABI.Events["PairCreated"]
	if len(topic0) > 0 && !containsHash(topic0, event.ID) {
		return nil, nil
	}

	var logs []types.Log
	for i, pair := range c.pairs {
		if pair.CreatedAt < fromBlock || pair.CreatedAt > toBlock {
			continue
		}
		data, err := event.Inputs.NonIndexed().Pack(pair.Address, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, err
		}
		logs = append(logs, types.Log{
			Address:     c.Factory,
			Topics:      []common.Hash{event.ID, common.BytesToHash(pair.Token0.Bytes()), common.BytesToHash(pair.Token1.Bytes())},
			Data:        data,
			BlockNumber: pair.CreatedAt,
			Index:       uint(i),
		})
	}
	return logs, nil
}

// CallContract answers aggregate3 on the multicall address and direct factory views.
func (c *Chain) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, errors.New("execution reverted")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if *msg.To == c.Multicall {
		return c.aggregate3(msg.Data)
	}
	ok, out, err := c.view(*msg.To, msg.Data)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func (c *Chain) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Err
}

func (c *Chain) aggregate3(data []byte) ([]byte, error) {
	c.aggregates++
	multicallABI, err := dex.Multicall3ABI()
	if err != nil {
		return nil, err
	}
	method := multicallABI.Methods["aggregate3"]
	if !bytes.Equal(data[:4], method.ID) {
		return nil, errors.New("execution reverted")
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}
	calls := *abi.ConvertType(args[0], new([]dex.Call3)).(*[]dex.Call3)
	if c.MaxCalls > 0 && len(calls) > c.MaxCalls {
		return nil, errors.New("out of gas")
	}

	results := make([]dex.Result, len(calls))
	for i, call := range calls {
		ok, out, err := c.view(call.Target, call.CallData)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = []byte{}
		}
		results[i] = dex.Result{Success: ok, ReturnData: out}
	}
	return method.Outputs.Pack(results)
}

// view executes one read. ok is false when the call reverts.
func (c *Chain) view(target common.Address, data []byte) (bool, []byte, error) {
	if len(data) < 4 {
		return false, nil, nil
	}
	selector := data[:4]

	if target == c.Factory {
		return c.factoryView(selector, data[4:])
	}
	if decimals, ok := c.decimals[target]; ok {
		erc20Selector, err := dex.Decimals.Encode()
		if err != nil {
			return false, nil, err
		}
		if !bytes.Equal(selector, erc20Selector) {
			return false, nil, nil
		}
		out, err := packUint(uint64(decimals))
		return err == nil, out, err
	}
	for _, pair := range c.pairs {
		if pair.Address == target {
			return pairView(pair, selector)
		}
	}
	// Calls to addresses without code succeed with empty return data.
	return true, nil, nil
}

func (c *Chain) factoryView(selector, args []byte) (bool, []byte, error) {
	factoryABI, err := dex.FactoryABI()
	if err != nil {
		return false, nil, err
	}
	method, err := factoryABI.MethodById(selector)
	if err != nil {
		return false, nil, nil
	}
	switch method.Name {
	case "allPairsLength":
		out, err := method.Outputs.Pack(big.NewInt(int64(len(c.pairs))))
		return err == nil, out, err
	case "allPairs":
		values, err := method.Inputs.Unpack(args)
		if err != nil {
			return false, nil, nil
		}
		index := values[0].(*big.Int)
		if !index.IsUint64() || index.Uint64() >= uint64(len(c.pairs)) {
			return false, nil, nil
		}
		out, err := method.Outputs.Pack(c.pairs[index.Uint64()].Address)
		return err == nil, out, err
	case "getPair":
		values, err := method.Inputs.Unpack(args)
		if err != nil {
			return false, nil, nil
		}
		tokenA, tokenB := values[0].(common.Address), values[1].(common.Address)
		found := common.Address{}
		for _, pair := range c.pairs {
			if (pair.Token0 == tokenA && pair.Token1 == tokenB) || (pair.Token0 == tokenB && pair.Token1 == tokenA) {
				found = pair.Address
				break
			}
		}
		out, err := method.Outputs.Pack(found)
		return err == nil, out, err
	}
	return false, nil, nil
}

func pairView(pair Pair, selector []byte) (bool, []byte, error) {
	if pair.Reverts {
		return false, nil, nil
	}
	pairABI, err := dex.PairABI()
	if err != nil {
		return false, nil, err
	}
	method, err := pairABI.MethodById(selector)
	if err != nil {
		return false, nil, nil
	}
	var out []byte
	switch method.Name {
	case "token0":
		if pair.Malformed {
			return true, []byte{0xde, 0xad}, nil
		}
		out, err = method.Outputs.Pack(pair.Token0)
	case "token1":
		out, err = method.Outputs.Pack(pair.Token1)
	case "getReserves":
		out, err = method.Outputs.Pack(orZero(pair.Reserve0), orZero(pair.Reserve1), uint32(0))
	default:
		return false, nil, nil
	}
	return err == nil, out, err
}

func packUint(value uint64) ([]byte, error) {
	return common.LeftPadBytes(new(big.Int).SetUint64(value).Bytes(), 32), nil
}

func orZero(value *big.Int) *big.Int {
	if value == nil {
		return new(big.Int)
	}
	return value
}

func containsAddress(list []common.Address, target common.Address) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, target common.Hash) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
