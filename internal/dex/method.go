package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Method binds one contract method to typed call data encoding and result decoding.
type Method[T any] struct {
	abi    *lazyABI
	name   string
	decode func(values []interface{}) (T, error)
}

// Name returns the ABI method name.
func (m Method[T]) Name() string {
	return m.name
}

// Encode packs call data for the method.
func (m Method[T]) Encode(args ...interface{}) ([]byte, error) {
	parsed, err := m.abi.get()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	data, err := parsed.Pack(m.name, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", m.name, err)
	}
	return data, nil
}

// Decode unpacks return data into the method's result type.
func (m Method[T]) Decode(data []byte) (T, error) {
	var zero T
	parsed, err := m.abi.get()
	if err != nil {
		return zero, fmt.Errorf("parse abi: %w", err)
	}
	values, err := parsed.Unpack(m.name, data)
	if err != nil {
		return zero, fmt.Errorf("unpack %s: %w", m.name, err)
	}
	out, err := m.decode(values)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", m.name, err)
	}
	return out, nil
}

// Reserves is the decoded getReserves result.
type Reserves struct {
	Reserve0           *big.Int
	Reserve1           *big.Int
	BlockTimestampLast uint32
}

// Call3 is one Multicall3 sub-call.
type Call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// Result is one Multicall3 sub-call outcome.
type Result struct {
	Success    bool
	ReturnData []byte
}

var (
	Token0         = Method[common.Address]{abi: pairABI, name: "token0", decode: firstAddress}
	Token1         = Method[common.Address]{abi: pairABI, name: "token1", decode: firstAddress}
	GetReserves    = Method[Reserves]{abi: pairABI, name: "getReserves", decode: decodeReserves}
	Decimals       = Method[uint8]{abi: erc20ABI, name: "decimals", decode: firstUint8}
	AllPairs       = Method[common.Address]{abi: factoryABI, name: "allPairs", decode: firstAddress}
	AllPairsLength = Method[*big.Int]{abi: factoryABI, name: "allPairsLength", decode: firstBigInt}
	GetPair        = Method[common.Address]{abi: factoryABI, name: "getPair", decode: firstAddress}
	Aggregate3     = Method[[]Result]{abi: multicall3ABI, name: "aggregate3", decode: decodeResults}
)

// SwapCalldata encodes a pair swap call.
func SwapCalldata(amount0Out, amount1Out *big.Int, to common.Address, data []byte) ([]byte, error) {
	if data == nil {
		data = []byte{}
	}
	return Method[struct{}]{abi: pairABI, name: "swap"}.Encode(amount0Out, amount1Out, to, data)
}

// PairCreatedTopic returns the topic0 of the factory PairCreated event.
func PairCreatedTopic() (common.Hash, error) {
	parsed, err := factoryABI.get()
	if err != nil {
		return common.Hash{}, fmt.Errorf("parse factory abi: %w", err)
	}
	return parsed.Events["PairCreated"].ID, nil
}

// DecodePairCreated extracts the pair address from a PairCreated log.
func DecodePairCreated(log types.Log) (common.Address, error) {
	parsed, err := factoryABI.get()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse factory abi: %w", err)
	}
	event := parsed.Events["PairCreated"]
	if len(log.Topics) == 0 || log.Topics[0] != event.ID {
		return common.Address{}, fmt.Errorf("not a PairCreated log")
	}
	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack PairCreated: %w", err)
	}
	return firstAddress(values)
}
