package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

func firstAddress(values []interface{}) (common.Address, error) {
	if len(values) == 0 {
		return common.Address{}, fmt.Errorf("empty result")
	}
	return asAddress(values[0])
}

func firstBigInt(values []interface{}) (*big.Int, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("empty result")
	}
	return asBigInt(values[0])
}

func firstUint8(values []interface{}) (uint8, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("empty result")
	}
	return asUint8(values[0])
}

func decodeReserves(values []interface{}) (Reserves, error) {
	if len(values) != 3 {
		return Reserves{}, fmt.Errorf("return size %d", len(values))
	}
	r0, err := asBigInt(values[0])
	if err != nil {
		return Reserves{}, fmt.Errorf("reserve0: %w", err)
	}
	r1, err := asBigInt(values[1])
	if err != nil {
		return Reserves{}, fmt.Errorf("reserve1: %w", err)
	}
	ts, ok := values[2].(uint32)
	if !ok {
		return Reserves{}, fmt.Errorf("unsupported timestamp type %T", values[2])
	}
	return Reserves{Reserve0: r0, Reserve1: r1, BlockTimestampLast: ts}, nil
}

func decodeResults(values []interface{}) ([]Result, error) {
	if len(values) != 1 {
		return nil, fmt.Errorf("return size %d", len(values))
	}
	results, ok := abi.ConvertType(values[0], new([]Result)).(*[]Result)
	if !ok || results == nil {
		return nil, fmt.Errorf("unsupported results type %T", values[0])
	}
	return *results, nil
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if !v.IsUint64() || v.Uint64() > 255 {
			return 0, fmt.Errorf("uint8 overflow: %s", v.String())
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}
