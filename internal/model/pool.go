package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"poolScope/internal/pricing"
)

// Pool is a point-in-time snapshot of a constant product pair.
// Reserve0 belongs to TokenA and Reserve1 to TokenB.
type Pool struct {
	Address        common.Address `json:"address"`
	TokenA         common.Address `json:"tokenA"`
	TokenADecimals uint8          `json:"tokenADecimals"`
	TokenB         common.Address `json:"tokenB"`
	TokenBDecimals uint8          `json:"tokenBDecimals"`
	Reserve0       *big.Int       `json:"reserve0"`
	Reserve1       *big.Int       `json:"reserve1"`
	Fee            uint32         `json:"fee"`
}

// IsPopulated reports whether both tokens and both reserves are non-zero.
func (p Pool) IsPopulated() bool {
	if p.TokenA == (common.Address{}) || p.TokenB == (common.Address{}) {
		return false
	}
	return isPositive(p.Reserve0) && isPositive(p.Reserve1)
}

// SimulateSwap returns the amount of the opposite token received for amountIn of tokenIn.
// Any tokenIn other than TokenA is treated as TokenB.
func (p Pool) SimulateSwap(tokenIn common.Address, amountIn *big.Int) *big.Int {
	if tokenIn == p.TokenA {
		return pricing.GetAmountOut(amountIn, p.Reserve0, p.Reserve1, p.Fee)
	}
	return pricing.GetAmountOut(amountIn, p.Reserve1, p.Reserve0, p.Fee)
}

// CalculatePrice64x64 returns the price of baseToken in units of the other token as a
// 64.64 fixed point value, after normalizing both reserves to the same decimals.
// A zero base reserve yields 1.0.
func (p Pool) CalculatePrice64x64(baseToken common.Address) (*big.Int, error) {
	r0, r1 := p.normalizedReserves()

	if baseToken == p.TokenA {
		if r0.Sign() == 0 {
			return new(big.Int).Set(pricing.One64x64), nil
		}
		return pricing.DivUU(r1, r0)
	}
	if r1.Sign() == 0 {
		return new(big.Int).Set(pricing.One64x64), nil
	}
	return pricing.DivUU(r0, r1)
}

// CalculatePrice is CalculatePrice64x64 converted to a float.
func (p Pool) CalculatePrice(baseToken common.Address) (float64, error) {
	q, err := p.CalculatePrice64x64(baseToken)
	if err != nil {
		return 0, err
	}
	return pricing.Q64ToFloat(q), nil
}

// Other returns the token paired with token, and false if token is not in the pool.
func (p Pool) Other(token common.Address) (common.Address, bool) {
	switch token {
	case p.TokenA:
		return p.TokenB, true
	case p.TokenB:
		return p.TokenA, true
	default:
		return common.Address{}, false
	}
}

// ReserveOf returns the reserve held for token, or nil if token is not in the pool.
func (p Pool) ReserveOf(token common.Address) *big.Int {
	switch token {
	case p.TokenA:
		return p.Reserve0
	case p.TokenB:
		return p.Reserve1
	default:
		return nil
	}
}

// Equal compares two pools by value.
func (p Pool) Equal(other Pool) bool {
	return p.Address == other.Address &&
		p.TokenA == other.TokenA &&
		p.TokenADecimals == other.TokenADecimals &&
		p.TokenB == other.TokenB &&
		p.TokenBDecimals == other.TokenBDecimals &&
		bigEqual(p.Reserve0, other.Reserve0) &&
		bigEqual(p.Reserve1, other.Reserve1) &&
		p.Fee == other.Fee
}

func (p Pool) normalizedReserves() (*big.Int, *big.Int) {
	r0 := bigOrZero(p.Reserve0)
	r1 := bigOrZero(p.Reserve1)

	shift := int(p.TokenADecimals) - int(p.TokenBDecimals)
	if shift < 0 {
		r0.Mul(r0, pricing.Pow10(uint(-shift)))
	} else if shift > 0 {
		r1.Mul(r1, pricing.Pow10(uint(shift)))
	}
	return r0, r1
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func bigEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Cmp(b) == 0
}

func isPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
