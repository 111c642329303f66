package pricing

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	// One64x64 is 1.0 in 64.64 fixed point.
	One64x64 = new(big.Int).Lsh(big.NewInt(1), 64)

	maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	q64Float   = new(big.Float).SetInt(One64x64)

	// ErrDivisionByZero is returned by DivUU for a zero divisor.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrNegativeOperand is returned when a signed value is passed where an unsigned one is required.
	ErrNegativeOperand = errors.New("operand must be non-negative")
	// ErrPriceOverflow is returned when a 64.64 quotient does not fit in 128 bits.
	ErrPriceOverflow = errors.New("64.64 quotient overflows 128 bits")
)

// DivUU divides two unsigned integers and returns the quotient as a 64.64 fixed point
// value. The numerator is shifted left by 64 bits in a 256-bit accumulator before the
// division; operands too wide for the accumulator are divided with math/big instead.
func DivUU(x, y *big.Int) (*big.Int, error) {
	if x == nil || y == nil {
		return nil, ErrNegativeOperand
	}
	if x.Sign() < 0 || y.Sign() < 0 {
		return nil, ErrNegativeOperand
	}
	if y.Sign() == 0 {
		return nil, ErrDivisionByZero
	}

	var quotient *big.Int
	xu, xOverflow := uint256.FromBig(x)
	yu, yOverflow := uint256.FromBig(y)
	if !xOverflow && !yOverflow && xu.BitLen() <= 256-64 {
		acc := new(uint256.Int).Lsh(xu, 64)
		quotient = acc.Div(acc, yu).ToBig()
	} else {
		acc := new(big.Int).Lsh(x, 64)
		quotient = acc.Quo(acc, y)
	}

	if quotient.Cmp(maxUint128) > 0 {
		return nil, ErrPriceOverflow
	}
	return quotient, nil
}

// Q64ToFloat converts a 64.64 fixed point value into a float64.
func Q64ToFloat(q *big.Int) float64 {
	if q == nil {
		return 0
	}
	f := new(big.Float).SetInt(q)
	f.Quo(f, q64Float)
	out, _ := f.Float64()
	return out
}

// Pow10 returns 10^exp as a fresh big.Int.
func Pow10(exp uint) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(uint64(exp)), nil)
}
