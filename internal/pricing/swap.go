package pricing

import "math/big"

const feeDenominator = 1000

// FeeFactor converts a fee in basis points into the per-mille multiplier applied to
// the input amount, e.g. 300 (0.30%) becomes 997. Fees of 100% or more yield 0.
func FeeFactor(feeBps uint32) int64 {
	factor := (10000 - int64(feeBps)/10) / 10
	if factor < 0 {
		return 0
	}
	return factor
}

// GetAmountOut returns the constant product output for amountIn after fees:
//
//	floor(amountIn*f*reserveOut / (reserveIn*1000 + amountIn*f))
//
// It returns zero when any operand is zero or negative.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) *big.Int {
	if !positive(amountIn) || !positive(reserveIn) || !positive(reserveOut) {
		return new(big.Int)
	}
	factor := FeeFactor(feeBps)
	if factor == 0 {
		return new(big.Int)
	}

	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(factor))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(feeDenominator))
	denominator.Add(denominator, amountInWithFee)

	return numerator.Quo(numerator, denominator)
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
