package settlement

import (
	"math/big"

	"github.com/everbloomhq/exchange/pkg/errors"
)

// roundingToleranceDenominator bounds the relative rounding error accepted by
// the partial-amount formulas: a fill is rejected when the discarded remainder
// reaches 0.1% of the unrounded product. This keeps dust orders from settling
// at a materially skewed price.
const roundingToleranceDenominator = 1000

var toleranceFactor = big.NewInt(roundingToleranceDenominator)

// floorScaled computes floor(numerator * scaleBy / denominator), rejecting the
// fill when the floor discards 0.1% or more of the exact result. The floor
// bias means the computed amount never exceeds the unrounded value.
func floorScaled(numerator, scaleBy, denominator *big.Int) (*big.Int, error) {
	if denominator.Sign() == 0 {
		return nil, errors.Arithmetic("division_by_zero", "zero denominator in partial amount")
	}
	product := new(big.Int).Mul(numerator, scaleBy)
	quo, rem := new(big.Int).QuoRem(product, denominator, new(big.Int))
	if rem.Sign() == 0 {
		return quo, nil
	}
	// rem/product >= 1/1000 means the relative error breaches tolerance.
	if new(big.Int).Mul(rem, toleranceFactor).CmpAbs(product) >= 0 {
		return nil, errors.Arithmetic("rounding_error", "floor rounding discards more than %s of the unrounded amount", "0.1%")
	}
	return quo, nil
}

// ceilScaled computes ceil(numerator * scaleBy / denominator) under the same
// tolerance. The ceiling bias means the computed amount never falls below the
// unrounded value.
func ceilScaled(numerator, scaleBy, denominator *big.Int) (*big.Int, error) {
	if denominator.Sign() == 0 {
		return nil, errors.Arithmetic("division_by_zero", "zero denominator in partial amount")
	}
	product := new(big.Int).Mul(numerator, scaleBy)
	quo, rem := new(big.Int).QuoRem(product, denominator, new(big.Int))
	if rem.Sign() == 0 {
		return quo, nil
	}
	// The ceiling adds denominator-rem to the product; that padding is the
	// rounding error to bound.
	padding := new(big.Int).Sub(denominator, rem)
	if new(big.Int).Mul(padding, toleranceFactor).CmpAbs(product) >= 0 {
		return nil, errors.Arithmetic("rounding_error", "ceiling rounding adds more than %s of the unrounded amount", "0.1%")
	}
	return quo.Add(quo, big.NewInt(1)), nil
}
