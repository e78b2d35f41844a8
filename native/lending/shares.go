package lending

import "math/big"

// Token conversions between pool shares and underlying assets. bRate and
// dRate are exchange rates at DebtIndexScale. Every conversion rounds in the
// protocol's favour: suppliers receive floored amounts, borrowers owe ceiled
// amounts.

// BTokensToAssets returns the underlying assets redeemable for bTokens.
func BTokensToAssets(bTokens *big.Int, bRate FixedPoint) (*big.Int, error) {
	if err := checkShareRate("b_rate", bRate); err != nil {
		return nil, err
	}
	return MulFloor(bTokens, bRate.Value, Scalar(bRate.Scale))
}

// AssetsToBTokens returns the bTokens minted for a supply of amount.
func AssetsToBTokens(amount *big.Int, bRate FixedPoint) (*big.Int, error) {
	if err := checkShareRate("b_rate", bRate); err != nil {
		return nil, err
	}
	return DivFloor(amount, bRate.Value, Scalar(bRate.Scale))
}

// DTokensToAssets returns the liabilities represented by dTokens.
func DTokensToAssets(dTokens *big.Int, dRate FixedPoint) (*big.Int, error) {
	if err := checkShareRate("d_rate", dRate); err != nil {
		return nil, err
	}
	return MulCeil(dTokens, dRate.Value, Scalar(dRate.Scale))
}

// AssetsToDTokens returns the dTokens minted for a borrow of amount.
func AssetsToDTokens(amount *big.Int, dRate FixedPoint) (*big.Int, error) {
	if err := checkShareRate("d_rate", dRate); err != nil {
		return nil, err
	}
	return DivCeil(amount, dRate.Value, Scalar(dRate.Scale))
}

func checkShareRate(name string, rate FixedPoint) error {
	if rate.Scale != DebtIndexScale {
		return invalidScale(name, rate.Scale, DebtIndexScale)
	}
	if rate.Sign() <= 0 {
		return invalidInput("%s must be positive", name)
	}
	return nil
}
