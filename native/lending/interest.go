package lending

import "github.com/shopspring/decimal"

var (
	zero = decimal.Zero
	one  = decimal.NewFromInt(1)

	// EmergencyUtilization is the protocol-wide threshold above which the
	// third slope applies. It is not configurable per reserve.
	EmergencyUtilization = decimal.RequireFromString("0.95")
)

// Utilization computes the share of supplied liquidity currently borrowed,
// using accrued liabilities when the reserve applies a debt index.
//
// An empty reserve reports zero utilisation, while an empty reserve that
// still carries debt is treated as fully utilised.
func Utilization(reserve ReserveState) (decimal.Decimal, error) {
	if err := reserve.Validate(); err != nil {
		return zero, err
	}
	if reserve.TotalSupplied == nil || reserve.TotalSupplied.Sign() == 0 {
		if reserve.TotalBorrowed != nil && reserve.TotalBorrowed.Sign() > 0 {
			return one, nil
		}
		return zero, nil
	}
	util := div(reserve.Liabilities(), reserve.SuppliedDecimal())
	if util.IsNegative() {
		return zero, invalidInput("negative utilization %s", util)
	}
	return util, nil
}

// KinkedRate evaluates the three-slope borrow rate for the supplied
// utilisation. The modifier scales the base rate and the first two slopes;
// above the emergency threshold only the rate at the threshold is scaled so
// that a low modifier never softens the emergency penalty. Zero utilisation
// yields the modified base rate with no slope contribution. The curve is
// continuous and non-decreasing on [0, 1] for every modifier.
func KinkedRate(utilization decimal.Decimal, curve CurveConfig, modifier decimal.Decimal) (decimal.Decimal, error) {
	if utilization.IsNegative() {
		return zero, invalidInput("negative utilization %s", utilization)
	}
	if modifier.IsNegative() {
		return zero, invalidInput("negative modifier %s", modifier)
	}
	if err := curve.CheckScales(); err != nil {
		return zero, err
	}
	base := curve.RBase.Decimal()
	if utilization.IsZero() {
		return base.Mul(modifier), nil
	}

	target := curve.UtilTarget.Decimal()
	rOne := curve.ROne.Decimal()
	rTwo := curve.RTwo.Decimal()

	switch {
	case utilization.LessThanOrEqual(target):
		rate := div(utilization, target).Mul(rOne).Add(base)
		return rate.Mul(modifier), nil
	case utilization.LessThanOrEqual(EmergencyUtilization):
		slope := div(utilization.Sub(target), EmergencyUtilization.Sub(target))
		rate := slope.Mul(rTwo).Add(rOne).Add(base)
		return rate.Mul(modifier), nil
	default:
		slope := div(utilization.Sub(EmergencyUtilization), one.Sub(EmergencyUtilization))
		extra := slope.Mul(curve.RThree.Decimal())
		intersection := modifier.Mul(rTwo.Add(rOne).Add(base))
		return extra.Add(intersection), nil
	}
}

// ReserveRate evaluates the kinked rate for a reserve at its current
// utilisation and modifier.
func ReserveRate(reserve ReserveState) (rate, utilization decimal.Decimal, err error) {
	utilization, err = Utilization(reserve)
	if err != nil {
		return zero, zero, err
	}
	rate, err = KinkedRate(utilization, reserve.Curve, reserve.Modifier())
	if err != nil {
		return zero, zero, err
	}
	return rate, utilization, nil
}
