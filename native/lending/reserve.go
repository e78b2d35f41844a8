package lending

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ReserveState is an immutable snapshot of one asset's pool reserve, already
// decoded from whatever wire format the data source uses. Amounts are raw
// scaled integers at AssetDecimals.
type ReserveState struct {
	// ID identifies the reserve within its pool, typically the asset
	// contract address.
	ID string
	// AssetDecimals is the native scale of TotalSupplied and TotalBorrowed.
	AssetDecimals uint8
	// TotalSupplied is the aggregate liquidity supplied to the reserve,
	// including the portion currently lent out.
	TotalSupplied *big.Int
	// TotalBorrowed is the outstanding borrowed principal.
	TotalBorrowed *big.Int
	// Curve holds the interest rate curve parameters.
	Curve CurveConfig
	// IRModifier is the current reactive interest rate modifier at
	// RateScale. A nil value is treated as 1.0.
	IRModifier FixedPoint
	// DebtIndexRate is the accrued-interest index applied to borrowed
	// principal, at DebtIndexScale.
	DebtIndexRate FixedPoint
	// ApplyDebtIndex selects whether TotalBorrowed is principal that must be
	// multiplied by DebtIndexRate to obtain liabilities.
	ApplyDebtIndex bool
}

// Clone returns a deep copy of the reserve snapshot.
func (r ReserveState) Clone() ReserveState {
	clone := r
	if r.TotalSupplied != nil {
		clone.TotalSupplied = new(big.Int).Set(r.TotalSupplied)
	}
	if r.TotalBorrowed != nil {
		clone.TotalBorrowed = new(big.Int).Set(r.TotalBorrowed)
	}
	clone.Curve = r.Curve.Clone()
	if r.IRModifier.Value != nil {
		clone.IRModifier = r.IRModifier.Clone()
	}
	if r.DebtIndexRate.Value != nil {
		clone.DebtIndexRate = r.DebtIndexRate.Clone()
	}
	return clone
}

// Validate checks the structural invariants of the snapshot: non-negative
// totals, explicit scales and a positive debt index when one is applied.
func (r ReserveState) Validate() error {
	if r.AssetDecimals > MaxScale {
		return invalidInput("asset decimals %d exceed %d", r.AssetDecimals, MaxScale)
	}
	if r.TotalSupplied != nil && r.TotalSupplied.Sign() < 0 {
		return invalidInput("total supplied is negative")
	}
	if r.TotalBorrowed != nil && r.TotalBorrowed.Sign() < 0 {
		return invalidInput("total borrowed is negative")
	}
	if err := r.Curve.CheckScales(); err != nil {
		return err
	}
	if r.IRModifier.Value != nil {
		if r.IRModifier.Scale != RateScale {
			return invalidScale("ir_modifier", r.IRModifier.Scale, RateScale)
		}
		if r.IRModifier.Sign() < 0 {
			return invalidInput("ir_modifier is negative")
		}
	}
	if r.ApplyDebtIndex {
		if r.DebtIndexRate.Scale != DebtIndexScale {
			return invalidScale("d_rate", r.DebtIndexRate.Scale, DebtIndexScale)
		}
		if r.DebtIndexRate.Sign() <= 0 {
			return invalidInput("d_rate must be positive")
		}
	}
	return nil
}

// SuppliedDecimal returns TotalSupplied in token units.
func (r ReserveState) SuppliedDecimal() decimal.Decimal {
	return ToFloat(r.TotalSupplied, r.AssetDecimals)
}

// BorrowedDecimal returns TotalBorrowed in token units.
func (r ReserveState) BorrowedDecimal() decimal.Decimal {
	return ToFloat(r.TotalBorrowed, r.AssetDecimals)
}

// Liabilities returns the borrowed amount in token units, including accrued
// interest when the debt index applies.
func (r ReserveState) Liabilities() decimal.Decimal {
	borrowed := r.BorrowedDecimal()
	if !r.ApplyDebtIndex {
		return borrowed
	}
	return borrowed.Mul(r.DebtIndexRate.Decimal())
}

// Modifier returns the interest rate modifier as a decimal, defaulting to 1.
func (r ReserveState) Modifier() decimal.Decimal {
	if r.IRModifier.Value == nil {
		return decimal.NewFromInt(1)
	}
	return r.IRModifier.Decimal()
}

func invalidScale(field string, got, want uint8) error {
	return fmt.Errorf("%w: %s at scale %d, want %d", ErrScaleMismatch, field, got, want)
}
