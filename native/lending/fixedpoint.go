package lending

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// Scales used by the protocol. Every fixed-point value carries its scale
// explicitly; nothing in this package infers it from context.
const (
	Scale7  uint8 = 7
	Scale9  uint8 = 9
	Scale12 uint8 = 12

	// MaxScale bounds the scales accepted by conversions.
	MaxScale uint8 = 38

	// RateScale is the scale of curve parameters, utilisation ratios and the
	// interest rate modifier.
	RateScale = Scale7
	// DebtIndexScale is the canonical scale of the debt index rate (dRate).
	DebtIndexScale = Scale12
)

// DivisionPrecision is the number of fractional digits kept by decimal
// divisions inside the engine.
const DivisionPrecision int32 = 18

var scalars [MaxScale + 1]*big.Int

func init() {
	ten := big.NewInt(10)
	for i := range scalars {
		scalars[i] = new(big.Int).Exp(ten, big.NewInt(int64(i)), nil)
	}
}

// Scalar returns 10^scale. The returned value must not be modified.
func Scalar(scale uint8) *big.Int {
	if scale > MaxScale {
		return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale)), nil)
	}
	return scalars[scale]
}

// FixedPoint is a scaled integer: Value / 10^Scale. A scale-7 value of
// 10_000_000 represents 1.0.
type FixedPoint struct {
	Value *big.Int
	Scale uint8
}

// NewFixedPoint wraps raw at the supplied scale. The integer is copied.
func NewFixedPoint(raw *big.Int, scale uint8) FixedPoint {
	v := new(big.Int)
	if raw != nil {
		v.Set(raw)
	}
	return FixedPoint{Value: v, Scale: scale}
}

// FixedFromInt64 wraps a raw int64 at the supplied scale.
func FixedFromInt64(raw int64, scale uint8) FixedPoint {
	return FixedPoint{Value: big.NewInt(raw), Scale: scale}
}

// One returns 1.0 at the supplied scale.
func One(scale uint8) FixedPoint {
	return NewFixedPoint(Scalar(scale), scale)
}

// ToFixed converts x to a scaled integer at scale. Values with more
// fractional digits than scale are rounded half away from zero.
func ToFixed(x decimal.Decimal, scale uint8) (FixedPoint, error) {
	if scale > MaxScale {
		return FixedPoint{}, invalidInput("scale %d exceeds %d", scale, MaxScale)
	}
	return FixedPoint{Value: x.Shift(int32(scale)).Round(0).BigInt(), Scale: scale}, nil
}

// MustFixed is ToFixed for package-level constants.
func MustFixed(value string, scale uint8) FixedPoint {
	fp, err := ToFixed(decimal.RequireFromString(value), scale)
	if err != nil {
		panic(err)
	}
	return fp
}

// FromFloat64 converts a binary float to a fixed-point value. NaN and
// infinities are rejected.
func FromFloat64(f float64, scale uint8) (FixedPoint, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return FixedPoint{}, invalidInput("non-finite float %v", f)
	}
	return ToFixed(decimal.NewFromFloat(f), scale)
}

// ToFloat returns the exact decimal represented by value at scale.
func ToFloat(value *big.Int, scale uint8) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, -int32(scale))
}

// Decimal returns the exact decimal represented by f.
func (f FixedPoint) Decimal() decimal.Decimal {
	return ToFloat(f.Value, f.Scale)
}

// IsZero reports whether the value is unset or zero.
func (f FixedPoint) IsZero() bool {
	return f.Value == nil || f.Value.Sign() == 0
}

// Sign returns -1, 0 or +1.
func (f FixedPoint) Sign() int {
	if f.Value == nil {
		return 0
	}
	return f.Value.Sign()
}

// Clone returns a deep copy.
func (f FixedPoint) Clone() FixedPoint {
	return NewFixedPoint(f.Value, f.Scale)
}

// String renders the value as a decimal string.
func (f FixedPoint) String() string {
	return f.Decimal().StringFixed(int32(f.Scale))
}

// Int64 returns the raw scaled integer, failing when it does not fit.
func (f FixedPoint) Int64() (int64, error) {
	if f.Value == nil {
		return 0, nil
	}
	if !f.Value.IsInt64() {
		return 0, invalidInput("fixed-point value %s overflows int64", f.Value)
	}
	return f.Value.Int64(), nil
}

// Rescale converts f to scale. Narrowing rounds half away from zero.
func (f FixedPoint) Rescale(scale uint8) (FixedPoint, error) {
	if f.Scale == scale {
		return f.Clone(), nil
	}
	return ToFixed(f.Decimal(), scale)
}

func (f FixedPoint) sameScale(other FixedPoint) error {
	if f.Scale != other.Scale {
		return fmt.Errorf("%w: %d vs %d", ErrScaleMismatch, f.Scale, other.Scale)
	}
	return nil
}

// Add returns f + other. Both operands must share a scale.
func (f FixedPoint) Add(other FixedPoint) (FixedPoint, error) {
	if err := f.sameScale(other); err != nil {
		return FixedPoint{}, err
	}
	return FixedPoint{Value: new(big.Int).Add(orZero(f.Value), orZero(other.Value)), Scale: f.Scale}, nil
}

// Sub returns f - other. Both operands must share a scale.
func (f FixedPoint) Sub(other FixedPoint) (FixedPoint, error) {
	if err := f.sameScale(other); err != nil {
		return FixedPoint{}, err
	}
	return FixedPoint{Value: new(big.Int).Sub(orZero(f.Value), orZero(other.Value)), Scale: f.Scale}, nil
}

// MulFloor returns floor(f * other) at the shared scale.
func (f FixedPoint) MulFloor(other FixedPoint) (FixedPoint, error) {
	if err := f.sameScale(other); err != nil {
		return FixedPoint{}, err
	}
	v, err := MulFloor(f.Value, other.Value, Scalar(f.Scale))
	if err != nil {
		return FixedPoint{}, err
	}
	return FixedPoint{Value: v, Scale: f.Scale}, nil
}

// DivFloor returns floor(f / other) at the shared scale.
func (f FixedPoint) DivFloor(other FixedPoint) (FixedPoint, error) {
	if err := f.sameScale(other); err != nil {
		return FixedPoint{}, err
	}
	v, err := DivFloor(f.Value, other.Value, Scalar(f.Scale))
	if err != nil {
		return FixedPoint{}, err
	}
	return FixedPoint{Value: v, Scale: f.Scale}, nil
}

// Cmp compares f and other. Both operands must share a scale.
func (f FixedPoint) Cmp(other FixedPoint) (int, error) {
	if err := f.sameScale(other); err != nil {
		return 0, err
	}
	return orZero(f.Value).Cmp(orZero(other.Value)), nil
}

// MulFloor returns floor(x * y / scalar).
func MulFloor(x, y, scalar *big.Int) (*big.Int, error) {
	if scalar == nil || scalar.Sign() == 0 {
		return nil, invalidInput("zero scalar")
	}
	return quoFloor(new(big.Int).Mul(orZero(x), orZero(y)), scalar), nil
}

// MulCeil returns ceil(x * y / scalar).
func MulCeil(x, y, scalar *big.Int) (*big.Int, error) {
	if scalar == nil || scalar.Sign() == 0 {
		return nil, invalidInput("zero scalar")
	}
	return quoCeil(new(big.Int).Mul(orZero(x), orZero(y)), scalar), nil
}

// DivFloor returns floor(numerator * scalar / denominator).
func DivFloor(numerator, denominator, scalar *big.Int) (*big.Int, error) {
	if denominator == nil || denominator.Sign() == 0 {
		return nil, invalidInput("division by zero")
	}
	return quoFloor(new(big.Int).Mul(orZero(numerator), orZero(scalar)), denominator), nil
}

// DivCeil returns ceil(numerator * scalar / denominator). It is used wherever
// rounding must favour the protocol rather than the user.
func DivCeil(numerator, denominator, scalar *big.Int) (*big.Int, error) {
	if denominator == nil || denominator.Sign() == 0 {
		return nil, invalidInput("division by zero")
	}
	return quoCeil(new(big.Int).Mul(orZero(numerator), orZero(scalar)), denominator), nil
}

func quoFloor(n, d *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))
	if r.Sign() != 0 && (r.Sign() < 0) != (d.Sign() < 0) {
		q.Sub(q, big.NewInt(1))
	}
	return q
}

func quoCeil(n, d *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))
	if r.Sign() != 0 && (r.Sign() < 0) == (d.Sign() < 0) {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}

// div divides with the engine-wide precision.
func div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, DivisionPrecision)
}
