package lending

import (
	"github.com/shopspring/decimal"
)

// CurveConfig captures the protocol-defined parameters of a reserve's
// three-slope interest rate curve. Every field is expressed at RateScale.
type CurveConfig struct {
	// UtilTarget is the utilisation the reactive modifier steers towards and
	// the end of the first slope.
	UtilTarget FixedPoint
	// MaxUtilization caps new borrowing; it does not shape the curve.
	MaxUtilization FixedPoint
	// RBase is the rate floor.
	RBase FixedPoint
	// ROne is the rate contributed by the first slope at UtilTarget.
	ROne FixedPoint
	// RTwo is the rate contributed by the second slope at the emergency
	// threshold.
	RTwo FixedPoint
	// RThree is the emergency slope contribution at full utilisation.
	RThree FixedPoint
	// Reactivity governs how fast the reactive modifier drifts per second.
	Reactivity FixedPoint
}

// CurveParams is the human readable form of a curve used by configuration
// files and the HTTP surface. Values are decimals, e.g. 0.75 for 75%.
type CurveParams struct {
	UtilTarget     decimal.Decimal `toml:"util_target" json:"util_target"`
	MaxUtilization decimal.Decimal `toml:"max_util" json:"max_util"`
	RBase          decimal.Decimal `toml:"r_base" json:"r_base"`
	ROne           decimal.Decimal `toml:"r_one" json:"r_one"`
	RTwo           decimal.Decimal `toml:"r_two" json:"r_two"`
	RThree         decimal.Decimal `toml:"r_three" json:"r_three"`
	Reactivity     decimal.Decimal `toml:"reactivity" json:"reactivity"`
}

// Curve converts the parameters to fixed point at RateScale.
func (p CurveParams) Curve() (CurveConfig, error) {
	var (
		cfg CurveConfig
		err error
	)
	fields := []struct {
		dst *FixedPoint
		src decimal.Decimal
	}{
		{&cfg.UtilTarget, p.UtilTarget},
		{&cfg.MaxUtilization, p.MaxUtilization},
		{&cfg.RBase, p.RBase},
		{&cfg.ROne, p.ROne},
		{&cfg.RTwo, p.RTwo},
		{&cfg.RThree, p.RThree},
		{&cfg.Reactivity, p.Reactivity},
	}
	for _, field := range fields {
		if *field.dst, err = ToFixed(field.src, RateScale); err != nil {
			return CurveConfig{}, err
		}
	}
	return cfg, nil
}

// Params returns the decimal form of the curve.
func (c CurveConfig) Params() CurveParams {
	return CurveParams{
		UtilTarget:     c.UtilTarget.Decimal(),
		MaxUtilization: c.MaxUtilization.Decimal(),
		RBase:          c.RBase.Decimal(),
		ROne:           c.ROne.Decimal(),
		RTwo:           c.RTwo.Decimal(),
		RThree:         c.RThree.Decimal(),
		Reactivity:     c.Reactivity.Decimal(),
	}
}

// Clone returns a deep copy of the curve.
func (c CurveConfig) Clone() CurveConfig {
	return CurveConfig{
		UtilTarget:     c.UtilTarget.Clone(),
		MaxUtilization: c.MaxUtilization.Clone(),
		RBase:          c.RBase.Clone(),
		ROne:           c.ROne.Clone(),
		RTwo:           c.RTwo.Clone(),
		RThree:         c.RThree.Clone(),
		Reactivity:     c.Reactivity.Clone(),
	}
}

// CheckScales fails with ErrScaleMismatch unless every field is at RateScale.
func (c CurveConfig) CheckScales() error {
	fields := []struct {
		name string
		fp   FixedPoint
	}{
		{"util_target", c.UtilTarget},
		{"max_util", c.MaxUtilization},
		{"r_base", c.RBase},
		{"r_one", c.ROne},
		{"r_two", c.RTwo},
		{"r_three", c.RThree},
		{"reactivity", c.Reactivity},
	}
	for _, field := range fields {
		if field.fp.Scale != RateScale {
			return invalidScale(field.name, field.fp.Scale, RateScale)
		}
	}
	return nil
}

// NewCurve builds a curve from decimal strings. It panics on malformed input
// and is intended for defaults and tests.
func NewCurve(utilTarget, maxUtil, rBase, rOne, rTwo, rThree, reactivity string) CurveConfig {
	return CurveConfig{
		UtilTarget:     MustFixed(utilTarget, RateScale),
		MaxUtilization: MustFixed(maxUtil, RateScale),
		RBase:          MustFixed(rBase, RateScale),
		ROne:           MustFixed(rOne, RateScale),
		RTwo:           MustFixed(rTwo, RateScale),
		RThree:         MustFixed(rThree, RateScale),
		Reactivity:     MustFixed(reactivity, RateScale),
	}
}

// DefaultCurve mirrors a typical volatile-asset reserve: 75% target
// utilisation with a steep emergency slope.
var DefaultCurve = NewCurve("0.75", "0.95", "0.005", "0.04", "0.2", "1", "0.0000200")
