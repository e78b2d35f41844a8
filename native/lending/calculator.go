package lending

import (
	"log/slog"

	"github.com/shopspring/decimal"
)

const (
	// BorrowCompoundingPeriods compounds borrow interest daily.
	BorrowCompoundingPeriods = 365
	// SupplyCompoundingPeriods compounds supply interest weekly.
	SupplyCompoundingPeriods = 52
)

var (
	hundred = decimal.NewFromInt(100)

	// DefaultAPYCeiling caps displayed APY at 10,000%.
	DefaultAPYCeiling = decimal.NewFromInt(100)
)

// APY is a compounded yield. Clamped reports that the true value exceeded the
// calculator's ceiling and Value holds the ceiling instead.
type APY struct {
	Value   decimal.Decimal
	Clamped bool
}

// RateSnapshot aggregates every rate derived from one reserve snapshot.
type RateSnapshot struct {
	ReserveID   string
	Utilization decimal.Decimal
	BorrowAPR   decimal.Decimal
	SupplyAPR   decimal.Decimal
	BorrowAPY   APY
	SupplyAPY   APY
}

// ClampObserver is notified whenever an APY is clamped to the ceiling.
type ClampObserver func(apr decimal.Decimal, periods int)

// RateCalculator derives borrow and supply rates from reserve snapshots. It
// holds no mutable state and is safe for concurrent use.
type RateCalculator struct {
	logger     *slog.Logger
	observer   ClampObserver
	apyCeiling decimal.Decimal
}

// Option customises a RateCalculator.
type Option func(*RateCalculator)

// WithLogger sets the logger used for clamp warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *RateCalculator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClampObserver registers a callback for clamped APY results.
func WithClampObserver(fn ClampObserver) Option {
	return func(c *RateCalculator) { c.observer = fn }
}

// WithAPYCeiling overrides DefaultAPYCeiling. Non-positive values are ignored.
func WithAPYCeiling(ceiling decimal.Decimal) Option {
	return func(c *RateCalculator) {
		if ceiling.IsPositive() {
			c.apyCeiling = ceiling
		}
	}
}

// NewRateCalculator constructs a calculator.
func NewRateCalculator(opts ...Option) *RateCalculator {
	c := &RateCalculator{
		logger:     slog.Default(),
		apyCeiling: DefaultAPYCeiling,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APYCeiling returns the configured clamp.
func (c *RateCalculator) APYCeiling() decimal.Decimal {
	return c.apyCeiling
}

// BorrowAPR returns the borrow rate as an unscaled decimal, e.g. 0.05 for 5%.
func (c *RateCalculator) BorrowAPR(reserve ReserveState) (decimal.Decimal, error) {
	rate, _, err := ReserveRate(reserve)
	return rate, err
}

// BorrowAPRPercent returns the borrow rate expressed as a percentage.
func (c *RateCalculator) BorrowAPRPercent(reserve ReserveState) (decimal.Decimal, error) {
	rate, err := c.BorrowAPR(reserve)
	if err != nil {
		return zero, err
	}
	return Percent(rate), nil
}

// SupplyAPR returns the rate earned by lenders: the borrow rate scaled by
// utilisation, less the backstop's share. backstopTakeRate must lie in
// [0, 1]; a take rate of exactly 1 yields zero.
func (c *RateCalculator) SupplyAPR(reserve ReserveState, backstopTakeRate decimal.Decimal) (decimal.Decimal, error) {
	if err := checkTakeRate(backstopTakeRate); err != nil {
		return zero, err
	}
	util, err := Utilization(reserve)
	if err != nil {
		return zero, err
	}
	if util.IsZero() {
		return zero, nil
	}
	rate, err := KinkedRate(util, reserve.Curve, reserve.Modifier())
	if err != nil {
		return zero, err
	}
	return supplyRate(rate, util, backstopTakeRate), nil
}

// ConvertAPRToAPY compounds apr over periods: (1 + apr/n)^n - 1. Results
// above the ceiling are clamped, logged and flagged rather than returned as
// errors.
func (c *RateCalculator) ConvertAPRToAPY(apr decimal.Decimal, periods int) (APY, error) {
	if apr.IsNegative() {
		return APY{}, invalidInput("negative apr %s", apr)
	}
	if periods <= 0 {
		return APY{}, invalidInput("compounding periods must be positive, got %d", periods)
	}
	precision := compoundingPrecision(apr)
	base := one.Add(apr.DivRound(decimal.NewFromInt(int64(periods)), precision))
	growth, clamped := compound(base, int64(periods), c.apyCeiling.Add(one), precision)
	if clamped {
		c.reportClamp(apr, periods)
		return APY{Value: c.apyCeiling, Clamped: true}, nil
	}
	apy := growth.Sub(one)
	if apy.GreaterThan(c.apyCeiling) {
		c.reportClamp(apr, periods)
		return APY{Value: c.apyCeiling, Clamped: true}, nil
	}
	return APY{Value: apy}, nil
}

// Snapshot computes every rate for reserve in one pass.
func (c *RateCalculator) Snapshot(reserve ReserveState, backstopTakeRate decimal.Decimal) (RateSnapshot, error) {
	if err := checkTakeRate(backstopTakeRate); err != nil {
		return RateSnapshot{}, err
	}
	borrow, util, err := ReserveRate(reserve)
	if err != nil {
		return RateSnapshot{}, err
	}
	supply := zero
	if !util.IsZero() {
		supply = supplyRate(borrow, util, backstopTakeRate)
	}
	borrowAPY, err := c.ConvertAPRToAPY(borrow, BorrowCompoundingPeriods)
	if err != nil {
		return RateSnapshot{}, err
	}
	supplyAPY, err := c.ConvertAPRToAPY(supply, SupplyCompoundingPeriods)
	if err != nil {
		return RateSnapshot{}, err
	}
	return RateSnapshot{
		ReserveID:   reserve.ID,
		Utilization: util,
		BorrowAPR:   borrow,
		SupplyAPR:   supply,
		BorrowAPY:   borrowAPY,
		SupplyAPY:   supplyAPY,
	}, nil
}

func (c *RateCalculator) reportClamp(apr decimal.Decimal, periods int) {
	c.logger.Warn("apy clamped to ceiling",
		slog.String("apr", apr.String()),
		slog.Int("periods", periods),
		slog.String("ceiling", c.apyCeiling.String()),
	)
	if c.observer != nil {
		c.observer(apr, periods)
	}
}

// Percent converts an unscaled rate to a percentage.
func Percent(rate decimal.Decimal) decimal.Decimal {
	return rate.Mul(hundred)
}

func checkTakeRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(one) {
		return outOfBounds("backstop take rate %s outside [0, 1]", rate)
	}
	return nil
}

func supplyRate(borrowRate, util, takeRate decimal.Decimal) decimal.Decimal {
	capture := one.Sub(takeRate).Mul(util)
	return borrowRate.Mul(capture)
}

// compoundingPrecision widens DivisionPrecision by twice the fractional
// digits of apr, enough to resolve the apr squared gain of compounding.
func compoundingPrecision(apr decimal.Decimal) int32 {
	if exp := apr.Exponent(); exp < 0 {
		return DivisionPrecision - 2*exp
	}
	return DivisionPrecision
}

// compound raises base (>= 1) to periods by squaring, rounding every product
// to precision fractional digits. Once any factor still required exceeds
// limit the final product must too, so it stops early and reports true.
func compound(base decimal.Decimal, periods int64, limit decimal.Decimal, precision int32) (decimal.Decimal, bool) {
	result := one
	for periods > 0 {
		if periods&1 == 1 {
			result = result.Mul(base).Round(precision)
			if result.GreaterThan(limit) {
				return limit, true
			}
		}
		periods >>= 1
		if periods == 0 {
			break
		}
		base = base.Mul(base).Round(precision)
		if base.GreaterThan(limit) {
			return limit, true
		}
	}
	return result, false
}
