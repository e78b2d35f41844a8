package lending

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	// MinModifier and MaxModifier bound the reactive modifier regardless of
	// how extreme utilisation is or how long since the last update.
	MinModifier = decimal.RequireFromString("0.1")
	MaxModifier = decimal.RequireFromString("10")
)

// ReactiveModifier tracks the interest rate modifier of a single reserve. It
// is a value: CalculateNewModifier returns a replacement rather than mutating
// the receiver.
type ReactiveModifier struct {
	CurrentModifier   decimal.Decimal
	LastUpdateTime    time.Time
	TargetUtilization decimal.Decimal
	Reactivity        decimal.Decimal
}

// NewReactiveModifier starts a modifier at 1.0 for a reserve first observed
// at now.
func NewReactiveModifier(curve CurveConfig, now time.Time) ReactiveModifier {
	return ReactiveModifier{
		CurrentModifier:   one,
		LastUpdateTime:    now,
		TargetUtilization: curve.UtilTarget.Decimal(),
		Reactivity:        curve.Reactivity.Decimal(),
	}
}

// CalculateNewModifier drifts the modifier linearly in elapsed seconds:
// upwards while utilisation sits above target, downwards while below. The
// result is clamped to [MinModifier, MaxModifier]. Observations at or before
// the last update, and observations exactly at target, leave the modifier
// unchanged.
func (m ReactiveModifier) CalculateNewModifier(utilization decimal.Decimal, now time.Time) (ReactiveModifier, error) {
	if utilization.IsNegative() {
		return m, invalidInput("negative utilization %s", utilization)
	}
	elapsed := int64(now.Sub(m.LastUpdateTime) / time.Second)
	if elapsed <= 0 {
		return m, nil
	}
	target := m.TargetUtilization
	if utilization.Equal(target) {
		return m, nil
	}

	next := m
	next.LastUpdateTime = now
	deltaTime := decimal.NewFromInt(elapsed)

	if utilization.GreaterThan(target) {
		if !target.LessThan(one) {
			return m, invalidInput("target utilization %s leaves no headroom", target)
		}
		excess := div(utilization.Sub(target), one.Sub(target))
		delta := excess.Mul(m.Reactivity).Mul(deltaTime)
		next.CurrentModifier = decimal.Min(m.CurrentModifier.Add(delta), MaxModifier)
	} else {
		deficit := div(target.Sub(utilization), target)
		delta := deficit.Mul(m.Reactivity).Mul(deltaTime)
		next.CurrentModifier = decimal.Max(MinModifier, m.CurrentModifier.Sub(delta))
	}
	next.CurrentModifier = clampModifier(next.CurrentModifier)
	return next, nil
}

// Fixed returns the modifier at RateScale for use in a ReserveState.
func (m ReactiveModifier) Fixed() FixedPoint {
	fp, _ := ToFixed(m.CurrentModifier, RateScale)
	return fp
}

func clampModifier(v decimal.Decimal) decimal.Decimal {
	if v.LessThan(MinModifier) {
		return MinModifier
	}
	if v.GreaterThan(MaxModifier) {
		return MaxModifier
	}
	return v
}

// ModifierRecord is the flat persisted form of a ReactiveModifier.
type ModifierRecord struct {
	CurrentModifier   string `json:"current_modifier"`
	LastUpdateTime    int64  `json:"last_update_time"`
	TargetUtilization string `json:"target_utilization"`
	Reactivity        string `json:"reactivity"`
}

// Record encodes the modifier for persistence. Timestamps are stored as unix
// seconds.
func (m ReactiveModifier) Record() ModifierRecord {
	return ModifierRecord{
		CurrentModifier:   m.CurrentModifier.String(),
		LastUpdateTime:    m.LastUpdateTime.Unix(),
		TargetUtilization: m.TargetUtilization.String(),
		Reactivity:        m.Reactivity.String(),
	}
}

// FromRecord decodes a persisted modifier. A stored modifier outside the
// permitted range is rejected rather than silently clamped.
func FromRecord(rec ModifierRecord) (ReactiveModifier, error) {
	current, err := decimal.NewFromString(rec.CurrentModifier)
	if err != nil {
		return ReactiveModifier{}, invalidInput("current_modifier: %v", err)
	}
	target, err := decimal.NewFromString(rec.TargetUtilization)
	if err != nil {
		return ReactiveModifier{}, invalidInput("target_utilization: %v", err)
	}
	reactivity, err := decimal.NewFromString(rec.Reactivity)
	if err != nil {
		return ReactiveModifier{}, invalidInput("reactivity: %v", err)
	}
	if current.LessThan(MinModifier) || current.GreaterThan(MaxModifier) {
		return ReactiveModifier{}, outOfBounds("current_modifier %s outside [%s, %s]", current, MinModifier, MaxModifier)
	}
	return ReactiveModifier{
		CurrentModifier:   current,
		LastUpdateTime:    time.Unix(rec.LastUpdateTime, 0).UTC(),
		TargetUtilization: target,
		Reactivity:        reactivity,
	}, nil
}
