package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"blendrates/native/lending"
)

// Engine describes the operations required by the rates HTTP surface.
type Engine interface {
	Rates(ctx context.Context, req RatesRequest) (Rates, error)
	ValidateCurve(ctx context.Context, curve lending.CurveConfig) (lending.ValidationReport, error)
	ObserveUtilization(ctx context.Context, obs Observation) (ModifierState, error)
	Modifier(ctx context.Context, reserveID string) (ModifierState, error)
	History(ctx context.Context, reserveID string, limit int) ([]HistoryEntry, error)
}

// RatesRequest carries a reserve snapshot and the backstop take rate applied
// to supply interest. When Reserve.IRModifier is unset the engine substitutes
// the stored modifier for Reserve.ID, or 1.0 if none has been observed.
type RatesRequest struct {
	Reserve          lending.ReserveState
	BackstopTakeRate decimal.Decimal
}

// Modifier sources reported in Rates.
const (
	ModifierFromRequest = "request"
	ModifierFromStore   = "store"
	ModifierDefault     = "default"
)

// Rates is a rate snapshot together with the modifier it was computed with.
type Rates struct {
	lending.RateSnapshot
	BorrowAPRPercent decimal.Decimal
	SupplyAPRPercent decimal.Decimal
	Modifier         decimal.Decimal
	ModifierSource   string
}

// Observation is a utilisation sample for one reserve. A zero ObservedAt is
// replaced by the engine clock. Exactly one of Utilization or Reserve should
// be set; when Reserve is set its utilisation is derived from the totals.
type Observation struct {
	ReserveID   string
	Curve       lending.CurveConfig
	Utilization *decimal.Decimal
	Reserve     *lending.ReserveState
	ObservedAt  time.Time
}

// ModifierState is the stored reactive modifier of a reserve.
type ModifierState struct {
	ReserveID         string
	Modifier          decimal.Decimal
	LastUpdateTime    time.Time
	TargetUtilization decimal.Decimal
	Reactivity        decimal.Decimal
	Created           bool
}

// HistoryEntry is one recorded modifier transition.
type HistoryEntry struct {
	ID               string
	ReserveID        string
	Utilization      string
	PreviousModifier string
	NextModifier     string
	Created          bool
	ObservedAt       time.Time
}
