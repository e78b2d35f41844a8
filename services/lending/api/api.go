// Package api defines the JSON wire types exchanged between the rates
// service and its clients. Decimal values are encoded as strings; reserve
// totals are raw scaled integers in base 10.
package api

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"blendrates/native/lending"
)

// ErrInvalidPayload is returned when a wire value cannot be decoded.
var ErrInvalidPayload = errors.New("api: invalid payload")

// Reserve is the wire form of lending.ReserveState.
type Reserve struct {
	ID            string              `json:"id"`
	AssetDecimals uint8               `json:"asset_decimals"`
	TotalSupplied string              `json:"total_supplied"`
	TotalBorrowed string              `json:"total_borrowed"`
	Curve         lending.CurveParams `json:"curve"`
	// IRModifier overrides the stored modifier when set.
	IRModifier *decimal.Decimal `json:"ir_modifier,omitempty"`
	// DebtIndexRate is applied to TotalBorrowed when set.
	DebtIndexRate *decimal.Decimal `json:"d_rate,omitempty"`
}

// State decodes the reserve into its engine form.
func (r Reserve) State() (lending.ReserveState, error) {
	supplied, err := parseAmount("total_supplied", r.TotalSupplied)
	if err != nil {
		return lending.ReserveState{}, err
	}
	borrowed, err := parseAmount("total_borrowed", r.TotalBorrowed)
	if err != nil {
		return lending.ReserveState{}, err
	}
	curve, err := r.Curve.Curve()
	if err != nil {
		return lending.ReserveState{}, fmt.Errorf("%w: curve: %v", ErrInvalidPayload, err)
	}
	state := lending.ReserveState{
		ID:            strings.TrimSpace(r.ID),
		AssetDecimals: r.AssetDecimals,
		TotalSupplied: supplied,
		TotalBorrowed: borrowed,
		Curve:         curve,
	}
	if r.IRModifier != nil {
		if state.IRModifier, err = lending.ToFixed(*r.IRModifier, lending.RateScale); err != nil {
			return lending.ReserveState{}, fmt.Errorf("%w: ir_modifier: %v", ErrInvalidPayload, err)
		}
	}
	if r.DebtIndexRate != nil {
		if state.DebtIndexRate, err = lending.ToFixed(*r.DebtIndexRate, lending.DebtIndexScale); err != nil {
			return lending.ReserveState{}, fmt.Errorf("%w: d_rate: %v", ErrInvalidPayload, err)
		}
		state.ApplyDebtIndex = true
	}
	return state, nil
}

// FromState encodes an engine reserve for the wire.
func FromState(state lending.ReserveState) Reserve {
	r := Reserve{
		ID:            state.ID,
		AssetDecimals: state.AssetDecimals,
		TotalSupplied: amountString(state.TotalSupplied),
		TotalBorrowed: amountString(state.TotalBorrowed),
		Curve:         state.Curve.Params(),
	}
	if state.IRModifier.Value != nil {
		m := state.IRModifier.Decimal()
		r.IRModifier = &m
	}
	if state.ApplyDebtIndex {
		d := state.DebtIndexRate.Decimal()
		r.DebtIndexRate = &d
	}
	return r
}

// RatesRequest asks for the rate snapshot of a reserve.
type RatesRequest struct {
	Reserve          Reserve         `json:"reserve"`
	BackstopTakeRate decimal.Decimal `json:"backstop_take_rate"`
}

// APY is a compounded yield, flagged when clamped to the display ceiling.
type APY struct {
	Value   decimal.Decimal `json:"value"`
	Clamped bool            `json:"clamped"`
}

// RatesResponse carries every rate derived from one reserve snapshot.
type RatesResponse struct {
	ReserveID        string          `json:"reserve_id"`
	Utilization      decimal.Decimal `json:"utilization"`
	BorrowAPR        decimal.Decimal `json:"borrow_apr"`
	BorrowAPRPercent decimal.Decimal `json:"borrow_apr_percent"`
	SupplyAPR        decimal.Decimal `json:"supply_apr"`
	SupplyAPRPercent decimal.Decimal `json:"supply_apr_percent"`
	BorrowAPY        APY             `json:"borrow_apy"`
	SupplyAPY        APY             `json:"supply_apy"`
	Modifier         decimal.Decimal `json:"ir_modifier"`
	ModifierSource   string          `json:"ir_modifier_source"`
}

// ValidateCurveRequest submits a curve for validation.
type ValidateCurveRequest struct {
	Curve lending.CurveParams `json:"curve"`
}

// ValidationResponse mirrors lending.ValidationReport. Report holds the
// textual rendering.
type ValidationResponse struct {
	IsValid  bool     `json:"is_valid"`
	Issues   []string `json:"issues"`
	Warnings []string `json:"warnings"`
	Report   string   `json:"report"`
}

// ObservationRequest records a utilisation sample. Either Utilization with
// Curve, or Reserve, must be supplied.
type ObservationRequest struct {
	Utilization *decimal.Decimal     `json:"utilization,omitempty"`
	Curve       *lending.CurveParams `json:"curve,omitempty"`
	Reserve     *Reserve             `json:"reserve,omitempty"`
	ObservedAt  *time.Time           `json:"observed_at,omitempty"`
}

// ModifierResponse is the stored reactive modifier of a reserve.
type ModifierResponse struct {
	ReserveID         string          `json:"reserve_id"`
	Modifier          decimal.Decimal `json:"ir_modifier"`
	LastUpdateTime    time.Time       `json:"last_update_time"`
	TargetUtilization decimal.Decimal `json:"target_utilization"`
	Reactivity        decimal.Decimal `json:"reactivity"`
	Created           bool            `json:"created,omitempty"`
}

// HistoryEntry is one recorded modifier transition.
type HistoryEntry struct {
	ID               string    `json:"id"`
	Utilization      string    `json:"utilization"`
	PreviousModifier string    `json:"previous_modifier"`
	NextModifier     string    `json:"next_modifier"`
	Created          bool      `json:"created"`
	ObservedAt       time.Time `json:"observed_at"`
}

// HistoryResponse lists transitions newest first.
type HistoryResponse struct {
	ReserveID string         `json:"reserve_id"`
	Entries   []HistoryEntry `json:"entries"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func parseAmount(field, raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s %q is not a base-10 integer", ErrInvalidPayload, field, raw)
	}
	return v, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
