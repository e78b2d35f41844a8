package server

import (
	"context"

	"blendrates/native/lending"
	"blendrates/services/lending/engine"
)

type fakeEngine struct {
	ratesFn    func(context.Context, engine.RatesRequest) (engine.Rates, error)
	validateFn func(context.Context, lending.CurveConfig) (lending.ValidationReport, error)
	observeFn  func(context.Context, engine.Observation) (engine.ModifierState, error)
	modifierFn func(context.Context, string) (engine.ModifierState, error)
	historyFn  func(context.Context, string, int) ([]engine.HistoryEntry, error)
}

func (f *fakeEngine) Rates(ctx context.Context, req engine.RatesRequest) (engine.Rates, error) {
	if f.ratesFn == nil {
		return engine.Rates{}, engine.ErrInternal
	}
	return f.ratesFn(ctx, req)
}

func (f *fakeEngine) ValidateCurve(ctx context.Context, curve lending.CurveConfig) (lending.ValidationReport, error) {
	if f.validateFn == nil {
		return lending.ValidateThreeSlopeModel(curve), nil
	}
	return f.validateFn(ctx, curve)
}

func (f *fakeEngine) ObserveUtilization(ctx context.Context, obs engine.Observation) (engine.ModifierState, error) {
	if f.observeFn == nil {
		return engine.ModifierState{}, engine.ErrInternal
	}
	return f.observeFn(ctx, obs)
}

func (f *fakeEngine) Modifier(ctx context.Context, id string) (engine.ModifierState, error) {
	if f.modifierFn == nil {
		return engine.ModifierState{}, engine.ErrNotFound
	}
	return f.modifierFn(ctx, id)
}

func (f *fakeEngine) History(ctx context.Context, id string, limit int) ([]engine.HistoryEntry, error) {
	if f.historyFn == nil {
		return nil, engine.ErrUnavailable
	}
	return f.historyFn(ctx, id, limit)
}
