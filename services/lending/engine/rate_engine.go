package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"blendrates/native/lending"
	"blendrates/observability"
	"blendrates/services/lending/history"
	"blendrates/services/lending/store"
)

// ModifierStore is the keyed store owning each reserve's reactive modifier.
type ModifierStore interface {
	Get(ctx context.Context, reserveID string) (lending.ReactiveModifier, error)
	Observe(ctx context.Context, reserveID string, curve lending.CurveConfig, utilization decimal.Decimal, now time.Time) (store.Update, error)
}

// HistoryReader lists recorded modifier transitions.
type HistoryReader interface {
	List(ctx context.Context, reserveID string, limit int) ([]history.ModifierUpdate, error)
}

// RateEngine implements Engine on top of the lending calculator and the
// modifier store.
type RateEngine struct {
	store   ModifierStore
	history HistoryReader
	logger  *slog.Logger
	metrics *observability.RateMetrics
	events  *observability.EventMetrics
	now     func() time.Time

	ceiling decimal.Decimal
	calc    *lending.RateCalculator
}

// Option customises a RateEngine.
type Option func(*RateEngine)

// WithLogger sets the engine logger, also used by the calculator.
func WithLogger(logger *slog.Logger) Option {
	return func(e *RateEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHistory enables the History operation.
func WithHistory(reader HistoryReader) Option {
	return func(e *RateEngine) { e.history = reader }
}

// WithMetrics overrides the prometheus registry. A nil registry disables
// metrics.
func WithMetrics(metrics *observability.RateMetrics) Option {
	return func(e *RateEngine) { e.metrics = metrics }
}

// WithAPYCeiling overrides the calculator's display ceiling.
func WithAPYCeiling(ceiling decimal.Decimal) Option {
	return func(e *RateEngine) { e.ceiling = ceiling }
}

// WithClock overrides the time source used for observations without a
// timestamp.
func WithClock(now func() time.Time) Option {
	return func(e *RateEngine) {
		if now != nil {
			e.now = now
		}
	}
}

// New constructs a RateEngine backed by modifiers.
func New(modifiers ModifierStore, opts ...Option) *RateEngine {
	e := &RateEngine{
		store:   modifiers,
		logger:  slog.Default(),
		metrics: observability.Rates(),
		events:  observability.Events(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	calcOpts := []lending.Option{
		lending.WithLogger(e.logger),
		lending.WithClampObserver(func(_ decimal.Decimal, periods int) {
			e.metrics.RecordClamp(periods)
		}),
	}
	if !e.ceiling.IsZero() {
		calcOpts = append(calcOpts, lending.WithAPYCeiling(e.ceiling))
	}
	e.calc = lending.NewRateCalculator(calcOpts...)
	return e
}

// Rates computes the full rate snapshot for a reserve.
func (e *RateEngine) Rates(ctx context.Context, req RatesRequest) (result Rates, err error) {
	defer e.observe("rates", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return Rates{}, err
	}
	reserve := req.Reserve.Clone()
	source := ModifierFromRequest
	if reserve.IRModifier.Value == nil {
		source = ModifierDefault
		if id := strings.TrimSpace(reserve.ID); id != "" && e.store != nil {
			stored, err := e.store.Get(ctx, id)
			switch {
			case err == nil:
				reserve.IRModifier = stored.Fixed()
				source = ModifierFromStore
			case errors.Is(err, store.ErrNotFound):
			default:
				return Rates{}, translate(err)
			}
		}
	}
	snapshot, err := e.calc.Snapshot(reserve, req.BackstopTakeRate)
	if err != nil {
		return Rates{}, translate(err)
	}
	e.logger.Debug("rates computed",
		slog.String("reserve", reserve.ID),
		slog.String("utilization", snapshot.Utilization.String()),
		slog.String("borrow_apr", snapshot.BorrowAPR.String()),
		slog.String("modifier_source", source),
	)
	return Rates{
		RateSnapshot:     snapshot,
		BorrowAPRPercent: lending.Percent(snapshot.BorrowAPR),
		SupplyAPRPercent: lending.Percent(snapshot.SupplyAPR),
		Modifier:         reserve.Modifier(),
		ModifierSource:   source,
	}, nil
}

// ValidateCurve runs the three-slope model checks. Invalid curves are
// reported, not returned as errors.
func (e *RateEngine) ValidateCurve(ctx context.Context, curve lending.CurveConfig) (report lending.ValidationReport, err error) {
	defer e.observe("validate_curve", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return lending.ValidationReport{}, err
	}
	report = lending.ValidateThreeSlopeModel(curve)
	e.metrics.RecordValidation(report.IsValid)
	if !report.IsValid {
		e.logger.Info("curve rejected", slog.Int("issues", len(report.Issues)))
	}
	return report, nil
}

// ObserveUtilization applies a utilisation sample to the reserve's modifier.
func (e *RateEngine) ObserveUtilization(ctx context.Context, obs Observation) (state ModifierState, err error) {
	defer e.observe("observe_utilization", time.Now(), &err)
	if e.store == nil {
		return ModifierState{}, ErrUnavailable
	}
	reserveID := strings.TrimSpace(obs.ReserveID)
	if reserveID == "" && obs.Reserve != nil {
		reserveID = strings.TrimSpace(obs.Reserve.ID)
	}
	curve := obs.Curve
	var utilization decimal.Decimal
	switch {
	case obs.Utilization != nil && obs.Reserve != nil:
		return ModifierState{}, errInvalid("utilization and reserve are mutually exclusive")
	case obs.Utilization != nil:
		utilization = *obs.Utilization
	case obs.Reserve != nil:
		utilization, err = lending.Utilization(*obs.Reserve)
		if err != nil {
			return ModifierState{}, translate(err)
		}
		if curve.UtilTarget.Value == nil {
			curve = obs.Reserve.Curve
		}
	default:
		return ModifierState{}, errInvalid("utilization or reserve required")
	}
	if utilization.IsNegative() {
		return ModifierState{}, errInvalid("negative utilization " + utilization.String())
	}
	if err := curve.CheckScales(); err != nil {
		return ModifierState{}, translate(err)
	}
	at := obs.ObservedAt
	if at.IsZero() {
		at = e.now()
	}

	update, err := e.store.Observe(ctx, reserveID, curve, utilization, at)
	if err != nil {
		return ModifierState{}, translate(err)
	}
	next := update.Next.CurrentModifier
	e.metrics.SetReserveState(reserveID, next.InexactFloat64(), utilization.InexactFloat64())
	e.events.RecordModifierUpdate(reserveID, direction(update))
	e.logger.Info("modifier updated",
		slog.String("reserve", reserveID),
		slog.String("utilization", utilization.String()),
		slog.String("previous", update.Previous.CurrentModifier.String()),
		slog.String("next", next.String()),
		slog.Bool("created", update.Created),
	)
	state = toState(reserveID, update.Next)
	state.Created = update.Created
	return state, nil
}

// Modifier returns the stored modifier of a reserve.
func (e *RateEngine) Modifier(ctx context.Context, reserveID string) (state ModifierState, err error) {
	defer e.observe("modifier", time.Now(), &err)
	if e.store == nil {
		return ModifierState{}, ErrUnavailable
	}
	m, err := e.store.Get(ctx, reserveID)
	if err != nil {
		return ModifierState{}, translate(err)
	}
	return toState(strings.TrimSpace(reserveID), m), nil
}

// History lists recent modifier transitions, newest first.
func (e *RateEngine) History(ctx context.Context, reserveID string, limit int) (entries []HistoryEntry, err error) {
	defer e.observe("history", time.Now(), &err)
	if e.history == nil {
		return nil, ErrUnavailable
	}
	reserveID = strings.TrimSpace(reserveID)
	if reserveID == "" {
		return nil, errInvalid("reserve id required")
	}
	if limit < 0 {
		return nil, errInvalid("limit must not be negative")
	}
	rows, err := e.history.List(ctx, reserveID, limit)
	if err != nil {
		return nil, translate(err)
	}
	entries = make([]HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, HistoryEntry{
			ID:               row.ID.String(),
			ReserveID:        row.ReserveID,
			Utilization:      row.Utilization,
			PreviousModifier: row.PreviousModifier,
			NextModifier:     row.NextModifier,
			Created:          row.Created,
			ObservedAt:       row.ObservedAt,
		})
	}
	return entries, nil
}

func (e *RateEngine) observe(operation string, start time.Time, err *error) {
	e.metrics.Observe(operation, time.Since(start), *err, metricKinds)
}

func toState(reserveID string, m lending.ReactiveModifier) ModifierState {
	return ModifierState{
		ReserveID:         reserveID,
		Modifier:          m.CurrentModifier,
		LastUpdateTime:    m.LastUpdateTime,
		TargetUtilization: m.TargetUtilization,
		Reactivity:        m.Reactivity,
	}
}

func direction(update store.Update) string {
	if update.Created {
		return "created"
	}
	switch update.Next.CurrentModifier.Cmp(update.Previous.CurrentModifier) {
	case 1:
		return "up"
	case -1:
		return "down"
	default:
		return "unchanged"
	}
}

func errInvalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
