package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"blendrates/native/lending"
	"blendrates/storage"
)

const keyPrefix = "modifier/"

var (
	// ErrNotFound is returned when no modifier has been recorded for a reserve.
	ErrNotFound = errors.New("store: modifier not found")
	// ErrInvalidReserve is returned for an empty reserve identifier.
	ErrInvalidReserve = errors.New("store: reserve id required")
)

// Update describes one applied observation.
type Update struct {
	ReserveID   string
	Utilization decimal.Decimal
	Previous    lending.ReactiveModifier
	Next        lending.ReactiveModifier
	// Created reports that the reserve had no modifier before this update.
	Created    bool
	ObservedAt time.Time
}

// Recorder receives every applied update, e.g. for an audit trail.
type Recorder interface {
	Record(ctx context.Context, update Update) error
}

// ModifierStore owns the reactive modifier of every observed reserve. At most
// one read-modify-write is in flight per reserve; different reserves update
// in parallel.
type ModifierStore struct {
	db       storage.Database
	logger   *slog.Logger
	recorder Recorder

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option customises a ModifierStore.
type Option func(*ModifierStore)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *ModifierStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder registers a recorder invoked after each persisted update.
func WithRecorder(r Recorder) Option {
	return func(s *ModifierStore) { s.recorder = r }
}

// New constructs a store over db.
func New(db storage.Database, opts ...Option) *ModifierStore {
	s := &ModifierStore{
		db:     db,
		logger: slog.Default(),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the stored modifier for reserveID.
func (s *ModifierStore) Get(ctx context.Context, reserveID string) (lending.ReactiveModifier, error) {
	reserveID, err := normalizeID(reserveID)
	if err != nil {
		return lending.ReactiveModifier{}, err
	}
	if err := ctx.Err(); err != nil {
		return lending.ReactiveModifier{}, err
	}
	return s.load(reserveID)
}

// Observe applies a utilisation observation to the reserve's modifier,
// creating it at 1.0 on first sight, and persists the result.
func (s *ModifierStore) Observe(ctx context.Context, reserveID string, curve lending.CurveConfig, utilization decimal.Decimal, now time.Time) (Update, error) {
	reserveID, err := normalizeID(reserveID)
	if err != nil {
		return Update{}, err
	}
	unlock := s.lock(reserveID)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return Update{}, err
	}

	update := Update{ReserveID: reserveID, Utilization: utilization, ObservedAt: now}
	current, err := s.load(reserveID)
	switch {
	case errors.Is(err, ErrNotFound):
		current = lending.NewReactiveModifier(curve, now)
		update.Created = true
	case err != nil:
		return Update{}, err
	}
	next, err := current.CalculateNewModifier(utilization, now)
	if err != nil {
		return Update{}, err
	}
	if err := s.save(reserveID, next); err != nil {
		return Update{}, err
	}
	update.Previous = current
	update.Next = next

	if s.recorder != nil {
		if err := s.recorder.Record(ctx, update); err != nil {
			s.logger.Warn("record modifier update",
				slog.String("reserve", reserveID),
				slog.Any("error", err),
			)
		}
	}
	return update, nil
}

// Reset discards the stored modifier so the next observation starts over.
func (s *ModifierStore) Reset(ctx context.Context, reserveID string) error {
	reserveID, err := normalizeID(reserveID)
	if err != nil {
		return err
	}
	unlock := s.lock(reserveID)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Delete(key(reserveID))
}

// Reserves lists every reserve with a stored modifier.
func (s *ModifierStore) Reserves(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys, err := s.db.Keys([]byte(keyPrefix))
	if err != nil {
		return nil, fmt.Errorf("list modifiers: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(string(k), keyPrefix))
	}
	return ids, nil
}

func (s *ModifierStore) lock(reserveID string) func() {
	s.mu.Lock()
	l, ok := s.locks[reserveID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[reserveID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *ModifierStore) load(reserveID string) (lending.ReactiveModifier, error) {
	raw, err := s.db.Get(key(reserveID))
	if errors.Is(err, storage.ErrNotFound) {
		return lending.ReactiveModifier{}, ErrNotFound
	}
	if err != nil {
		return lending.ReactiveModifier{}, fmt.Errorf("load modifier %s: %w", reserveID, err)
	}
	var rec lending.ModifierRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return lending.ReactiveModifier{}, fmt.Errorf("decode modifier %s: %w", reserveID, err)
	}
	return lending.FromRecord(rec)
}

func (s *ModifierStore) save(reserveID string, m lending.ReactiveModifier) error {
	raw, err := json.Marshal(m.Record())
	if err != nil {
		return fmt.Errorf("encode modifier %s: %w", reserveID, err)
	}
	if err := s.db.Put(key(reserveID), raw); err != nil {
		return fmt.Errorf("persist modifier %s: %w", reserveID, err)
	}
	return nil
}

func key(reserveID string) []byte {
	return []byte(keyPrefix + reserveID)
}

func normalizeID(reserveID string) (string, error) {
	trimmed := strings.TrimSpace(reserveID)
	if trimmed == "" {
		return "", ErrInvalidReserve
	}
	return trimmed, nil
}
