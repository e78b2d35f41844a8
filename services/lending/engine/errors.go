package engine

import (
	"context"
	"errors"
	"fmt"

	"blendrates/native/lending"
	"blendrates/services/lending/store"
)

var (
	ErrInvalidInput = errors.New("rates: invalid input")
	ErrOutOfBounds  = errors.New("rates: out of bounds")
	ErrNotFound     = errors.New("rates: not found")
	ErrUnavailable  = errors.New("rates: unavailable")
	ErrInternal     = errors.New("rates: internal error")
)

// metricKinds labels engine errors for the calculation counters.
var metricKinds = map[string]error{
	"invalid_input": ErrInvalidInput,
	"out_of_bounds": ErrOutOfBounds,
	"not_found":     ErrNotFound,
	"unavailable":   ErrUnavailable,
}

// translate maps package errors onto the engine sentinels, keeping the
// original message for the caller.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrOutOfBounds),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrUnavailable), errors.Is(err, ErrInternal):
		return err
	case errors.Is(err, lending.ErrOutOfBounds):
		return fmt.Errorf("%w: %v", ErrOutOfBounds, err)
	case errors.Is(err, lending.ErrInvalidInput), errors.Is(err, store.ErrInvalidReserve):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
}
