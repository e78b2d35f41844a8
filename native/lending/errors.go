package lending

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput reports structurally impossible values such as negative
	// utilisation, negative APR or non-positive compounding periods.
	ErrInvalidInput = errors.New("lending: invalid input")
	// ErrOutOfBounds reports a well-formed value outside its permitted range.
	ErrOutOfBounds = errors.New("lending: out of bounds")
	// ErrScaleMismatch reports arithmetic attempted between fixed-point values
	// expressed at different scales. It is always also an ErrInvalidInput.
	ErrScaleMismatch = fmt.Errorf("%w: fixed-point scale mismatch", ErrInvalidInput)
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func outOfBounds(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrOutOfBounds, fmt.Sprintf(format, args...))
}
