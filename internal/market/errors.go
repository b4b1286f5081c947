package market

import "errors"

// Error kinds. Callers match on these with errors.Is; the concrete Error type
// carries the human-readable reason.
var (
	// ErrValidation covers malformed symbols, timeframes, dates and strategy
	// parameters. Rejected before any computation runs.
	ErrValidation = errors.New("validation error")

	// ErrData covers insufficient or missing historical candles for the
	// requested lookback or date range.
	ErrData = errors.New("data error")

	// ErrAPI covers upstream data-provider failures and timeouts. Carries
	// enough context to retry at a higher layer.
	ErrAPI = errors.New("api error")

	// ErrCalculation covers mathematically undefined or degenerate inputs
	// (zero risk distance, empty trade sample, inverted date range).
	ErrCalculation = errors.New("calculation error")
)

// Error is a typed error with a reason. No non-success path returns an empty
// result disguised as success.
type Error struct {
	Kind   error
	Reason string
}

func (e *Error) Error() string {
	return e.Kind.Error() + ": " + e.Reason
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// NewValidationError creates a ValidationError with the given reason.
func NewValidationError(reason string) error {
	return &Error{Kind: ErrValidation, Reason: reason}
}

// NewDataError creates a DataError with the given reason.
func NewDataError(reason string) error {
	return &Error{Kind: ErrData, Reason: reason}
}

// NewAPIError creates an APIError with the given reason.
func NewAPIError(reason string) error {
	return &Error{Kind: ErrAPI, Reason: reason}
}

// NewCalculationError creates a CalculationError with the given reason.
func NewCalculationError(reason string) error {
	return &Error{Kind: ErrCalculation, Reason: reason}
}
