package crf

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidShape is returned when score matrices or label sequences do not
	// match the label count the decoder was built for.
	ErrInvalidShape = errors.New("crf: invalid shape")

	// ErrEmptySequence is returned for zero-length sequences when the decoder
	// is configured to reject them.
	ErrEmptySequence = errors.New("crf: empty sequence")

	// ErrDimensionMismatch is returned when training examples and gold label
	// sequences disagree in count or length, or features do not have D columns.
	ErrDimensionMismatch = errors.New("crf: dimension mismatch")

	// ErrInvalidConfig is returned for out-of-range hyperparameters.
	ErrInvalidConfig = errors.New("crf: invalid config")

	// ErrNotTrained is returned when predicting before Fit has produced weights.
	ErrNotTrained = errors.New("crf: model not trained")
)

// ShapeError describes a dimension mismatch between a matrix and the model.
type ShapeError struct {
	What string
	Got  int
	Want int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("crf: invalid shape: %s has %d, want %d", e.What, e.Got, e.Want)
}

// Is reports ErrInvalidShape so callers can match with errors.Is.
func (e *ShapeError) Is(target error) bool {
	return target == ErrInvalidShape
}

// ConfigError names the offending hyperparameter.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("crf: invalid config: %s %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// ConvergenceWarning reports that training stopped at the pass budget without
// the duality gap reaching the tolerance. The weights are still usable.
type ConvergenceWarning struct {
	Passes int
	Gap    float64
	Tol    float64
}

func (w *ConvergenceWarning) Error() string {
	return fmt.Sprintf("crf: not converged after %d passes (gap %.6g, tol %.6g)", w.Passes, w.Gap, w.Tol)
}

func mismatch(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDimensionMismatch, fmt.Sprintf(format, args...))
}
