package branch

import (
	"errors"
	"fmt"
)

// Validation failures. These are always raised before the solver runs.
var (
	// ErrInvalidName indicates a name outside the identifier grammar.
	ErrInvalidName = errors.New("branch: invalid name (use letters, digits and underscore)")

	// ErrNameCollision indicates the name already exists in its namespace.
	ErrNameCollision = errors.New("branch: name already exists")

	// ErrWrongSystemKind indicates the derivation needs a flow (or map) system.
	ErrWrongSystemKind = errors.New("branch: operation not available for this system type")

	// ErrInsufficientParams indicates the system has too few parameters.
	ErrInsufficientParams = errors.New("branch: system has too few parameters")

	// ErrInsufficientDimension indicates the system has too few state variables.
	ErrInsufficientDimension = errors.New("branch: system dimension too small")

	// ErrUnknownParameter indicates a parameter name the system does not define.
	ErrUnknownParameter = errors.New("branch: unknown parameter")

	// ErrSourceMismatch indicates the source branch or point does not fit the request.
	ErrSourceMismatch = errors.New("branch: source does not match request")

	// ErrNotEligible indicates the point does not offer the requested action.
	ErrNotEligible = errors.New("branch: action not available for this point")

	// ErrEmptyBranch indicates a branch with no points.
	ErrEmptyBranch = errors.New("branch: branch has no points")
)

// Configuration and lookup failures.
var (
	// ErrLineageCycle indicates a startObject chain that loops back on itself.
	ErrLineageCycle = errors.New("branch: cyclic startObject lineage")

	// ErrNotFound indicates a missing object or branch.
	ErrNotFound = errors.New("branch: not found")
)

// ValidationError wraps a validation failure with the operation and field it concerns.
type ValidationError struct {
	Op      string
	Field   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Field, e.Wrapped)
}

func (e *ValidationError) Unwrap() error {
	return e.Wrapped
}

// SolverError wraps a failure raised by the numerical solver.
type SolverError struct {
	Op      string
	Wrapped error
}

func (e *SolverError) Error() string {
	return fmt.Sprintf("%s: solver failed: %v", e.Op, e.Wrapped)
}

func (e *SolverError) Unwrap() error {
	return e.Wrapped
}

// Invalid builds a ValidationError.
func Invalid(op, field string, err error) error {
	return &ValidationError{Op: op, Field: field, Wrapped: err}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsSolver reports whether err is (or wraps) a SolverError.
func IsSolver(err error) bool {
	var s *SolverError
	return errors.As(err, &s)
}
