/*
errors.go - Error types for the calculation engine

ERROR CATEGORIES:
  1. Configuration errors - missing formula, parameter or bracket set
  2. Validation errors - malformed periods, validity windows
  3. Lookup errors - unknown employee

  Formula errors live in package formula and surface here wrapped in a
  RubriqueCalculationError naming the rubrique that failed.

SEE ALSO:
  - formula/formula.go: ErrSyntax, ErrUnknownVariable, ErrEvaluation
  - api/handlers.go: maps these to HTTP status codes
*/
package payroll

import (
	"errors"
	"fmt"

	"github.com/warp/paie-engine/formula"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMissingFormula is returned for a FORMULA rubrique without a formula.
	ErrMissingFormula = errors.New("rubrique has no formula")

	ErrParameterNotFound = errors.New("payroll parameter not found")

	// ErrNoBracketsConfigured is returned when no tax bracket set covers
	// the date and no fallback table is configured.
	ErrNoBracketsConfigured = errors.New("no tax brackets configured")

	ErrInvalidPeriod   = errors.New("invalid payroll period")
	ErrInvalidValidity = errors.New("invalid validity window")

	ErrEmployeeNotFound = errors.New("employee not found")

	ErrInvalidRubrique = errors.New("invalid rubrique definition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type ParameterNotFoundError struct {
	Code string
	AsOf Date
}

func (e *ParameterNotFoundError) Error() string {
	return fmt.Sprintf("payroll parameter %q not found as of %s", e.Code, e.AsOf)
}

func (e *ParameterNotFoundError) Unwrap() error { return ErrParameterNotFound }

// RubriqueCalculationError names the rubrique whose evaluation aborted an
// employee's calculation.
type RubriqueCalculationError struct {
	Code string
	Name string
	Err  error
}

func (e *RubriqueCalculationError) Error() string {
	return fmt.Sprintf("rubrique %s (%s): %v", e.Code, e.Name, e.Err)
}

func (e *RubriqueCalculationError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConfigurationError reports whether err is caused by payroll
// configuration an administrator can fix (formula, parameter, brackets).
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrMissingFormula) ||
		errors.Is(err, ErrParameterNotFound) ||
		errors.Is(err, ErrNoBracketsConfigured) ||
		errors.Is(err, ErrInvalidRubrique) ||
		errors.Is(err, formula.ErrSyntax) ||
		errors.Is(err, formula.ErrUnknownVariable) ||
		errors.Is(err, formula.ErrEvaluation)
}

// IsClientError reports whether err is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidValidity)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrEmployeeNotFound)
}

// ErrorCode is a stable machine-readable code for err, used in batch
// failure entries and API error bodies.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, formula.ErrSyntax):
		return "formula_syntax"
	case errors.Is(err, formula.ErrUnknownVariable):
		return "formula_unknown_variable"
	case errors.Is(err, formula.ErrEvaluation):
		return "formula_evaluation"
	case errors.Is(err, ErrMissingFormula):
		return "missing_formula"
	case errors.Is(err, ErrInvalidRubrique):
		return "invalid_rubrique"
	case errors.Is(err, ErrParameterNotFound):
		return "parameter_not_found"
	case errors.Is(err, ErrNoBracketsConfigured):
		return "no_brackets_configured"
	case errors.Is(err, ErrEmployeeNotFound):
		return "employee_not_found"
	case errors.Is(err, ErrInvalidPeriod), errors.Is(err, ErrInvalidValidity):
		return "invalid_input"
	default:
		return "internal"
	}
}
