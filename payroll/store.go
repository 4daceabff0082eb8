/*
store.go - Persistence ports consumed by the engine

PURPOSE:
  The engine never queries a database directly. It reads contracts,
  structures, assignments and time-versioned configuration through the
  small interfaces below, implemented by the SQLite store and by the
  in-memory store used in tests.

KEY INTERFACES:
  ContractReader, StructureReader, AssignmentReader: employee inputs
  ParameterRepository:  append-only parameter versions
  TaxBracketRepository: append-only bracket sets
  Roster:               employees for batch runs
  CatalogStore:         admin writes used by the catalog loader and API

APPEND-ONLY CONTRACT:
  SupersedeParameter and ReplaceTaxBrackets never edit a value in place.
  They close the open version (EndDate = validFrom) and append the new
  one in a single atomic step. Resolution picks the latest StartDate
  among rows covering the date, so the new version wins on validFrom.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go
  - payroll/store/memory.go

SEE ALSO:
  - service.go: wires these ports into CalculatePayslip
*/
package payroll

import "context"

// =============================================================================
// READ PORTS
// =============================================================================

type ContractReader interface {
	// ActiveContract returns the RUNNING contract covering asOf, or nil.
	ActiveContract(ctx context.Context, employeeID string, asOf Date) (*Contract, error)
}

type StructureReader interface {
	// StructureRubriques returns the structure's links with rubriques joined.
	StructureRubriques(ctx context.Context, structureID string) ([]StructureRubrique, error)
}

type RubriqueReader interface {
	// ListRubriques returns the whole catalog, active or not.
	ListRubriques(ctx context.Context) ([]Rubrique, error)
}

type AssignmentReader interface {
	// IndividualAssignments returns the employee's assignments effective at asOf.
	IndividualAssignments(ctx context.Context, employeeID string, asOf Date) ([]EmployeeRubrique, error)
}

type Roster interface {
	// GetEmployee returns nil, nil when the employee does not exist.
	GetEmployee(ctx context.Context, id string) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
}

// =============================================================================
// VERSIONED CONFIGURATION
// =============================================================================

type ParameterRepository interface {
	// ParametersAt returns every parameter row whose validity covers asOf.
	ParametersAt(ctx context.Context, asOf Date) ([]PayrollParameter, error)
	// ParameterVersions returns the full history of code, oldest first.
	ParameterVersions(ctx context.Context, code string) ([]PayrollParameter, error)
	// SupersedeParameter closes the open row of p.Code at p.StartDate and
	// appends p. Returns ErrInvalidValidity when p starts before the open row.
	SupersedeParameter(ctx context.Context, p PayrollParameter) error
}

type TaxBracketRepository interface {
	// ActiveTaxBrackets returns the bracket set effective at asOf ordered by Order.
	ActiveTaxBrackets(ctx context.Context, asOf Date) ([]TaxBracket, error)
	// ReplaceTaxBrackets closes the open set at validFrom and appends brackets.
	ReplaceTaxBrackets(ctx context.Context, brackets []TaxBracket, validFrom Date) error
}

// Store is everything CalculatePayslip reads.
type Store interface {
	ContractReader
	StructureReader
	RubriqueReader
	AssignmentReader
	ParameterRepository
	TaxBracketRepository
	Roster
}

// CatalogStore adds the administrative writes.
type CatalogStore interface {
	Store

	SaveRubrique(ctx context.Context, r Rubrique) error
	// GetRubrique returns nil, nil when code is unknown.
	GetRubrique(ctx context.Context, code string) (*Rubrique, error)

	SaveStructure(ctx context.Context, s SalaryStructure) error
	SaveEmployee(ctx context.Context, e Employee) error
	SaveContract(ctx context.Context, c Contract) error
	AssignRubrique(ctx context.Context, a EmployeeRubrique) error
}
