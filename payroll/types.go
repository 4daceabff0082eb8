/*
Package payroll provides the rubrique calculation engine.

PURPOSE:
  Computes a payslip's line items from a time-versioned catalog of
  rubriques (pay components), user-authored formulas, progressive tax
  brackets and per-employee overrides, then rolls them into totals.

KEY CONCEPTS IN THIS FILE (types.go):
  - Rubrique: a pay component definition (base, gain, deduction, employer charge)
  - SalaryStructure: a named template of default rubriques
  - EmployeeRubrique: a time-bounded individual assignment with overrides
  - Contract: carries the wage and the optional salary structure
  - PayrollParameter / TaxBracket: time-versioned configuration rows
  - CalculatedRubrique: one computed payslip line

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal, rounded to the cent
  2. Explicit roles: a rubrique's effect on the taxable base and on the
     payslip totals comes from Role, never from its code
  3. Append-only configuration: parameters and brackets are closed and
     superseded, never edited in place

SEE ALSO:
  - engine.go: the four-pass calculation
  - assignment.go: structure/individual merge
  - payslip.go: totals
*/
package payroll

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// RUBRIQUE - Pay component definition
// =============================================================================

type RubriqueType string

const (
	TypeBase       RubriqueType = "BASE"
	TypeGain       RubriqueType = "GAIN"
	TypeRetenue    RubriqueType = "RETENUE"
	TypeCotisation RubriqueType = "COTISATION"
)

func (t RubriqueType) Valid() bool {
	switch t {
	case TypeBase, TypeGain, TypeRetenue, TypeCotisation:
		return true
	}
	return false
}

type AmountType string

const (
	AmountFixed       AmountType = "FIXED"
	AmountPercentage  AmountType = "PERCENTAGE"
	AmountFormula     AmountType = "FORMULA"
	AmountManualEntry AmountType = "MANUAL_ENTRY"
	// AmountTaxScale applies the active tax brackets to SALAIRE_IMPOSABLE.
	AmountTaxScale AmountType = "TAX_SCALE"
)

func (a AmountType) Valid() bool {
	switch a {
	case AmountFixed, AmountPercentage, AmountFormula, AmountManualEntry, AmountTaxScale:
		return true
	}
	return false
}

// Role is the semantic classification used by the taxable-base running
// balance and by the payslip totals.
type Role string

const (
	RoleBaseSalary    Role = "BASE_SALARY"
	RoleSocialContrib Role = "SOCIAL_CONTRIB"
	RoleIncomeTax     Role = "INCOME_TAX"
	RoleOther         Role = "OTHER"
)

func (r Role) Valid() bool {
	switch r {
	case "", RoleBaseSalary, RoleSocialContrib, RoleIncomeTax, RoleOther:
		return true
	}
	return false
}

// BaseSalaryCode is the code of the synthetic base line and the legacy
// identifier of the base-salary rubrique.
const BaseSalaryCode = "SALAIRE_BASE"

type Rubrique struct {
	ID                      string
	Code                    string
	Name                    string
	Type                    RubriqueType
	AmountType              AmountType
	Value                   *decimal.Decimal // literal amount (FIXED) or percent (PERCENTAGE)
	Formula                 *string
	SubjectToSocialContrib  bool
	SubjectToIncomeTax      bool
	SubjectToEmployerCharge bool
	DisplayOrder            *int
	IsActive                bool
	Role                    Role
}

// EffectiveRole resolves an unset Role: BASE rubriques are the base salary,
// everything else is OTHER.
func (r Rubrique) EffectiveRole() Role {
	if r.Role != "" {
		return r.Role
	}
	if r.Type == TypeBase {
		return RoleBaseSalary
	}
	return RoleOther
}

// IsBaseSalary reports whether the fail-safe applies to this rubrique.
func (r Rubrique) IsBaseSalary() bool {
	return r.EffectiveRole() == RoleBaseSalary || r.Code == BaseSalaryCode
}

// =============================================================================
// SALARY STRUCTURE - Default rubrique set referenced by contracts
// =============================================================================

type SalaryStructure struct {
	ID        string
	Name      string
	Rubriques []StructureRubrique
}

type StructureRubrique struct {
	StructureID  string
	Rubrique     Rubrique
	DisplayOrder *int
}

// =============================================================================
// INDIVIDUAL ASSIGNMENT
// =============================================================================

type EmployeeRubrique struct {
	ID             string
	EmployeeID     string
	Rubrique       Rubrique
	StartDate      Date
	EndDate        *Date
	AmountOverride *decimal.Decimal
	RateOverride   *decimal.Decimal
	Order          *int
}

// EffectiveAt reports whether the assignment covers asOf.
func (a EmployeeRubrique) EffectiveAt(asOf Date) bool {
	return InValidity(asOf, a.StartDate, a.EndDate)
}

// =============================================================================
// CONTRACT / EMPLOYEE
// =============================================================================

type ContractStatus string

const (
	ContractDraft   ContractStatus = "DRAFT"
	ContractRunning ContractStatus = "RUNNING"
	ContractClosed  ContractStatus = "CLOSED"
)

type Contract struct {
	ID                string
	EmployeeID        string
	Wage              decimal.Decimal
	Status            ContractStatus
	StartDate         Date
	EndDate           *Date
	SalaryStructureID *string
}

// ActiveAt reports whether the contract is RUNNING and covers asOf.
func (c Contract) ActiveAt(asOf Date) bool {
	return c.Status == ContractRunning && InValidity(asOf, c.StartDate, c.EndDate)
}

type Employee struct {
	ID       string
	Name     string
	Email    string
	HireDate Date
}

// =============================================================================
// TIME-VERSIONED CONFIGURATION
// =============================================================================

type PayrollParameter struct {
	ID          string
	Code        string
	Name        string
	Value       decimal.Decimal
	Description string
	StartDate   Date
	EndDate     *Date
}

func (p PayrollParameter) EffectiveAt(asOf Date) bool {
	return InValidity(asOf, p.StartDate, p.EndDate)
}

type TaxBracket struct {
	ID          string
	Name        string
	MinAmount   decimal.Decimal
	MaxAmount   *decimal.Decimal // nil = unbounded
	Rate        decimal.Decimal  // percent
	FixedAmount decimal.Decimal
	Order       int
	StartDate   Date
	EndDate     *Date
}

func (b TaxBracket) EffectiveAt(asOf Date) bool {
	return InValidity(asOf, b.StartDate, b.EndDate)
}

// =============================================================================
// OUTPUT
// =============================================================================

type CalculatedRubrique struct {
	Code                    string           `json:"code"`
	Name                    string           `json:"name"`
	Type                    RubriqueType     `json:"type"`
	Role                    Role             `json:"role"`
	Amount                  decimal.Decimal  `json:"amount"`
	Base                    *decimal.Decimal `json:"base,omitempty"`
	Rate                    *decimal.Decimal `json:"rate,omitempty"`
	SubjectToSocialContrib  bool             `json:"subject_to_social_contrib"`
	SubjectToIncomeTax      bool             `json:"subject_to_income_tax"`
	SubjectToEmployerCharge bool             `json:"subject_to_employer_charge"`
}

func decPtr(d decimal.Decimal) *decimal.Decimal { return &d }

func round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }
