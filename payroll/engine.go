/*
engine.go - Four-pass rubrique calculation

PURPOSE:
  Computes every line item of one employee's payslip. Gross salary is
  computed, not given, yet deduction formulas need it, so evaluation runs
  in ordered passes, each seeding the formula context of the next.

PASSES:
  0. ANCIENNETE = days(asOf - hire) / 365.25, 4 places, never negative
  1. BASE        SALAIRE_BASE = SALAIRE_BRUT = SALAIRE_IMPOSABLE = base
  2. GAIN        same context; accumulates contributory and exempt gains
                   grossForContributions = base + contributory
                   grossTotal            = grossForContributions + exempt
  3. RETENUE     SALAIRE_BRUT = grossForContributions
                 SALAIRE_IMPOSABLE = running taxable, starts at
                 grossForContributions, reduced by each SOCIAL_CONTRIB line
  4. COTISATION  SALAIRE_BRUT = grossForContributions
                 SALAIRE_IMPOSABLE = grossTotal - total RETENUE

  Parameters are available to every formula. The four reserved names
  above cannot be shadowed by a parameter code.

SINGLE RUBRIQUE:
  override   -> returned verbatim, no dispatch
  FIXED      -> value ?? 0
  PERCENTAGE -> round2(SALAIRE_BRUT * (rateOverride ?? value ?? 0) / 100)
  FORMULA    -> formula.Evaluate, ErrMissingFormula when absent
  MANUAL     -> 0 (only an override supplies an amount)
  TAX_SCALE  -> ComputeTax(brackets, SALAIRE_IMPOSABLE)

BASE SALARY FAIL-SAFE:
  A base-salary rubrique resolving to 0 while base > 0 is forced to base
  and logged. It masks a misconfigured catalog; the catalog loader warns
  about the configuration that triggers it. Disable with
  Engine.BaseSalaryFailSafe = false.

FAILURE:
  The first failing rubrique aborts the calculation with a
  *RubriqueCalculationError. No partial result is returned.
*/
package payroll

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/paie-engine/formula"
)

// Reserved formula variables.
const (
	VarSalaireBase      = "SALAIRE_BASE"
	VarSalaireBrut      = "SALAIRE_BRUT"
	VarSalaireImposable = "SALAIRE_IMPOSABLE"
	VarAnciennete       = "ANCIENNETE"
)

// IsReservedVariable reports whether name is computed by the engine and
// therefore cannot be a parameter code.
func IsReservedVariable(name string) bool {
	switch name {
	case VarSalaireBase, VarSalaireBrut, VarSalaireImposable, VarAnciennete:
		return true
	}
	return false
}

// CalculationInput is everything one calculation reads. It holds no
// store handles: the engine is a pure function of its input.
type CalculationInput struct {
	EmployeeID string
	Period     Period
	BaseSalary decimal.Decimal
	HireDate   Date
	Rubriques  []EffectiveRubrique
	Parameters map[string]decimal.Decimal
	Brackets   []TaxBracket
}

// Engine runs the four calculation passes over a CalculationInput.
type Engine struct {
	BaseSalaryFailSafe bool
	log                *zap.Logger
}

func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{BaseSalaryFailSafe: true, log: log}
}

// passState carries the running aggregates between passes.
type passState struct {
	in              CalculationInput
	seniority       decimal.Decimal
	grossContrib    decimal.Decimal
	grossTotal      decimal.Decimal
	runningTaxable  decimal.Decimal
	totalRetenues   decimal.Decimal
	sawBaseRubrique bool
}

func (e *Engine) Calculate(in CalculationInput) ([]CalculatedRubrique, error) {
	if err := in.Period.Validate(); err != nil {
		return nil, err
	}
	st := &passState{
		in:        in,
		seniority: SeniorityYears(in.HireDate, in.Period.AsOf()),
	}

	byType := make(map[RubriqueType][]EffectiveRubrique)
	for _, r := range in.Rubriques {
		byType[r.Rubrique.Type] = append(byType[r.Rubrique.Type], r)
	}

	var lines []CalculatedRubrique

	// BASE
	baseVars := st.context(in.BaseSalary, in.BaseSalary)
	for _, er := range byType[TypeBase] {
		line, err := e.calculateLine(st, er, baseVars)
		if err != nil {
			return nil, err
		}
		st.sawBaseRubrique = true
		lines = append(lines, line)
	}
	if !st.sawBaseRubrique && in.BaseSalary.IsPositive() {
		lines = append(lines, syntheticBaseLine(in.BaseSalary))
	}

	// GAIN
	contributory, exempt := decimal.Zero, decimal.Zero
	for _, er := range byType[TypeGain] {
		line, err := e.calculateLine(st, er, baseVars)
		if err != nil {
			return nil, err
		}
		if er.Rubrique.SubjectToSocialContrib || er.Rubrique.SubjectToEmployerCharge {
			contributory = contributory.Add(line.Amount)
		} else {
			exempt = exempt.Add(line.Amount)
		}
		lines = append(lines, line)
	}
	st.grossContrib = in.BaseSalary.Add(contributory)
	st.grossTotal = st.grossContrib.Add(exempt)

	// RETENUE
	st.runningTaxable = st.grossContrib
	for _, er := range byType[TypeRetenue] {
		line, err := e.calculateLine(st, er, st.context(st.grossContrib, st.runningTaxable))
		if err != nil {
			return nil, err
		}
		st.totalRetenues = st.totalRetenues.Add(line.Amount)
		if er.Rubrique.EffectiveRole() == RoleSocialContrib {
			st.runningTaxable = st.runningTaxable.Sub(line.Amount)
		}
		lines = append(lines, line)
	}

	// COTISATION
	cotisationVars := st.context(st.grossContrib, st.grossTotal.Sub(st.totalRetenues))
	for _, er := range byType[TypeCotisation] {
		line, err := e.calculateLine(st, er, cotisationVars)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	return lines, nil
}

// context builds a pass's formula variables. Reserved names are written
// last so parameters cannot shadow them.
func (st *passState) context(brut, imposable decimal.Decimal) map[string]decimal.Decimal {
	vars := make(map[string]decimal.Decimal, len(st.in.Parameters)+4)
	for code, v := range st.in.Parameters {
		vars[code] = v
	}
	vars[VarSalaireBase] = st.in.BaseSalary
	vars[VarSalaireBrut] = brut
	vars[VarSalaireImposable] = imposable
	vars[VarAnciennete] = st.seniority
	return vars
}

func (e *Engine) calculateLine(st *passState, er EffectiveRubrique, vars map[string]decimal.Decimal) (CalculatedRubrique, error) {
	r := er.Rubrique
	amount, base, rate, err := calculateSingle(er, vars, st.in.Brackets)
	if err != nil {
		return CalculatedRubrique{}, &RubriqueCalculationError{Code: r.Code, Name: r.Name, Err: err}
	}

	if e.BaseSalaryFailSafe && amount.IsZero() && r.IsBaseSalary() && st.in.BaseSalary.IsPositive() {
		e.log.Warn("base salary rubrique resolved to zero, using contract wage",
			zap.String("employee_id", st.in.EmployeeID),
			zap.String("rubrique", r.Code),
			zap.String("amount_type", string(r.AmountType)),
			zap.String("base_salary", st.in.BaseSalary.String()),
		)
		amount = st.in.BaseSalary
	}

	return CalculatedRubrique{
		Code:                    r.Code,
		Name:                    r.Name,
		Type:                    r.Type,
		Role:                    r.EffectiveRole(),
		Amount:                  amount,
		Base:                    base,
		Rate:                    rate,
		SubjectToSocialContrib:  r.SubjectToSocialContrib,
		SubjectToIncomeTax:      r.SubjectToIncomeTax,
		SubjectToEmployerCharge: r.SubjectToEmployerCharge,
	}, nil
}

// calculateSingle resolves one rubrique's amount with the given context.
// base and rate are reported for PERCENTAGE and TAX_SCALE lines.
func calculateSingle(er EffectiveRubrique, vars map[string]decimal.Decimal, brackets []TaxBracket) (amount decimal.Decimal, base, rate *decimal.Decimal, err error) {
	r := er.Rubrique
	a := er.Assignment

	if a != nil && a.AmountOverride != nil {
		return *a.AmountOverride, nil, nil, nil
	}

	switch r.AmountType {
	case AmountFixed:
		if r.Value == nil {
			return decimal.Zero, nil, nil, nil
		}
		return *r.Value, nil, nil, nil

	case AmountPercentage:
		pct := decimal.Zero
		switch {
		case a != nil && a.RateOverride != nil:
			pct = *a.RateOverride
		case r.Value != nil:
			pct = *r.Value
		}
		brut := vars[VarSalaireBrut]
		return round2(brut.Mul(pct).Div(hundred)), decPtr(brut), decPtr(pct), nil

	case AmountFormula:
		if r.Formula == nil {
			return decimal.Zero, nil, nil, ErrMissingFormula
		}
		v, err := formula.Evaluate(*r.Formula, vars)
		if err != nil {
			return decimal.Zero, nil, nil, err
		}
		return v, nil, nil, nil

	case AmountManualEntry:
		return decimal.Zero, nil, nil, nil

	case AmountTaxScale:
		if len(brackets) == 0 {
			return decimal.Zero, nil, nil, ErrNoBracketsConfigured
		}
		taxable := vars[VarSalaireImposable]
		return ComputeTax(brackets, taxable), decPtr(taxable), nil, nil
	}

	return decimal.Zero, nil, nil, fmt.Errorf("%w: unknown amount type %q", ErrInvalidRubrique, r.AmountType)
}

func syntheticBaseLine(base decimal.Decimal) CalculatedRubrique {
	return CalculatedRubrique{
		Code:                    BaseSalaryCode,
		Name:                    "Salaire de base",
		Type:                    TypeBase,
		Role:                    RoleBaseSalary,
		Amount:                  base,
		SubjectToSocialContrib:  true,
		SubjectToIncomeTax:      true,
		SubjectToEmployerCharge: true,
	}
}
