/*
presets.go - Pre-built Algerian payroll configuration

PURPOSE:
  Ready-to-use rubriques, parameters and the IRG scale for Algerian payroll.
  These are starting points: companies add their own premiums and
  deductions on top, through the catalog or individual assignments.

AVAILABLE PRESETS:
  BaseSalary:         SALAIRE_BASE, MANUAL_ENTRY, supplied by the contract wage
  SeniorityPremium:   IEP = SALAIRE_BASE * ANCIENNETE * TAUX_IEP / 100
  EmployeeCNAS:       9% employee social security, reduces taxable income
  IncomeTax:          IRG on the progressive monthly scale
  EmployerCNAS:       26% employer social security
  DefaultIRGBrackets: 2022 monthly IRG scale (0 / 23 / 27 / 30 / 33 / 35 %)

EXAMPLE:
  store.SaveRubrique(ctx, algeria.EmployeeCNAS())
  svc := payroll.NewService(store,
      payroll.WithFallbackBrackets(algeria.DefaultIRGBrackets()))

SEE ALSO:
  - catalog.yaml: The same configuration as a loadable catalog
  - factory/catalog.go: Catalog loader
*/
package algeria

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/paie-engine/payroll"
)

// Rubrique codes.
const (
	CodeBaseSalary       = payroll.BaseSalaryCode
	CodeSeniorityPremium = "IEP"
	CodeEmployeeCNAS     = "CNAS_SALARIE"
	CodeIncomeTax        = "IRG"
	CodeEmployerCNAS     = "CNAS_PATRONAL"
)

// Parameter codes.
const (
	ParamSNMG          = "SNMG"
	ParamSeniorityRate = "TAUX_IEP"
)

// DefaultStructureID is the structure referenced by new contracts.
const DefaultStructureID = "standard"

// ScaleStart is the effective date of the 2022 IRG reform.
var ScaleStart = payroll.NewDate(2022, time.January, 1)

func d(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func order(i int) *int { return &i }

// =============================================================================
// RUBRIQUES
// =============================================================================

func BaseSalary() payroll.Rubrique {
	return payroll.Rubrique{
		ID:                      CodeBaseSalary,
		Code:                    CodeBaseSalary,
		Name:                    "Salaire de base",
		Type:                    payroll.TypeBase,
		AmountType:              payroll.AmountManualEntry,
		SubjectToSocialContrib:  true,
		SubjectToIncomeTax:      true,
		SubjectToEmployerCharge: true,
		DisplayOrder:            order(1),
		IsActive:                true,
		Role:                    payroll.RoleBaseSalary,
	}
}

// SeniorityPremium is the Indemnité d'Expérience Professionnelle.
func SeniorityPremium() payroll.Rubrique {
	f := "SALAIRE_BASE * ANCIENNETE * " + ParamSeniorityRate + " / 100"
	return payroll.Rubrique{
		ID:                      CodeSeniorityPremium,
		Code:                    CodeSeniorityPremium,
		Name:                    "Indemnité d'expérience professionnelle",
		Type:                    payroll.TypeGain,
		AmountType:              payroll.AmountFormula,
		Formula:                 &f,
		SubjectToSocialContrib:  true,
		SubjectToIncomeTax:      true,
		SubjectToEmployerCharge: true,
		DisplayOrder:            order(10),
		IsActive:                true,
	}
}

func EmployeeCNAS() payroll.Rubrique {
	return payroll.Rubrique{
		ID:           CodeEmployeeCNAS,
		Code:         CodeEmployeeCNAS,
		Name:         "Retenue CNAS salarié",
		Type:         payroll.TypeRetenue,
		AmountType:   payroll.AmountPercentage,
		Value:        d("9"),
		DisplayOrder: order(50),
		IsActive:     true,
		Role:         payroll.RoleSocialContrib,
	}
}

func IncomeTax() payroll.Rubrique {
	return payroll.Rubrique{
		ID:           CodeIncomeTax,
		Code:         CodeIncomeTax,
		Name:         "Impôt sur le revenu global",
		Type:         payroll.TypeRetenue,
		AmountType:   payroll.AmountTaxScale,
		DisplayOrder: order(60),
		IsActive:     true,
		Role:         payroll.RoleIncomeTax,
	}
}

func EmployerCNAS() payroll.Rubrique {
	return payroll.Rubrique{
		ID:           CodeEmployerCNAS,
		Code:         CodeEmployerCNAS,
		Name:         "Cotisation CNAS patronale",
		Type:         payroll.TypeCotisation,
		AmountType:   payroll.AmountPercentage,
		Value:        d("26"),
		DisplayOrder: order(80),
		IsActive:     true,
	}
}

// Rubriques returns every preset rubrique in display order.
func Rubriques() []payroll.Rubrique {
	return []payroll.Rubrique{BaseSalary(), SeniorityPremium(), EmployeeCNAS(), IncomeTax(), EmployerCNAS()}
}

// DefaultStructure links every preset rubrique.
func DefaultStructure() payroll.SalaryStructure {
	s := payroll.SalaryStructure{ID: DefaultStructureID, Name: "Structure standard"}
	for _, r := range Rubriques() {
		s.Rubriques = append(s.Rubriques, payroll.StructureRubrique{
			StructureID: DefaultStructureID, Rubrique: r, DisplayOrder: r.DisplayOrder,
		})
	}
	return s
}

// =============================================================================
// PARAMETERS
// =============================================================================

// Parameters returns the preset parameter versions: SNMG 20000 DA since
// 2024-05-01 and a 1% seniority rate per year.
func Parameters() []payroll.ParameterUpsert {
	return []payroll.ParameterUpsert{
		{
			Code: ParamSNMG, Name: "Salaire national minimum garanti",
			Value: decimal.NewFromInt(18000), ValidFrom: payroll.NewDate(2020, time.June, 1),
		},
		{
			Code: ParamSNMG, Name: "Salaire national minimum garanti",
			Value: decimal.NewFromInt(20000), ValidFrom: payroll.NewDate(2024, time.May, 1),
		},
		{
			Code: ParamSeniorityRate, Name: "Taux IEP par année d'ancienneté",
			Value: decimal.NewFromInt(1), ValidFrom: ScaleStart,
		},
	}
}

// =============================================================================
// IRG SCALE
// =============================================================================

// DefaultIRGBrackets is the 2022 monthly IRG scale with cumulative fixed
// amounts, effective from ScaleStart.
func DefaultIRGBrackets() []payroll.TaxBracket {
	raw := []payroll.TaxBracket{
		{Name: "Tranche 1", MinAmount: decimal.Zero, MaxAmount: d("20000"), Rate: decimal.Zero, Order: 1},
		{Name: "Tranche 2", MinAmount: decimal.NewFromInt(20000), MaxAmount: d("40000"), Rate: decimal.NewFromInt(23), Order: 2},
		{Name: "Tranche 3", MinAmount: decimal.NewFromInt(40000), MaxAmount: d("80000"), Rate: decimal.NewFromInt(27), Order: 3},
		{Name: "Tranche 4", MinAmount: decimal.NewFromInt(80000), MaxAmount: d("160000"), Rate: decimal.NewFromInt(30), Order: 4},
		{Name: "Tranche 5", MinAmount: decimal.NewFromInt(160000), MaxAmount: d("320000"), Rate: decimal.NewFromInt(33), Order: 5},
		{Name: "Tranche 6", MinAmount: decimal.NewFromInt(320000), Rate: decimal.NewFromInt(35), Order: 6},
	}
	for i := range raw {
		raw[i].ID = "irg-2022-" + raw[i].Name[len(raw[i].Name)-1:]
		raw[i].StartDate = ScaleStart
	}
	return payroll.RecomputeFixedAmounts(raw)
}
