package payroll

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYSLIP AGGREGATOR - Engine lines to persisted payslip fields
// =============================================================================

// ContributionDetail is one contribution line kept for display and audit.
type ContributionDetail struct {
	Name   string           `json:"name"`
	Rate   *decimal.Decimal `json:"rate,omitempty"`
	Amount decimal.Decimal  `json:"amount"`
}

type PayslipTotals struct {
	GrossSalary                decimal.Decimal               `json:"gross_salary"`
	TaxableSalary              decimal.Decimal               `json:"taxable_salary"`
	IncomeTax                  decimal.Decimal               `json:"income_tax"`
	NetSalary                  decimal.Decimal               `json:"net_salary"`
	TotalEmployeeContributions decimal.Decimal               `json:"total_employee_contributions"`
	TotalEmployerContributions decimal.Decimal               `json:"total_employer_contributions"`
	EmployeeContributionDetail map[string]ContributionDetail `json:"employee_contribution_detail"`
	EmployerContributionDetail map[string]ContributionDetail `json:"employer_contribution_detail"`
}

// Aggregate rolls line items into payslip totals:
//
//	gross    = Σ BASE + Σ GAIN
//	employee = Σ RETENUE with role SOCIAL_CONTRIB
//	tax      = Σ RETENUE with role INCOME_TAX
//	employer = Σ COTISATION
//	taxable  = gross - employee
//	net      = gross - Σ RETENUE
func Aggregate(lines []CalculatedRubrique) PayslipTotals {
	t := PayslipTotals{
		EmployeeContributionDetail: make(map[string]ContributionDetail),
		EmployerContributionDetail: make(map[string]ContributionDetail),
	}
	retenues := decimal.Zero

	for _, l := range lines {
		switch l.Type {
		case TypeBase, TypeGain:
			t.GrossSalary = t.GrossSalary.Add(l.Amount)
		case TypeRetenue:
			retenues = retenues.Add(l.Amount)
			switch l.Role {
			case RoleSocialContrib:
				t.TotalEmployeeContributions = t.TotalEmployeeContributions.Add(l.Amount)
				addDetail(t.EmployeeContributionDetail, l)
			case RoleIncomeTax:
				t.IncomeTax = t.IncomeTax.Add(l.Amount)
			}
		case TypeCotisation:
			t.TotalEmployerContributions = t.TotalEmployerContributions.Add(l.Amount)
			addDetail(t.EmployerContributionDetail, l)
		}
	}

	t.TaxableSalary = t.GrossSalary.Sub(t.TotalEmployeeContributions)
	t.NetSalary = t.GrossSalary.Sub(retenues)
	return t
}

func addDetail(m map[string]ContributionDetail, l CalculatedRubrique) {
	d, ok := m[l.Code]
	if !ok {
		m[l.Code] = ContributionDetail{Name: l.Name, Rate: l.Rate, Amount: l.Amount}
		return
	}
	d.Amount = d.Amount.Add(l.Amount)
	m[l.Code] = d
}
