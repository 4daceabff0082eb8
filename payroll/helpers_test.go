package payroll_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/paie-engine/payroll"
	"github.com/warp/paie-engine/payroll/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func ctx() context.Context { return context.Background() }

func dec(s string) decimal.Decimal   { return decimal.RequireFromString(s) }
func decp(s string) *decimal.Decimal { v := dec(s); return &v }
func intp(i int) *int                { return &i }
func strp(s string) *string          { return &s }
func datep(s string) *payroll.Date   { d := payroll.MustParseDate(s); return &d }

var march2025 = payroll.Period{Year: 2025, Month: time.March}

func fixed(code string, typ payroll.RubriqueType, value string) payroll.Rubrique {
	return payroll.Rubrique{Code: code, Name: code, Type: typ, AmountType: payroll.AmountFixed, Value: decp(value), IsActive: true}
}

func percentage(code string, typ payroll.RubriqueType, pct string) payroll.Rubrique {
	return payroll.Rubrique{Code: code, Name: code, Type: typ, AmountType: payroll.AmountPercentage, Value: decp(pct), IsActive: true}
}

func formulaRubrique(code string, typ payroll.RubriqueType, f string) payroll.Rubrique {
	return payroll.Rubrique{Code: code, Name: code, Type: typ, AmountType: payroll.AmountFormula, Formula: strp(f), IsActive: true}
}

func entry(r payroll.Rubrique) payroll.EffectiveRubrique {
	return payroll.EffectiveRubrique{Rubrique: r, Source: payroll.SourceStructure}
}

// irgBrackets is the 2022 monthly IRG scale.
func irgBrackets(start string) []payroll.TaxBracket {
	b := func(order int, min string, max *decimal.Decimal, rate string) payroll.TaxBracket {
		return payroll.TaxBracket{
			Name:      "T" + decimal.NewFromInt(int64(order)).String(),
			MinAmount: dec(min), MaxAmount: max, Rate: dec(rate), Order: order,
			StartDate: payroll.MustParseDate(start),
		}
	}
	return []payroll.TaxBracket{
		b(1, "0", decp("20000"), "0"),
		b(2, "20000", decp("40000"), "23"),
		b(3, "40000", decp("80000"), "27"),
		b(4, "80000", decp("160000"), "30"),
		b(5, "160000", decp("320000"), "33"),
		b(6, "320000", nil, "35"),
	}
}

func find(t *testing.T, lines []payroll.CalculatedRubrique, code string) payroll.CalculatedRubrique {
	t.Helper()
	for _, l := range lines {
		if l.Code == code {
			return l
		}
	}
	t.Fatalf("line %s not found", code)
	return payroll.CalculatedRubrique{}
}

// fixture seeds a memory store with one employee on a running contract.
type fixture struct {
	ctx   context.Context
	store *store.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), store: store.NewMemory()}
	require.NoError(t, f.store.SaveEmployee(f.ctx, payroll.Employee{
		ID: "emp-1", Name: "Amine", HireDate: payroll.NewDate(2022, time.March, 31),
	}))
	return f
}

func (f *fixture) contract(t *testing.T, employeeID, wage string, structureID *string) {
	t.Helper()
	require.NoError(t, f.store.SaveContract(f.ctx, payroll.Contract{
		ID: "ctr-" + employeeID, EmployeeID: employeeID, Wage: dec(wage),
		Status: payroll.ContractRunning, StartDate: payroll.NewDate(2022, time.January, 1),
		SalaryStructureID: structureID,
	}))
}

func (f *fixture) rubriques(t *testing.T, rs ...payroll.Rubrique) {
	t.Helper()
	for _, r := range rs {
		require.NoError(t, f.store.SaveRubrique(f.ctx, r))
	}
}

func (f *fixture) assign(t *testing.T, a payroll.EmployeeRubrique) {
	t.Helper()
	if a.ID == "" {
		a.ID = a.EmployeeID + "-" + a.Rubrique.Code + "-" + a.StartDate.String()
	}
	require.NoError(t, f.store.AssignRubrique(f.ctx, a))
}
