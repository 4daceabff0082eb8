package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/paie-engine/payroll"
	"github.com/warp/paie-engine/store/sqlite"
)

func dec(s string) decimal.Decimal   { return decimal.RequireFromString(s) }
func decp(s string) *decimal.Decimal { v := dec(s); return &v }
func intp(i int) *int                { return &i }
func strp(s string) *string          { return &s }

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var march2025 = payroll.Period{Year: 2025, Month: time.March}

func TestRubriqueRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	iep := payroll.Rubrique{
		ID: "r-iep", Code: "IEP", Name: "Indemnité d'expérience", Type: payroll.TypeGain,
		AmountType: payroll.AmountFormula, Formula: strp("SALAIRE_BASE * ANCIENNETE * 0.01"),
		SubjectToSocialContrib: true, SubjectToIncomeTax: true, DisplayOrder: intp(15), IsActive: true,
	}
	require.NoError(t, s.SaveRubrique(ctx, iep))

	got, err := s.GetRubrique(ctx, "IEP")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, iep, *got)

	missing, err := s.GetRubrique(ctx, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// Update by code keeps a single row.
	iep.IsActive = false
	require.NoError(t, s.SaveRubrique(ctx, iep))
	all, err := s.ListRubriques(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].IsActive)
}

func TestStructureJoinsCurrentRubrique(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	panier := payroll.Rubrique{Code: "PANIER", Name: "Panier", Type: payroll.TypeGain, AmountType: payroll.AmountFixed, Value: decp("800"), IsActive: true}
	cnas := payroll.Rubrique{Code: "CNAS_SALARIE", Name: "CNAS", Type: payroll.TypeRetenue, AmountType: payroll.AmountPercentage, Value: decp("9"), Role: payroll.RoleSocialContrib, IsActive: true}
	require.NoError(t, s.SaveRubrique(ctx, panier))
	require.NoError(t, s.SaveRubrique(ctx, cnas))
	require.NoError(t, s.SaveStructure(ctx, payroll.SalaryStructure{
		ID: "std", Name: "Standard",
		Rubriques: []payroll.StructureRubrique{{Rubrique: cnas, DisplayOrder: intp(50)}, {Rubrique: panier}},
	}))

	// WHEN: the catalog value changes after linking
	panier.Value = decp("1000")
	require.NoError(t, s.SaveRubrique(ctx, panier))

	// THEN: links come back in insertion order with the current definition
	links, err := s.StructureRubriques(ctx, "std")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "CNAS_SALARIE", links[0].Rubrique.Code)
	assert.Equal(t, 50, *links[0].DisplayOrder)
	assert.Nil(t, links[1].DisplayOrder)
	assert.Equal(t, "1000", links[1].Rubrique.Value.String())
}

func TestStructureRejectsUnknownRubrique(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	err := s.SaveStructure(ctx, payroll.SalaryStructure{
		ID: "std", Rubriques: []payroll.StructureRubrique{{Rubrique: payroll.Rubrique{Code: "GHOST"}}},
	})
	assert.Error(t, err)

	links, err := s.StructureRubriques(ctx, "std")
	require.NoError(t, err)
	assert.Empty(t, links, "failed save is rolled back")
}

func TestActiveContract(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	end := payroll.NewDate(2024, time.December, 31)
	require.NoError(t, s.SaveContract(ctx, payroll.Contract{
		ID: "c-old", EmployeeID: "emp-1", Wage: dec("35000"), Status: payroll.ContractRunning,
		StartDate: payroll.NewDate(2020, time.January, 1), EndDate: &end,
	}))
	require.NoError(t, s.SaveContract(ctx, payroll.Contract{
		ID: "c-new", EmployeeID: "emp-1", Wage: dec("52500.50"), Status: payroll.ContractRunning,
		StartDate: payroll.NewDate(2025, time.January, 1), SalaryStructureID: strp("std"),
	}))
	require.NoError(t, s.SaveContract(ctx, payroll.Contract{
		ID: "c-draft", EmployeeID: "emp-1", Wage: dec("99999"), Status: payroll.ContractDraft,
		StartDate: payroll.NewDate(2025, time.February, 1),
	}))

	c, err := s.ActiveContract(ctx, "emp-1", march2025.AsOf())
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "c-new", c.ID)
	assert.Equal(t, "52500.5", c.Wage.String())
	require.NotNil(t, c.SalaryStructureID)
	assert.Equal(t, "std", *c.SalaryStructureID)

	old, err := s.ActiveContract(ctx, "emp-1", payroll.NewDate(2024, time.December, 31))
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.Equal(t, "c-old", old.ID)

	none, err := s.ActiveContract(ctx, "emp-2", march2025.AsOf())
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestIndividualAssignmentsWindow(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	prime := payroll.Rubrique{Code: "PRIME", Name: "Prime", Type: payroll.TypeGain, AmountType: payroll.AmountFixed, IsActive: true}
	require.NoError(t, s.SaveRubrique(ctx, prime))

	end := payroll.NewDate(2025, time.March, 31)
	require.NoError(t, s.AssignRubrique(ctx, payroll.EmployeeRubrique{
		ID: "a1", EmployeeID: "emp-1", Rubrique: prime,
		StartDate: payroll.NewDate(2025, time.March, 1), EndDate: &end,
		AmountOverride: decp("1500.25"), Order: intp(3),
	}))
	require.NoError(t, s.AssignRubrique(ctx, payroll.EmployeeRubrique{
		ID: "a2", EmployeeID: "emp-1", Rubrique: prime, StartDate: payroll.NewDate(2025, time.April, 1),
	}))

	got, err := s.IndividualAssignments(ctx, "emp-1", march2025.AsOf())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, "1500.25", got[0].AmountOverride.String())
	assert.Nil(t, got[0].RateOverride)
	assert.Equal(t, 3, *got[0].Order)
	assert.Equal(t, "Prime", got[0].Rubrique.Name)
	require.NotNil(t, got[0].EndDate)
	assert.Equal(t, "2025-03-31", got[0].EndDate.String())
}

func TestParameterSupersede(t *testing.T) {
	// GIVEN: SNMG superseded on 2024-05-01
	ctx := context.Background()
	s := newStore(t)
	params := payroll.NewParameterService(s)

	_, err := params.Upsert(ctx, payroll.ParameterUpsert{Code: "SNMG", Value: dec("18000"), ValidFrom: payroll.NewDate(2020, time.June, 1)})
	require.NoError(t, err)
	_, err = params.Upsert(ctx, payroll.ParameterUpsert{Code: "SNMG", Value: dec("20000"), ValidFrom: payroll.NewDate(2024, time.May, 1), Description: "Décret 2024"})
	require.NoError(t, err)

	// THEN: point-in-time reads see their own version
	v, err := params.Get(ctx, "SNMG", payroll.NewDate(2023, time.January, 31))
	require.NoError(t, err)
	assert.Equal(t, "18000", v.String())
	v, err = params.Get(ctx, "SNMG", march2025.AsOf())
	require.NoError(t, err)
	assert.Equal(t, "20000", v.String())

	history, err := params.History(ctx, "SNMG")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2024-05-01", history[0].EndDate.String())
	assert.Equal(t, "Décret 2024", history[1].Description)

	// AND: an earlier version is rejected without touching history
	_, err = params.Upsert(ctx, payroll.ParameterUpsert{Code: "SNMG", Value: dec("1"), ValidFrom: payroll.NewDate(2023, time.January, 1)})
	assert.ErrorIs(t, err, payroll.ErrInvalidValidity)
	history, err = params.History(ctx, "SNMG")
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Nil(t, history[1].EndDate)
}

func TestTaxBracketReplace(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	tax := payroll.NewTaxResolver(s, nil)

	scale := func(secondRate string) []payroll.TaxBracket {
		return []payroll.TaxBracket{
			{Name: "T1", MinAmount: dec("0"), MaxAmount: decp("20000"), Rate: dec("0"), Order: 1},
			{Name: "T2", MinAmount: dec("20000"), MaxAmount: decp("40000"), Rate: dec(secondRate), Order: 2},
			{Name: "T3", MinAmount: dec("40000"), Rate: dec("27"), Order: 3},
		}
	}

	_, err := tax.Replace(ctx, scale("23"), payroll.NewDate(2022, time.January, 1))
	require.NoError(t, err)
	_, err = tax.Replace(ctx, scale("25"), payroll.NewDate(2026, time.January, 1))
	require.NoError(t, err)

	old, err := s.ActiveTaxBrackets(ctx, payroll.NewDate(2025, time.December, 31))
	require.NoError(t, err)
	require.Len(t, old, 3)
	assert.Equal(t, "23", old[1].Rate.String())
	assert.Nil(t, old[2].MaxAmount)
	assert.Equal(t, "4600", old[2].FixedAmount.String())

	current, err := s.ActiveTaxBrackets(ctx, payroll.NewDate(2026, time.January, 31))
	require.NoError(t, err)
	require.Len(t, current, 3)
	assert.Equal(t, "25", current[1].Rate.String())

	none, err := s.ActiveTaxBrackets(ctx, payroll.NewDate(2021, time.December, 31))
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = tax.Replace(ctx, scale("30"), payroll.NewDate(2026, time.January, 1))
	assert.ErrorIs(t, err, payroll.ErrInvalidValidity)

	all, err := s.AllTaxBrackets(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestPayslipOnSQLite(t *testing.T) {
	// GIVEN: the documented scenario persisted in SQLite
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SaveEmployee(ctx, payroll.Employee{ID: "emp-1", Name: "Amine", HireDate: payroll.NewDate(2022, time.March, 31)}))
	panier := payroll.Rubrique{Code: "PANIER", Name: "Panier", Type: payroll.TypeGain, AmountType: payroll.AmountFixed, Value: decp("2500"), IsActive: true}
	cnas := payroll.Rubrique{Code: "CNAS_SALARIE", Name: "CNAS", Type: payroll.TypeRetenue, AmountType: payroll.AmountPercentage, Value: decp("9"), Role: payroll.RoleSocialContrib, IsActive: true}
	for _, r := range []payroll.Rubrique{panier, cnas} {
		require.NoError(t, s.SaveRubrique(ctx, r))
	}
	require.NoError(t, s.SaveStructure(ctx, payroll.SalaryStructure{
		ID: "std", Rubriques: []payroll.StructureRubrique{{Rubrique: panier}, {Rubrique: cnas}},
	}))
	require.NoError(t, s.SaveContract(ctx, payroll.Contract{
		ID: "c1", EmployeeID: "emp-1", Wage: dec("50000"), Status: payroll.ContractRunning,
		StartDate: payroll.NewDate(2022, time.March, 31), SalaryStructureID: strp("std"),
	}))

	svc := payroll.NewService(s)
	req, err := svc.RequestFor(ctx, "emp-1", march2025)
	require.NoError(t, err)

	// WHEN
	slip, err := svc.CalculatePayslip(ctx, req)

	// THEN: PANIER is exempt, CNAS on 50000
	require.NoError(t, err)
	assert.Equal(t, "52500", slip.Totals.GrossSalary.String())
	assert.Equal(t, "4500", slip.Totals.TotalEmployeeContributions.String())
	assert.Equal(t, "48000", slip.Totals.NetSalary.String())
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SaveEmployee(ctx, payroll.Employee{ID: "e", Name: "E", HireDate: payroll.NewDate(2020, time.January, 1)}))
	require.NoError(t, s.Reset(ctx))
	employees, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Empty(t, employees)
}
