/*
handlers_test.go - Tests for the payroll API handlers

Every test runs against an in-memory SQLite store loaded with the default
Algerian catalog, through the full chi router.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/paie-engine/algeria"
	"github.com/warp/paie-engine/observability"
	"github.com/warp/paie-engine/payroll"
	"github.com/warp/paie-engine/store/sqlite"
)

type testServer struct {
	router  http.Handler
	handler *Handler
	store   *sqlite.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := payroll.NewService(store)
	metrics := observability.NewMetrics()
	h := NewHandler(store, svc, payroll.NewBatchRunner(svc, 4, metrics), nil)
	h.now = func() time.Time { return time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC) }

	catalog, err := algeria.DefaultCatalog()
	require.NoError(t, err)
	_, err = h.Loader.Apply(context.Background(), catalog)
	require.NoError(t, err)

	return &testServer{router: NewRouter(h, metrics.Handler()), handler: h, store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func month(m int) *int { return &m }

// =============================================================================
// PAYSLIPS
// =============================================================================

func TestCalculatePayslip_FromRoster(t *testing.T) {
	// GIVEN: emp-001, hired 2019-09-01, 55000 DA, PRIME_RENDEMENT since 2025
	s := newTestServer(t)

	// WHEN: March 2025 is requested (month 2 on the wire)
	rec := s.do(t, http.MethodPost, "/api/payslips/calculate", CalculatePayslipRequest{
		EmployeeID: "emp-001", Year: 2025, Month: month(2),
	})

	// THEN
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	slip := decode[PayslipDTO](t, rec)
	assert.Equal(t, 2, slip.Month)
	assert.Equal(t, "2025-03-31", slip.AsOf.String())
	assert.Len(t, slip.LineItems, 8)
	assert.Equal(t, "67568.84", slip.Totals.GrossSalary.StringFixed(2))
	assert.Equal(t, "9418.86", slip.Totals.IncomeTax.StringFixed(2))
	assert.Equal(t, "52428.78", slip.Totals.NetSalary.StringFixed(2))
	assert.Equal(t, "16527.90", slip.Totals.TotalEmployerContributions.StringFixed(2))
}

func TestCalculatePayslip_ExplicitInputs(t *testing.T) {
	// GIVEN: an employee unknown to the store, no contract, no assignments
	s := newTestServer(t)

	// WHEN: base salary and hire date are supplied
	rec := s.do(t, http.MethodPost, "/api/payslips/calculate",
		`{"employee_id": "walk-in", "year": 2025, "month": 2, "base_salary": "30000", "hire_date": "2025-03-01"}`)

	// THEN: only the synthetic base line is produced
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	slip := decode[PayslipDTO](t, rec)
	require.Len(t, slip.LineItems, 1)
	assert.Equal(t, payroll.BaseSalaryCode, slip.LineItems[0].Code)
	assert.Equal(t, "30000", slip.Totals.NetSalary.String())
}

func TestCalculatePayslip_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name     string
		body     any
		status   int
		wantCode string
	}{
		{"month out of range", CalculatePayslipRequest{EmployeeID: "emp-001", Year: 2025, Month: month(12)}, http.StatusBadRequest, "invalid_input"},
		{"month missing", CalculatePayslipRequest{EmployeeID: "emp-001", Year: 2025}, http.StatusBadRequest, "invalid_input"},
		{"unknown employee", CalculatePayslipRequest{EmployeeID: "ghost", Year: 2025, Month: month(2)}, http.StatusNotFound, "employee_not_found"},
		{"malformed body", "{", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/payslips/calculate", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestCalculatePayslip_ConfigurationError(t *testing.T) {
	// GIVEN: a formula referencing a parameter with no version yet
	s := newTestServer(t)
	ctx := context.Background()
	f := "SALAIRE_BASE * TAUX_FUTUR"
	bonus := payroll.Rubrique{
		ID: "BONUS", Code: "BONUS", Name: "Bonus", Type: payroll.TypeGain,
		AmountType: payroll.AmountFormula, Formula: &f, IsActive: true,
	}
	require.NoError(t, s.store.SaveRubrique(ctx, bonus))
	require.NoError(t, s.store.AssignRubrique(ctx, payroll.EmployeeRubrique{
		ID: "a-bonus", EmployeeID: "emp-003", Rubrique: bonus, StartDate: payroll.MustParseDate("2025-01-01"),
	}))

	// WHEN
	rec := s.do(t, http.MethodPost, "/api/payslips/calculate", CalculatePayslipRequest{
		EmployeeID: "emp-003", Year: 2025, Month: month(2),
	})

	// THEN: 422 with the failing variable named
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "formula_unknown_variable", resp.Code)
	assert.Contains(t, resp.Details, "TAUX_FUTUR")
	assert.Contains(t, resp.Details, "BONUS")
}

func TestCalculateBatch(t *testing.T) {
	s := newTestServer(t)

	t.Run("roster", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/payslips/batch", BatchPayslipRequest{Year: 2025, Month: month(2)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[BatchResponse](t, rec)
		require.Len(t, resp.Payslips, 3)
		assert.Empty(t, resp.Failures)
		assert.Equal(t, "emp-001", resp.Payslips[0].EmployeeID)
		assert.Equal(t, "52428.78", resp.Payslips[0].Totals.NetSalary.StringFixed(2))
	})

	t.Run("explicit list with unknown employee", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/payslips/batch", BatchPayslipRequest{
			Year: 2025, Month: month(2), EmployeeIDs: []string{"emp-002", "ghost"},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[BatchResponse](t, rec)
		require.Len(t, resp.Payslips, 1)
		require.Len(t, resp.Failures, 1)
		assert.Equal(t, "ghost", resp.Failures[0].EmployeeID)
		assert.Equal(t, "employee_not_found", resp.Failures[0].Code)
	})

	t.Run("metrics record the run", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/metrics", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `paie_payslips_total{status="ok"} 4`)
	})
}

func TestCalculateBatch_FailuresFollowRequestOrder(t *testing.T) {
	// GIVEN: emp-003 fails inside the batch, two unknown ids fail before it
	s := newTestServer(t)
	ctx := context.Background()
	f := "SALAIRE_BASE * TAUX_FUTUR"
	bonus := payroll.Rubrique{
		ID: "BONUS", Code: "BONUS", Name: "Bonus", Type: payroll.TypeGain,
		AmountType: payroll.AmountFormula, Formula: &f, IsActive: true,
	}
	require.NoError(t, s.store.SaveRubrique(ctx, bonus))
	require.NoError(t, s.store.AssignRubrique(ctx, payroll.EmployeeRubrique{
		ID: "a-bonus", EmployeeID: "emp-003", Rubrique: bonus, StartDate: payroll.MustParseDate("2025-01-01"),
	}))

	// WHEN
	rec := s.do(t, http.MethodPost, "/api/payslips/batch", BatchPayslipRequest{
		Year: 2025, Month: month(2), EmployeeIDs: []string{"ghost-a", "emp-003", "emp-001", "ghost-b"},
	})

	// THEN: failures are listed in the order the ids were sent
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[BatchResponse](t, rec)
	require.Len(t, resp.Payslips, 1)
	require.Len(t, resp.Failures, 3)
	var ids, codes []string
	for _, fl := range resp.Failures {
		ids = append(ids, fl.EmployeeID)
		codes = append(codes, fl.Code)
	}
	assert.Equal(t, []string{"ghost-a", "emp-003", "ghost-b"}, ids)
	assert.Equal(t, []string{"employee_not_found", "formula_unknown_variable", "employee_not_found"}, codes)
}

// =============================================================================
// RUBRIQUES AND FORMULAS
// =============================================================================

func TestGetEmployeeRubriques(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/employees/emp-001/rubriques?year=2025&month=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rubriques := decode[[]EffectiveRubriqueDTO](t, rec)

	var codes []string
	for _, r := range rubriques {
		codes = append(codes, r.Code)
	}
	assert.Equal(t, []string{
		"SALAIRE_BASE", "IEP", "PRIME_RENDEMENT", "PANIER", "TRANSPORT", "CNAS_SALARIE", "IRG", "CNAS_PATRONAL",
	}, codes)
	assert.Equal(t, "INDIVIDUAL", rubriques[2].Source)
	assert.Equal(t, "2025-01-01", rubriques[2].StartDate.String())

	// Before the individual assignment starts.
	rec = s.do(t, http.MethodGet, "/api/employees/emp-001/rubriques?year=2024&month=11", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]EffectiveRubriqueDTO](t, rec), 7)

	rec = s.do(t, http.MethodGet, "/api/employees/ghost/rubriques", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidateFormula(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name      string
		formula   string
		valid     bool
		wantCode  string
		wantVars  []string
		wantValue string
	}{
		{"parameter reference", "SALAIRE_BASE * TAUX_IEP / 100", true, "", []string{"SALAIRE_BASE", "TAUX_IEP"}, "300"},
		{"unknown variable", "SALAIRE_BASE * PRIME_X", false, "formula_unknown_variable", []string{"PRIME_X", "SALAIRE_BASE"}, ""},
		{"disallowed syntax", "__import__('os')", false, "formula_syntax", []string{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/formulas/validate", ValidateFormulaRequest{Formula: tt.formula})
			require.Equal(t, http.StatusOK, rec.Code)
			resp := decode[ValidateFormulaResponse](t, rec)

			assert.Equal(t, tt.valid, resp.Valid)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.ElementsMatch(t, tt.wantVars, resp.Variables)
			if tt.wantValue != "" {
				require.NotNil(t, resp.Sample)
				assert.Equal(t, tt.wantValue, resp.Sample.String())
			}
		})
	}
}

// =============================================================================
// PARAMETERS
// =============================================================================

func TestParameters(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: SNMG 18000 from 2020-06-01, 20000 from 2024-05-01
	rec := s.do(t, http.MethodGet, "/api/parameters?as_of=2025-03-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	params := decode[[]ParameterDTO](t, rec)
	require.Len(t, params, 2)
	assert.Equal(t, "SNMG", params[0].Code)
	assert.Equal(t, "20000", params[0].Value.String())

	rec = s.do(t, http.MethodGet, "/api/parameters/SNMG?as_of=2024-01-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[ParameterDetailResponse](t, rec)
	assert.Equal(t, "18000", detail.Value.String())
	assert.Len(t, detail.History, 2)

	// WHEN: a new version is appended
	rec = s.do(t, http.MethodPost, "/api/parameters",
		`{"code": "SNMG", "name": "SNMG", "value": "22000", "valid_from": "2026-01-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// THEN: history grows and each date resolves its own version
	rec = s.do(t, http.MethodGet, "/api/parameters/SNMG?as_of=2026-02-01", nil)
	detail = decode[ParameterDetailResponse](t, rec)
	assert.Equal(t, "22000", detail.Value.String())
	assert.Len(t, detail.History, 3)

	rec = s.do(t, http.MethodGet, "/api/parameters/SNMG?as_of=2025-12-31", nil)
	assert.Equal(t, "20000", decode[ParameterDetailResponse](t, rec).Value.String())
}

func TestParameters_Errors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/parameters/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "parameter_not_found", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/parameters",
		`{"code": "SNMG", "value": "15000", "valid_from": "2023-01-01"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "versions cannot be inserted before the open one")

	rec = s.do(t, http.MethodPost, "/api/parameters",
		`{"code": "SALAIRE_BASE", "value": "1", "valid_from": "2025-01-01"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/parameters", `{"code": "X"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/parameters?as_of=31/03/2025", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// TAX
// =============================================================================

func TestTax(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/tax?taxable=49775&as_of=2025-03-31", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "7239.25", decode[TaxResponse](t, rec).Tax.String())

	rec = s.do(t, http.MethodGet, "/api/tax-brackets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	brackets := decode[[]TaxBracketDTO](t, rec)
	require.Len(t, brackets, 6)
	assert.Equal(t, "15400", brackets[3].FixedAmount.String())

	rec = s.do(t, http.MethodGet, "/api/tax?taxable=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/tax?taxable=10000&as_of=2021-06-30", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "no_brackets_configured", decode[ErrorResponse](t, rec).Code)
}

func TestReplaceTaxBrackets(t *testing.T) {
	s := newTestServer(t)

	// WHEN: a flatter scale is installed from 2026
	rec := s.do(t, http.MethodPost, "/api/tax-brackets", `{
		"valid_from": "2026-01-01",
		"brackets": [
			{"name": "A", "min": "0", "max": "30000", "rate": "0", "order": 1},
			{"name": "B", "min": "30000", "rate": "20", "order": 2}
		]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	set := decode[[]TaxBracketDTO](t, rec)
	require.Len(t, set, 2)
	assert.NotEmpty(t, set[0].ID)

	// THEN: dates before 2026 keep the 2022 scale
	rec = s.do(t, http.MethodGet, "/api/tax?taxable=40000&as_of=2025-12-31", nil)
	assert.Equal(t, "4600", decode[TaxResponse](t, rec).Tax.String())
	rec = s.do(t, http.MethodGet, "/api/tax?taxable=40000&as_of=2026-01-31", nil)
	assert.Equal(t, "2000", decode[TaxResponse](t, rec).Tax.String())

	rec = s.do(t, http.MethodGet, "/api/tax-brackets?history=true", nil)
	assert.Len(t, decode[[]TaxBracketDTO](t, rec), 8)

	// AND: a set that does not start after the open one is rejected
	rec = s.do(t, http.MethodPost, "/api/tax-brackets", `{
		"valid_from": "2025-06-01",
		"brackets": [{"name": "X", "min": "0", "rate": "10", "order": 1}]
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/tax-brackets", `{"valid_from": "2027-01-01", "brackets": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty set")
}

// =============================================================================
// CATALOG AND SCENARIOS
// =============================================================================

func TestApplyCatalog(t *testing.T) {
	s := newTestServer(t)

	body := `
rubriques:
  - code: PRIME_ZONE
    name: Indemnité de zone
    type: GAIN
    amount_type: FORMULA
    formula: SALAIRE_BASE * TAUX_ZONE / 100
parameters:
  - code: TAUX_ZONE
    name: Taux zone
    value: 15
    valid_from: 2025-01-01
`
	req := httptest.NewRequest(http.MethodPost, "/api/catalog", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/yaml")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rubrique, err := s.store.GetRubrique(context.Background(), "PRIME_ZONE")
	require.NoError(t, err)
	require.NotNil(t, rubrique)

	// An invalid catalog writes nothing.
	req = httptest.NewRequest(http.MethodPost, "/api/catalog", strings.NewReader(
		"rubriques:\n  - {code: BAD, name: Bad, type: GAIN, amount_type: FORMULA, formula: SALAIRE_BASE * NOPE}\n"))
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rubrique, err = s.store.GetRubrique(context.Background(), "BAD")
	require.NoError(t, err)
	assert.Nil(t, rubrique)
}

func TestLoadScenario(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), 2)

	rec = s.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "empty"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	employees, err := s.store.ListEmployees(context.Background())
	require.NoError(t, err)
	assert.Empty(t, employees)

	rec = s.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "algeria-default"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[LoadScenarioResponse](t, rec)
	require.NotNil(t, resp.Result)
	assert.Equal(t, 3, resp.Result.Employees)

	rec = s.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
