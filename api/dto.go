/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the payroll domain model from the external contract:
  - months are 0-11 on the wire, time.Month internally
  - amounts are decimal strings ("4725.00" style), never floats

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - payroll/service.go: Payslip and BatchResult
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/paie-engine/payroll"
)

// =============================================================================
// PAYSLIPS
// =============================================================================

// CalculatePayslipRequest mirrors the external calculatePayslip operation.
// BaseSalary and HireDate default to the active contract wage and the
// stored hire date.
type CalculatePayslipRequest struct {
	EmployeeID string           `json:"employee_id"`
	Year       int              `json:"year"`
	Month      *int             `json:"month"` // 0-11
	BaseSalary *decimal.Decimal `json:"base_salary,omitempty"`
	HireDate   *payroll.Date    `json:"hire_date,omitempty"`
}

// BatchPayslipRequest runs a month for the listed employees, or the whole
// roster when EmployeeIDs is empty.
type BatchPayslipRequest struct {
	Year        int      `json:"year"`
	Month       *int     `json:"month"` // 0-11
	EmployeeIDs []string `json:"employee_ids,omitempty"`
}

type PayslipDTO struct {
	EmployeeID string                       `json:"employee_id"`
	Year       int                          `json:"year"`
	Month      int                          `json:"month"`
	AsOf       payroll.Date                 `json:"as_of"`
	LineItems  []payroll.CalculatedRubrique `json:"line_items"`
	Totals     payroll.PayslipTotals        `json:"totals"`
}

type BatchResponse struct {
	Year     int                    `json:"year"`
	Month    int                    `json:"month"`
	AsOf     payroll.Date           `json:"as_of"`
	Payslips []PayslipDTO           `json:"payslips"`
	Failures []payroll.BatchFailure `json:"failures"`
}

// =============================================================================
// RUBRIQUES
// =============================================================================

type EffectiveRubriqueDTO struct {
	Code           string           `json:"code"`
	Name           string           `json:"name"`
	Type           string           `json:"type"`
	AmountType     string           `json:"amount_type"`
	Role           string           `json:"role"`
	Source         string           `json:"source"`
	Order          int              `json:"order"`
	Value          *decimal.Decimal `json:"value,omitempty"`
	Formula        *string          `json:"formula,omitempty"`
	AmountOverride *decimal.Decimal `json:"amount_override,omitempty"`
	RateOverride   *decimal.Decimal `json:"rate_override,omitempty"`
	StartDate      *payroll.Date    `json:"start_date,omitempty"`
	EndDate        *payroll.Date    `json:"end_date,omitempty"`
}

type ValidateFormulaRequest struct {
	Formula   string                     `json:"formula"`
	Variables map[string]decimal.Decimal `json:"variables,omitempty"`
}

type ValidateFormulaResponse struct {
	Valid     bool             `json:"valid"`
	Variables []string         `json:"variables"`
	Sample    *decimal.Decimal `json:"sample_result,omitempty"`
	Error     string           `json:"error,omitempty"`
	Code      string           `json:"code,omitempty"`
}

// =============================================================================
// PARAMETERS
// =============================================================================

type ParameterDTO struct {
	ID          string          `json:"id"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Value       decimal.Decimal `json:"value"`
	Description string          `json:"description,omitempty"`
	ValidFrom   payroll.Date    `json:"valid_from"`
	ValidTo     *payroll.Date   `json:"valid_to,omitempty"`
}

type UpsertParameterRequest struct {
	Code        string           `json:"code"`
	Name        string           `json:"name"`
	Value       *decimal.Decimal `json:"value"`
	Description string           `json:"description,omitempty"`
	ValidFrom   *payroll.Date    `json:"valid_from"`
	ValidTo     *payroll.Date    `json:"valid_to,omitempty"`
}

type ParameterDetailResponse struct {
	Code    string          `json:"code"`
	AsOf    payroll.Date    `json:"as_of"`
	Value   decimal.Decimal `json:"value"`
	History []ParameterDTO  `json:"history"`
}

// =============================================================================
// TAX
// =============================================================================

type TaxBracketDTO struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Min         decimal.Decimal  `json:"min"`
	Max         *decimal.Decimal `json:"max,omitempty"`
	Rate        decimal.Decimal  `json:"rate"`
	FixedAmount decimal.Decimal  `json:"fixed_amount"`
	Order       int              `json:"order"`
	ValidFrom   payroll.Date     `json:"valid_from"`
	ValidTo     *payroll.Date    `json:"valid_to,omitempty"`
}

type TaxBracketInput struct {
	Name  string           `json:"name"`
	Min   decimal.Decimal  `json:"min"`
	Max   *decimal.Decimal `json:"max,omitempty"`
	Rate  decimal.Decimal  `json:"rate"`
	Order int              `json:"order"`
}

type ReplaceTaxBracketsRequest struct {
	ValidFrom *payroll.Date     `json:"valid_from"`
	Brackets  []TaxBracketInput `json:"brackets"`
}

type TaxResponse struct {
	AsOf    payroll.Date    `json:"as_of"`
	Taxable decimal.Decimal `json:"taxable"`
	Tax     decimal.Decimal `json:"tax"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

// periodFromWire converts a 0-11 month.
func periodFromWire(year int, month *int) (payroll.Period, error) {
	if month == nil {
		return payroll.Period{}, errMissingMonth
	}
	return payroll.NewPeriod(year, time.Month(*month+1))
}

func toPayslipDTO(p payroll.Payslip) PayslipDTO {
	return PayslipDTO{
		EmployeeID: p.EmployeeID,
		Year:       p.Period.Year,
		Month:      int(p.Period.Month) - 1,
		AsOf:       p.AsOf,
		LineItems:  p.LineItems,
		Totals:     p.Totals,
	}
}

func toEffectiveRubriqueDTO(er payroll.EffectiveRubrique) EffectiveRubriqueDTO {
	r := er.Rubrique
	dto := EffectiveRubriqueDTO{
		Code:       r.Code,
		Name:       r.Name,
		Type:       string(r.Type),
		AmountType: string(r.AmountType),
		Role:       string(r.EffectiveRole()),
		Source:     string(er.Source),
		Order:      er.Order,
		Value:      r.Value,
		Formula:    r.Formula,
	}
	if a := er.Assignment; a != nil {
		start := a.StartDate
		dto.AmountOverride = a.AmountOverride
		dto.RateOverride = a.RateOverride
		dto.StartDate = &start
		dto.EndDate = a.EndDate
	}
	return dto
}

func toParameterDTO(p payroll.PayrollParameter) ParameterDTO {
	return ParameterDTO{
		ID:          p.ID,
		Code:        p.Code,
		Name:        p.Name,
		Value:       p.Value,
		Description: p.Description,
		ValidFrom:   p.StartDate,
		ValidTo:     p.EndDate,
	}
}

func toTaxBracketDTO(b payroll.TaxBracket) TaxBracketDTO {
	return TaxBracketDTO{
		ID:          b.ID,
		Name:        b.Name,
		Min:         b.MinAmount,
		Max:         b.MaxAmount,
		Rate:        b.Rate,
		FixedAmount: b.FixedAmount,
		Order:       b.Order,
		ValidFrom:   b.StartDate,
		ValidTo:     b.EndDate,
	}
}
