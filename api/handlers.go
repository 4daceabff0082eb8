/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes the rubrique calculation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to package payroll.

ENDPOINTS:
  Payslips:
    POST   /api/payslips/calculate       One payslip (month 0-11)
    POST   /api/payslips/batch           A month for many employees

  Rubriques:
    GET    /api/employees/{id}/rubriques Effective rubriques for a month
    POST   /api/formulas/validate        Dry-run a formula

  Parameters:
    GET    /api/parameters               Parameters effective at ?as_of
    POST   /api/parameters               Append a parameter version
    GET    /api/parameters/{code}        Value at ?as_of plus history

  Tax:
    GET    /api/tax-brackets             Active set at ?as_of (?history=true: all rows)
    POST   /api/tax-brackets             Replace the set from valid_from
    GET    /api/tax                      Tax owed on ?taxable at ?as_of

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: catalog and configuration access
  - Service: single payslip calculation
  - Batch: concurrent runs sharing one configuration snapshot
  - Loader: catalog files (see catalog.go)

ERROR HANDLING:
  Errors are returned as JSON with a stable code (payroll.ErrorCode):
  - 400: invalid input, period or validity window
  - 404: employee or parameter not found
  - 422: payroll configuration errors (formula, brackets, parameters)
  - 500: internal errors

SECURITY NOTE:
  No authentication or authorization. Deploy behind a gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - catalog.go: Catalog upload and demo reset
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/paie-engine/factory"
	"github.com/warp/paie-engine/formula"
	"github.com/warp/paie-engine/payroll"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the API needs beyond the calculation ports: bracket
// history and a full reset for the demo catalog.
type Store interface {
	payroll.CatalogStore
	AllTaxBrackets(ctx context.Context) ([]payroll.TaxBracket, error)
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   Store
	Service *payroll.Service
	Batch   *payroll.BatchRunner
	Loader  *factory.Loader
	Log     *zap.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewHandler creates a new handler. batch may be nil, in which case a
// runner with default workers is built.
func NewHandler(store Store, service *payroll.Service, batch *payroll.BatchRunner, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if batch == nil {
		batch = payroll.NewBatchRunner(service, payroll.DefaultBatchWorkers, nil)
	}
	return &Handler{
		Store:   store,
		Service: service,
		Batch:   batch,
		Loader:  factory.NewLoader(store, log),
		Log:     log,
		now:     time.Now,
	}
}

var errMissingMonth = fmt.Errorf("%w: month is required (0-11)", payroll.ErrInvalidPeriod)

// =============================================================================
// PAYSLIP HANDLERS
// =============================================================================

// CalculatePayslip computes one payslip.
func (h *Handler) CalculatePayslip(w http.ResponseWriter, r *http.Request) {
	var req CalculatePayslipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.EmployeeID == "" {
		writeError(w, http.StatusBadRequest, "employee_id is required", nil)
		return
	}
	period, err := periodFromWire(req.Year, req.Month)
	if err != nil {
		writeServiceError(w, "Invalid period", err)
		return
	}

	ctx := r.Context()
	in := payroll.PayslipRequest{EmployeeID: req.EmployeeID, Period: period}
	if req.BaseSalary == nil || req.HireDate == nil {
		in, err = h.Service.RequestFor(ctx, req.EmployeeID, period)
		if err != nil {
			writeServiceError(w, "Failed to load employee", err)
			return
		}
	}
	if req.BaseSalary != nil {
		in.BaseSalary = *req.BaseSalary
	}
	if req.HireDate != nil {
		in.HireDate = *req.HireDate
	}

	slip, err := h.Service.CalculatePayslip(ctx, in)
	if err != nil {
		h.Log.Warn("payslip calculation failed",
			zap.String("employee_id", req.EmployeeID),
			zap.String("period", period.String()),
			zap.Error(err),
		)
		writeServiceError(w, "Failed to calculate payslip", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayslipDTO(*slip))
}

// CalculateBatch runs one month for a list of employees or the roster.
func (h *Handler) CalculateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchPayslipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	period, err := periodFromWire(req.Year, req.Month)
	if err != nil {
		writeServiceError(w, "Invalid period", err)
		return
	}

	ctx := r.Context()
	var result *payroll.BatchResult
	if len(req.EmployeeIDs) == 0 {
		result, err = h.Batch.RunRoster(ctx, period)
	} else {
		reqs := make([]payroll.PayslipRequest, 0, len(req.EmployeeIDs))
		var failures []payroll.BatchFailure
		for _, id := range req.EmployeeIDs {
			in, err := h.Service.RequestFor(ctx, id, period)
			if err != nil {
				failures = append(failures, payroll.BatchFailure{EmployeeID: id, Code: payroll.ErrorCode(err), Reason: err.Error()})
				continue
			}
			reqs = append(reqs, in)
		}
		result, err = h.Batch.Run(ctx, period, reqs)
		if result != nil {
			result.Failures = mergeFailures(req.EmployeeIDs, result.Failures, failures)
		}
	}
	if err != nil && result == nil {
		writeServiceError(w, "Failed to run payroll batch", err)
		return
	}

	resp := BatchResponse{
		Year:     period.Year,
		Month:    int(period.Month) - 1,
		AsOf:     result.AsOf,
		Payslips: make([]PayslipDTO, 0, len(result.Payslips)),
		Failures: result.Failures,
	}
	for _, p := range result.Payslips {
		resp.Payslips = append(resp.Payslips, toPayslipDTO(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// RUBRIQUE HANDLERS
// =============================================================================

// GetEmployeeRubriques lists the effective rubriques for ?year and ?month
// (0-11), defaulting to the current month.
func (h *Handler) GetEmployeeRubriques(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	period, err := h.periodFromQuery(r)
	if err != nil {
		writeServiceError(w, "Invalid period", err)
		return
	}

	emp, err := h.Store.GetEmployee(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return
	}
	if emp == nil {
		writeServiceError(w, "Employee not found", fmt.Errorf("%w: %s", payroll.ErrEmployeeNotFound, id))
		return
	}

	rubriques, err := h.Service.Resolver().Resolve(ctx, id, period.AsOf())
	if err != nil {
		writeServiceError(w, "Failed to resolve rubriques", err)
		return
	}
	dtos := make([]EffectiveRubriqueDTO, len(rubriques))
	for i, er := range rubriques {
		dtos[i] = toEffectiveRubriqueDTO(er)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ValidateFormula dry-runs a formula against the sample context, the
// parameters effective today and any caller-supplied variables.
func (h *Handler) ValidateFormula(w http.ResponseWriter, r *http.Request) {
	var req ValidateFormulaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	resp := ValidateFormulaResponse{Variables: []string{}}
	expr, err := formula.Compile(req.Formula)
	if err != nil {
		resp.Error = err.Error()
		resp.Code = payroll.ErrorCode(err)
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if vars := expr.Variables(); vars != nil {
		resp.Variables = vars
	}

	extra, err := h.Service.Parameters().All(r.Context(), payroll.DateOf(h.now()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load parameters", err)
		return
	}
	extra[payroll.VarAnciennete] = decimal.NewFromInt(1)
	for k, v := range req.Variables {
		extra[k] = v
	}

	sample, err := formula.Validate(req.Formula, extra)
	if err != nil {
		resp.Error = err.Error()
		resp.Code = payroll.ErrorCode(err)
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Valid = true
	resp.Sample = &sample
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// PARAMETER HANDLERS
// =============================================================================

// ListParameters returns the parameters effective at ?as_of (default today).
func (h *Handler) ListParameters(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOfFromQuery(r)
	if err != nil {
		writeServiceError(w, "Invalid as_of", err)
		return
	}
	params, err := h.Service.Parameters().Effective(r.Context(), asOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list parameters", err)
		return
	}
	dtos := make([]ParameterDTO, len(params))
	for i, p := range params {
		dtos[i] = toParameterDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetParameter returns the value at ?as_of and the full history.
func (h *Handler) GetParameter(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	ctx := r.Context()
	asOf, err := h.asOfFromQuery(r)
	if err != nil {
		writeServiceError(w, "Invalid as_of", err)
		return
	}

	value, err := h.Service.Parameters().Get(ctx, code, asOf)
	if err != nil {
		writeServiceError(w, "Parameter not found", err)
		return
	}
	history, err := h.Service.Parameters().History(ctx, code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load parameter history", err)
		return
	}

	resp := ParameterDetailResponse{Code: code, AsOf: asOf, Value: value, History: make([]ParameterDTO, len(history))}
	for i, p := range history {
		resp.History[i] = toParameterDTO(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpsertParameter appends a new parameter version.
func (h *Handler) UpsertParameter(w http.ResponseWriter, r *http.Request) {
	var req UpsertParameterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Code == "" || req.Value == nil || req.ValidFrom == nil {
		writeError(w, http.StatusBadRequest, "code, value and valid_from are required", nil)
		return
	}
	if payroll.IsReservedVariable(req.Code) {
		writeError(w, http.StatusBadRequest, "Reserved variable name", fmt.Errorf("%s cannot be used as a parameter code", req.Code))
		return
	}

	p, err := h.Service.Parameters().Upsert(r.Context(), payroll.ParameterUpsert{
		Code:        req.Code,
		Name:        req.Name,
		Value:       *req.Value,
		Description: req.Description,
		ValidFrom:   *req.ValidFrom,
		ValidTo:     req.ValidTo,
	})
	if err != nil {
		writeServiceError(w, "Failed to save parameter", err)
		return
	}
	h.Log.Info("parameter version saved",
		zap.String("code", p.Code),
		zap.String("value", p.Value.String()),
		zap.Stringer("valid_from", p.StartDate),
	)
	writeJSON(w, http.StatusCreated, toParameterDTO(p))
}

// =============================================================================
// TAX HANDLERS
// =============================================================================

// ListTaxBrackets returns the active set at ?as_of, or every row with
// ?history=true.
func (h *Handler) ListTaxBrackets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var brackets []payroll.TaxBracket
	var err error
	if r.URL.Query().Get("history") == "true" {
		brackets, err = h.Store.AllTaxBrackets(ctx)
	} else {
		var asOf payroll.Date
		if asOf, err = h.asOfFromQuery(r); err != nil {
			writeServiceError(w, "Invalid as_of", err)
			return
		}
		brackets, err = h.Service.Tax().Brackets(ctx, asOf)
	}
	if err != nil {
		writeServiceError(w, "Failed to load tax brackets", err)
		return
	}

	dtos := make([]TaxBracketDTO, len(brackets))
	for i, b := range brackets {
		dtos[i] = toTaxBracketDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReplaceTaxBrackets closes the open set and installs a new one.
func (h *Handler) ReplaceTaxBrackets(w http.ResponseWriter, r *http.Request) {
	var req ReplaceTaxBracketsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ValidFrom == nil {
		writeError(w, http.StatusBadRequest, "valid_from is required", nil)
		return
	}

	in := make([]payroll.TaxBracket, len(req.Brackets))
	for i, b := range req.Brackets {
		in[i] = payroll.TaxBracket{Name: b.Name, MinAmount: b.Min, MaxAmount: b.Max, Rate: b.Rate, Order: b.Order}
	}
	set, err := h.Service.Tax().Replace(r.Context(), in, *req.ValidFrom)
	if err != nil {
		writeServiceError(w, "Failed to replace tax brackets", err)
		return
	}
	h.Log.Info("tax bracket set replaced",
		zap.Stringer("valid_from", *req.ValidFrom),
		zap.Int("brackets", len(set)),
	)

	dtos := make([]TaxBracketDTO, len(set))
	for i, b := range set {
		dtos[i] = toTaxBracketDTO(b)
	}
	writeJSON(w, http.StatusCreated, dtos)
}

// CalculateTax returns the tax owed on ?taxable at ?as_of.
func (h *Handler) CalculateTax(w http.ResponseWriter, r *http.Request) {
	taxable, err := decimal.NewFromString(r.URL.Query().Get("taxable"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid taxable amount", err)
		return
	}
	asOf, err := h.asOfFromQuery(r)
	if err != nil {
		writeServiceError(w, "Invalid as_of", err)
		return
	}
	tax, err := h.Service.Tax().CalculateTax(r.Context(), taxable, asOf)
	if err != nil {
		writeServiceError(w, "Failed to calculate tax", err)
		return
	}
	writeJSON(w, http.StatusOK, TaxResponse{AsOf: asOf, Taxable: taxable, Tax: tax})
}

// =============================================================================
// HELPERS
// =============================================================================

// mergeFailures interleaves lookup failures with batch failures so both
// follow the order of ids.
func mergeFailures(ids []string, batch, lookup []payroll.BatchFailure) []payroll.BatchFailure {
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, ok := pos[id]; !ok {
			pos[id] = i
		}
	}
	out := append(batch, lookup...)
	sort.SliceStable(out, func(i, j int) bool { return pos[out[i].EmployeeID] < pos[out[j].EmployeeID] })
	return out
}

func (h *Handler) asOfFromQuery(r *http.Request) (payroll.Date, error) {
	s := r.URL.Query().Get("as_of")
	if s == "" {
		return payroll.DateOf(h.now()), nil
	}
	d, err := payroll.ParseDate(s)
	if err != nil {
		return payroll.Date{}, fmt.Errorf("%w: %v", payroll.ErrInvalidValidity, err)
	}
	return d, nil
}

func (h *Handler) periodFromQuery(r *http.Request) (payroll.Period, error) {
	q := r.URL.Query()
	if q.Get("year") == "" && q.Get("month") == "" {
		now := h.now()
		return payroll.NewPeriod(now.Year(), now.Month())
	}
	var year, month int
	if _, err := fmt.Sscanf(q.Get("year"), "%d", &year); err != nil {
		return payroll.Period{}, fmt.Errorf("%w: year %q", payroll.ErrInvalidPeriod, q.Get("year"))
	}
	if _, err := fmt.Sscanf(q.Get("month"), "%d", &month); err != nil {
		return payroll.Period{}, fmt.Errorf("%w: month %q", payroll.ErrInvalidPeriod, q.Get("month"))
	}
	return periodFromWire(year, &month)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps payroll errors to a status and a stable code.
func writeServiceError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case payroll.IsNotFound(err), errors.Is(err, payroll.ErrParameterNotFound):
		status = http.StatusNotFound
	case payroll.IsClientError(err):
		status = http.StatusBadRequest
	case payroll.IsConfigurationError(err):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: payroll.ErrorCode(err), Details: err.Error()})
}
