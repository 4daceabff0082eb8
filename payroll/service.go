package payroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// SERVICE - CalculatePayslip over the store ports
// =============================================================================

type PayslipRequest struct {
	EmployeeID string
	Period     Period
	BaseSalary decimal.Decimal
	HireDate   Date
}

type Payslip struct {
	EmployeeID string               `json:"employee_id"`
	Period     Period               `json:"period"`
	AsOf       Date                 `json:"as_of"`
	LineItems  []CalculatedRubrique `json:"line_items"`
	Totals     PayslipTotals        `json:"totals"`
}

// ConfigSnapshot is the configuration a calculation reads, captured once.
// Brackets is nil when no set is configured; only TAX_SCALE rubriques fail then.
// Rubriques holds the catalog by code; resolved assignments are rebound to it.
type ConfigSnapshot struct {
	AsOf       Date
	Parameters map[string]decimal.Decimal
	Brackets   []TaxBracket
	Rubriques  map[string]Rubrique
	TakenAt    time.Time
}

// Service calculates payslips from the store: it resolves assignments,
// snapshots configuration and runs the engine.
type Service struct {
	store    Store
	params   *ParameterService
	tax      *TaxResolver
	resolver *AssignmentResolver
	engine   *Engine
	log      *zap.Logger
}

type Option func(*Service)

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithFallbackBrackets enables the tax table used when no set is configured.
func WithFallbackBrackets(brackets []TaxBracket) Option {
	return func(s *Service) { s.tax.Fallback = brackets }
}

func WithBaseSalaryFailSafe(enabled bool) Option {
	return func(s *Service) { s.engine.BaseSalaryFailSafe = enabled }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		params: NewParameterService(store),
		tax:    NewTaxResolver(store, nil),
		engine: NewEngine(nil),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.engine.log = s.log
	s.resolver = NewAssignmentResolver(store, store, store, s.log)
	return s
}

func (s *Service) Parameters() *ParameterService { return s.params }
func (s *Service) Tax() *TaxResolver              { return s.tax }
func (s *Service) Resolver() *AssignmentResolver  { return s.resolver }

// Snapshot captures the rubrique catalog, and the parameters and brackets
// effective at asOf.
func (s *Service) Snapshot(ctx context.Context, asOf Date) (*ConfigSnapshot, error) {
	params, err := s.params.All(ctx, asOf)
	if err != nil {
		return nil, err
	}
	brackets, err := s.tax.Brackets(ctx, asOf)
	if err != nil && !errors.Is(err, ErrNoBracketsConfigured) {
		return nil, err
	}
	list, err := s.store.ListRubriques(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rubriques: %w", err)
	}
	catalog := make(map[string]Rubrique, len(list))
	for _, r := range list {
		catalog[r.Code] = r
	}
	return &ConfigSnapshot{
		AsOf:       asOf,
		Parameters: params,
		Brackets:   brackets,
		Rubriques:  catalog,
		TakenAt:    time.Now().UTC(),
	}, nil
}

// CalculatePayslip computes one employee's payslip for req.Period. Every
// temporal lookup resolves against the last day of the period month.
func (s *Service) CalculatePayslip(ctx context.Context, req PayslipRequest) (*Payslip, error) {
	if err := req.Period.Validate(); err != nil {
		return nil, err
	}
	snap, err := s.Snapshot(ctx, req.Period.AsOf())
	if err != nil {
		return nil, err
	}
	return s.calculate(ctx, s.resolver, req, snap)
}

func (s *Service) calculate(ctx context.Context, resolver *AssignmentResolver, req PayslipRequest, snap *ConfigSnapshot) (*Payslip, error) {
	if err := req.Period.Validate(); err != nil {
		return nil, err
	}
	asOf := req.Period.AsOf()
	if !snap.AsOf.Equal(asOf) {
		return nil, fmt.Errorf("%w: snapshot as of %s used for period %s", ErrInvalidPeriod, snap.AsOf, req.Period)
	}

	rubriques, err := resolver.withRubriques(snap.Rubriques).Resolve(ctx, req.EmployeeID, asOf)
	if err != nil {
		return nil, err
	}

	lines, err := s.engine.Calculate(CalculationInput{
		EmployeeID: req.EmployeeID,
		Period:     req.Period,
		BaseSalary: req.BaseSalary,
		HireDate:   req.HireDate,
		Rubriques:  rubriques,
		Parameters: snap.Parameters,
		Brackets:   snap.Brackets,
	})
	if err != nil {
		return nil, err
	}

	return &Payslip{
		EmployeeID: req.EmployeeID,
		Period:     req.Period,
		AsOf:       asOf,
		LineItems:  lines,
		Totals:     Aggregate(lines),
	}, nil
}

// RequestFor builds a request from the roster: the wage of the active
// contract and the employee's hire date.
func (s *Service) RequestFor(ctx context.Context, employeeID string, period Period) (PayslipRequest, error) {
	emp, err := s.store.GetEmployee(ctx, employeeID)
	if err != nil {
		return PayslipRequest{}, fmt.Errorf("load employee: %w", err)
	}
	if emp == nil {
		return PayslipRequest{}, fmt.Errorf("%w: %s", ErrEmployeeNotFound, employeeID)
	}
	req := PayslipRequest{EmployeeID: emp.ID, Period: period, HireDate: emp.HireDate}
	contract, err := s.store.ActiveContract(ctx, employeeID, period.AsOf())
	if err != nil {
		return PayslipRequest{}, fmt.Errorf("load active contract: %w", err)
	}
	if contract != nil {
		req.BaseSalary = contract.Wage
	}
	return req, nil
}

// RosterRequests builds a request for every employee in the roster.
func (s *Service) RosterRequests(ctx context.Context, period Period) ([]PayslipRequest, error) {
	employees, err := s.store.ListEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	reqs := make([]PayslipRequest, 0, len(employees))
	for _, e := range employees {
		req, err := s.RequestFor(ctx, e.ID, period)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
