package payroll

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// PARAMETER SERVICE - Point-in-time resolution over an append-only table
// =============================================================================

// ParameterService resolves named payroll parameters (minimum wage,
// contribution ceilings, premium rates) as of a date.
type ParameterService struct {
	repo ParameterRepository
}

func NewParameterService(repo ParameterRepository) *ParameterService {
	return &ParameterService{repo: repo}
}

// Get returns the value of code effective at asOf.
func (s *ParameterService) Get(ctx context.Context, code string, asOf Date) (decimal.Decimal, error) {
	rows, err := s.repo.ParametersAt(ctx, asOf)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load parameters: %w", err)
	}
	p, ok := ResolveParameters(rows, asOf)[code]
	if !ok {
		return decimal.Zero, &ParameterNotFoundError{Code: code, AsOf: asOf}
	}
	return p.Value, nil
}

// All returns every parameter effective at asOf, keyed by code.
func (s *ParameterService) All(ctx context.Context, asOf Date) (map[string]decimal.Decimal, error) {
	rows, err := s.repo.ParametersAt(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("load parameters: %w", err)
	}
	resolved := ResolveParameters(rows, asOf)
	out := make(map[string]decimal.Decimal, len(resolved))
	for code, p := range resolved {
		out[code] = p.Value
	}
	return out, nil
}

// Effective returns the resolved rows effective at asOf, sorted by code.
func (s *ParameterService) Effective(ctx context.Context, asOf Date) ([]PayrollParameter, error) {
	rows, err := s.repo.ParametersAt(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("load parameters: %w", err)
	}
	resolved := ResolveParameters(rows, asOf)
	out := make([]PayrollParameter, 0, len(resolved))
	for _, p := range resolved {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *ParameterService) History(ctx context.Context, code string) ([]PayrollParameter, error) {
	return s.repo.ParameterVersions(ctx, code)
}

// ParameterUpsert is a new version of a parameter.
type ParameterUpsert struct {
	Code        string
	Name        string
	Value       decimal.Decimal
	Description string
	ValidFrom   Date
	ValidTo     *Date
}

// Upsert closes the open version of the code and appends a new one.
// History is never overwritten.
func (s *ParameterService) Upsert(ctx context.Context, in ParameterUpsert) (PayrollParameter, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return PayrollParameter{}, fmt.Errorf("%w: parameter code is required", ErrInvalidValidity)
	}
	if in.ValidFrom.IsZero() {
		return PayrollParameter{}, fmt.Errorf("%w: validFrom is required", ErrInvalidValidity)
	}
	if in.ValidTo != nil && in.ValidTo.Before(in.ValidFrom) {
		return PayrollParameter{}, fmt.Errorf("%w: validTo %s before validFrom %s", ErrInvalidValidity, in.ValidTo, in.ValidFrom)
	}

	p := PayrollParameter{
		ID:          uuid.NewString(),
		Code:        code,
		Name:        in.Name,
		Value:       in.Value,
		Description: in.Description,
		StartDate:   in.ValidFrom,
		EndDate:     in.ValidTo,
	}
	if err := s.repo.SupersedeParameter(ctx, p); err != nil {
		return PayrollParameter{}, fmt.Errorf("supersede parameter %s: %w", code, err)
	}
	return p, nil
}

// ResolveParameters picks, per code, the row with the latest StartDate among
// those covering asOf. On equal start dates the row that stays open longer wins.
func ResolveParameters(rows []PayrollParameter, asOf Date) map[string]PayrollParameter {
	out := make(map[string]PayrollParameter)
	for _, p := range rows {
		if !p.EffectiveAt(asOf) {
			continue
		}
		cur, ok := out[p.Code]
		if !ok || supersedes(p.StartDate, p.EndDate, cur.StartDate, cur.EndDate) {
			out[p.Code] = p
		}
	}
	return out
}

func supersedes(start Date, end *Date, curStart Date, curEnd *Date) bool {
	if start.After(curStart) {
		return true
	}
	if !start.Equal(curStart) {
		return false
	}
	switch {
	case curEnd == nil:
		return false
	case end == nil:
		return true
	default:
		return end.After(*curEnd)
	}
}

// CloseOpenVersion applies the supersede rule to an in-memory history: the
// open row of next.Code is closed at next.StartDate. Stores call it inside
// their write lock or transaction.
func CloseOpenVersion(history []PayrollParameter, next PayrollParameter) ([]PayrollParameter, error) {
	for i := range history {
		p := &history[i]
		if p.Code != next.Code || p.EndDate != nil {
			continue
		}
		if next.StartDate.Before(p.StartDate) {
			return nil, fmt.Errorf("%w: %s starts %s, before open version starting %s",
				ErrInvalidValidity, next.Code, next.StartDate, p.StartDate)
		}
		end := next.StartDate
		p.EndDate = &end
	}
	return history, nil
}
