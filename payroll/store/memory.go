// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/paie-engine/payroll"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	rubriques   map[string]payroll.Rubrique
	structures  map[string]payroll.SalaryStructure
	employees   map[string]payroll.Employee
	contracts   map[string][]payroll.Contract
	assignments map[string][]payroll.EmployeeRubrique
	parameters  []payroll.PayrollParameter
	brackets    []payroll.TaxBracket
}

var _ payroll.CatalogStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		rubriques:   make(map[string]payroll.Rubrique),
		structures:  make(map[string]payroll.SalaryStructure),
		employees:   make(map[string]payroll.Employee),
		contracts:   make(map[string][]payroll.Contract),
		assignments: make(map[string][]payroll.EmployeeRubrique),
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) SaveRubrique(_ context.Context, r payroll.Rubrique) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rubriques[r.Code] = r
	return nil
}

func (m *Memory) GetRubrique(_ context.Context, code string) (*payroll.Rubrique, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rubriques[code]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) ListRubriques(_ context.Context) ([]payroll.Rubrique, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]payroll.Rubrique, 0, len(m.rubriques))
	for _, r := range m.rubriques {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// SaveStructure stores links by rubrique code; rubriques are re-joined on
// read so later rubrique edits are visible.
func (m *Memory) SaveStructure(_ context.Context, s payroll.SalaryStructure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	links := make([]payroll.StructureRubrique, len(s.Rubriques))
	for i, l := range s.Rubriques {
		l.StructureID = s.ID
		links[i] = l
	}
	s.Rubriques = links
	m.structures[s.ID] = s
	return nil
}

func (m *Memory) StructureRubriques(_ context.Context, structureID string) ([]payroll.StructureRubrique, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.structures[structureID]
	if !ok {
		return nil, nil
	}
	out := make([]payroll.StructureRubrique, 0, len(s.Rubriques))
	for _, l := range s.Rubriques {
		if r, ok := m.rubriques[l.Rubrique.Code]; ok {
			l.Rubrique = r
		}
		out = append(out, l)
	}
	return out, nil
}

// =============================================================================
// EMPLOYEES / CONTRACTS / ASSIGNMENTS
// =============================================================================

func (m *Memory) SaveEmployee(_ context.Context, e payroll.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
	return nil
}

func (m *Memory) GetEmployee(_ context.Context, id string) (*payroll.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) ListEmployees(_ context.Context) ([]payroll.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]payroll.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveContract(_ context.Context, c payroll.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.contracts[c.EmployeeID]
	for i := range list {
		if list[i].ID == c.ID {
			list[i] = c
			return nil
		}
	}
	m.contracts[c.EmployeeID] = append(list, c)
	return nil
}

// ActiveContract returns the most recently started active contract.
func (m *Memory) ActiveContract(_ context.Context, employeeID string, asOf payroll.Date) (*payroll.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *payroll.Contract
	for _, c := range m.contracts[employeeID] {
		if !c.ActiveAt(asOf) {
			continue
		}
		if best == nil || c.StartDate.After(best.StartDate) {
			c := c
			best = &c
		}
	}
	return best, nil
}

func (m *Memory) AssignRubrique(_ context.Context, a payroll.EmployeeRubrique) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.assignments[a.EmployeeID]
	for i := range list {
		if list[i].ID == a.ID {
			list[i] = a
			return nil
		}
	}
	m.assignments[a.EmployeeID] = append(list, a)
	return nil
}

func (m *Memory) IndividualAssignments(_ context.Context, employeeID string, asOf payroll.Date) ([]payroll.EmployeeRubrique, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []payroll.EmployeeRubrique
	for _, a := range m.assignments[employeeID] {
		if !a.EffectiveAt(asOf) {
			continue
		}
		if r, ok := m.rubriques[a.Rubrique.Code]; ok {
			a.Rubrique = r
		}
		out = append(out, a)
	}
	return out, nil
}

// =============================================================================
// VERSIONED CONFIGURATION - Append-only
// =============================================================================

func (m *Memory) ParametersAt(_ context.Context, asOf payroll.Date) ([]payroll.PayrollParameter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []payroll.PayrollParameter
	for _, p := range m.parameters {
		if p.EffectiveAt(asOf) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) ParameterVersions(_ context.Context, code string) ([]payroll.PayrollParameter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []payroll.PayrollParameter
	for _, p := range m.parameters {
		if p.Code == code {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (m *Memory) SupersedeParameter(_ context.Context, p payroll.PayrollParameter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := make([]payroll.PayrollParameter, len(m.parameters))
	copy(history, m.parameters)
	history, err := payroll.CloseOpenVersion(history, p)
	if err != nil {
		return err
	}
	m.parameters = append(history, p)
	return nil
}

func (m *Memory) ActiveTaxBrackets(_ context.Context, asOf payroll.Date) ([]payroll.TaxBracket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return payroll.LatestBracketSet(m.brackets, asOf), nil
}

func (m *Memory) ReplaceTaxBrackets(_ context.Context, brackets []payroll.TaxBracket, validFrom payroll.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]payroll.TaxBracket, len(m.brackets))
	copy(rows, m.brackets)
	rows, err := payroll.CloseOpenBrackets(rows, validFrom)
	if err != nil {
		return err
	}
	for _, b := range brackets {
		b.StartDate = validFrom
		rows = append(rows, b)
	}
	m.brackets = rows
	return nil
}

// AllTaxBrackets returns every bracket row, closed sets included.
func (m *Memory) AllTaxBrackets(_ context.Context) ([]payroll.TaxBracket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]payroll.TaxBracket, len(m.brackets))
	copy(out, m.brackets)
	return out, nil
}

// Reset drops everything.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rubriques = make(map[string]payroll.Rubrique)
	m.structures = make(map[string]payroll.SalaryStructure)
	m.employees = make(map[string]payroll.Employee)
	m.contracts = make(map[string][]payroll.Contract)
	m.assignments = make(map[string][]payroll.EmployeeRubrique)
	m.parameters = nil
	m.brackets = nil
	return nil
}
