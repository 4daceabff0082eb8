/*
assignment.go - Structure/individual rubrique assignment merge

PURPOSE:
  An employee receives rubriques from two sources:
    1. The salary structure referenced by their active contract (defaults)
    2. Individual EmployeeRubrique rows (additions and overrides)
  The resolver merges both into one ordered list the engine evaluates.

MERGE RULES:
  - Map keyed by rubrique code, filled from the structure first, then
    overwritten by individual rows: an override replaces, never adds
  - An overwritten entry keeps the slot of the structure entry
  - Two individual rows for the same rubrique: latest StartDate wins and a
    warning is logged (data-quality problem upstream)
  - Inactive rubriques are dropped
  - No active contract: individual rows only, never an error

ORDERING:
  A structure entry is a virtual assignment whose order is the link's
  DisplayOrder. The merged list is stable-sorted by
    individual: assignment.Order ?? rubrique.DisplayOrder ?? 999
    structure:  link.DisplayOrder ?? rubrique.DisplayOrder ?? 999

EXAMPLE:
  Structure: [SALAIRE_BASE(1), PANIER(20), CNAS_SALARIE(50)]
  Individual: PANIER with AmountOverride 1500, Order 5
  Result: SALAIRE_BASE(1), PANIER(5, override 1500), CNAS_SALARIE(50)
*/
package payroll

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

type AssignmentSource string

const (
	SourceStructure  AssignmentSource = "STRUCTURE"
	SourceIndividual AssignmentSource = "INDIVIDUAL"
)

// DefaultDisplayOrder sorts rubriques without any explicit order last.
const DefaultDisplayOrder = 999

// EffectiveRubrique is one resolved entry: the rubrique to evaluate and, for
// individual entries, the assignment carrying overrides.
type EffectiveRubrique struct {
	Rubrique   Rubrique
	Assignment *EmployeeRubrique
	Source     AssignmentSource
	Order      int
}

// AssignmentResolver merges structure and individual rubriques.
type AssignmentResolver struct {
	contracts   ContractReader
	structures  StructureReader
	assignments AssignmentReader
	log         *zap.Logger

	// catalog, when set, replaces the rubrique definitions joined by the
	// readers. Codes missing from it keep the joined definition.
	catalog map[string]Rubrique
}

func NewAssignmentResolver(contracts ContractReader, structures StructureReader, assignments AssignmentReader, log *zap.Logger) *AssignmentResolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &AssignmentResolver{contracts: contracts, structures: structures, assignments: assignments, log: log}
}

// withStructures returns a resolver reading structures through sr.
func (r *AssignmentResolver) withStructures(sr StructureReader) *AssignmentResolver {
	cp := *r
	cp.structures = sr
	return &cp
}

// withRubriques returns a resolver that rebinds rubriques to catalog.
func (r *AssignmentResolver) withRubriques(catalog map[string]Rubrique) *AssignmentResolver {
	cp := *r
	cp.catalog = catalog
	return &cp
}

// Resolve returns the effective, ordered rubriques of employeeID at asOf.
func (r *AssignmentResolver) Resolve(ctx context.Context, employeeID string, asOf Date) ([]EffectiveRubrique, error) {
	var links []StructureRubrique

	contract, err := r.contracts.ActiveContract(ctx, employeeID, asOf)
	if err != nil {
		return nil, fmt.Errorf("load active contract: %w", err)
	}
	if contract != nil && contract.ActiveAt(asOf) && contract.SalaryStructureID != nil {
		links, err = r.structures.StructureRubriques(ctx, *contract.SalaryStructureID)
		if err != nil {
			return nil, fmt.Errorf("load structure %s: %w", *contract.SalaryStructureID, err)
		}
	}

	individual, err := r.assignments.IndividualAssignments(ctx, employeeID, asOf)
	if err != nil {
		return nil, fmt.Errorf("load individual assignments: %w", err)
	}

	if r.catalog != nil {
		links, individual = r.rebind(links, individual)
	}
	return MergeAssignments(links, individual, asOf, r.log.With(zap.String("employee_id", employeeID))), nil
}

// rebind copies links and individual with rubriques taken from the catalog.
// links may be shared through a structure cache and is never mutated.
func (r *AssignmentResolver) rebind(links []StructureRubrique, individual []EmployeeRubrique) ([]StructureRubrique, []EmployeeRubrique) {
	outLinks := make([]StructureRubrique, len(links))
	for i, l := range links {
		if def, ok := r.catalog[l.Rubrique.Code]; ok {
			l.Rubrique = def
		}
		outLinks[i] = l
	}
	outIndividual := make([]EmployeeRubrique, len(individual))
	for i, a := range individual {
		if def, ok := r.catalog[a.Rubrique.Code]; ok {
			a.Rubrique = def
		}
		outIndividual[i] = a
	}
	return outLinks, outIndividual
}

// MergeAssignments is the pure merge behind Resolve.
func MergeAssignments(links []StructureRubrique, individual []EmployeeRubrique, asOf Date, log *zap.Logger) []EffectiveRubrique {
	if log == nil {
		log = zap.NewNop()
	}

	structure := make([]StructureRubrique, len(links))
	copy(structure, links)
	sort.SliceStable(structure, func(i, j int) bool {
		return linkOrder(structure[i]) < linkOrder(structure[j])
	})

	slot := make(map[string]int)
	var merged []EffectiveRubrique

	for _, l := range structure {
		if !l.Rubrique.IsActive {
			continue
		}
		entry := EffectiveRubrique{Rubrique: l.Rubrique, Source: SourceStructure, Order: linkOrder(l)}
		if i, ok := slot[l.Rubrique.Code]; ok {
			merged[i] = entry
			continue
		}
		slot[l.Rubrique.Code] = len(merged)
		merged = append(merged, entry)
	}

	chosen := make(map[string]EmployeeRubrique)
	var codes []string
	for _, a := range individual {
		if !a.EffectiveAt(asOf) || !a.Rubrique.IsActive {
			continue
		}
		prev, dup := chosen[a.Rubrique.Code]
		if !dup {
			codes = append(codes, a.Rubrique.Code)
			chosen[a.Rubrique.Code] = a
			continue
		}
		log.Warn("duplicate individual rubrique assignment",
			zap.String("rubrique", a.Rubrique.Code),
			zap.String("kept_start", laterStart(prev, a).StartDate.String()),
			zap.String("dropped_start", earlierStart(prev, a).StartDate.String()),
		)
		chosen[a.Rubrique.Code] = laterStart(prev, a)
	}

	for _, code := range codes {
		a := chosen[code]
		entry := EffectiveRubrique{Rubrique: a.Rubrique, Assignment: &a, Source: SourceIndividual, Order: individualOrder(a)}
		if i, ok := slot[code]; ok {
			merged[i] = entry
			continue
		}
		slot[code] = len(merged)
		merged = append(merged, entry)
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Order < merged[j].Order })
	return merged
}

func linkOrder(l StructureRubrique) int {
	if l.DisplayOrder != nil {
		return *l.DisplayOrder
	}
	if l.Rubrique.DisplayOrder != nil {
		return *l.Rubrique.DisplayOrder
	}
	return DefaultDisplayOrder
}

func individualOrder(a EmployeeRubrique) int {
	if a.Order != nil {
		return *a.Order
	}
	if a.Rubrique.DisplayOrder != nil {
		return *a.Rubrique.DisplayOrder
	}
	return DefaultDisplayOrder
}

// laterStart keeps b on ties: rows arrive oldest-inserted first.
func laterStart(a, b EmployeeRubrique) EmployeeRubrique {
	if a.StartDate.After(b.StartDate) {
		return a
	}
	return b
}

func earlierStart(a, b EmployeeRubrique) EmployeeRubrique {
	if a.StartDate.After(b.StartDate) {
		return b
	}
	return a
}
