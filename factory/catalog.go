/*
Package factory provides YAML/JSON to Go payroll catalog conversion.

PURPOSE:
  Converts catalog files into payroll rubriques, salary structures, dated
  parameters, a tax bracket set and an optional demo roster, then applies
  them to a payroll.CatalogStore. Payroll administrators edit the catalog
  without code changes; the loader validates before anything is written.

FILE SCHEMA (YAML shown, JSON uses the same keys):
  rubriques:
    - code: CNAS_SALARIE
      name: Retenue CNAS salarié
      type: RETENUE
      amount_type: PERCENTAGE
      value: 9
      role: SOCIAL_CONTRIB
      display_order: 50
  structures:
    - id: standard
      name: Structure standard
      rubriques:
        - code: SALAIRE_BASE
          display_order: 1
  parameters:
    - code: SNMG
      value: 20000
      valid_from: 2024-05-01
  tax_brackets:
    valid_from: 2022-01-01
    brackets:
      - {name: T1, min: 0, max: 20000, rate: 0, order: 1}
  employees:
    - id: emp-001
      hire_date: 2019-09-01
      contract: {wage: 55000, start_date: 2019-09-01, structure: standard}
      rubriques:
        - {code: PRIME_RENDEMENT, start_date: 2025-01-01, amount: 3000}

VALIDATION:
  Errors (nothing is applied):
  - invalid rubrique definitions (payroll.Rubrique.Validate)
  - FORMULA rubriques referencing a variable that is neither reserved nor a
    known parameter code
  - duplicate codes, unknown rubrique codes in structures or assignments
  - invalid bracket sets (payroll.ValidateBrackets)
  Warnings (applied, reported):
  - payroll.Rubrique.Warnings, e.g. BASE + MANUAL_ENTRY
  - authored bracket fixed amounts that differ from the recomputed ones

IDEMPOTENCE:
  Applying the same catalog twice is a no-op for parameters and brackets:
  a version already present at the same start date is skipped.

SEE ALSO:
  - algeria/catalog.yaml: Default Algerian catalog
  - payroll/validate.go: Rubrique validation rules
*/
package factory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/warp/paie-engine/formula"
	"github.com/warp/paie-engine/payroll"
)

// =============================================================================
// FILE SCHEMA TYPES
// =============================================================================

// Catalog is the file representation of a payroll configuration.
type Catalog struct {
	Rubriques   []RubriqueDef  `yaml:"rubriques" json:"rubriques"`
	Structures  []StructureDef `yaml:"structures" json:"structures"`
	Parameters  []ParameterDef `yaml:"parameters" json:"parameters"`
	TaxBrackets *BracketSetDef `yaml:"tax_brackets,omitempty" json:"tax_brackets,omitempty"`
	Employees   []EmployeeDef  `yaml:"employees,omitempty" json:"employees,omitempty"`
}

type RubriqueDef struct {
	Code                    string  `yaml:"code" json:"code"`
	Name                    string  `yaml:"name" json:"name"`
	Type                    string  `yaml:"type" json:"type"`
	AmountType              string  `yaml:"amount_type" json:"amount_type"`
	Value                   *Number `yaml:"value,omitempty" json:"value,omitempty"`
	Formula                 *string `yaml:"formula,omitempty" json:"formula,omitempty"`
	SubjectToSocialContrib  bool    `yaml:"subject_to_social_contrib" json:"subject_to_social_contrib"`
	SubjectToIncomeTax      bool    `yaml:"subject_to_income_tax" json:"subject_to_income_tax"`
	SubjectToEmployerCharge bool    `yaml:"subject_to_employer_charge" json:"subject_to_employer_charge"`
	DisplayOrder            *int    `yaml:"display_order,omitempty" json:"display_order,omitempty"`
	Active                  *bool   `yaml:"active,omitempty" json:"active,omitempty"` // default true
	Role                    string  `yaml:"role,omitempty" json:"role,omitempty"`
}

type StructureDef struct {
	ID        string              `yaml:"id" json:"id"`
	Name      string              `yaml:"name" json:"name"`
	Rubriques []StructureEntryDef `yaml:"rubriques" json:"rubriques"`
}

type StructureEntryDef struct {
	Code         string `yaml:"code" json:"code"`
	DisplayOrder *int   `yaml:"display_order,omitempty" json:"display_order,omitempty"`
}

type ParameterDef struct {
	Code        string `yaml:"code" json:"code"`
	Name        string `yaml:"name" json:"name"`
	Value       Number `yaml:"value" json:"value"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	ValidFrom   Day    `yaml:"valid_from" json:"valid_from"`
	ValidTo     *Day   `yaml:"valid_to,omitempty" json:"valid_to,omitempty"`
}

type BracketSetDef struct {
	ValidFrom Day          `yaml:"valid_from" json:"valid_from"`
	Brackets  []BracketDef `yaml:"brackets" json:"brackets"`
}

type BracketDef struct {
	Name        string  `yaml:"name" json:"name"`
	Min         Number  `yaml:"min" json:"min"`
	Max         *Number `yaml:"max,omitempty" json:"max,omitempty"` // omitted = unbounded
	Rate        Number  `yaml:"rate" json:"rate"`
	FixedAmount *Number `yaml:"fixed_amount,omitempty" json:"fixed_amount,omitempty"`
	Order       int     `yaml:"order" json:"order"`
}

type EmployeeDef struct {
	ID        string          `yaml:"id" json:"id"`
	Name      string          `yaml:"name" json:"name"`
	Email     string          `yaml:"email,omitempty" json:"email,omitempty"`
	HireDate  Day             `yaml:"hire_date" json:"hire_date"`
	Contract  *ContractDef    `yaml:"contract,omitempty" json:"contract,omitempty"`
	Rubriques []AssignmentDef `yaml:"rubriques,omitempty" json:"rubriques,omitempty"`
}

type ContractDef struct {
	ID        string `yaml:"id,omitempty" json:"id,omitempty"`
	Wage      Number `yaml:"wage" json:"wage"`
	Status    string `yaml:"status,omitempty" json:"status,omitempty"` // default RUNNING
	StartDate Day    `yaml:"start_date" json:"start_date"`
	EndDate   *Day   `yaml:"end_date,omitempty" json:"end_date,omitempty"`
	Structure string `yaml:"structure,omitempty" json:"structure,omitempty"`
}

type AssignmentDef struct {
	Code      string  `yaml:"code" json:"code"`
	StartDate Day     `yaml:"start_date" json:"start_date"`
	EndDate   *Day    `yaml:"end_date,omitempty" json:"end_date,omitempty"`
	Amount    *Number `yaml:"amount,omitempty" json:"amount,omitempty"`
	Rate      *Number `yaml:"rate,omitempty" json:"rate,omitempty"`
	Order     *int    `yaml:"order,omitempty" json:"order,omitempty"`
}

// Number is a decimal accepting bare or quoted scalars, so "9" and 9 and
// 0.01 never pass through float64.
type Number struct {
	decimal.Decimal
}

func (n *Number) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number", node.Line)
	}
	d, err := decimal.NewFromString(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid number %q", node.Line, node.Value)
	}
	n.Decimal = d
	return nil
}

func (n Number) MarshalYAML() (interface{}, error) {
	return n.Decimal.String(), nil
}

func (n *Number) ptr() *decimal.Decimal {
	if n == nil {
		return nil
	}
	d := n.Decimal
	return &d
}

// Day is a calendar date written as 2006-01-02.
type Day struct {
	payroll.Date
}

func (d *Day) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a date", node.Line)
	}
	parsed, err := payroll.ParseDate(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Date = parsed
	return nil
}

func (d Day) MarshalYAML() (interface{}, error) {
	return d.Date.String(), nil
}

func (d *Day) ptr() *payroll.Date {
	if d == nil {
		return nil
	}
	v := d.Date
	return &v
}

// =============================================================================
// PARSING
// =============================================================================

// Parse decodes a YAML catalog. Unknown keys are rejected.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}
	return &c, nil
}

// ParseJSON decodes a JSON catalog. Unknown keys are rejected.
func ParseJSON(data []byte) (*Catalog, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return &c, nil
}

// ParseFile reads a catalog, choosing the decoder by extension.
func ParseFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseJSON(data)
	}
	return Parse(data)
}

// =============================================================================
// CONVERSION
// =============================================================================

// Rubrique converts a definition to its domain form.
func (rd RubriqueDef) Rubrique() payroll.Rubrique {
	active := true
	if rd.Active != nil {
		active = *rd.Active
	}
	return payroll.Rubrique{
		ID:                      rd.Code,
		Code:                    strings.TrimSpace(rd.Code),
		Name:                    rd.Name,
		Type:                    payroll.RubriqueType(strings.ToUpper(rd.Type)),
		AmountType:              payroll.AmountType(strings.ToUpper(rd.AmountType)),
		Value:                   rd.Value.ptr(),
		Formula:                 rd.Formula,
		SubjectToSocialContrib:  rd.SubjectToSocialContrib,
		SubjectToIncomeTax:      rd.SubjectToIncomeTax,
		SubjectToEmployerCharge: rd.SubjectToEmployerCharge,
		DisplayOrder:            rd.DisplayOrder,
		IsActive:                active,
		Role:                    payroll.Role(strings.ToUpper(rd.Role)),
	}
}

// TaxBrackets converts the bracket set. Fixed amounts are left as authored;
// payroll.TaxResolver.Replace recomputes them on write.
func (bs BracketSetDef) TaxBrackets() []payroll.TaxBracket {
	out := make([]payroll.TaxBracket, 0, len(bs.Brackets))
	for _, b := range bs.Brackets {
		tb := payroll.TaxBracket{
			Name:      b.Name,
			MinAmount: b.Min.Decimal,
			MaxAmount: b.Max.ptr(),
			Rate:      b.Rate.Decimal,
			Order:     b.Order,
			StartDate: bs.ValidFrom.Date,
		}
		if b.FixedAmount != nil {
			tb.FixedAmount = b.FixedAmount.Decimal
		}
		out = append(out, tb)
	}
	return payroll.SortBrackets(out)
}

// =============================================================================
// VALIDATION
// =============================================================================

// Report is the outcome of validating a catalog.
type Report struct {
	Errors   []error
	Warnings []string
}

func (r *Report) OK() bool { return len(r.Errors) == 0 }

// Err joins all errors, or returns nil.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return errors.Join(r.Errors...)
}

func (r *Report) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Errorf(format, args...))
}

// Validate checks the catalog. knownParameters are parameter codes already
// present in the target store; the catalog's own parameters and the
// reserved variables are always known.
func (c *Catalog) Validate(knownParameters ...string) *Report {
	rep := &Report{}

	known := make(map[string]bool)
	for _, code := range knownParameters {
		known[code] = true
	}
	for _, p := range c.Parameters {
		if strings.TrimSpace(p.Code) == "" {
			rep.errorf("parameter without code")
			continue
		}
		if payroll.IsReservedVariable(p.Code) {
			rep.errorf("parameter %s: reserved variable name", p.Code)
		}
		if p.ValidFrom.IsZero() {
			rep.errorf("parameter %s: valid_from is required", p.Code)
		}
		known[p.Code] = true
	}

	codes := make(map[string]bool)
	for _, rd := range c.Rubriques {
		r := rd.Rubrique()
		if codes[r.Code] {
			rep.errorf("rubrique %s: duplicate code", r.Code)
			continue
		}
		codes[r.Code] = true

		if err := r.Validate(); err != nil {
			rep.Errors = append(rep.Errors, err)
			continue
		}
		if r.AmountType == payroll.AmountFormula {
			if err := checkFormulaVariables(*r.Formula, known); err != nil {
				rep.Errors = append(rep.Errors, fmt.Errorf("rubrique %s: %w", r.Code, err))
			}
		}
		rep.Warnings = append(rep.Warnings, r.Warnings()...)
	}

	structures := make(map[string]bool)
	for _, s := range c.Structures {
		if s.ID == "" {
			rep.errorf("structure without id")
			continue
		}
		structures[s.ID] = true
		seen := make(map[string]bool)
		for _, e := range s.Rubriques {
			if !codes[e.Code] {
				rep.errorf("structure %s: unknown rubrique %s", s.ID, e.Code)
			}
			if seen[e.Code] {
				rep.errorf("structure %s: rubrique %s linked twice", s.ID, e.Code)
			}
			seen[e.Code] = true
		}
	}

	if c.TaxBrackets != nil {
		brackets := c.TaxBrackets.TaxBrackets()
		if c.TaxBrackets.ValidFrom.IsZero() {
			rep.errorf("tax_brackets: valid_from is required")
		}
		if err := payroll.ValidateBrackets(brackets); err != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("tax_brackets: %w", err))
		} else if authored := authoredFixedAmounts(c.TaxBrackets); authored {
			for _, b := range payroll.CheckFixedAmounts(brackets) {
				rep.Warnings = append(rep.Warnings, fmt.Sprintf(
					"tax bracket %s: fixed_amount %s differs from the cumulative tax below it and will be recomputed", b.Name, b.FixedAmount))
			}
		}
	}

	employees := make(map[string]bool)
	for _, e := range c.Employees {
		if e.ID == "" {
			rep.errorf("employee without id")
			continue
		}
		if employees[e.ID] {
			rep.errorf("employee %s: duplicate id", e.ID)
		}
		employees[e.ID] = true
		if e.Contract != nil && e.Contract.Structure != "" && !structures[e.Contract.Structure] {
			rep.errorf("employee %s: unknown structure %s", e.ID, e.Contract.Structure)
		}
		for _, a := range e.Rubriques {
			if !codes[a.Code] {
				rep.errorf("employee %s: unknown rubrique %s", e.ID, a.Code)
			}
			if a.EndDate != nil && a.EndDate.Before(a.StartDate.Date) {
				rep.errorf("employee %s: rubrique %s ends before it starts", e.ID, a.Code)
			}
		}
	}

	return rep
}

// checkFormulaVariables compiles formula and rejects variables that are
// neither reserved nor known parameters.
func checkFormulaVariables(src string, known map[string]bool) error {
	expr, err := formula.Compile(src)
	if err != nil {
		return err
	}
	var unknown []string
	for _, v := range expr.Variables() {
		if !payroll.IsReservedVariable(v) && !known[v] {
			unknown = append(unknown, v)
		}
	}
	if len(unknown) > 0 {
		return &formula.UnknownVariableError{Formula: src, Names: unknown}
	}
	return nil
}

func authoredFixedAmounts(bs *BracketSetDef) bool {
	for _, b := range bs.Brackets {
		if b.FixedAmount != nil {
			return true
		}
	}
	return false
}

// =============================================================================
// LOADER
// =============================================================================

// Loader applies catalogs to a store.
type Loader struct {
	store  payroll.CatalogStore
	params *payroll.ParameterService
	tax    *payroll.TaxResolver
	log    *zap.Logger
}

func NewLoader(store payroll.CatalogStore, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{
		store:  store,
		params: payroll.NewParameterService(store),
		tax:    payroll.NewTaxResolver(store, nil),
		log:    log,
	}
}

// ApplyResult counts what Apply wrote.
type ApplyResult struct {
	Rubriques   int      `json:"rubriques"`
	Structures  int      `json:"structures"`
	Parameters  int      `json:"parameters"`
	BracketSets int      `json:"bracket_sets"`
	Employees   int      `json:"employees"`
	Assignments int      `json:"assignments"`
	Skipped     []string `json:"skipped,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Apply validates c against the store's current parameters and writes it.
// On a validation error nothing is written.
func (l *Loader) Apply(ctx context.Context, c *Catalog) (*ApplyResult, error) {
	existing, err := l.existingParameterCodes(ctx, c)
	if err != nil {
		return nil, err
	}
	rep := c.Validate(existing...)
	if !rep.OK() {
		return nil, fmt.Errorf("%w: %w", payroll.ErrInvalidRubrique, rep.Err())
	}
	for _, w := range rep.Warnings {
		l.log.Warn("catalog warning", zap.String("warning", w))
	}

	res := &ApplyResult{Warnings: rep.Warnings}
	byCode := make(map[string]payroll.Rubrique, len(c.Rubriques))

	for _, rd := range c.Rubriques {
		r := rd.Rubrique()
		if err := l.store.SaveRubrique(ctx, r); err != nil {
			return res, err
		}
		byCode[r.Code] = r
		res.Rubriques++
	}

	for _, sd := range c.Structures {
		st := payroll.SalaryStructure{ID: sd.ID, Name: sd.Name}
		for _, e := range sd.Rubriques {
			st.Rubriques = append(st.Rubriques, payroll.StructureRubrique{
				StructureID: sd.ID, Rubrique: byCode[e.Code], DisplayOrder: e.DisplayOrder,
			})
		}
		if err := l.store.SaveStructure(ctx, st); err != nil {
			return res, err
		}
		res.Structures++
	}

	for _, pd := range c.Parameters {
		applied, err := l.applyParameter(ctx, pd)
		if err != nil {
			return res, err
		}
		if !applied {
			res.Skipped = append(res.Skipped, "parameter "+pd.Code+" "+pd.ValidFrom.String())
			continue
		}
		res.Parameters++
	}

	if c.TaxBrackets != nil {
		applied, err := l.applyBrackets(ctx, *c.TaxBrackets)
		if err != nil {
			return res, err
		}
		if applied {
			res.BracketSets++
		} else {
			res.Skipped = append(res.Skipped, "tax_brackets "+c.TaxBrackets.ValidFrom.String())
		}
	}

	for _, ed := range c.Employees {
		n, err := l.applyEmployee(ctx, ed, byCode)
		if err != nil {
			return res, err
		}
		res.Employees++
		res.Assignments += n
	}

	l.log.Info("catalog applied",
		zap.Int("rubriques", res.Rubriques),
		zap.Int("structures", res.Structures),
		zap.Int("parameters", res.Parameters),
		zap.Int("bracket_sets", res.BracketSets),
		zap.Int("employees", res.Employees),
		zap.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

// existingParameterCodes lists store parameter codes that formulas may
// reference in addition to the catalog's own.
func (l *Loader) existingParameterCodes(ctx context.Context, c *Catalog) ([]string, error) {
	codes := make(map[string]bool)
	dates := []payroll.Date{payroll.Today()}
	for _, p := range c.Parameters {
		dates = append(dates, p.ValidFrom.Date)
	}
	for _, d := range dates {
		rows, err := l.params.Effective(ctx, d)
		if err != nil {
			return nil, err
		}
		for _, p := range rows {
			codes[p.Code] = true
		}
	}
	out := make([]string, 0, len(codes))
	for code := range codes {
		out = append(out, code)
	}
	sort.Strings(out)
	return out, nil
}

func (l *Loader) applyParameter(ctx context.Context, pd ParameterDef) (bool, error) {
	history, err := l.params.History(ctx, pd.Code)
	if err != nil {
		return false, err
	}
	for _, h := range history {
		if h.StartDate.Equal(pd.ValidFrom.Date) && h.Value.Equal(pd.Value.Decimal) {
			return false, nil
		}
	}
	_, err = l.params.Upsert(ctx, payroll.ParameterUpsert{
		Code:        pd.Code,
		Name:        pd.Name,
		Value:       pd.Value.Decimal,
		Description: pd.Description,
		ValidFrom:   pd.ValidFrom.Date,
		ValidTo:     pd.ValidTo.ptr(),
	})
	return err == nil, err
}

func (l *Loader) applyBrackets(ctx context.Context, bs BracketSetDef) (bool, error) {
	current, err := l.store.ActiveTaxBrackets(ctx, bs.ValidFrom.Date)
	if err != nil {
		return false, err
	}
	if len(current) > 0 && current[0].StartDate.Equal(bs.ValidFrom.Date) {
		return false, nil
	}
	if _, err := l.tax.Replace(ctx, bs.TaxBrackets(), bs.ValidFrom.Date); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Loader) applyEmployee(ctx context.Context, ed EmployeeDef, byCode map[string]payroll.Rubrique) (int, error) {
	if err := l.store.SaveEmployee(ctx, payroll.Employee{
		ID: ed.ID, Name: ed.Name, Email: ed.Email, HireDate: ed.HireDate.Date,
	}); err != nil {
		return 0, err
	}

	if cd := ed.Contract; cd != nil {
		contract := payroll.Contract{
			ID:         cd.ID,
			EmployeeID: ed.ID,
			Wage:       cd.Wage.Decimal,
			Status:     payroll.ContractStatus(strings.ToUpper(cd.Status)),
			StartDate:  cd.StartDate.Date,
			EndDate:    cd.EndDate.ptr(),
		}
		if contract.ID == "" {
			contract.ID = "ctr-" + ed.ID
		}
		if contract.Status == "" {
			contract.Status = payroll.ContractRunning
		}
		if cd.Structure != "" {
			s := cd.Structure
			contract.SalaryStructureID = &s
		}
		if err := l.store.SaveContract(ctx, contract); err != nil {
			return 0, err
		}
	}

	for _, ad := range ed.Rubriques {
		a := payroll.EmployeeRubrique{
			ID:             ed.ID + ":" + ad.Code + ":" + ad.StartDate.String(),
			EmployeeID:     ed.ID,
			Rubrique:       byCode[ad.Code],
			StartDate:      ad.StartDate.Date,
			EndDate:        ad.EndDate.ptr(),
			AmountOverride: ad.Amount.ptr(),
			RateOverride:   ad.Rate.ptr(),
			Order:          ad.Order,
		}
		if err := l.store.AssignRubrique(ctx, a); err != nil {
			return 0, err
		}
	}
	return len(ed.Rubriques), nil
}
