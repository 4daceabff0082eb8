/*
Package formula evaluates the arithmetic mini-language used by FORMULA rubriques.

PURPOSE:
  Rubriques of amount type FORMULA carry an expression such as
  "SALAIRE_BASE * 0.09" or "(SALAIRE_BRUT - 2000) * TAUX_IEP / 100".
  Formulas are authored by payroll administrators, so evaluation is
  sandboxed: no function calls, no attribute access, no loops.

GRAMMAR:
  expr    := term (('+' | '-') term)*
  term    := unary (('*' | '/') unary)*
  unary   := ('+' | '-') unary | primary
  primary := NUMBER | IDENT | '(' expr ')'

  NUMBER  := [0-9]+ ('.' [0-9]+)?
  IDENT   := [A-Z_][A-Z_0-9]*

PIPELINE:
  1. Whitelist:   characters outside the whitelist 0-9 + - * / ( ) . _ A-Z are rejected
  2. Variables:   every identifier must be bound in the context
  3. Parse:       recursive descent, nesting limited to maxDepth
  4. Evaluate:    decimal arithmetic, division by zero rejected
  5. Round:       half away from zero, 2 decimal places

ERRORS:
  *SyntaxError          errors.Is(err, ErrSyntax)
  *UnknownVariableError errors.Is(err, ErrUnknownVariable)
  *EvaluationError      errors.Is(err, ErrEvaluation)

SEE ALSO:
  - payroll/engine.go: builds the variable context per pass
  - factory/catalog.go: validates formulas at load time
*/
package formula

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrSyntax          = errors.New("formula syntax error")
	ErrUnknownVariable = errors.New("formula references unknown variable")
	ErrEvaluation      = errors.New("formula evaluation error")
)

// SyntaxError reports a formula that cannot be tokenized or parsed.
type SyntaxError struct {
	Formula string
	Pos     int
	Msg     string
}

func (e *SyntaxError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("formula syntax error at %d in %q: %s", e.Pos, e.Formula, e.Msg)
	}
	return fmt.Sprintf("formula syntax error in %q: %s", e.Formula, e.Msg)
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

// UnknownVariableError lists every identifier missing from the context.
type UnknownVariableError struct {
	Formula string
	Names   []string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("formula %q references unknown variables: %s", e.Formula, strings.Join(e.Names, ", "))
}

func (e *UnknownVariableError) Unwrap() error { return ErrUnknownVariable }

// EvaluationError reports a well-formed formula with no finite result.
type EvaluationError struct {
	Formula string
	Msg     string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("formula evaluation error in %q: %s", e.Formula, e.Msg)
}

func (e *EvaluationError) Unwrap() error { return ErrEvaluation }

// =============================================================================
// PUBLIC API
// =============================================================================

const (
	// ResultPlaces is the number of decimal places every result is rounded to.
	ResultPlaces = 2

	maxDepth = 64
)

var (
	allowedChars = regexp.MustCompile(`^[0-9+\-*/(). _A-Z]+$`)
	identPattern = regexp.MustCompile(`[A-Z_][A-Z_0-9]*`)
)

// Expression is a parsed formula ready to be evaluated against many contexts.
type Expression struct {
	source string
	root   node
	vars   []string
}

// Compile checks the whitelist and parses the formula. Variables are not
// resolved until Eval.
func Compile(formula string) (*Expression, error) {
	if err := checkCharacters(formula); err != nil {
		return nil, err
	}
	return compile(formula)
}

func compile(formula string) (*Expression, error) {
	tokens, err := tokenize(formula)
	if err != nil {
		return nil, err
	}
	p := &parser{source: formula, tokens: tokens}
	root, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, p.errorf("unexpected %q", p.peek().text)
	}
	return &Expression{source: formula, root: root, vars: identifiers(formula)}, nil
}

// Source returns the formula text.
func (e *Expression) Source() string { return e.source }

// Variables returns the sorted, de-duplicated identifiers the formula reads.
func (e *Expression) Variables() []string {
	out := make([]string, len(e.vars))
	copy(out, e.vars)
	return out
}

// Eval evaluates the expression. Missing variables are reported together.
func (e *Expression) Eval(vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	if missing := missingVariables(e.vars, vars); len(missing) > 0 {
		return decimal.Zero, &UnknownVariableError{Formula: e.source, Names: missing}
	}
	v, err := e.root.eval(e.source, vars)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Round(ResultPlaces), nil
}

// Evaluate runs the full pipeline on formula with the given context.
// Identifier binding is checked before parsing, so a malformed formula
// that also references unknown names reports the unknown names.
func Evaluate(formula string, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	if err := checkCharacters(formula); err != nil {
		return decimal.Zero, err
	}
	if missing := missingVariables(identifiers(formula), vars); len(missing) > 0 {
		return decimal.Zero, &UnknownVariableError{Formula: formula, Names: missing}
	}
	expr, err := compile(formula)
	if err != nil {
		return decimal.Zero, err
	}
	return expr.Eval(vars)
}

// SampleContext is the dry-run context used by IsValid.
func SampleContext() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"SALAIRE_BASE":      decimal.NewFromInt(30000),
		"SALAIRE_BRUT":      decimal.NewFromInt(35000),
		"SALAIRE_IMPOSABLE": decimal.NewFromInt(30000),
	}
}

// IsValid reports whether formula evaluates against SampleContext.
func IsValid(formula string) bool {
	return IsValidWith(formula, nil)
}

// IsValidWith is IsValid with extra bindings (parameter codes, ANCIENNETE)
// layered over the sample context.
func IsValidWith(formula string, extra map[string]decimal.Decimal) bool {
	_, err := Validate(formula, extra)
	return err == nil
}

// Validate dry-runs formula and returns the sample result or the failure.
func Validate(formula string, extra map[string]decimal.Decimal) (decimal.Decimal, error) {
	vars := SampleContext()
	for k, v := range extra {
		if _, reserved := vars[k]; !reserved {
			vars[k] = v
		}
	}
	return Evaluate(formula, vars)
}

// =============================================================================
// HELPERS
// =============================================================================

func checkCharacters(formula string) error {
	if strings.TrimSpace(formula) == "" {
		return &SyntaxError{Formula: formula, Pos: -1, Msg: "empty formula"}
	}
	if !allowedChars.MatchString(formula) {
		return &SyntaxError{Formula: formula, Pos: -1, Msg: "forbidden characters"}
	}
	return nil
}

func identifiers(formula string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, m := range identPattern.FindAllString(formula, -1) {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		names = append(names, m)
	}
	sort.Strings(names)
	return names
}

func missingVariables(names []string, vars map[string]decimal.Decimal) []string {
	var missing []string
	for _, n := range names {
		if _, ok := vars[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}
