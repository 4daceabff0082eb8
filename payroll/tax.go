package payroll

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// TAX BRACKET RESOLVER - Cumulative marginal (progressive) income tax
// =============================================================================

var hundred = decimal.NewFromInt(100)

// TaxResolver computes IRG owed from the bracket set effective at a date.
// Fallback, when non-empty, is used for dates with no configured set.
type TaxResolver struct {
	repo     TaxBracketRepository
	Fallback []TaxBracket
}

func NewTaxResolver(repo TaxBracketRepository, fallback []TaxBracket) *TaxResolver {
	return &TaxResolver{repo: repo, Fallback: fallback}
}

// Brackets returns the ordered set effective at asOf.
func (r *TaxResolver) Brackets(ctx context.Context, asOf Date) ([]TaxBracket, error) {
	brackets, err := r.repo.ActiveTaxBrackets(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("load tax brackets: %w", err)
	}
	if len(brackets) == 0 {
		if len(r.Fallback) == 0 {
			return nil, fmt.Errorf("%w as of %s", ErrNoBracketsConfigured, asOf)
		}
		brackets = r.Fallback
	}
	return SortBrackets(brackets), nil
}

func (r *TaxResolver) CalculateTax(ctx context.Context, taxable decimal.Decimal, asOf Date) (decimal.Decimal, error) {
	brackets, err := r.Brackets(ctx, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	return ComputeTax(brackets, taxable), nil
}

// Replace validates a new bracket set and appends it effective from validFrom.
func (r *TaxResolver) Replace(ctx context.Context, brackets []TaxBracket, validFrom Date) ([]TaxBracket, error) {
	if err := ValidateBrackets(brackets); err != nil {
		return nil, err
	}
	set := RecomputeFixedAmounts(brackets)
	for i := range set {
		if set[i].ID == "" {
			set[i].ID = uuid.NewString()
		}
		set[i].StartDate = validFrom
		set[i].EndDate = nil
	}
	if err := r.repo.ReplaceTaxBrackets(ctx, set, validFrom); err != nil {
		return nil, fmt.Errorf("replace tax brackets: %w", err)
	}
	return set, nil
}

// ComputeTax sums, over every bracket whose lower bound is below taxable,
// the slice of taxable falling inside the bracket times its rate. It does
// not read FixedAmount. The result is monotone and continuous in taxable.
func ComputeTax(brackets []TaxBracket, taxable decimal.Decimal) decimal.Decimal {
	tax := decimal.Zero
	for _, b := range SortBrackets(brackets) {
		if !b.MinAmount.LessThan(taxable) {
			continue
		}
		upper := taxable
		if b.MaxAmount != nil && b.MaxAmount.LessThan(taxable) {
			upper = *b.MaxAmount
		}
		tax = tax.Add(upper.Sub(b.MinAmount).Mul(b.Rate).Div(hundred))
	}
	return round2(tax)
}

// ComputeTaxSingleBracket is the legacy evaluation: FixedAmount plus the
// marginal rate of the one bracket containing taxable. It agrees with
// ComputeTax only when FixedAmount values are cumulative.
func ComputeTaxSingleBracket(brackets []TaxBracket, taxable decimal.Decimal) decimal.Decimal {
	for _, b := range SortBrackets(brackets) {
		if taxable.LessThan(b.MinAmount) {
			continue
		}
		if b.MaxAmount != nil && !taxable.LessThan(*b.MaxAmount) {
			continue
		}
		return round2(b.FixedAmount.Add(taxable.Sub(b.MinAmount).Mul(b.Rate).Div(hundred)))
	}
	return decimal.Zero
}

// RecomputeFixedAmounts returns a copy whose FixedAmount is the cumulative
// tax owed at each bracket's lower bound.
func RecomputeFixedAmounts(brackets []TaxBracket) []TaxBracket {
	out := SortBrackets(brackets)
	for i := range out {
		out[i].FixedAmount = ComputeTax(out[:i], out[i].MinAmount)
	}
	return out
}

// CheckFixedAmounts lists brackets whose authored FixedAmount disagrees
// with the cumulative value.
func CheckFixedAmounts(brackets []TaxBracket) []TaxBracket {
	sorted := SortBrackets(brackets)
	expected := RecomputeFixedAmounts(sorted)
	var bad []TaxBracket
	for i := range sorted {
		if !sorted[i].FixedAmount.Equal(expected[i].FixedAmount) {
			bad = append(bad, sorted[i])
		}
	}
	return bad
}

// ValidateBrackets checks a set is non-empty, contiguous-ascending and has at
// most one unbounded bracket, in last position.
func ValidateBrackets(brackets []TaxBracket) error {
	if len(brackets) == 0 {
		return fmt.Errorf("%w: empty bracket set", ErrInvalidValidity)
	}
	sorted := SortBrackets(brackets)
	for i, b := range sorted {
		if b.Rate.IsNegative() || b.MinAmount.IsNegative() {
			return fmt.Errorf("%w: bracket %q has a negative bound or rate", ErrInvalidValidity, b.Name)
		}
		if b.MaxAmount == nil {
			if i != len(sorted)-1 {
				return fmt.Errorf("%w: unbounded bracket %q is not last", ErrInvalidValidity, b.Name)
			}
			continue
		}
		if !b.MaxAmount.GreaterThan(b.MinAmount) {
			return fmt.Errorf("%w: bracket %q max %s not above min %s", ErrInvalidValidity, b.Name, b.MaxAmount, b.MinAmount)
		}
		if i+1 < len(sorted) && sorted[i+1].MinAmount.LessThan(*b.MaxAmount) {
			return fmt.Errorf("%w: bracket %q overlaps %q", ErrInvalidValidity, b.Name, sorted[i+1].Name)
		}
	}
	return nil
}

// SortBrackets returns a copy ordered by Order, then MinAmount.
func SortBrackets(brackets []TaxBracket) []TaxBracket {
	out := make([]TaxBracket, len(brackets))
	copy(out, brackets)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].MinAmount.LessThan(out[j].MinAmount)
	})
	return out
}

// LatestBracketSet selects, among rows covering asOf, those belonging to the
// set with the latest StartDate, ordered.
func LatestBracketSet(rows []TaxBracket, asOf Date) []TaxBracket {
	var latest *Date
	for i := range rows {
		if !rows[i].EffectiveAt(asOf) {
			continue
		}
		if latest == nil || rows[i].StartDate.After(*latest) {
			d := rows[i].StartDate
			latest = &d
		}
	}
	if latest == nil {
		return nil
	}
	var set []TaxBracket
	for _, b := range rows {
		if b.EffectiveAt(asOf) && b.StartDate.Equal(*latest) {
			set = append(set, b)
		}
	}
	return SortBrackets(set)
}

// CloseOpenBrackets closes every open bracket at validFrom. Sets are
// identified by StartDate, so validFrom must be strictly after the open
// set's start; otherwise ErrInvalidValidity is returned and rows is untouched.
func CloseOpenBrackets(rows []TaxBracket, validFrom Date) ([]TaxBracket, error) {
	for _, b := range rows {
		if b.EndDate == nil && !validFrom.After(b.StartDate) {
			return nil, fmt.Errorf("%w: new bracket set starts %s, not after open set starting %s",
				ErrInvalidValidity, validFrom, b.StartDate)
		}
	}
	for i := range rows {
		if rows[i].EndDate == nil {
			end := validFrom
			rows[i].EndDate = &end
		}
	}
	return rows, nil
}
