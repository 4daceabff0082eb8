package payroll_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/paie-engine/payroll"
	"github.com/warp/paie-engine/payroll/store"
)

func TestComputeTax_Progressive(t *testing.T) {
	brackets := irgBrackets("2022-01-01")
	cases := []struct {
		taxable, want string
	}{
		{"0", "0"},
		{"-500", "0"},
		{"15000", "0"},
		{"20000", "0"},
		{"30000", "2300"},
		{"40000", "4600"},
		{"49775", "7239.25"},
		{"80000", "15400"},
		{"100000", "21400"},
		{"400000", "120200"}, // 4600 + 10800 + 24000 + 52800 + 28000
	}
	for _, tc := range cases {
		t.Run(tc.taxable, func(t *testing.T) {
			assert.Equal(t, tc.want, payroll.ComputeTax(brackets, dec(tc.taxable)).String())
		})
	}
}

func TestComputeTax_MonotoneAndContinuous(t *testing.T) {
	brackets := irgBrackets("2022-01-01")
	prev := decimal.Zero
	for amount := int64(0); amount <= 400000; amount += 250 {
		tax := payroll.ComputeTax(brackets, decimal.NewFromInt(amount))
		assert.False(t, tax.LessThan(prev), "tax decreased at %d", amount)
		prev = tax
	}

	// At every boundary the left and right limits agree to the cent.
	cent := dec("0.01")
	for _, b := range brackets {
		at := payroll.ComputeTax(brackets, b.MinAmount)
		above := payroll.ComputeTax(brackets, b.MinAmount.Add(cent))
		maxStep := cent.Mul(dec("0.35")).Add(cent)
		assert.True(t, above.Sub(at).LessThanOrEqual(maxStep), "jump at %s", b.MinAmount)
	}
}

func TestComputeTax_UnorderedInput(t *testing.T) {
	brackets := irgBrackets("2022-01-01")
	reversed := make([]payroll.TaxBracket, len(brackets))
	for i := range brackets {
		reversed[len(brackets)-1-i] = brackets[i]
	}
	assert.Equal(t, "21400", payroll.ComputeTax(reversed, dec("100000")).String())
}

func TestFixedAmounts_RecomputeMakesPoliciesAgree(t *testing.T) {
	// GIVEN: brackets authored with wrong fixed amounts
	brackets := irgBrackets("2022-01-01")
	brackets[2].FixedAmount = dec("999")
	require.NotEmpty(t, payroll.CheckFixedAmounts(brackets))

	// WHEN: recomputed
	fixedUp := payroll.RecomputeFixedAmounts(brackets)

	// THEN: cumulative fixed amounts, and single-bracket == cumulative
	assert.Empty(t, payroll.CheckFixedAmounts(fixedUp))
	assert.Equal(t, "4600", fixedUp[2].FixedAmount.String())
	assert.Equal(t, "15400", fixedUp[3].FixedAmount.String())
	for _, amount := range []string{"0", "19999.99", "20000", "55555.55", "160000", "987654.32"} {
		assert.Equal(t,
			payroll.ComputeTax(fixedUp, dec(amount)).String(),
			payroll.ComputeTaxSingleBracket(fixedUp, dec(amount)).String(),
			"amount %s", amount)
	}
}

func TestValidateBrackets(t *testing.T) {
	require.NoError(t, payroll.ValidateBrackets(irgBrackets("2022-01-01")))

	assert.ErrorIs(t, payroll.ValidateBrackets(nil), payroll.ErrInvalidValidity)

	unboundedFirst := irgBrackets("2022-01-01")
	unboundedFirst[0].MaxAmount = nil
	assert.ErrorIs(t, payroll.ValidateBrackets(unboundedFirst), payroll.ErrInvalidValidity)

	overlap := irgBrackets("2022-01-01")
	overlap[1].MinAmount = dec("15000")
	assert.ErrorIs(t, payroll.ValidateBrackets(overlap), payroll.ErrInvalidValidity)
}

func TestTaxResolver_NoBracketsFailsLoudly(t *testing.T) {
	// GIVEN: an empty store and no fallback
	mem := store.NewMemory()
	resolver := payroll.NewTaxResolver(mem, nil)

	// WHEN
	_, err := resolver.CalculateTax(ctx(), dec("50000"), march2025.AsOf())

	// THEN
	assert.ErrorIs(t, err, payroll.ErrNoBracketsConfigured)

	// AND: the fallback table is used when configured
	resolver.Fallback = irgBrackets("1900-01-01")
	tax, err := resolver.CalculateTax(ctx(), dec("40000"), march2025.AsOf())
	require.NoError(t, err)
	assert.Equal(t, "4600", tax.String())
}

func TestTaxResolver_ReplaceKeepsHistory(t *testing.T) {
	// GIVEN: the 2022 scale, then a 2026 scale with a 25% second bracket
	mem := store.NewMemory()
	resolver := payroll.NewTaxResolver(mem, nil)

	_, err := resolver.Replace(ctx(), irgBrackets("2022-01-01"), payroll.NewDate(2022, time.January, 1))
	require.NoError(t, err)

	next := irgBrackets("2026-01-01")
	next[1].Rate = dec("25")
	set, err := resolver.Replace(ctx(), next, payroll.NewDate(2026, time.January, 1))
	require.NoError(t, err)
	assert.Equal(t, "5000", set[2].FixedAmount.String(), "fixed amounts recomputed on write")

	// THEN: each date sees its own set
	old, err := resolver.CalculateTax(ctx(), dec("40000"), payroll.NewDate(2025, time.December, 31))
	require.NoError(t, err)
	assert.Equal(t, "4600", old.String())

	current, err := resolver.CalculateTax(ctx(), dec("40000"), payroll.NewDate(2026, time.January, 31))
	require.NoError(t, err)
	assert.Equal(t, "5000", current.String())

	// AND: a set starting before the open one is rejected
	_, err = resolver.Replace(ctx(), irgBrackets("2024-01-01"), payroll.NewDate(2024, time.January, 1))
	assert.ErrorIs(t, err, payroll.ErrInvalidValidity)

	all, err := mem.AllTaxBrackets(ctx())
	require.NoError(t, err)
	assert.Len(t, all, 12)
}
