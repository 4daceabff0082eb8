package payroll_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/paie-engine/formula"
	"github.com/warp/paie-engine/payroll"
)

func TestRubriqueValidate(t *testing.T) {
	cases := []struct {
		name    string
		r       payroll.Rubrique
		wantErr error
	}{
		{"valid fixed", fixed("PANIER", payroll.TypeGain, "800"), nil},
		{"valid formula", formulaRubrique("IEP", payroll.TypeGain, "SALAIRE_BASE * ANCIENNETE * 0.01"), nil},
		{"missing code", fixed("", payroll.TypeGain, "1"), payroll.ErrInvalidRubrique},
		{"unknown type", fixed("X", "BONUS", "1"), payroll.ErrInvalidRubrique},
		{"unknown role", func() payroll.Rubrique { r := fixed("X", payroll.TypeGain, "1"); r.Role = "BOSS"; return r }(), payroll.ErrInvalidRubrique},
		{"formula missing", payroll.Rubrique{Code: "F", Type: payroll.TypeGain, AmountType: payroll.AmountFormula}, payroll.ErrMissingFormula},
		{"formula syntax", formulaRubrique("F", payroll.TypeGain, "SALAIRE_BASE * (2"), formula.ErrSyntax},
		{"formula characters", formulaRubrique("F", payroll.TypeGain, "salaire_base"), formula.ErrSyntax},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.r.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestRubriqueWarnings(t *testing.T) {
	manualBase := payroll.Rubrique{Code: "SALAIRE_BASE", Type: payroll.TypeBase, AmountType: payroll.AmountManualEntry}
	assert.Len(t, manualBase.Warnings(), 1)

	noValue := payroll.Rubrique{Code: "P", Type: payroll.TypeGain, AmountType: payroll.AmountPercentage}
	assert.Len(t, noValue.Warnings(), 1)

	misplacedRole := fixed("C", payroll.TypeCotisation, "1")
	misplacedRole.Role = payroll.RoleSocialContrib
	assert.Len(t, misplacedRole.Warnings(), 1)

	assert.Empty(t, fixed("PANIER", payroll.TypeGain, "800").Warnings())
}
