package payroll

import (
	"fmt"
	"strings"

	"github.com/warp/paie-engine/formula"
)

// Validate checks a rubrique definition before it is saved.
func (r Rubrique) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidRubrique)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: %s has unknown type %q", ErrInvalidRubrique, r.Code, r.Type)
	}
	if !r.AmountType.Valid() {
		return fmt.Errorf("%w: %s has unknown amount type %q", ErrInvalidRubrique, r.Code, r.AmountType)
	}
	if !r.Role.Valid() {
		return fmt.Errorf("%w: %s has unknown role %q", ErrInvalidRubrique, r.Code, r.Role)
	}
	if r.AmountType == AmountFormula {
		if r.Formula == nil || strings.TrimSpace(*r.Formula) == "" {
			return fmt.Errorf("rubrique %s: %w", r.Code, ErrMissingFormula)
		}
		if _, err := formula.Compile(*r.Formula); err != nil {
			return fmt.Errorf("rubrique %s: %w", r.Code, err)
		}
	}
	return nil
}

// Warnings lists configuration smells that do not block saving.
func (r Rubrique) Warnings() []string {
	var out []string
	if r.Type == TypeBase && r.AmountType == AmountManualEntry {
		out = append(out, fmt.Sprintf(
			"%s: BASE rubrique with MANUAL_ENTRY resolves to 0 without a per-employee amount; the base salary fail-safe will substitute the contract wage", r.Code))
	}
	if (r.AmountType == AmountFixed || r.AmountType == AmountPercentage) && r.Value == nil {
		out = append(out, fmt.Sprintf("%s: %s rubrique without a value contributes 0", r.Code, r.AmountType))
	}
	if r.EffectiveRole() == RoleSocialContrib && r.Type != TypeRetenue {
		out = append(out, fmt.Sprintf("%s: SOCIAL_CONTRIB role only affects RETENUE rubriques", r.Code))
	}
	return out
}
