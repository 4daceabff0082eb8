package payroll_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/paie-engine/payroll"
	"github.com/warp/paie-engine/payroll/store"
)

func TestParameters_VersioningKeepsHistory(t *testing.T) {
	// GIVEN: SNMG 18000 from 2020, then 20000 from 2024-05-01
	svc := payroll.NewParameterService(store.NewMemory())

	_, err := svc.Upsert(ctx(), payroll.ParameterUpsert{
		Code: "SNMG", Name: "Salaire minimum", Value: dec("18000"),
		ValidFrom: payroll.NewDate(2020, time.June, 1),
	})
	require.NoError(t, err)
	_, err = svc.Upsert(ctx(), payroll.ParameterUpsert{
		Code: "SNMG", Name: "Salaire minimum", Value: dec("20000"),
		ValidFrom: payroll.NewDate(2024, time.May, 1),
	})
	require.NoError(t, err)

	// THEN: each window returns its own value
	old, err := svc.Get(ctx(), "SNMG", payroll.NewDate(2023, time.March, 31))
	require.NoError(t, err)
	assert.Equal(t, "18000", old.String())

	current, err := svc.Get(ctx(), "SNMG", payroll.NewDate(2024, time.May, 31))
	require.NoError(t, err)
	assert.Equal(t, "20000", current.String())

	// The boundary day belongs to the new version.
	boundary, err := svc.Get(ctx(), "SNMG", payroll.NewDate(2024, time.May, 1))
	require.NoError(t, err)
	assert.Equal(t, "20000", boundary.String())

	// AND: nothing was overwritten
	history, err := svc.History(ctx(), "SNMG")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.NotNil(t, history[0].EndDate)
	assert.Equal(t, "2024-05-01", history[0].EndDate.String())
	assert.Nil(t, history[1].EndDate)
}

func TestParameters_NotFound(t *testing.T) {
	svc := payroll.NewParameterService(store.NewMemory())
	_, err := svc.Upsert(ctx(), payroll.ParameterUpsert{
		Code: "PLAFOND", Value: dec("1"), ValidFrom: payroll.NewDate(2025, time.January, 1),
	})
	require.NoError(t, err)

	_, err = svc.Get(ctx(), "PLAFOND", payroll.NewDate(2024, time.December, 31))
	var nf *payroll.ParameterNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "PLAFOND", nf.Code)
	assert.ErrorIs(t, err, payroll.ErrParameterNotFound)

	_, err = svc.Get(ctx(), "MISSING", payroll.NewDate(2025, time.June, 1))
	assert.ErrorIs(t, err, payroll.ErrParameterNotFound)
}

func TestParameters_AllForFormulaContext(t *testing.T) {
	svc := payroll.NewParameterService(store.NewMemory())
	for code, v := range map[string]string{"SNMG": "20000", "TAUX_IEP": "1"} {
		_, err := svc.Upsert(ctx(), payroll.ParameterUpsert{Code: code, Value: dec(v), ValidFrom: payroll.NewDate(2024, time.January, 1)})
		require.NoError(t, err)
	}
	_, err := svc.Upsert(ctx(), payroll.ParameterUpsert{
		Code: "BONUS_2023", Value: dec("5"),
		ValidFrom: payroll.NewDate(2023, time.January, 1), ValidTo: datep("2023-12-31"),
	})
	require.NoError(t, err)

	all, err := svc.All(ctx(), march2025.AsOf())
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "20000", all["SNMG"].String())
	assert.NotContains(t, all, "BONUS_2023")
}

func TestParameters_RejectsInvalidWindows(t *testing.T) {
	svc := payroll.NewParameterService(store.NewMemory())

	// validTo before validFrom
	_, err := svc.Upsert(ctx(), payroll.ParameterUpsert{
		Code: "X", Value: dec("1"), ValidFrom: payroll.NewDate(2025, time.February, 1), ValidTo: datep("2025-01-01"),
	})
	assert.ErrorIs(t, err, payroll.ErrInvalidValidity)

	// a version starting before the open one
	_, err = svc.Upsert(ctx(), payroll.ParameterUpsert{Code: "X", Value: dec("1"), ValidFrom: payroll.NewDate(2025, time.February, 1)})
	require.NoError(t, err)
	_, err = svc.Upsert(ctx(), payroll.ParameterUpsert{Code: "X", Value: dec("2"), ValidFrom: payroll.NewDate(2024, time.February, 1)})
	assert.ErrorIs(t, err, payroll.ErrInvalidValidity)

	history, err := svc.History(ctx(), "X")
	require.NoError(t, err)
	assert.Len(t, history, 1, "rejected write leaves history untouched")
	assert.Nil(t, history[0].EndDate)
}

func TestParameters_SameDayCorrection(t *testing.T) {
	svc := payroll.NewParameterService(store.NewMemory())
	start := payroll.NewDate(2025, time.January, 1)
	_, err := svc.Upsert(ctx(), payroll.ParameterUpsert{Code: "X", Value: dec("1"), ValidFrom: start})
	require.NoError(t, err)
	_, err = svc.Upsert(ctx(), payroll.ParameterUpsert{Code: "X", Value: dec("2"), ValidFrom: start})
	require.NoError(t, err)

	v, err := svc.Get(ctx(), "X", start)
	require.NoError(t, err)
	assert.Equal(t, "2", v.String())
}
