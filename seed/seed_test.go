package seed_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/salary-engine/payroll"
	"github.com/warp/salary-engine/seed"
	"github.com/warp/salary-engine/store/sqlite"
)

func TestRates2025_WeekdaysOnly(t *testing.T) {
	rates := seed.Rates2025()

	// 2025 has 261 weekdays
	assert.Len(t, rates, 261)
	for _, r := range rates {
		wd := r.Date.Time.Weekday()
		assert.NotEqual(t, time.Saturday, wd)
		assert.NotEqual(t, time.Sunday, wd)
	}
	assert.Equal(t, "2025-01-01", rates[0].Date.String())
	assert.Equal(t, "2025-12-31", rates[len(rates)-1].Date.String())
	assert.Equal(t, "10.48", rates[len(rates)-1].EURToLocal.String())
}

func TestLoad_DecemberScenario(t *testing.T) {
	// GIVEN: A freshly seeded database
	// WHEN: Polina's December 2025 is calculated
	// THEN: The EU claim is 2933.33 EUR across both project lines
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	res, err := seed.Load(ctx, store, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	assert.Equal(t, 261, res.Rates)

	engine := payroll.NewEngine(store)
	engine.Clock = func() time.Time { return time.Date(2025, time.December, 31, 12, 0, 0, 0, time.UTC) }

	calc, err := engine.Calculate(ctx, payroll.CalculationInput{StaffID: res.StaffID, Year: 2025, Month: time.December})
	require.NoError(t, err)

	assert.Equal(t, "2933.33", calc.EUEURAmount.StringFixed(2))
	require.Len(t, calc.RatesUsed, 2)
	assert.Equal(t, "LUMEN Research Project", calc.RatesUsed[0].ProjectName)
	assert.Equal(t, "GRAPHIA Innovation", calc.RatesUsed[1].ProjectName)
	assert.True(t, calc.NonEUPortionLocal.IsZero())
}

func TestLoad_ResetsFirst(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()
	logger := log.New(io.Discard, "", 0)

	_, err = seed.Load(ctx, store, logger)
	require.NoError(t, err)
	_, err = seed.Load(ctx, store, logger)
	require.NoError(t, err)

	staff, err := store.ListStaff(ctx)
	require.NoError(t, err)
	assert.Len(t, staff, 1)
	projects, err := store.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 2)
}
