package payroll_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/salary-engine/payroll"
)

// =============================================================================
// EU PORTION - Cumulative truing
// =============================================================================

func TestCalculate_TwoProjectsSinglePayment(t *testing.T) {
	// GIVEN: 60% staff, December with LUMEN P2 4 days and GRAPHIA P1 7 days
	// WHEN: Calculating with no prior payments at a flat 10.48
	// THEN: EU EUR is 2933.33 and the EU portion is that times 10.48
	engine, mem := newTestEngine(t, "2025-12-20")
	fillRates(mem, "2025-01-01", "2025-12-31", "10.48")
	mem.PutStaff(staffAt(1, "0.6", "2025-01-01"))
	mem.PutProject(project(1, "LUMEN",
		period(1, "2025-01-01", "2025-06-30"),
		period(2, "2025-07-01", "2025-12-31")))
	mem.PutProject(project(2, "GRAPHIA", period(1, "2025-01-01", "2025-12-31")))
	mem.PutEntry(entry(1, 2025, time.December, "0", alloc(1, 2, "4"), alloc(2, 1, "7")))

	res, err := engine.Calculate(context.Background(), payroll.CalculationInput{StaffID: 1, Year: 2025, Month: time.December})
	require.NoError(t, err)

	assertNear(t, "2933.33", res.EUEURAmount, "0.01")
	assertNear(t, "30741.33", res.EUPortionLocal, "0.01")
	assertNear(t, "30741.33", res.GrossLocal, "0.01")
	assert.True(t, res.NonEUPortionLocal.IsZero())
	assert.Nil(t, res.Breakdown.NonEU)

	require.Len(t, res.RatesUsed, 2)
	assert.Equal(t, payroll.RateUsageProject, res.RatesUsed[0].Type)
	assert.Equal(t, int64(1), res.RatesUsed[0].ProjectID)
	assert.Equal(t, 2, res.RatesUsed[0].PeriodNumber)
	assert.Equal(t, "ECB average 2025-07-01 to 2025-12-20", res.RatesUsed[0].RateSource)
	assert.Equal(t, int64(2), res.RatesUsed[1].ProjectID)

	step := res.Breakdown.EUSteps[0]
	assert.Equal(t, "(4 / 18) × 8000 × 0.6 = 1066.67 EUR", step.EURCalculation)
	assert.Equal(t, 18, step.DaysInMonth)
	assert.Equal(t, "2025-07-01", res.Breakdown.PeriodStartDate)
	assert.Equal(t, "2025-12-20", res.Breakdown.CalculationDate.String())

	payments := mem.Payments()
	require.Len(t, payments, 1)
	assert.Equal(t, res.PaymentID, payments[0].ID)
	assert.NotEmpty(t, payments[0].Reference)
	assert.Equal(t, res.Reference, payments[0].Reference)
}

func TestCalculate_CumulativeRegression(t *testing.T) {
	// GIVEN: Two prior months on the same group, paid at older rates
	// WHEN: December is calculated with a lifetime average of 10.5
	// THEN: The group pays cumulative × 10.5 − already paid, and the
	//       aggregate offset subtracts every prior EU portion
	engine, mem := newTestEngine(t, "2025-12-20")
	fillRates(mem, "2025-10-01", "2025-12-20", "10.5")
	mem.PutStaff(staffAt(1, "0.5", "2025-01-01"))
	mem.PutProject(project(1, "LUMEN", period(1, "2025-10-01", "2025-12-31")))
	mem.PutEntry(entry(1, 2025, time.December, "0", alloc(1, 1, "2.25")))

	mem.SeedPayment(priorPayment(1, 2025, time.October, "400", "4100"))
	mem.SeedPayment(priorPayment(1, 2025, time.November, "600", "6200"))

	res, err := engine.Calculate(context.Background(), payroll.CalculationInput{StaffID: 1, Year: 2025, Month: time.December})
	require.NoError(t, err)

	assertDecEqual(t, "500", res.EUEURAmount)
	step := res.Breakdown.EUSteps[0]
	assertDecEqual(t, "1000", step.PriorEUR)
	assertDecEqual(t, "1500", step.CumulativeEUR)
	assertDecEqual(t, "10300", step.PreviouslyPaid)
	assertDecEqual(t, "5450", step.PaymentLocal)
	assertDecEqual(t, "5450", res.RatesUsed[0].LocalAmount)

	assertDecEqual(t, "-5050", res.EUPortionLocal)
	assertDecEqual(t, "1500", res.CumulativeEURToDate)
	assertDecEqual(t, "10300", res.CumulativeLocalPaidToDate)
	assertDecEqual(t, "10.5", res.CumulativeAvgRate)
	assert.Equal(t, "500.00 EUR × 10.5000 − 10300.00 SEK = -5050.00 SEK", res.Breakdown.EUPortionCalculation)
}

func TestCalculate_OnlyFirstMatchingLinePerPayment(t *testing.T) {
	// GIVEN: A prior payment with two lines for the same group
	// THEN: Only the first line is counted toward the group's history
	engine, mem := newTestEngine(t, "2025-12-20")
	fillRates(mem, "2025-10-01", "2025-12-20", "10")
	mem.PutStaff(staffAt(1, "1", "2025-01-01"))
	mem.PutProject(project(1, "LUMEN", period(1, "2025-10-01", "2025-12-31")))
	mem.PutEntry(entry(1, 2025, time.December, "0", alloc(1, 1, "9")))

	p := priorPayment(1, 2025, time.November, "1000", "10000")
	p.RatesUsed = append(p.RatesUsed, payroll.RateUsage{
		Type: payroll.RateUsageProject, ProjectID: 1, PeriodNumber: 1,
		EURAmount: dec("5000"), LocalAmount: dec("50000"),
	})
	mem.SeedPayment(p)

	res, err := engine.Calculate(context.Background(), payroll.CalculationInput{StaffID: 1, Year: 2025, Month: time.December})
	require.NoError(t, err)

	step := res.Breakdown.EUSteps[0]
	assertDecEqual(t, "1000", step.PriorEUR)
	assertDecEqual(t, "10000", step.PreviouslyPaid)
	assertDecEqual(t, "40000", step.PaymentLocal)
}

func TestCalculate_GroupsWithDifferentRates(t *testing.T) {
	// GIVEN: P1 window averages 10, P2 window averages 11
	// WHEN: 4000 EUR on P1 and 2000 EUR on P2
	// THEN: Group payments are 40000 and 22000, EU portion uses the
	//       EUR-weighted rate and lands on 62000
	engine, mem := newTestEngine(t, "2025-12-01")
	mem.PutRate(payroll.Rate{Date: date("2025-11-03"), EURToLocal: dec("9.0")})
	mem.PutRate(payroll.Rate{Date: date("2025-12-01"), EURToLocal: dec("11.0")})
	mem.PutStaff(staffAt(1, "1", "2025-01-01"))
	mem.PutProject(project(1, "ALPHA", period(1, "2025-11-01", "2026-10-31")))
	mem.PutProject(project(2, "BETA", period(1, "2025-12-01", "2026-11-30")))
	mem.PutEntry(entry(1, 2025, time.December, "0", alloc(1, 1, "9"), alloc(2, 1, "4.5")))

	res, err := engine.Calculate(context.Background(), payroll.CalculationInput{StaffID: 1, Year: 2025, Month: time.December})
	require.NoError(t, err)

	require.Len(t, res.Breakdown.EUSteps, 2)
	assertDecEqual(t, "10", res.Breakdown.EUSteps[0].AverageRate)
	assertDecEqual(t, "40000", res.Breakdown.EUSteps[0].PaymentLocal)
	assertDecEqual(t, "11", res.Breakdown.EUSteps[1].AverageRate)
	assertDecEqual(t, "22000", res.Breakdown.EUSteps[1].PaymentLocal)

	assertDecEqual(t, "6000", res.EUEURAmount)
	assertNear(t, "10.3333", res.CumulativeAvgRate, "0.0001")
	assertNear(t, "62000", res.EUPortionLocal, "0.01")
}

func TestCalculate_SplitAllocationsAreGrouped(t *testing.T) {
	// GIVEN: Two allocation lines for the same (project, period)
	// THEN: They form one group with the summed days
	engine, mem := newTestEngine(t, "2025-12-20")
	fillRates(mem, "2025-12-01", "2025-12-20", "10")
	mem.PutStaff(staffAt(1, "1", "2025-01-01"))
	mem.PutProject(project(1, "LUMEN", period(1, "2025-12-01", "2026-06-30")))
	mem.PutEntry(entry(1, 2025, time.December, "0", alloc(1, 1, "4.5"), alloc(1, 1, "4.5")))

	res, err := engine.Calculate(context.Background(), payroll.CalculationInput{StaffID: 1, Year: 2025, Month: time.December})
	require.NoError(t, err)

	require.Len(t, res.RatesUsed, 1)
	assertDecEqual(t, "9", res.RatesUsed[0].Days)
	assertDecEqual(t, "4000", res.RatesUsed[0].EURAmount)
}

func TestCalculate_NoAllocationsGivesZeroEUPortion(t *testing.T) {
	// GIVEN: Prior EU payments but no EU work this month
	// THEN: The EU portion is zero, the prior total is still reported
	engine, mem := newTestEngine(t, "2025-12-20")
	fillRates(mem, "2025-12-01", "2025-12-20", "10")
	mem.PutStaff(staffAt(1, "1", "2025-01-01"))
	mem.PutEntry(entry(1, 2025, time.December, "0"))
	mem.SeedPayment(priorPayment(1, 2025, time.November, "1000", "10000"))

	res, err := engine.Calculate(context.Background(), payroll.CalculationInput{StaffID: 1, Year: 2025, Month: time.December})
	require.NoError(t, err)

	assert.True(t, res.EUPortionLocal.IsZero())
	assert.True(t, res.GrossLocal.IsZero())
	assert.True(t, res.CumulativeAvgRate.IsZero())
	assertDecEqual(t, "10000", res.CumulativeLocalPaidToDate)
	assert.Empty(t, res.RatesUsed)
	assert.Equal(t, "no EU allocations", res.Breakdown.EUPortionCalculation)
	assert.Equal(t, "", res.Breakdown.PeriodStartDate)
}

// =============================================================================
// NON-EU PORTION
// =============================================================================

func TestCalculate_NonEUAtMonthlyAverage(t *testing.T) {
	engine, mem := newTestEngine(t, "2025-12-20")
	fillRates(mem, "2025-11-01", "2025-11-30", "9.0")
	fillRates(mem, "2025-12-01", "2025-12-31", "10.30")
	mem.PutStaff(staffAt(1, "1", "2025-01-01"))
	mem.PutEntry(entry(1, 2025, time.December, "5"))

	res, err := engine.Calculate(context.Background(), payroll.CalculationInput{StaffID: 1, Year: 2025, Month: time.December})
	require.NoError(t, err)

	assertNear(t, "2222.22", res.NonEURAmount, "0.01")
	assertDecEqual(t, "10.3", res.Breakdown.NonEU.Rate)
	assertNear(t, "22888.89", res.NonEUPortionLocal, "0.01")
	assertNear(t, "22888.89", res.GrossLocal, "0.01")
	assertNear(t, "2222.22", res.TotalEURClaimable, "0.01")

	require.Len(t, res.RatesUsed, 1)
	assert.Equal(t, payroll.RateUsageNonEU, res.RatesUsed[0].Type)
	assert.Equal(t, "ECB average for 2025-12", res.RatesUsed[0].RateSource)
	assert.Equal(t, "ECB average for 2025-12", res.Breakdown.NonEU.RateCalculation)
}

func TestCalculate_NonEUNotTrued(t *testing.T) {
	// GIVEN: A prior payment with a non-EU line
	// THEN: It neither offsets this month's non-EU amount nor feeds a group
	engine, mem := newTestEngine(t, "2025-12-20")
	fillRates(mem, "2025-12-01", "2025-12-31", "10")
	mem.PutStaff(staffAt(1, "1", "2025-01-01"))
	mem.PutEntry(entry(1, 2025, time.December, "9"))
	mem.SeedPayment(payroll.Payment{
		StaffID: 1, Year: 2025, Month: time.November,
		NonEUPortionLocal: dec("50000"),
		RatesUsed: []payroll.RateUsage{
			{Type: payroll.RateUsageNonEU, EURAmount: dec("5000"), LocalAmount: dec("50000")},
		},
	})

	res, err := engine.Calculate(context.Background(), payroll.CalculationInput{StaffID: 1, Year: 2025, Month: time.December})
	require.NoError(t, err)

	assertDecEqual(t, "40000", res.NonEUPortionLocal)
	assertDecEqual(t, "40000", res.GrossLocal)
}

func TestCalculate_FTEFromMidMonth(t *testing.T) {
	// GIVEN: FTE changes from 100% to 50% on the 16th
	// THEN: The 15th still falls in the full-time interval
	engine, mem := newTestEngine(t, "2025-12-20")
	fillRates(mem, "2025-12-01", "2025-12-31", "10")
	mem.PutStaff(payroll.Staff{ID: 1, Name: "Split", FTEHistory: []payroll.FTEInterval{
		{FromDate: date("2025-01-01"), ToDate: datePtr("2025-12-15"), Percentage: dec("1")},
		{FromDate: date("2025-12-16"), Percentage: dec("0.5")},
	}})
	mem.PutEntry(entry(1, 2025, time.December, "9"))

	res, err := engine.Calculate(context.Background(), payroll.CalculationInput{StaffID: 1, Year: 2025, Month: time.December})
	require.NoError(t, err)

	assertDecEqual(t, "4000", res.NonEURAmount)
	assertDecEqual(t, "1", res.Breakdown.NonEU.FTEPercentage)
}

func TestCalculate_FebruaryEligibleDays(t *testing.T) {
	engine, mem := newTestEngine(t, "2025-02-28")
	fillRates(mem, "2025-02-01", "2025-02-28", "10")
	mem.PutStaff(staffAt(1, "1", "2025-01-01"))
	mem.PutEntry(entry(1, 2025, time.February, "17"))

	res, err := engine.Calculate(context.Background(), payroll.CalculationInput{StaffID: 1, Year: 2025, Month: time.February})
	require.NoError(t, err)

	assertDecEqual(t, "8000", res.NonEURAmount)
	assertDecEqual(t, "80000", res.GrossLocal)
}

// =============================================================================
// DUPLICATES
// =============================================================================

func duplicateFixture(t *testing.T) (*payroll.Engine, func() []payroll.Payment) {
	t.Helper()
	engine, mem := newTestEngine(t, "2025-12-20")
	fillRates(mem, "2025-11-01", "2025-12-31", "10.0")
	mem.PutStaff(staffAt(1, "1", "2025-01-01"))
	mem.PutProject(project(1, "LUMEN", period(1, "2025-11-01", "2026-10-31")))
	mem.PutEntry(entry(1, 2025, time.November, "0", alloc(1, 1, "9")))
	mem.PutEntry(entry(1, 2025, time.December, "0", alloc(1, 1, "9")))
	return engine, mem.Payments
}

func TestCalculate_RecalculationAppends(t *testing.T) {
	// GIVEN: The default append policy
	// WHEN: November is calculated twice
	// THEN: Both results are identical and both rows are stored
	engine, payments := duplicateFixture(t)
	ctx := context.Background()
	nov := payroll.CalculationInput{StaffID: 1, Year: 2025, Month: time.November}

	first, err := engine.Calculate(ctx, nov)
	require.NoError(t, err)
	second, err := engine.Calculate(ctx, nov)
	require.NoError(t, err)

	assertDecEqual(t, "40000", first.GrossLocal)
	assert.True(t, first.GrossLocal.Equal(second.GrossLocal))
	assert.NotEqual(t, first.PaymentID, second.PaymentID)
	assert.NotEqual(t, first.Reference, second.Reference)
	assert.Len(t, payments(), 2)
}

func TestCalculate_DuplicatesAreSummedLater(t *testing.T) {
	ctx := context.Background()
	nov := payroll.CalculationInput{StaffID: 1, Year: 2025, Month: time.November}
	december := payroll.CalculationInput{StaffID: 1, Year: 2025, Month: time.December}

	t.Run("november once", func(t *testing.T) {
		engine, _ := duplicateFixture(t)
		_, err := engine.Calculate(ctx, nov)
		require.NoError(t, err)

		res, err := engine.Calculate(ctx, december)
		require.NoError(t, err)
		assertDecEqual(t, "40000", res.RatesUsed[0].LocalAmount)
		assert.True(t, res.EUPortionLocal.IsZero(), "got %s", res.EUPortionLocal)
	})

	t.Run("november twice", func(t *testing.T) {
		engine, _ := duplicateFixture(t)
		_, err := engine.Calculate(ctx, nov)
		require.NoError(t, err)
		_, err = engine.Calculate(ctx, nov)
		require.NoError(t, err)

		res, err := engine.Calculate(ctx, december)
		require.NoError(t, err)
		assertDecEqual(t, "40000", res.RatesUsed[0].LocalAmount)
		assertDecEqual(t, "-40000", res.EUPortionLocal)
	})
}

func TestCalculate_RejectPolicy(t *testing.T) {
	engine, payments := duplicateFixture(t)
	engine.Duplicates = payroll.DuplicateReject
	ctx := context.Background()
	nov := payroll.CalculationInput{StaffID: 1, Year: 2025, Month: time.November}

	first, err := engine.Calculate(ctx, nov)
	require.NoError(t, err)

	_, err = engine.Calculate(ctx, nov)
	require.Error(t, err)
	assert.ErrorIs(t, err, payroll.ErrDuplicatePayment)
	var dup *payroll.DuplicatePaymentError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.PaymentID, dup.PaymentID)
	assert.True(t, payroll.IsClientError(err))

	assert.Len(t, payments(), 1)
}

func TestParseDuplicatePolicy(t *testing.T) {
	p, err := payroll.ParseDuplicatePolicy("")
	require.NoError(t, err)
	assert.Equal(t, payroll.DuplicateAppend, p)

	p, err = payroll.ParseDuplicatePolicy("reject")
	require.NoError(t, err)
	assert.Equal(t, payroll.DuplicateReject, p)

	_, err = payroll.ParseDuplicatePolicy("overwrite")
	assert.ErrorIs(t, err, payroll.ErrInvalidInput)
}

// =============================================================================
// FAILURES - Nothing is written
// =============================================================================

func TestCalculate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		input   payroll.CalculationInput
		sentry  error
		message string
	}{
		{
			name:    "unknown staff",
			input:   payroll.CalculationInput{StaffID: 99, Year: 2025, Month: time.December},
			sentry:  payroll.ErrNotFound,
			message: "Staff not found: 99",
		},
		{
			name:    "missing entry",
			input:   payroll.CalculationInput{StaffID: 1, Year: 2025, Month: time.March},
			sentry:  payroll.ErrNotFound,
			message: "No entry found for staff 1, 2025-3",
		},
		{
			name:    "unknown project",
			input:   payroll.CalculationInput{StaffID: 1, Year: 2025, Month: time.October},
			sentry:  payroll.ErrNotFound,
			message: "Project not found: 7",
		},
		{
			name:    "unknown period",
			input:   payroll.CalculationInput{StaffID: 1, Year: 2025, Month: time.November},
			sentry:  payroll.ErrNotFound,
			message: "Project period not found: project 1 period 3",
		},
		{
			name:    "empty rate window",
			input:   payroll.CalculationInput{StaffID: 1, Year: 2025, Month: time.December},
			sentry:  payroll.ErrNoRateData,
			message: "No ECB rates found between 2025-07-01 and 2025-12-31",
		},
		{
			name:    "bad month",
			input:   payroll.CalculationInput{StaffID: 1, Year: 2025, Month: 13},
			sentry:  payroll.ErrInvalidInput,
			message: "month: must be between 1 and 12",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, mem := newTestEngine(t, "2025-12-31")
			mem.PutStaff(staffAt(1, "1", "2025-01-01"))
			mem.PutProject(project(1, "LUMEN",
				period(1, "2025-01-01", "2025-06-30"),
				period(2, "2025-07-01", "2025-12-31")))
			mem.PutEntry(entry(1, 2025, time.October, "0", alloc(7, 1, "2")))
			mem.PutEntry(entry(1, 2025, time.November, "0", alloc(1, 3, "2")))
			mem.PutEntry(entry(1, 2025, time.December, "0", alloc(1, 2, "4")))

			res, err := engine.Calculate(context.Background(), tt.input)

			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.sentry)
			assert.Equal(t, tt.message, err.Error())
			assert.Empty(t, mem.Payments())
		})
	}
}

func TestCalculate_NonEURateMissing(t *testing.T) {
	// GIVEN: EU rates exist but the month itself has no rows
	engine, mem := newTestEngine(t, "2025-12-31")
	mem.PutStaff(staffAt(1, "1", "2025-01-01"))
	mem.PutRate(payroll.Rate{Date: date("2025-11-28"), EURToLocal: dec("10")})
	mem.PutEntry(entry(1, 2025, time.December, "3"))

	_, err := engine.Calculate(context.Background(), payroll.CalculationInput{StaffID: 1, Year: 2025, Month: time.December})

	assert.ErrorIs(t, err, payroll.ErrNoRateData)
	assert.Equal(t, "No ECB rates found between 2025-12-01 and 2025-12-31", err.Error())
	assert.Empty(t, mem.Payments())
}

// =============================================================================
// PREVIEW / CONCURRENCY
// =============================================================================

func TestPreview_WritesNothing(t *testing.T) {
	engine, payments := duplicateFixture(t)
	ctx := context.Background()
	nov := payroll.CalculationInput{StaffID: 1, Year: 2025, Month: time.November}

	preview, err := engine.Preview(ctx, nov)
	require.NoError(t, err)
	assert.Zero(t, preview.PaymentID)
	assert.Empty(t, preview.Reference)
	assert.Empty(t, payments())

	recorded, err := engine.Calculate(ctx, nov)
	require.NoError(t, err)
	assert.True(t, preview.GrossLocal.Equal(recorded.GrossLocal))
}

func TestCalculate_ConcurrentStaff(t *testing.T) {
	// GIVEN: Several staff calculating several months at once
	// THEN: Every calculation succeeds and records exactly one row
	engine, mem := newTestEngine(t, "2025-12-20")
	fillRates(mem, "2025-11-01", "2025-12-31", "10")
	mem.PutProject(project(1, "LUMEN", period(1, "2025-11-01", "2026-10-31")))
	for id := int64(1); id <= 4; id++ {
		mem.PutStaff(staffAt(id, "1", "2025-01-01"))
		mem.PutEntry(entry(id, 2025, time.November, "1", alloc(1, 1, "9")))
		mem.PutEntry(entry(id, 2025, time.December, "1", alloc(1, 1, "9")))
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for id := int64(1); id <= 4; id++ {
		for _, m := range []time.Month{time.November, time.December, time.November, time.December} {
			wg.Add(1)
			go func(id int64, m time.Month) {
				defer wg.Done()
				_, err := engine.Calculate(context.Background(), payroll.CalculationInput{StaffID: id, Year: 2025, Month: m})
				errs <- err
			}(id, m)
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, mem.Payments(), 16)
}

// priorPayment is a recorded month with one project line on (1, 1).
func priorPayment(staffID int64, year int, month time.Month, eur, local string) payroll.Payment {
	return payroll.Payment{
		StaffID:        staffID,
		Year:           year,
		Month:          month,
		GrossLocal:     dec(local),
		EUPortionLocal: dec(local),
		EUEURAmount:    dec(eur),
		RatesUsed: []payroll.RateUsage{
			{Type: payroll.RateUsageNonEU, EURAmount: dec("1"), LocalAmount: dec("1")},
			{Type: payroll.RateUsageProject, ProjectID: 1, PeriodNumber: 1, EURAmount: dec(eur), LocalAmount: dec(local)},
		},
	}
}
