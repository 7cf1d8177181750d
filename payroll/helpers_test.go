package payroll_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/salary-engine/payroll"
	"github.com/warp/salary-engine/payroll/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(s string) payroll.Date {
	return payroll.MustParseDate(s)
}

func datePtr(s string) *payroll.Date {
	d := date(s)
	return &d
}

// newTestEngine returns an engine whose "today" is fixed at asOf.
func newTestEngine(t *testing.T, asOf string) (*payroll.Engine, *store.TxMemory) {
	t.Helper()
	mem := store.NewTxMemory()
	engine := payroll.NewEngine(mem)
	today := date(asOf).Time.Add(12 * time.Hour)
	engine.Clock = func() time.Time { return today }
	engine.Recorder.Now = func() time.Time { return today }
	return engine, mem
}

// fillRates stores rate on every weekday in [from, to].
func fillRates(mem *store.TxMemory, from, to string, rate string) {
	for d := date(from); d.BeforeOrEqual(date(to)); d = d.AddDays(1) {
		wd := d.Time.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			continue
		}
		mem.PutRate(payroll.Rate{Date: d, EURToLocal: dec(rate)})
	}
}

func staffAt(id int64, fte string, from string) payroll.Staff {
	return payroll.Staff{
		ID:   id,
		Name: "Staff",
		FTEHistory: []payroll.FTEInterval{
			{FromDate: date(from), Percentage: dec(fte)},
		},
	}
}

func project(id int64, name string, periods ...payroll.ProjectPeriod) payroll.Project {
	return payroll.Project{ID: id, Name: name, Code: name, StartDate: periods[0].StartDate, Periods: periods}
}

func period(number int, start, end string) payroll.ProjectPeriod {
	return payroll.ProjectPeriod{PeriodNumber: number, StartDate: date(start), EndDate: date(end)}
}

func alloc(projectID int64, periodNumber int, days string) payroll.Allocation {
	return payroll.Allocation{ProjectID: projectID, PeriodNumber: periodNumber, Days: dec(days)}
}

func entry(staffID int64, year int, month time.Month, nonEU string, allocs ...payroll.Allocation) payroll.MonthlyEntry {
	return payroll.MonthlyEntry{StaffID: staffID, Year: year, Month: month, Allocations: allocs, NonEUDays: dec(nonEU)}
}

// assertNear checks |got - want| < tolerance.
func assertNear(t *testing.T, want string, got decimal.Decimal, tolerance string) {
	t.Helper()
	diff := got.Sub(dec(want)).Abs()
	assert.True(t, diff.LessThan(dec(tolerance)), "want %s ± %s, got %s", want, tolerance, got.String())
}

// assertDecEqual compares decimals by value, ignoring exponent.
func assertDecEqual(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}
