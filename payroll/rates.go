package payroll

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE TABLE - Averages over the stored daily rates
// =============================================================================

// RateTable averages whatever rates exist in a window. Dates with no row
// (weekends, holidays) are skipped, not interpolated.
type RateTable struct {
	Source RateSource
}

// AverageRate is the unweighted mean of all rates dated in [start, end].
// An empty window is an error, never zero.
func (rt RateTable) AverageRate(ctx context.Context, start, end Date) (decimal.Decimal, error) {
	rates, err := rt.Source.RatesInRange(ctx, start, end)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load rates %s..%s: %w", start, end, err)
	}
	if len(rates) == 0 {
		return decimal.Zero, &NoRateDataError{Start: start, End: end}
	}

	sum := decimal.Zero
	for _, r := range rates {
		sum = sum.Add(r.EURToLocal)
	}
	return sum.Div(decimal.NewFromInt(int64(len(rates)))), nil
}

// MonthlyAverage is AverageRate over the calendar month.
func (rt RateTable) MonthlyAverage(ctx context.Context, year int, month time.Month) (decimal.Decimal, error) {
	return rt.AverageRate(ctx, StartOfMonth(year, month), EndOfMonth(year, month))
}

func monthlyRateSource(year int, month time.Month) string {
	return "ECB average for " + periodKey(year, month)
}

func windowRateSource(start, end Date) string {
	return fmt.Sprintf("ECB average %s to %s", start, end)
}
