package payroll

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// NonEUInput is the month's non-EU work.
type NonEUInput struct {
	Year      int
	Month     time.Month
	NonEUDays decimal.Decimal
	FTE       decimal.Decimal
}

// NonEUPortion is converted at the month's own average rate. There is no
// cumulative tracking: each month stands alone.
type NonEUPortion struct {
	EURAmount   decimal.Decimal
	Rate        decimal.Decimal
	LocalAmount decimal.Decimal

	// Usage and Step are nil when there were no non-EU days.
	Usage *RateUsage
	Step  *NonEUStep
}

// NonEUPortion converts non-EU days to EUR, then to local currency at the
// current month's average rate. Zero days means zero amounts, no rate lookup.
func (c *Calculator) NonEUPortion(ctx context.Context, rates RateTable, in NonEUInput) (*NonEUPortion, error) {
	if !in.NonEUDays.IsPositive() {
		return &NonEUPortion{EURAmount: decimal.Zero, Rate: decimal.Zero, LocalAmount: decimal.Zero}, nil
	}

	eur := c.ClaimableEUR(in.NonEUDays, in.FTE, in.Month)
	rate, err := rates.MonthlyAverage(ctx, in.Year, in.Month)
	if err != nil {
		return nil, err
	}
	local := eur.Mul(rate)
	source := monthlyRateSource(in.Year, in.Month)

	return &NonEUPortion{
		EURAmount:   eur,
		Rate:        rate,
		LocalAmount: local,
		Usage: &RateUsage{
			Type:        RateUsageNonEU,
			Rate:        rate,
			RateSource:  source,
			Days:        in.NonEUDays,
			EURAmount:   eur,
			LocalAmount: local,
		},
		Step: &NonEUStep{
			Days:            in.NonEUDays,
			FTEPercentage:   in.FTE,
			EURCalculation:  c.eurFormula(in.NonEUDays, in.FTE, in.Month, eur),
			EURAmount:       eur,
			RateCalculation: source,
			Rate:            rate,
			LocalCalculation: fmt.Sprintf("%s EUR × %s = %s %s",
				eur.StringFixed(2), rate.StringFixed(4), local.StringFixed(2), c.Currency),
			LocalAmount: local,
		},
	}, nil
}
