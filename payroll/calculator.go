package payroll

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CALCULATOR - Day fractions, and the composition of one month's payment
// =============================================================================

// DefaultPersonMonthRate is the EUR value of one full-time person-month.
var DefaultPersonMonthRate = decimal.NewFromInt(8000)

// Calculator holds the grant conventions. It has no state between calls.
type Calculator struct {
	PersonMonthRate decimal.Decimal
	EligibleDays    EligibleDaysPolicy
	Currency        string
}

// NewCalculator returns a Calculator with the standard grant conventions.
func NewCalculator() *Calculator {
	return &Calculator{
		PersonMonthRate: DefaultPersonMonthRate,
		EligibleDays:    DefaultEligibleDays(),
		Currency:        "SEK",
	}
}

// ClaimableEUR is (days / eligibleDays(month)) × personMonthRate × fte.
// The division is applied last to keep the quotient exact for as long as possible.
func (c *Calculator) ClaimableEUR(days, fte decimal.Decimal, month time.Month) decimal.Decimal {
	eligible := decimal.NewFromInt(int64(c.EligibleDays.DaysIn(month)))
	return days.Mul(c.PersonMonthRate).Mul(fte).Div(eligible)
}

func (c *Calculator) eurFormula(days, fte decimal.Decimal, month time.Month, eur decimal.Decimal) string {
	return fmt.Sprintf("(%s / %d) × %s × %s = %s EUR",
		days, c.EligibleDays.DaysIn(month), c.PersonMonthRate, fte, eur.StringFixed(2))
}

// monthInputs is everything a calculation reads before any arithmetic.
type monthInputs struct {
	input  CalculationInput
	staff  *Staff
	fte    decimal.Decimal
	entry  *MonthlyEntry
	priors []Payment
	today  Date
}

func loadMonthInputs(ctx context.Context, r Reader, in CalculationInput, today Date) (*monthInputs, error) {
	staff, err := r.GetStaff(ctx, in.StaffID)
	if err != nil {
		return nil, fmt.Errorf("failed to load staff %d: %w", in.StaffID, err)
	}
	if staff == nil {
		return nil, StaffNotFound(in.StaffID)
	}

	entry, err := r.GetMonthlyEntry(ctx, in.StaffID, in.Year, in.Month)
	if err != nil {
		return nil, fmt.Errorf("failed to load entry: %w", err)
	}
	if entry == nil {
		return nil, EntryNotFound(in.StaffID, in.Year, in.Month)
	}

	priors, err := r.PaymentsBefore(ctx, in.StaffID, in.Year, in.Month)
	if err != nil {
		return nil, fmt.Errorf("failed to load previous payments: %w", err)
	}

	return &monthInputs{
		input:  in,
		staff:  staff,
		fte:    FTEAt(staff.FTEHistory, MidMonth(in.Year, in.Month)),
		entry:  entry,
		priors: priors,
		today:  today,
	}, nil
}

// compute derives the full result from r without writing anything.
func (c *Calculator) compute(ctx context.Context, r Reader, in CalculationInput, today Date) (*CalculationResult, error) {
	mi, err := loadMonthInputs(ctx, r, in, today)
	if err != nil {
		return nil, err
	}

	eu, err := c.EUPortion(ctx, r, EUPortionInput{
		Year:          in.Year,
		Month:         in.Month,
		FTE:           mi.fte,
		Allocations:   mi.entry.Allocations,
		PriorPayments: mi.priors,
		Today:         today,
	})
	if err != nil {
		return nil, err
	}

	nonEU, err := c.NonEUPortion(ctx, RateTable{Source: r}, NonEUInput{
		Year:      in.Year,
		Month:     in.Month,
		NonEUDays: mi.entry.NonEUDays,
		FTE:       mi.fte,
	})
	if err != nil {
		return nil, err
	}

	return c.combine(in, today, eu, nonEU), nil
}

func (c *Calculator) combine(in CalculationInput, today Date, eu *EUPortion, nonEU *NonEUPortion) *CalculationResult {
	ratesUsed := make([]RateUsage, 0, len(eu.Groups)+1)
	steps := make([]EUStep, 0, len(eu.Groups))
	for _, g := range eu.Groups {
		ratesUsed = append(ratesUsed, g.Usage)
		steps = append(steps, g.Step)
	}
	if nonEU.Usage != nil {
		ratesUsed = append(ratesUsed, *nonEU.Usage)
	}

	gross := eu.PortionLocal.Add(nonEU.LocalAmount)

	return &CalculationResult{
		GrossLocal:                gross,
		EUPortionLocal:            eu.PortionLocal,
		NonEUPortionLocal:         nonEU.LocalAmount,
		TotalEURClaimable:         eu.EURTotal.Add(nonEU.EURAmount),
		EUEURAmount:               eu.EURTotal,
		NonEURAmount:              nonEU.EURAmount,
		RatesUsed:                 ratesUsed,
		CumulativeEURToDate:       eu.CumulativeEUR,
		CumulativeLocalPaidToDate: eu.TotalPreviousLocalPaid,
		CumulativeAvgRate:         eu.WeightedAvgRate,
		Breakdown: CalculationBreakdown{
			MonthIndex:           in.Month,
			PeriodStartDate:      eu.PeriodStartDate,
			CalculationDate:      today,
			EUSteps:              steps,
			NonEU:                nonEU.Step,
			EUPortionCalculation: eu.Formula,
			GrossCalculation: fmt.Sprintf("%s EUR × %s − %s %s + %s EUR × %s = %s %s",
				eu.EURTotal.StringFixed(2), eu.WeightedAvgRate.StringFixed(4),
				eu.TotalPreviousLocalPaid.StringFixed(2), c.Currency,
				nonEU.EURAmount.StringFixed(2), nonEU.Rate.StringFixed(4),
				gross.StringFixed(2), c.Currency),
		},
	}
}
