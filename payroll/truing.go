/*
truing.go - Cumulative truing of the EU portion

PURPOSE:
  EU work is claimed in EUR and paid in local currency. Instead of fixing a
  rate per month, every payment recomputes the average rate over the
  project period's whole lifetime (period start to today) and pays:

    cumulative EUR to date × lifetime average rate − local already paid

  so that earlier months paid at a now-outdated rate are corrected by the
  current payment.

TWO-LEVEL RECONCILIATION:
  1. Per group (project, period): prior EUR and prior local amounts are
     summed from the matching "project" rate-usage lines of earlier
     payments. The group's line records this month's EUR and its trued
     local payment.
  2. Aggregate: the EU portion of this payment is
       this month's EU EUR × EUR-weighted average of the group rates
       − Σ eu_portion of ALL earlier payments
     The aggregate offset is global, not per group, so with more than one
     group or with differing rates it does not equal the sum of the group
     payments. Both levels are kept as-is and recorded in the audit trail.

EDGE CASES:
  - No allocations: no groups, EU EUR 0, EU portion 0, weighted rate 0.
  - Missing project or period: NotFoundError, nothing is recorded.
  - Empty rate window: NoRateDataError, nothing is recorded.

SEE ALSO:
  - noneu.go: the non-cumulative counterpart
  - engine.go: transactional boundary around this computation
*/
package payroll

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EUPortionInput is one staff-month's EU work plus its payment history.
type EUPortionInput struct {
	Year          int
	Month         time.Month
	FTE           decimal.Decimal
	Allocations   []Allocation
	PriorPayments []Payment
	Today         Date
}

// GroupResult is the truing outcome for one (project, period).
type GroupResult struct {
	ProjectID    int64
	PeriodNumber int
	Usage        RateUsage
	Step         EUStep
}

// EUPortion is the aggregate over all groups.
type EUPortion struct {
	Groups                 []GroupResult
	EURTotal               decimal.Decimal
	CumulativeEUR          decimal.Decimal
	WeightedAvgRate        decimal.Decimal
	TotalPreviousLocalPaid decimal.Decimal
	PortionLocal           decimal.Decimal
	PeriodStartDate        string
	Formula                string
}

type groupKey struct {
	projectID    int64
	periodNumber int
}

// groupAllocations sums days per (project, period), keeping first-appearance order.
func groupAllocations(allocs []Allocation) ([]groupKey, map[groupKey]decimal.Decimal) {
	var order []groupKey
	days := make(map[groupKey]decimal.Decimal)
	for _, a := range allocs {
		k := groupKey{projectID: a.ProjectID, periodNumber: a.PeriodNumber}
		if _, seen := days[k]; !seen {
			order = append(order, k)
			days[k] = decimal.Zero
		}
		days[k] = days[k].Add(a.Days)
	}
	return order, days
}

// priorForGroup sums the first matching project line of each earlier payment.
func priorForGroup(priors []Payment, k groupKey) (eur, local decimal.Decimal) {
	eur, local = decimal.Zero, decimal.Zero
	for _, p := range priors {
		for _, u := range p.RatesUsed {
			if u.matches(k.projectID, k.periodNumber) {
				eur = eur.Add(u.EURAmount)
				local = local.Add(u.LocalAmount)
				break
			}
		}
	}
	return eur, local
}

// EUPortion runs the cumulative truing for every group in the month.
func (c *Calculator) EUPortion(ctx context.Context, r Reader, in EUPortionInput) (*EUPortion, error) {
	rates := RateTable{Source: r}
	order, daysByGroup := groupAllocations(in.Allocations)

	out := &EUPortion{
		EURTotal:               decimal.Zero,
		CumulativeEUR:          decimal.Zero,
		WeightedAvgRate:        decimal.Zero,
		TotalPreviousLocalPaid: decimal.Zero,
		PortionLocal:           decimal.Zero,
	}

	for _, k := range order {
		project, err := r.GetProject(ctx, k.projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to load project %d: %w", k.projectID, err)
		}
		if project == nil {
			return nil, ProjectNotFound(k.projectID)
		}
		period, err := r.GetProjectPeriod(ctx, k.projectID, k.periodNumber)
		if err != nil {
			return nil, fmt.Errorf("failed to load project %d period %d: %w", k.projectID, k.periodNumber, err)
		}
		if period == nil {
			return nil, PeriodNotFound(k.projectID, k.periodNumber)
		}

		daysWorked := daysByGroup[k]
		eurAmount := c.ClaimableEUR(daysWorked, in.FTE, in.Month)

		priorEUR, priorLocal := priorForGroup(in.PriorPayments, k)
		cumulativeEUR := priorEUR.Add(eurAmount)

		avgRate, err := rates.AverageRate(ctx, period.StartDate, in.Today)
		if err != nil {
			return nil, err
		}

		shouldHaveBeenPaid := cumulativeEUR.Mul(avgRate)
		paymentLocal := shouldHaveBeenPaid.Sub(priorLocal)

		out.Groups = append(out.Groups, GroupResult{
			ProjectID:    k.projectID,
			PeriodNumber: k.periodNumber,
			Usage: RateUsage{
				Type:         RateUsageProject,
				ProjectID:    k.projectID,
				ProjectName:  project.Name,
				PeriodNumber: k.periodNumber,
				Rate:         avgRate,
				RateSource:   windowRateSource(period.StartDate, in.Today),
				Days:         daysWorked,
				EURAmount:    eurAmount,
				LocalAmount:  paymentLocal,
			},
			Step: EUStep{
				ProjectID:          k.projectID,
				ProjectName:        project.Name,
				PeriodNumber:       k.periodNumber,
				DaysWorked:         daysWorked,
				FTEPercentage:      in.FTE,
				DaysInMonth:        c.EligibleDays.DaysIn(in.Month),
				EURCalculation:     c.eurFormula(daysWorked, in.FTE, in.Month, eurAmount),
				EURAmount:          eurAmount,
				PriorEUR:           priorEUR,
				CumulativeEUR:      cumulativeEUR,
				RateWindowStart:    period.StartDate,
				RateWindowEnd:      in.Today,
				AverageRate:        avgRate,
				ShouldHaveBeenPaid: shouldHaveBeenPaid,
				PreviouslyPaid:     priorLocal,
				PaymentLocal:       paymentLocal,
				CumulativeCalculation: fmt.Sprintf("%s EUR + %s EUR = %s EUR",
					priorEUR.StringFixed(2), eurAmount.StringFixed(2), cumulativeEUR.StringFixed(2)),
				PaymentCalculation: fmt.Sprintf("%s EUR × %s − %s %s = %s %s",
					cumulativeEUR.StringFixed(2), avgRate.StringFixed(4),
					priorLocal.StringFixed(2), c.Currency, paymentLocal.StringFixed(2), c.Currency),
			},
		})

		out.EURTotal = out.EURTotal.Add(eurAmount)
		out.CumulativeEUR = out.CumulativeEUR.Add(cumulativeEUR)
		if out.PeriodStartDate == "" {
			out.PeriodStartDate = period.StartDate.String()
		}
	}

	for _, p := range in.PriorPayments {
		out.TotalPreviousLocalPaid = out.TotalPreviousLocalPaid.Add(p.EUPortionLocal)
	}

	if len(out.Groups) == 0 {
		out.Formula = "no EU allocations"
		return out, nil
	}

	weightedSum := decimal.Zero
	for _, g := range out.Groups {
		weightedSum = weightedSum.Add(g.Usage.Rate.Mul(g.Usage.EURAmount))
	}
	if out.EURTotal.IsPositive() {
		out.WeightedAvgRate = weightedSum.Div(out.EURTotal)
	}

	out.PortionLocal = out.EURTotal.Mul(out.WeightedAvgRate).Sub(out.TotalPreviousLocalPaid)
	out.Formula = fmt.Sprintf("%s EUR × %s − %s %s = %s %s",
		out.EURTotal.StringFixed(2), out.WeightedAvgRate.StringFixed(4),
		out.TotalPreviousLocalPaid.StringFixed(2), c.Currency,
		out.PortionLocal.StringFixed(2), c.Currency)

	return out, nil
}
