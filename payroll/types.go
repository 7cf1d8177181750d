/*
Package payroll computes monthly salary payments for staff who split their
time between EU-funded projects and non-EU work.

PURPOSE:
  EU grant work is claimed in EUR but paid in local currency. Every payment
  re-derives the project's lifetime-average exchange rate and pays the
  difference between what should have been paid to date and what was
  already paid, so exchange-rate drift corrects itself over time.

KEY CONCEPTS IN THIS FILE (types.go):
  - Staff / FTEInterval: who is paid and at what capacity
  - Project / ProjectPeriod: what EU work is allocated to
  - MonthlyEntry / Allocation: timesheet input for one staff-month
  - Payment / RateUsage / CalculationBreakdown: the immutable output,
    which is also the memory consumed by later calculations

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for every amount, rate, day count and FTE
  2. Append-only: payments are never modified; recalculation appends
  3. Auditability: every payment carries the full arithmetic trail

SEE ALSO:
  - truing.go: cumulative truing of the EU portion
  - noneu.go: single-month conversion of non-EU work
  - engine.go: orchestration of one calculation
*/
package payroll

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STAFF
// =============================================================================

// FTEInterval is one piece of a staff member's capacity history.
// ToDate nil means open-ended.
type FTEInterval struct {
	FromDate   Date            `json:"from_date"`
	ToDate     *Date           `json:"to_date"`
	Percentage decimal.Decimal `json:"percentage"`
}

type Staff struct {
	ID         int64         `json:"id"`
	Name       string        `json:"name"`
	Email      string        `json:"email,omitempty"`
	FTEHistory []FTEInterval `json:"fte_history"`
	CreatedAt  time.Time     `json:"created_at"`
}

// DefaultFTEHistory is assigned when staff are created without a history.
func DefaultFTEHistory() []FTEInterval {
	return []FTEInterval{{FromDate: NewDate(2020, time.January, 1), Percentage: decimal.NewFromInt(1)}}
}

// =============================================================================
// PROJECTS
// =============================================================================

type Project struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Code      string          `json:"code"`
	StartDate Date            `json:"start_date"`
	Periods   []ProjectPeriod `json:"periods"`
	CreatedAt time.Time       `json:"created_at"`
}

// ProjectPeriod anchors the cumulative-rate window for work allocated to it.
type ProjectPeriod struct {
	ID           int64  `json:"id,omitempty"`
	ProjectID    int64  `json:"project_id"`
	PeriodNumber int    `json:"period_number"`
	StartDate    Date   `json:"start_date"`
	EndDate      Date   `json:"end_date"`
	Description  string `json:"description,omitempty"`
}

// =============================================================================
// TIMESHEETS
// =============================================================================

// Allocation is EU work on one project period, in days (0.25 granularity).
type Allocation struct {
	ProjectID    int64           `json:"project_id"`
	PeriodNumber int             `json:"period_number"`
	Days         decimal.Decimal `json:"days"`
}

// MonthlyEntry is the timesheet for one (staff, year, month).
type MonthlyEntry struct {
	ID          int64           `json:"id"`
	StaffID     int64           `json:"staff_id"`
	Year        int             `json:"year"`
	Month       time.Month      `json:"month"`
	Allocations []Allocation    `json:"project_allocations"`
	NonEUDays   decimal.Decimal `json:"non_eu_days"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TotalDays is EU plus non-EU days.
func (e MonthlyEntry) TotalDays() decimal.Decimal {
	total := e.NonEUDays
	for _, a := range e.Allocations {
		total = total.Add(a.Days)
	}
	return total
}

// =============================================================================
// EXCHANGE RATES
// =============================================================================

// Rate is one day's EUR to local-currency reference rate.
type Rate struct {
	Date       Date            `json:"date"`
	EURToLocal decimal.Decimal `json:"eur_sek"`
	FetchedAt  time.Time       `json:"fetched_at,omitempty"`
}

// =============================================================================
// PAYMENTS - Immutable output, and input to every later calculation
// =============================================================================

type RateUsageType string

const (
	RateUsageProject RateUsageType = "project"
	RateUsageNonEU   RateUsageType = "non_eu"
)

// RateUsage records which rate, days and amounts applied to one project
// period, or to the month's non-EU work.
type RateUsage struct {
	Type         RateUsageType   `json:"type"`
	ProjectID    int64           `json:"project_id,omitempty"`
	ProjectName  string          `json:"project_name,omitempty"`
	PeriodNumber int             `json:"period_number,omitempty"`
	Rate         decimal.Decimal `json:"rate"`
	RateSource   string          `json:"rate_source"`
	Days         decimal.Decimal `json:"days"`
	EURAmount    decimal.Decimal `json:"eur_amount"`
	LocalAmount  decimal.Decimal `json:"sek_amount"`
}

// matches reports whether u is the project usage line for (projectID, periodNumber).
func (u RateUsage) matches(projectID int64, periodNumber int) bool {
	return u.Type == RateUsageProject && u.ProjectID == projectID && u.PeriodNumber == periodNumber
}

// EUStep is the audit trail for one project-period group.
type EUStep struct {
	ProjectID      int64           `json:"project_id"`
	ProjectName    string          `json:"project_name"`
	PeriodNumber   int             `json:"period_number"`
	DaysWorked     decimal.Decimal `json:"days_worked"`
	FTEPercentage  decimal.Decimal `json:"fte_percentage"`
	DaysInMonth    int             `json:"days_in_month"`
	EURCalculation string          `json:"eur_calculation"`
	EURAmount      decimal.Decimal `json:"eur_amount"`

	PriorEUR              decimal.Decimal `json:"prior_eur"`
	CumulativeEUR         decimal.Decimal `json:"cumulative_eur"`
	RateWindowStart       Date            `json:"rate_window_start"`
	RateWindowEnd         Date            `json:"rate_window_end"`
	AverageRate           decimal.Decimal `json:"average_rate"`
	ShouldHaveBeenPaid    decimal.Decimal `json:"should_have_been_paid"`
	PreviouslyPaid        decimal.Decimal `json:"previously_paid"`
	PaymentLocal          decimal.Decimal `json:"payment_local"`
	CumulativeCalculation string          `json:"cumulative_calculation"`
	PaymentCalculation    string          `json:"payment_calculation"`
}

// NonEUStep is the audit trail for the month's non-EU work.
type NonEUStep struct {
	Days             decimal.Decimal `json:"days"`
	FTEPercentage    decimal.Decimal `json:"fte_percentage"`
	EURCalculation   string          `json:"eur_calculation"`
	EURAmount        decimal.Decimal `json:"eur_amount"`
	RateCalculation  string          `json:"rate_calculation"`
	Rate             decimal.Decimal `json:"rate"`
	LocalCalculation string          `json:"sek_calculation"`
	LocalAmount      decimal.Decimal `json:"sek_amount"`
}

// CalculationBreakdown is the human-readable audit trail of a payment.
type CalculationBreakdown struct {
	MonthIndex           time.Month `json:"month_index"`
	PeriodStartDate      string     `json:"period_start_date"`
	CalculationDate      Date       `json:"calculation_date"`
	EUSteps              []EUStep   `json:"eu_calculation_steps"`
	NonEU                *NonEUStep `json:"non_eu_calculation"`
	EUPortionCalculation string     `json:"eu_portion_calculation"`
	GrossCalculation     string     `json:"gross_calculation"`
}

// Payment is one immutable calculation record.
type Payment struct {
	ID                        int64                `json:"id"`
	Reference                 string               `json:"reference"`
	StaffID                   int64                `json:"staff_id"`
	StaffName                 string               `json:"staff_name,omitempty"`
	Year                      int                  `json:"year"`
	Month                     time.Month           `json:"month"`
	GrossLocal                decimal.Decimal      `json:"gross_sek"`
	EUPortionLocal            decimal.Decimal      `json:"eu_portion_sek"`
	NonEUPortionLocal         decimal.Decimal      `json:"non_eu_portion_sek"`
	TotalEURClaimable         decimal.Decimal      `json:"total_eur_claimable"`
	EUEURAmount               decimal.Decimal      `json:"eu_eur_amount"`
	NonEUEURAmount            decimal.Decimal      `json:"non_eu_eur_amount"`
	RatesUsed                 []RateUsage          `json:"rates_used"`
	CumulativeEURToDate       decimal.Decimal      `json:"cumulative_eur_to_date"`
	CumulativeLocalPaidToDate decimal.Decimal      `json:"cumulative_sek_paid_to_date"`
	CumulativeAvgRate         decimal.Decimal      `json:"cumulative_avg_rate"`
	Breakdown                 CalculationBreakdown `json:"calculation_breakdown"`
	PaidAt                    *time.Time           `json:"paid_at,omitempty"`
	CreatedAt                 time.Time            `json:"created_at"`
}

// =============================================================================
// CALCULATION REQUEST / RESULT
// =============================================================================

type CalculationInput struct {
	StaffID int64
	Year    int
	Month   time.Month
}

// CalculationResult is everything one calculation derives. PaymentID and
// Reference are set once the result has been recorded.
type CalculationResult struct {
	GrossLocal                decimal.Decimal
	EUPortionLocal            decimal.Decimal
	NonEUPortionLocal         decimal.Decimal
	TotalEURClaimable         decimal.Decimal
	EUEURAmount               decimal.Decimal
	NonEURAmount              decimal.Decimal
	RatesUsed                 []RateUsage
	CumulativeEURToDate       decimal.Decimal
	CumulativeLocalPaidToDate decimal.Decimal
	CumulativeAvgRate         decimal.Decimal
	Breakdown                 CalculationBreakdown

	PaymentID int64
	Reference string
}
