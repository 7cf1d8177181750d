/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Store records
  (payroll.Staff, payroll.Project, ...) are returned as-is in snake_case;
  the calculation endpoint keeps its camelCase contract.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers

TYPES:
  Staff:       StaffRequest
  Projects:    ProjectRequest, PeriodRequest
  Entries:     EntryRequest, EntryResponse
  Rates:       RateInput, RatesResponse
  Calculation: CalculateRequest, CalculationResponse, CalculationFailure

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/salary-engine/payroll"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// StaffRequest is the body of staff create and update.
type StaffRequest struct {
	Name       string                `json:"name"`
	Email      string                `json:"email"`
	FTEHistory []payroll.FTEInterval `json:"fte_history"`
}

// ProjectRequest is the body of project create and update. Periods replace
// the stored list wholesale.
type ProjectRequest struct {
	Name      string          `json:"name"`
	Code      string          `json:"code"`
	StartDate payroll.Date    `json:"start_date"`
	Periods   []PeriodRequest `json:"periods"`
}

type PeriodRequest struct {
	PeriodNumber int          `json:"period_number"`
	StartDate    payroll.Date `json:"start_date"`
	EndDate      payroll.Date `json:"end_date"`
	Description  string       `json:"description"`
}

// EntryRequest upserts the timesheet for (staff_id, year, month).
type EntryRequest struct {
	StaffID            int64                `json:"staff_id"`
	Year               int                  `json:"year"`
	Month              int                  `json:"month"`
	ProjectAllocations []payroll.Allocation `json:"project_allocations"`
	NonEUDays          decimal.Decimal      `json:"non_eu_days"`
}

// EntryResponse is the saved entry plus what happened to it.
type EntryResponse struct {
	payroll.MonthlyEntry
	Created bool   `json:"created,omitempty"`
	Updated bool   `json:"updated,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// RateInput is one posted rate.
type RateInput struct {
	Date   payroll.Date    `json:"date"`
	EURSEK decimal.Decimal `json:"eur_sek"`
}

// RatesRequest is the bulk form of POST /api/rates.
type RatesRequest struct {
	Rates []RateInput `json:"rates"`
}

// RatesResponse lists which dates were new and which were overwritten.
type RatesResponse struct {
	Inserted []payroll.Date `json:"inserted"`
	Updated  []payroll.Date `json:"updated"`
}

// CalculateRequest identifies the staff-month to calculate.
type CalculateRequest struct {
	StaffID int64 `json:"staffId"`
	Year    int   `json:"year"`
	Month   int   `json:"month"`
}

// CalculationResponse is a successful calculation.
type CalculationResponse struct {
	Success                   bool                         `json:"success"`
	Preview                   bool                         `json:"preview,omitempty"`
	PaymentID                 int64                        `json:"paymentId,omitempty"`
	Reference                 string                       `json:"reference,omitempty"`
	GrossLocal                decimal.Decimal              `json:"grossLocal"`
	EUPortionLocal            decimal.Decimal              `json:"euPortionLocal"`
	NonEUPortionLocal         decimal.Decimal              `json:"nonEUPortionLocal"`
	TotalEURClaimable         decimal.Decimal              `json:"totalEURClaimable"`
	EUEURAmount               decimal.Decimal              `json:"euEURAmount"`
	NonEURAmount              decimal.Decimal              `json:"nonEURAmount"`
	RatesUsed                 []payroll.RateUsage          `json:"ratesUsed"`
	CumulativeEURToDate       decimal.Decimal              `json:"cumulativeEURToDate"`
	CumulativeLocalPaidToDate decimal.Decimal              `json:"cumulativeLocalPaidToDate"`
	CumulativeAvgRate         decimal.Decimal              `json:"cumulativeAvgRate"`
	CalculationBreakdown      payroll.CalculationBreakdown `json:"calculationBreakdown"`
}

// CalculationFailure carries the engine's message verbatim.
type CalculationFailure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// EligibleDaysResponse answers GET /api/eligible-days.
type EligibleDaysResponse struct {
	Month        int `json:"month"`
	EligibleDays int `json:"eligible_days"`
}

// DeletedResponse confirms a delete.
type DeletedResponse struct {
	Success   bool  `json:"success"`
	DeletedID int64 `json:"deletedId"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toCalculationResponse(res *payroll.CalculationResult, preview bool) CalculationResponse {
	ratesUsed := res.RatesUsed
	if ratesUsed == nil {
		ratesUsed = []payroll.RateUsage{}
	}
	return CalculationResponse{
		Success:                   true,
		Preview:                   preview,
		PaymentID:                 res.PaymentID,
		Reference:                 res.Reference,
		GrossLocal:                res.GrossLocal,
		EUPortionLocal:            res.EUPortionLocal,
		NonEUPortionLocal:         res.NonEUPortionLocal,
		TotalEURClaimable:         res.TotalEURClaimable,
		EUEURAmount:               res.EUEURAmount,
		NonEURAmount:              res.NonEURAmount,
		RatesUsed:                 ratesUsed,
		CumulativeEURToDate:       res.CumulativeEURToDate,
		CumulativeLocalPaidToDate: res.CumulativeLocalPaidToDate,
		CumulativeAvgRate:         res.CumulativeAvgRate,
		CalculationBreakdown:      res.Breakdown,
	}
}

func (req ProjectRequest) toProject(id int64) payroll.Project {
	p := payroll.Project{
		ID:        id,
		Name:      req.Name,
		Code:      req.Code,
		StartDate: req.StartDate,
		Periods:   make([]payroll.ProjectPeriod, 0, len(req.Periods)),
	}
	for _, pr := range req.Periods {
		p.Periods = append(p.Periods, payroll.ProjectPeriod{
			ProjectID:    id,
			PeriodNumber: pr.PeriodNumber,
			StartDate:    pr.StartDate,
			EndDate:      pr.EndDate,
			Description:  pr.Description,
		})
	}
	return p
}

func (req EntryRequest) toEntry() payroll.MonthlyEntry {
	return payroll.MonthlyEntry{
		StaffID:     req.StaffID,
		Year:        req.Year,
		Month:       time.Month(req.Month),
		Allocations: req.ProjectAllocations,
		NonEUDays:   req.NonEUDays,
	}
}
