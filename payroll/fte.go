package payroll

import "github.com/shopspring/decimal"

// FullTime is the capacity assumed when no FTE interval covers a date.
var FullTime = decimal.NewFromInt(1)

// FTEAt returns the percentage of the first interval, in stored order, with
// FromDate <= date <= ToDate (open-ended when ToDate is nil). Overlapping
// intervals are not an error: the earlier one wins. No match means full time.
func FTEAt(history []FTEInterval, date Date) decimal.Decimal {
	for _, iv := range history {
		if date.Before(iv.FromDate) {
			continue
		}
		if iv.ToDate != nil && date.After(*iv.ToDate) {
			continue
		}
		return iv.Percentage
	}
	return FullTime
}

// ValidateFTEHistory checks each interval in isolation. Overlaps and gaps are
// allowed, since transition periods are recorded that way.
func ValidateFTEHistory(history []FTEInterval) error {
	for _, iv := range history {
		if iv.FromDate.IsZero() {
			return &ValidationError{Field: "fte_history.from_date", Message: "required"}
		}
		if iv.ToDate != nil && iv.ToDate.Before(iv.FromDate) {
			return &ValidationError{Field: "fte_history.to_date", Message: "before from_date"}
		}
		if iv.Percentage.IsNegative() || iv.Percentage.GreaterThan(FullTime) {
			return &ValidationError{Field: "fte_history.percentage", Message: "must be between 0 and 1"}
		}
	}
	return nil
}
