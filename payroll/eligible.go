package payroll

import "time"

// EligibleDaysPolicy is the grant's billable-days convention. It is a
// contractual table, not a calendar computation: weekends and holidays of
// a particular year do not change it.
type EligibleDaysPolicy struct {
	Default int
	Months  map[time.Month]int
}

// DefaultEligibleDays is 18 days a month, 17 in February.
func DefaultEligibleDays() EligibleDaysPolicy {
	return EligibleDaysPolicy{
		Default: 18,
		Months:  map[time.Month]int{time.February: 17},
	}
}

// DaysIn returns the billable days for month.
func (p EligibleDaysPolicy) DaysIn(month time.Month) int {
	if d, ok := p.Months[month]; ok {
		return d
	}
	return p.Default
}
