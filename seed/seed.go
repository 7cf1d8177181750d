/*
Package seed loads the demo dataset used for development and walkthroughs.

WHAT IT CREATES:
  - Daily EUR/SEK rates for every weekday of 2025, one flat value per month
  - Polina Ivanova at 60% FTE from 2025-01-01
  - LUMEN Research Project (periods 1 and 2) and GRAPHIA Innovation (period 1)
  - Polina's December 2025 timesheet: 4 days LUMEN P2, 7 days GRAPHIA P1

The expected December EU claim is ((4/18) + (7/18)) × 8000 × 0.6 = 2933.33 EUR.
Rates carry no jitter, so the resulting payment is reproducible.

NOTE:
  Load resets the database first. Only use in development/demo environments.

SEE ALSO:
  - cmd/server/main.go: the seed subcommand
  - api/handlers.go: POST /api/seed
*/
package seed

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/salary-engine/payroll"
)

// Store is what seeding writes through.
type Store interface {
	Reset(ctx context.Context) error
	CreateStaff(ctx context.Context, s payroll.Staff) (*payroll.Staff, error)
	CreateProject(ctx context.Context, p payroll.Project) (*payroll.Project, error)
	UpsertEntry(ctx context.Context, e payroll.MonthlyEntry) (*payroll.MonthlyEntry, bool, error)
	UpsertRates(ctx context.Context, rates []payroll.Rate) (inserted, updated []payroll.Date, err error)
}

// Result identifies the records Load created.
type Result struct {
	StaffID   int64 `json:"staff_id"`
	LumenID   int64 `json:"lumen_project_id"`
	GraphiaID int64 `json:"graphia_project_id"`
	Rates     int   `json:"rates"`
	EntryID   int64 `json:"entry_id"`
}

// monthlyAverages is the 2025 EUR/SEK level used for each month's weekdays.
var monthlyAverages = map[time.Month]string{
	time.January:   "10.15",
	time.February:  "10.18",
	time.March:     "10.20",
	time.April:     "10.22",
	time.May:       "10.25",
	time.June:      "10.28",
	time.July:      "10.30",
	time.August:    "10.32",
	time.September: "10.35",
	time.October:   "10.38",
	time.November:  "10.42",
	time.December:  "10.48",
}

// Rates2025 returns one rate per weekday of 2025.
func Rates2025() []payroll.Rate {
	var rates []payroll.Rate
	for d := payroll.NewDate(2025, time.January, 1); d.Year() == 2025; d = d.AddDays(1) {
		switch d.Time.Weekday() {
		case time.Saturday, time.Sunday:
			continue
		}
		rates = append(rates, payroll.Rate{
			Date:       d,
			EURToLocal: decimal.RequireFromString(monthlyAverages[d.Month()]),
		})
	}
	return rates
}

// Load resets s and writes the demo dataset.
func Load(ctx context.Context, s Store, logger *log.Logger) (*Result, error) {
	if err := s.Reset(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset database: %w", err)
	}

	logger.Printf("[Seed] Seeding ECB rates for 2025...")
	inserted, _, err := s.UpsertRates(ctx, Rates2025())
	if err != nil {
		return nil, fmt.Errorf("failed to seed rates: %w", err)
	}

	logger.Printf("[Seed] Seeding staff...")
	polina, err := s.CreateStaff(ctx, payroll.Staff{
		Name:  "Polina Ivanova",
		Email: "polina@example.com",
		FTEHistory: []payroll.FTEInterval{
			{FromDate: payroll.NewDate(2025, time.January, 1), Percentage: decimal.RequireFromString("0.6")},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to seed staff: %w", err)
	}

	logger.Printf("[Seed] Seeding projects...")
	lumen, err := s.CreateProject(ctx, payroll.Project{
		Name:      "LUMEN Research Project",
		Code:      "LUMEN",
		StartDate: payroll.NewDate(2025, time.January, 1),
		Periods: []payroll.ProjectPeriod{
			{
				PeriodNumber: 1,
				StartDate:    payroll.NewDate(2025, time.January, 1),
				EndDate:      payroll.NewDate(2025, time.June, 30),
				Description:  "Phase 1 - Foundation",
			},
			{
				PeriodNumber: 2,
				StartDate:    payroll.NewDate(2025, time.July, 1),
				EndDate:      payroll.NewDate(2025, time.December, 31),
				Description:  "Phase 2 - Implementation",
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to seed LUMEN: %w", err)
	}

	graphia, err := s.CreateProject(ctx, payroll.Project{
		Name:      "GRAPHIA Innovation",
		Code:      "GRAPHIA",
		StartDate: payroll.NewDate(2025, time.January, 1),
		Periods: []payroll.ProjectPeriod{
			{
				PeriodNumber: 1,
				StartDate:    payroll.NewDate(2025, time.January, 1),
				EndDate:      payroll.NewDate(2025, time.December, 31),
				Description:  "Full Year 2025",
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to seed GRAPHIA: %w", err)
	}

	logger.Printf("[Seed] Seeding monthly entries for December 2025...")
	entry, _, err := s.UpsertEntry(ctx, payroll.MonthlyEntry{
		StaffID: polina.ID,
		Year:    2025,
		Month:   time.December,
		Allocations: []payroll.Allocation{
			{ProjectID: lumen.ID, PeriodNumber: 2, Days: decimal.NewFromInt(4)},
			{ProjectID: graphia.ID, PeriodNumber: 1, Days: decimal.NewFromInt(7)},
		},
		NonEUDays: decimal.Zero,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to seed entry: %w", err)
	}

	logger.Printf("[Seed] Done: staff %d, projects %d and %d, %d rates", polina.ID, lumen.ID, graphia.ID, len(inserted))
	return &Result{
		StaffID:   polina.ID,
		LumenID:   lumen.ID,
		GraphiaID: graphia.ID,
		Rates:     len(inserted),
		EntryID:   entry.ID,
	}, nil
}
