package payroll

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PaymentRecorder turns a result into an immutable payment row.
type PaymentRecorder struct {
	NewReference func() string
	Now          func() time.Time
}

func NewPaymentRecorder() *PaymentRecorder {
	return &PaymentRecorder{
		NewReference: uuid.NewString,
		Now:          time.Now,
	}
}

// Store appends one payment built from in and res, and stamps the new ID and
// reference onto res. There is no update path: recording the same month
// twice yields two rows, both of which later calculations will sum.
func (pr *PaymentRecorder) Store(ctx context.Context, s Store, in CalculationInput, res *CalculationResult) (int64, error) {
	p := Payment{
		Reference:                 pr.NewReference(),
		StaffID:                   in.StaffID,
		Year:                      in.Year,
		Month:                     in.Month,
		GrossLocal:                res.GrossLocal,
		EUPortionLocal:            res.EUPortionLocal,
		NonEUPortionLocal:         res.NonEUPortionLocal,
		TotalEURClaimable:         res.TotalEURClaimable,
		EUEURAmount:               res.EUEURAmount,
		NonEUEURAmount:            res.NonEURAmount,
		RatesUsed:                 res.RatesUsed,
		CumulativeEURToDate:       res.CumulativeEURToDate,
		CumulativeLocalPaidToDate: res.CumulativeLocalPaidToDate,
		CumulativeAvgRate:         res.CumulativeAvgRate,
		Breakdown:                 res.Breakdown,
		CreatedAt:                 pr.Now().UTC(),
	}

	id, err := s.AppendPayment(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("failed to record payment: %w", err)
	}

	res.PaymentID = id
	res.Reference = p.Reference
	return id, nil
}
