/*
engine.go - One salary calculation, end to end

REQUEST FLOW:
  1. Validate the request
  2. Acquire the staff member's lock
  3. Inside one store transaction:
     a. Resolve staff, FTE on the 15th, the month's entry, prior payments
     b. Truing of the EU portion, per (project, period) group
     c. Non-EU portion at the month's average rate
     d. Append the payment
  4. Release the lock

CONCURRENCY:
  Two calculations for the same staff member would read the same prior
  payments and each pay as if the other had not run. They are serialized
  by a per-staff mutex, and the transaction keeps reads and the append
  together. Calculations for different staff run in parallel.

DUPLICATES:
  By default a recalculation appends another payment, which later months
  will sum alongside the first one. DuplicateReject refuses to record a
  second payment for the same staff-month instead.

SEE ALSO:
  - truing.go, noneu.go: the arithmetic
  - recorder.go: the single write
*/
package payroll

import (
	"context"
	"sync"
	"time"
)

// DuplicatePolicy decides what happens when a staff-month already has a payment.
type DuplicatePolicy string

const (
	DuplicateAppend DuplicatePolicy = "append"
	DuplicateReject DuplicatePolicy = "reject"
)

// ParseDuplicatePolicy accepts "append", "reject", or "" (append).
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case "", DuplicateAppend:
		return DuplicateAppend, nil
	case DuplicateReject:
		return DuplicateReject, nil
	}
	return "", &ValidationError{Field: "duplicate_policy", Message: "must be append or reject"}
}

// Engine computes and records payments.
type Engine struct {
	Store      TxStore
	Calculator *Calculator
	Recorder   *PaymentRecorder
	Duplicates DuplicatePolicy
	Clock      func() time.Time
	Logger     Logger

	locks staffLocks
}

// NewEngine returns an Engine with the standard conventions over store.
func NewEngine(store TxStore) *Engine {
	return &Engine{
		Store:      store,
		Calculator: NewCalculator(),
		Recorder:   NewPaymentRecorder(),
		Duplicates: DuplicateAppend,
		Clock:      time.Now,
		Logger:     NopLogger{},
	}
}

// Validate checks the request shape.
func (in CalculationInput) Validate() error {
	if in.StaffID <= 0 {
		return &ValidationError{Field: "staffId", Message: "must be positive"}
	}
	if in.Year < 1900 || in.Year > 9999 {
		return &ValidationError{Field: "year", Message: "out of range"}
	}
	if in.Month < time.January || in.Month > time.December {
		return &ValidationError{Field: "month", Message: "must be between 1 and 12"}
	}
	return nil
}

// Calculate computes the payment for one staff-month and records it.
// On any error nothing is written.
func (e *Engine) Calculate(ctx context.Context, in CalculationInput) (*CalculationResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	unlock := e.locks.lock(in.StaffID)
	defer unlock()

	today := DateOf(e.Clock())
	e.Logger.Infof("calculating staff %d %s (as of %s)", in.StaffID, periodKey(in.Year, in.Month), today)

	var result *CalculationResult
	err := e.Store.WithTx(ctx, func(s Store) error {
		existing, err := s.PaymentsFor(ctx, in.StaffID, in.Year, in.Month)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			if e.Duplicates == DuplicateReject {
				return &DuplicatePaymentError{
					StaffID: in.StaffID, Year: in.Year, Month: in.Month, PaymentID: existing[0].ID,
				}
			}
			e.Logger.Warnf("staff %d %s already has %d payment(s); appending another",
				in.StaffID, periodKey(in.Year, in.Month), len(existing))
		}

		res, err := e.Calculator.compute(ctx, s, in, today)
		if err != nil {
			return err
		}
		e.logGroups(in, res)

		if _, err := e.Recorder.Store(ctx, s, in, res); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		e.Logger.Warnf("calculation failed for staff %d %s: %v", in.StaffID, periodKey(in.Year, in.Month), err)
		return nil, err
	}

	e.Logger.Infof("recorded payment %d (%s) for staff %d %s: gross %s %s",
		result.PaymentID, result.Reference, in.StaffID, periodKey(in.Year, in.Month),
		result.GrossLocal.StringFixed(2), e.Calculator.Currency)
	return result, nil
}

// Preview computes the payment without recording it.
func (e *Engine) Preview(ctx context.Context, in CalculationInput) (*CalculationResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	unlock := e.locks.lock(in.StaffID)
	defer unlock()

	res, err := e.Calculator.compute(ctx, e.Store, in, DateOf(e.Clock()))
	if err != nil {
		return nil, err
	}
	e.logGroups(in, res)
	return res, nil
}

func (e *Engine) logGroups(in CalculationInput, res *CalculationResult) {
	for _, step := range res.Breakdown.EUSteps {
		e.Logger.Debugf("staff %d %s project %d period %d: %s; %s",
			in.StaffID, periodKey(in.Year, in.Month), step.ProjectID, step.PeriodNumber,
			step.EURCalculation, step.PaymentCalculation)
	}
}

// =============================================================================
// PER-STAFF LOCKS
// =============================================================================

type staffLocks struct {
	mu   sync.Mutex
	byID map[int64]*sync.Mutex
}

func (l *staffLocks) lock(staffID int64) (unlock func()) {
	l.mu.Lock()
	if l.byID == nil {
		l.byID = make(map[int64]*sync.Mutex)
	}
	m, ok := l.byID[staffID]
	if !ok {
		m = &sync.Mutex{}
		l.byID[staffID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
