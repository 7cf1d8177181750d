/*
store.go - Persistence interfaces consumed by the calculation

PURPOSE:
  The engine only reads staff, entries, projects, rates and prior payments,
  and only ever writes one thing: a new payment row. CRUD for the other
  records belongs to the storage implementation, not to this package.

KEY INTERFACES:
  Reader:  every lookup a calculation depends on
  Store:   Reader + AppendPayment (the single write)
  TxStore: Store + WithTx, so "read dependencies -> compute -> append"
           happens atomically

LOOKUP CONTRACT:
  Single-record getters return (nil, nil) when the record does not exist.
  The engine turns that into the matching NotFoundError.

APPEND-ONLY CONTRACT:
  There is no UpdatePayment and no DeletePayment here. Every prior payment
  is summed by later calculations, so a payment must never change after
  it is written.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - payroll/store/memory.go: in-memory for tests

SEE ALSO:
  - engine.go: the only caller of WithTx
*/
package payroll

import (
	"context"
	"time"
)

// RateSource range-queries stored rates with date in [from, to], ordered by date.
type RateSource interface {
	RatesInRange(ctx context.Context, from, to Date) ([]Rate, error)
}

// Reader is every read the calculation performs.
type Reader interface {
	RateSource

	GetStaff(ctx context.Context, id int64) (*Staff, error)
	GetMonthlyEntry(ctx context.Context, staffID int64, year int, month time.Month) (*MonthlyEntry, error)
	GetProject(ctx context.Context, id int64) (*Project, error)
	GetProjectPeriod(ctx context.Context, projectID int64, periodNumber int) (*ProjectPeriod, error)

	// PaymentsBefore returns every payment for staffID with (year, month)
	// strictly earlier than the given one, ordered by (year, month, id).
	PaymentsBefore(ctx context.Context, staffID int64, year int, month time.Month) ([]Payment, error)

	// PaymentsFor returns the payments already recorded for exactly (year, month).
	PaymentsFor(ctx context.Context, staffID int64, year int, month time.Month) ([]Payment, error)
}

// Store adds the single write.
type Store interface {
	Reader

	// AppendPayment persists p and returns its new ID. p.ID is ignored.
	AppendPayment(ctx context.Context, p Payment) (int64, error)
}

// TxStore runs fn inside a transaction: rolled back if fn returns an error,
// committed otherwise.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
