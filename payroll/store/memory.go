// Package store provides in-memory payroll.TxStore implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/salary-engine/payroll"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	staff    map[int64]payroll.Staff
	projects map[int64]payroll.Project
	entries  map[entryKey]payroll.MonthlyEntry
	rates    map[string]payroll.Rate
	payments []payroll.Payment
	nextID   int64
}

type entryKey struct {
	StaffID int64
	Year    int
	Month   time.Month
}

func NewMemory() *Memory {
	return &Memory{
		staff:    make(map[int64]payroll.Staff),
		projects: make(map[int64]payroll.Project),
		entries:  make(map[entryKey]payroll.MonthlyEntry),
		rates:    make(map[string]payroll.Rate),
	}
}

// =============================================================================
// FIXTURE SETTERS
// =============================================================================

// PutStaff stores s under s.ID, replacing any existing record.
func (m *Memory) PutStaff(s payroll.Staff) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staff[s.ID] = s
}

// PutProject stores p (with its periods) under p.ID.
func (m *Memory) PutProject(p payroll.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range p.Periods {
		p.Periods[i].ProjectID = p.ID
	}
	m.projects[p.ID] = p
}

// PutEntry upserts by (staff, year, month).
func (m *Memory) PutEntry(e payroll.MonthlyEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entryKey{StaffID: e.StaffID, Year: e.Year, Month: e.Month}] = e
}

// PutRate upserts by date.
func (m *Memory) PutRate(r payroll.Rate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[r.Date.String()] = r
}

// Payments returns every recorded payment in insertion order.
func (m *Memory) Payments() []payroll.Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]payroll.Payment(nil), m.payments...)
}

// SeedPayment appends p as though it had been recorded by an earlier calculation.
func (m *Memory) SeedPayment(p payroll.Payment) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(p)
}

// =============================================================================
// payroll.Store
// =============================================================================

func (m *Memory) GetStaff(_ context.Context, id int64) (*payroll.Staff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getStaffLocked(id), nil
}

func (m *Memory) GetMonthlyEntry(_ context.Context, staffID int64, year int, month time.Month) (*payroll.MonthlyEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getEntryLocked(staffID, year, month), nil
}

func (m *Memory) GetProject(_ context.Context, id int64) (*payroll.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getProjectLocked(id), nil
}

func (m *Memory) GetProjectPeriod(_ context.Context, projectID int64, periodNumber int) (*payroll.ProjectPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPeriodLocked(projectID, periodNumber), nil
}

func (m *Memory) RatesInRange(_ context.Context, from, to payroll.Date) ([]payroll.Rate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ratesInRangeLocked(from, to), nil
}

func (m *Memory) PaymentsBefore(_ context.Context, staffID int64, year int, month time.Month) ([]payroll.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paymentsBeforeLocked(staffID, year, month), nil
}

func (m *Memory) PaymentsFor(_ context.Context, staffID int64, year int, month time.Month) ([]payroll.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paymentsForLocked(staffID, year, month), nil
}

// AppendPayment is the only write. Append-only.
func (m *Memory) AppendPayment(_ context.Context, p payroll.Payment) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(p), nil
}

// =============================================================================
// LOCKED HELPERS (caller holds mu)
// =============================================================================

func (m *Memory) getStaffLocked(id int64) *payroll.Staff {
	s, ok := m.staff[id]
	if !ok {
		return nil
	}
	return &s
}

func (m *Memory) getEntryLocked(staffID int64, year int, month time.Month) *payroll.MonthlyEntry {
	e, ok := m.entries[entryKey{StaffID: staffID, Year: year, Month: month}]
	if !ok {
		return nil
	}
	return &e
}

func (m *Memory) getProjectLocked(id int64) *payroll.Project {
	p, ok := m.projects[id]
	if !ok {
		return nil
	}
	return &p
}

func (m *Memory) getPeriodLocked(projectID int64, periodNumber int) *payroll.ProjectPeriod {
	p, ok := m.projects[projectID]
	if !ok {
		return nil
	}
	for _, period := range p.Periods {
		if period.PeriodNumber == periodNumber {
			period := period
			return &period
		}
	}
	return nil
}

func (m *Memory) ratesInRangeLocked(from, to payroll.Date) []payroll.Rate {
	var result []payroll.Rate
	for _, r := range m.rates {
		if from.BeforeOrEqual(r.Date) && r.Date.BeforeOrEqual(to) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result
}

func (m *Memory) paymentsBeforeLocked(staffID int64, year int, month time.Month) []payroll.Payment {
	var result []payroll.Payment
	for _, p := range m.payments {
		if p.StaffID != staffID {
			continue
		}
		if p.Year < year || (p.Year == year && p.Month < month) {
			result = append(result, p)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Year != result[j].Year {
			return result[i].Year < result[j].Year
		}
		return result[i].Month < result[j].Month
	})
	return result
}

func (m *Memory) paymentsForLocked(staffID int64, year int, month time.Month) []payroll.Payment {
	var result []payroll.Payment
	for _, p := range m.payments {
		if p.StaffID == staffID && p.Year == year && p.Month == month {
			result = append(result, p)
		}
	}
	return result
}

func (m *Memory) appendLocked(p payroll.Payment) int64 {
	m.nextID++
	p.ID = m.nextID
	m.payments = append(m.payments, p)
	return p.ID
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// Payments are the only mutable state, so rollback truncates them.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(payroll.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	mark, nextID := len(tm.payments), tm.nextID
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.payments = tm.payments[:mark]
		tm.nextID = nextID
		return err
	}
	return nil
}

// txMemoryView reads and writes without locking; WithTx holds the lock.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetStaff(_ context.Context, id int64) (*payroll.Staff, error) {
	return tv.parent.getStaffLocked(id), nil
}

func (tv *txMemoryView) GetMonthlyEntry(_ context.Context, staffID int64, year int, month time.Month) (*payroll.MonthlyEntry, error) {
	return tv.parent.getEntryLocked(staffID, year, month), nil
}

func (tv *txMemoryView) GetProject(_ context.Context, id int64) (*payroll.Project, error) {
	return tv.parent.getProjectLocked(id), nil
}

func (tv *txMemoryView) GetProjectPeriod(_ context.Context, projectID int64, periodNumber int) (*payroll.ProjectPeriod, error) {
	return tv.parent.getPeriodLocked(projectID, periodNumber), nil
}

func (tv *txMemoryView) RatesInRange(_ context.Context, from, to payroll.Date) ([]payroll.Rate, error) {
	return tv.parent.ratesInRangeLocked(from, to), nil
}

func (tv *txMemoryView) PaymentsBefore(_ context.Context, staffID int64, year int, month time.Month) ([]payroll.Payment, error) {
	return tv.parent.paymentsBeforeLocked(staffID, year, month), nil
}

func (tv *txMemoryView) PaymentsFor(_ context.Context, staffID int64, year int, month time.Month) ([]payroll.Payment, error) {
	return tv.parent.paymentsForLocked(staffID, year, month), nil
}

func (tv *txMemoryView) AppendPayment(_ context.Context, p payroll.Payment) (int64, error) {
	return tv.parent.appendLocked(p), nil
}
