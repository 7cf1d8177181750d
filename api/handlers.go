/*
handlers.go - HTTP API handlers for the salary truing engine

PURPOSE:
  Exposes staff, projects, timesheets, exchange rates and payment
  calculation via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the payroll engine.

ENDPOINTS:
  Staff:
    GET    /api/staff                  List staff
    POST   /api/staff                  Create staff member
    GET    /api/staff/{id}             Get staff member
    PUT    /api/staff/{id}             Replace name, email, FTE history
    DELETE /api/staff/{id}             Delete with entries and payments
    GET    /api/staff/{id}/payments    Payment history in period order

  Projects:
    GET    /api/projects               List projects with periods
    POST   /api/projects               Create project with periods
    GET    /api/projects/{id}          Get project
    PUT    /api/projects/{id}          Replace project and periods
    DELETE /api/projects/{id}          Delete project

  Timesheets:
    GET    /api/entries                Filter by staffId, year, month
    POST   /api/entries                Upsert the entry for a staff-month

  Rates:
    GET    /api/rates                  startDate/endDate range, or latest 100
    POST   /api/rates                  Upsert one rate or {"rates": [...]}

  Payments:
    GET    /api/payments               Newest first, ?limit= (default 10)
    POST   /api/calculate              Calculate and record a payment
    POST   /api/calculate/preview      Calculate without recording

  Misc:
    GET    /api/eligible-days          Eligible days for ?month=
    POST   /api/seed                   Reset and load the demo dataset

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicate project code, payment already recorded)
  - 500: Internal errors

  The calculate endpoints answer {"success": false, "error": "..."} with
  the engine's message unchanged.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/salary-engine/payroll"
	"github.com/warp/salary-engine/seed"
	"github.com/warp/salary-engine/store/sqlite"
)

const (
	defaultPaymentsLimit = 10
	defaultRatesLimit    = 100
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Engine *payroll.Engine
	Logger *log.Logger
}

// NewHandler creates a handler over store. The engine uses the default
// grant conventions until replaced.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{
		Store:  store,
		Engine: payroll.NewEngine(store),
		Logger: log.Default(),
	}
}

// =============================================================================
// STAFF HANDLERS
// =============================================================================

// ListStaff returns all staff.
func (h *Handler) ListStaff(w http.ResponseWriter, r *http.Request) {
	staff, err := h.Store.ListStaff(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list staff", err)
		return
	}
	writeJSON(w, http.StatusOK, staff)
}

// GetStaff returns a single staff member.
func (h *Handler) GetStaff(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	st, err := h.Store.GetStaff(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get staff", err)
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "Staff not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// CreateStaff creates a staff member. A missing FTE history defaults to
// full time from 2020-01-01.
func (h *Handler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	var req StaffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validateStaff(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	st, err := h.Store.CreateStaff(r.Context(), payroll.Staff{
		Name:       strings.TrimSpace(req.Name),
		Email:      req.Email,
		FTEHistory: req.FTEHistory,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create staff", err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// UpdateStaff replaces a staff member's fields.
func (h *Handler) UpdateStaff(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req StaffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validateStaff(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	st, err := h.Store.UpdateStaff(r.Context(), payroll.Staff{
		ID:         id,
		Name:       strings.TrimSpace(req.Name),
		Email:      req.Email,
		FTEHistory: req.FTEHistory,
	})
	if err != nil {
		writeStoreError(w, "Failed to update staff", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// DeleteStaff removes a staff member with their entries and payments.
func (h *Handler) DeleteStaff(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.Store.DeleteStaff(r.Context(), id); err != nil {
		writeStoreError(w, "Failed to delete staff", err)
		return
	}
	writeJSON(w, http.StatusOK, DeletedResponse{Success: true, DeletedID: id})
}

// StaffPayments returns one staff member's payment history.
// GET /api/staff/{id}/payments
func (h *Handler) StaffPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	st, err := h.Store.GetStaff(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get staff", err)
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "Staff not found", nil)
		return
	}

	payments, err := h.Store.PaymentsByStaff(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func validateStaff(req StaffRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.New("name is required")
	}
	return payroll.ValidateFTEHistory(req.FTEHistory)
}

// =============================================================================
// PROJECT HANDLERS
// =============================================================================

// ListProjects returns all projects with their periods.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Store.ListProjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list projects", err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// GetProject returns a single project.
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	p, err := h.Store.GetProject(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get project", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Project not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CreateProject creates a project and its periods.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req ProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validateProject(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	p, err := h.Store.CreateProject(r.Context(), req.toProject(0))
	if err != nil {
		writeStoreError(w, "Failed to create project", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// UpdateProject replaces a project and its full period list.
func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req ProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validateProject(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	p, err := h.Store.UpdateProject(r.Context(), req.toProject(id))
	if err != nil {
		if payroll.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Project not found", nil)
			return
		}
		writeStoreError(w, "Failed to update project", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeleteProject removes a project and its periods.
func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.Store.DeleteProject(r.Context(), id); err != nil {
		if payroll.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Project not found", nil)
			return
		}
		writeStoreError(w, "Failed to delete project", err)
		return
	}
	writeJSON(w, http.StatusOK, DeletedResponse{Success: true, DeletedID: id})
}

func validateProject(req ProjectRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(req.Code) == "" {
		return errors.New("code is required")
	}
	if req.StartDate.IsZero() {
		return errors.New("start_date is required")
	}

	seen := make(map[int]bool, len(req.Periods))
	for i, p := range req.Periods {
		if p.PeriodNumber <= 0 {
			return fmt.Errorf("periods[%d]: period_number must be positive", i)
		}
		if seen[p.PeriodNumber] {
			return fmt.Errorf("periods[%d]: duplicate period_number %d", i, p.PeriodNumber)
		}
		seen[p.PeriodNumber] = true
		if p.StartDate.IsZero() || p.EndDate.IsZero() {
			return fmt.Errorf("periods[%d]: start_date and end_date are required", i)
		}
		if p.EndDate.Before(p.StartDate) {
			return fmt.Errorf("periods[%d]: end_date before start_date", i)
		}
	}
	return nil
}

// =============================================================================
// TIMESHEET HANDLERS
// =============================================================================

// ListEntries returns timesheets, optionally filtered.
// GET /api/entries?staffId=1&year=2025&month=12
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		f   sqlite.EntryFilter
		err error
	)
	if v := q.Get("staffId"); v != "" {
		if f.StaffID, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid staffId", err)
			return
		}
	}
	if v := q.Get("year"); v != "" {
		if f.Year, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
	}
	if v := q.Get("month"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			writeError(w, http.StatusBadRequest, "Invalid month", err)
			return
		}
		f.Month = time.Month(m)
	}

	entries, err := h.Store.ListEntries(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// SaveEntry upserts the timesheet for a staff-month. Over-allocation is
// saved but reported in a warning.
// POST /api/entries
func (h *Handler) SaveEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validateEntry(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	entry, created, err := h.Store.UpsertEntry(r.Context(), req.toEntry())
	if err != nil {
		writeStoreError(w, "Failed to save entry", err)
		return
	}

	resp := EntryResponse{MonthlyEntry: *entry, Created: created, Updated: !created}
	eligible := h.Engine.Calculator.EligibleDays.DaysIn(entry.Month)
	if total := entry.TotalDays(); total.GreaterThan(decimal.NewFromInt(int64(eligible))) {
		resp.Warning = fmt.Sprintf("Total days %s exceed %d eligible days for %s",
			total.String(), eligible, entry.Month)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func validateEntry(req EntryRequest) error {
	if req.StaffID <= 0 {
		return errors.New("staff_id is required")
	}
	if req.Year < 1900 || req.Year > 9999 {
		return errors.New("year out of range")
	}
	if req.Month < 1 || req.Month > 12 {
		return errors.New("month must be between 1 and 12")
	}
	if req.NonEUDays.IsNegative() {
		return errors.New("non_eu_days must not be negative")
	}
	for i, a := range req.ProjectAllocations {
		if a.ProjectID <= 0 || a.PeriodNumber <= 0 {
			return fmt.Errorf("project_allocations[%d]: project_id and period_number are required", i)
		}
		if a.Days.IsNegative() {
			return fmt.Errorf("project_allocations[%d]: days must not be negative", i)
		}
	}
	return nil
}

// =============================================================================
// RATE HANDLERS
// =============================================================================

// ListRates returns rates in [startDate, endDate] ascending, or the latest
// 100 newest first when no range is given.
func (h *Handler) ListRates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end := q.Get("startDate"), q.Get("endDate")

	if start == "" || end == "" {
		rates, err := h.Store.LatestRates(r.Context(), defaultRatesLimit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list rates", err)
			return
		}
		writeJSON(w, http.StatusOK, rates)
		return
	}

	from, err := payroll.ParseDate(start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid startDate format (use YYYY-MM-DD)", err)
		return
	}
	to, err := payroll.ParseDate(end)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid endDate format (use YYYY-MM-DD)", err)
		return
	}

	rates, err := h.Store.RatesInRange(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rates", err)
		return
	}
	writeJSON(w, http.StatusOK, rates)
}

// UpsertRates stores posted rates. The body is either {"rates": [...]}
// or a single {"date", "eur_sek"} object.
func (h *Handler) UpsertRates(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var bulk RatesRequest
	if err := json.Unmarshal(raw, &bulk); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	inputs := bulk.Rates
	if inputs == nil {
		var single RateInput
		if err := json.Unmarshal(raw, &single); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		inputs = []RateInput{single}
	}

	rates := make([]payroll.Rate, 0, len(inputs))
	for i, in := range inputs {
		if in.Date.IsZero() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("rates[%d]: date is required", i), nil)
			return
		}
		if !in.EURSEK.IsPositive() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("rates[%d]: eur_sek must be positive", i), nil)
			return
		}
		rates = append(rates, payroll.Rate{Date: in.Date, EURToLocal: in.EURSEK})
	}

	inserted, updated, err := h.Store.UpsertRates(r.Context(), rates)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rates", err)
		return
	}
	writeJSON(w, http.StatusOK, RatesResponse{Inserted: nonNilDates(inserted), Updated: nonNilDates(updated)})
}

func nonNilDates(d []payroll.Date) []payroll.Date {
	if d == nil {
		return []payroll.Date{}
	}
	return d
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListPayments returns recent payments, newest first.
// GET /api/payments?limit=10
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	limit := defaultPaymentsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	payments, err := h.Store.ListPayments(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

// Calculate computes and records the payment for a staff-month.
// POST /api/calculate
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	h.calculate(w, r, false)
}

// PreviewCalculation computes a payment without recording it.
// POST /api/calculate/preview
func (h *Handler) PreviewCalculation(w http.ResponseWriter, r *http.Request) {
	h.calculate(w, r, true)
}

func (h *Handler) calculate(w http.ResponseWriter, r *http.Request, preview bool) {
	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, CalculationFailure{Error: "Invalid request body"})
		return
	}

	in := payroll.CalculationInput{StaffID: req.StaffID, Year: req.Year, Month: time.Month(req.Month)}

	var (
		res *payroll.CalculationResult
		err error
	)
	if preview {
		res, err = h.Engine.Preview(r.Context(), in)
	} else {
		res, err = h.Engine.Calculate(r.Context(), in)
	}
	if err != nil {
		status := http.StatusBadRequest
		if !payroll.IsClientError(err) {
			h.Logger.Printf("[Payroll] calculation failed for staff %d, %d-%d: %v", in.StaffID, in.Year, req.Month, err)
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, CalculationFailure{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, toCalculationResponse(res, preview))
}

// =============================================================================
// MISC HANDLERS
// =============================================================================

// EligibleDays reports the eligible working days for a month.
// GET /api/eligible-days?month=2
func (h *Handler) EligibleDays(w http.ResponseWriter, r *http.Request) {
	m, err := strconv.Atoi(r.URL.Query().Get("month"))
	if err != nil || m < 1 || m > 12 {
		writeError(w, http.StatusBadRequest, "month must be between 1 and 12", err)
		return
	}
	writeJSON(w, http.StatusOK, EligibleDaysResponse{
		Month:        m,
		EligibleDays: h.Engine.Calculator.EligibleDays.DaysIn(time.Month(m)),
	})
}

// Seed resets the database and loads the demo dataset.
// POST /api/seed
func (h *Handler) Seed(w http.ResponseWriter, r *http.Request) {
	res, err := seed.Load(r.Context(), h.Store, h.Logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed database", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeStoreError maps store and engine errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, message string, err error) {
	switch {
	case payroll.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, payroll.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, sqlite.ErrConflict), errors.Is(err, payroll.ErrDuplicatePayment):
		writeError(w, http.StatusConflict, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id", err)
		return 0, false
	}
	return id, true
}
