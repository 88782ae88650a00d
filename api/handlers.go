/*
handlers.go - HTTP API handlers for the loan engine

PURPOSE:
  Exposes the loan lifecycle service and the company/employee directory via
  REST. Handles HTTP request/response and JSON serialization, and delegates
  every decision to loan.Service.

ENDPOINTS:
  Companies:
    GET    /api/companies                        List companies
    POST   /api/companies                        Create company
    GET    /api/companies/{id}                   Get company
    GET    /api/companies/{id}/loans             Engagements lent out by the company
    GET    /api/companies/{id}/borrowings        Engagements borrowed by the company

  Employees:
    GET    /api/employees                        List employees
    POST   /api/employees                        Create employee
    GET    /api/employees/{id}                   Get employee
    GET    /api/employees/{id}/transactions      Engagements of the employee
    GET    /api/employees/{id}/transactions/{startDate}          One engagement
    PATCH  /api/employees/{id}/transactions/{startDate}/status   Update status
    DELETE /api/employees/{id}/transactions/{startDate}          Delete

  Transactions:
    GET    /api/transactions                     List all engagements
    POST   /api/transactions                     Create
    PUT    /api/transactions                     Replace (identity may change)

  Scenarios:
    GET    /api/scenarios                        List demo scenarios
    POST   /api/scenarios/load                   Load a demo scenario

REQUEST FLOW:
  1. Parse HTTP request
  2. Convert DTO to domain input
  3. Call loan.Service
  4. Serialize response
  5. Map errors (errors.go)

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error to status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Directory is the company/employee catalogue plus the reset used by scenarios.
type Directory interface {
	loan.Directory
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service   *loan.Service
	Directory Directory

	logger *zap.Logger
	newID  func() string
	now    func() time.Time

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over the service and its directory.
func NewHandler(svc *loan.Service, dir Directory, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service:   svc,
		Directory: dir,
		logger:    logger.Named("api"),
		newID:     uuid.NewString,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Health reports liveness, and storage reachability when the directory can ping.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Directory.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Storage unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// COMPANY HANDLERS
// =============================================================================

func (h *Handler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := h.Directory.ListCompanies(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]CompanyDTO, len(companies))
	for i, c := range companies {
		dtos[i] = toCompanyDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetCompany(w http.ResponseWriter, r *http.Request) {
	company, err := h.Directory.GetCompany(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCompanyDTO(*company))
}

func (h *Handler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	var req CreateCompanyRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		h.fail(w, r, &loan.InvalidInputError{Field: "name", Reason: "is required"})
		return
	}

	company := loan.Company{
		ID:        strings.TrimSpace(req.ID),
		Name:      name,
		CreatedAt: h.now(),
	}
	if company.ID == "" {
		company.ID = h.newID()
	}
	if err := h.Directory.SaveCompany(r.Context(), company); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCompanyDTO(company))
}

// ListLoans returns the engagements the company lends out.
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	h.listForCompany(w, r, h.Service.ListByLoanCompany)
}

// ListBorrowings returns the engagements the company receives.
func (h *Handler) ListBorrowings(w http.ResponseWriter, r *http.Request) {
	h.listForCompany(w, r, h.Service.ListByBorrowingCompany)
}

func (h *Handler) listForCompany(w http.ResponseWriter, r *http.Request, list func(context.Context, string) ([]loan.Transaction, error)) {
	id := chi.URLParam(r, "id")
	if _, err := h.Directory.GetCompany(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	txs, err := list(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Directory.ListEmployees(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	employee, err := h.Directory.GetEmployee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*employee))
}

func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		h.fail(w, r, &loan.InvalidInputError{Field: "name", Reason: "is required"})
		return
	}

	employee := loan.Employee{
		ID:        strings.TrimSpace(req.ID),
		Name:      name,
		Email:     strings.TrimSpace(req.Email),
		CompanyID: strings.TrimSpace(req.CompanyID),
		CreatedAt: h.now(),
	}
	if employee.ID == "" {
		employee.ID = h.newID()
	}
	if employee.CompanyID != "" {
		if _, err := h.Directory.GetCompany(r.Context(), employee.CompanyID); err != nil {
			if loan.IsNotFound(err) {
				err = &loan.InvalidInputError{Field: "company_id", Reason: "references an unknown company"}
			}
			h.fail(w, r, err)
			return
		}
	}
	if err := h.Directory.SaveEmployee(r.Context(), employee); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(employee))
}

// ListEmployeeTransactions returns every engagement of the employee.
func (h *Handler) ListEmployeeTransactions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Directory.GetEmployee(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	txs, err := h.Service.ListByEmployee(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetEmployeeTransaction returns the engagement starting on {startDate}.
func (h *Handler) GetEmployeeTransaction(w http.ResponseWriter, r *http.Request) {
	id, start, err := locator(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tx, err := h.Service.GetByEmployeeAndStartDate(r.Context(), id, start)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// UpdateStatus rewrites only the status of the engagement.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, start, err := locator(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req UpdateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	tx, err := h.Service.UpdateStatus(r.Context(), id, start, req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// DeleteTransaction removes the engagement starting on {startDate}.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, start, err := locator(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Service.Delete(r.Context(), id, start); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Service.ListAll(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// CreateTransaction books a new engagement.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	candidate, err := req.toTransaction()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	tx, err := h.Service.Create(r.Context(), candidate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

// ReplaceTransaction supersedes the engagement located by original_* fields.
func (h *Handler) ReplaceTransaction(w http.ResponseWriter, r *http.Request) {
	var req ReplaceTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	in, err := req.toReplaceInput()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	tx, err := h.Service.Replace(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return &loan.InvalidInputError{Field: "body", Reason: "is not valid JSON"}
		}
		return &loan.InvalidInputError{Field: "body", Reason: err.Error()}
	}
	return nil
}

// locator reads {id} and {startDate} from the path.
func locator(r *http.Request) (string, loan.Date, error) {
	start, err := loan.ParseDate(chi.URLParam(r, "startDate"))
	if err != nil {
		return "", loan.Date{}, &loan.InvalidInputError{Field: "start_date", Reason: "must be a YYYY-MM-DD date"}
	}
	return chi.URLParam(r, "id"), start, nil
}
