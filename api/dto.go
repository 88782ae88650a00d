/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the loan domain model from the external API contract: dates travel as
  YYYY-MM-DD strings, money as decimal strings, and the composite key is
  flattened into four fields.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Company:      CompanyDTO, CreateCompanyRequest
  Employee:     EmployeeDTO, CreateEmployeeRequest
  Transaction:  TransactionDTO, TransactionRequest, ReplaceTransactionRequest,
                UpdateStatusRequest
  Scenarios:    ScenarioDTO, LoadScenarioRequest, LoadScenarioResponse

VALIDATION:
  Parsing (dates, money) happens here. Business validation stays in the
  loan package so the HTTP layer and the CLI reject the same inputs.

SEE ALSO:
  - handlers.go: Uses these types
  - loan/types.go: Domain types
*/
package api

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// COMPANIES & EMPLOYEES
// =============================================================================

// CompanyDTO represents a company in API responses.
type CompanyDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateCompanyRequest is the request to create a company.
// An empty ID is replaced by a generated one.
type CreateCompanyRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	CompanyID string `json:"company_id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateEmployeeRequest is the request to create an employee.
type CreateEmployeeRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CompanyID string `json:"company_id"`
}

func toCompanyDTO(c loan.Company) CompanyDTO {
	return CompanyDTO{ID: c.ID, Name: c.Name, CreatedAt: formatTimestamp(c.CreatedAt)}
}

func toEmployeeDTO(e loan.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:        e.ID,
		Name:      e.Name,
		Email:     e.Email,
		CompanyID: e.CompanyID,
		CreatedAt: formatTimestamp(e.CreatedAt),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDTO represents one engagement in API responses.
type TransactionDTO struct {
	LoanCompanyID      string `json:"loan_company_id"`
	BorrowingCompanyID string `json:"borrowing_company_id"`
	EmployeeID         string `json:"employee_id"`
	StartDate          string `json:"start_date"`
	EndDate            string `json:"end_date"`
	TotalCost          string `json:"total_cost"`
	Status             string `json:"status"`

	// Display fields
	LoanCompanyName      string `json:"loan_company_name,omitempty"`
	BorrowingCompanyName string `json:"borrowing_company_name,omitempty"`
	EmployeeName         string `json:"employee_name,omitempty"`
	Days                 int    `json:"days"`

	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// TransactionRequest is the body of POST /api/transactions.
// total_cost accepts a JSON string or number.
type TransactionRequest struct {
	LoanCompanyID      string          `json:"loan_company_id"`
	BorrowingCompanyID string          `json:"borrowing_company_id"`
	EmployeeID         string          `json:"employee_id"`
	StartDate          string          `json:"start_date"`
	EndDate            string          `json:"end_date"`
	TotalCost          decimal.Decimal `json:"total_cost"`
	Status             string          `json:"status"`
}

// ReplaceTransactionRequest is the body of PUT /api/transactions. The
// original_* fields locate the engagement being superseded; an empty
// original_employee_id means the candidate's employee.
type ReplaceTransactionRequest struct {
	TransactionRequest
	OriginalEmployeeID string `json:"original_employee_id"`
	OriginalStartDate  string `json:"original_start_date"`
}

// UpdateStatusRequest is the body of PATCH .../status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

func toTransactionDTO(tx loan.Transaction) TransactionDTO {
	dto := TransactionDTO{
		LoanCompanyID:      tx.Key.LoanCompanyID,
		BorrowingCompanyID: tx.Key.BorrowingCompanyID,
		EmployeeID:         tx.Key.EmployeeID,
		StartDate:          tx.Key.StartDate.String(),
		EndDate:            tx.EndDate.String(),
		TotalCost:          tx.TotalCost.StringFixed(2),
		Status:             tx.Status,
		Days:               tx.Days(),
		CreatedAt:          formatTimestamp(tx.CreatedAt),
		UpdatedAt:          formatTimestamp(tx.UpdatedAt),
	}
	if tx.LoanCompany != nil {
		dto.LoanCompanyName = tx.LoanCompany.Name
	}
	if tx.BorrowingCompany != nil {
		dto.BorrowingCompanyName = tx.BorrowingCompany.Name
	}
	if tx.Employee != nil {
		dto.EmployeeName = tx.Employee.Name
	}
	return dto
}

func toTransactionDTOs(txs []loan.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

// toTransaction converts the request into a candidate. Missing dates are left
// zero so the engine reports them as required; malformed ones fail here.
func (req TransactionRequest) toTransaction() (*loan.Transaction, error) {
	start, err := optionalDate("start_date", req.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := optionalDate("end_date", req.EndDate)
	if err != nil {
		return nil, err
	}

	status := strings.TrimSpace(req.Status)
	if status == "" {
		status = loan.StatusPending
	}

	return &loan.Transaction{
		Key: loan.Key{
			LoanCompanyID:      req.LoanCompanyID,
			BorrowingCompanyID: req.BorrowingCompanyID,
			EmployeeID:         req.EmployeeID,
			StartDate:          start,
		},
		EndDate:   end,
		TotalCost: req.TotalCost,
		Status:    status,
	}, nil
}

func (req ReplaceTransactionRequest) toReplaceInput() (loan.ReplaceInput, error) {
	candidate, err := req.TransactionRequest.toTransaction()
	if err != nil {
		return loan.ReplaceInput{}, err
	}
	originalStart, err := optionalDate("original_start_date", req.OriginalStartDate)
	if err != nil {
		return loan.ReplaceInput{}, err
	}
	if originalStart.IsZero() {
		return loan.ReplaceInput{}, &loan.InvalidInputError{Field: "original_start_date", Reason: "is required"}
	}
	return loan.ReplaceInput{
		Original:  loan.OriginalRef{EmployeeID: req.OriginalEmployeeID, StartDate: originalStart},
		Candidate: candidate,
	}, nil
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse summarizes what a scenario loaded.
type LoadScenarioResponse struct {
	Scenario     string `json:"scenario"`
	Companies    int    `json:"companies"`
	Employees    int    `json:"employees"`
	Transactions int    `json:"transactions"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// =============================================================================
// HELPERS
// =============================================================================

func optionalDate(field, s string) (loan.Date, error) {
	if strings.TrimSpace(s) == "" {
		return loan.Date{}, nil
	}
	d, err := loan.ParseDate(s)
	if err != nil {
		return loan.Date{}, &loan.InvalidInputError{Field: field, Reason: "must be a YYYY-MM-DD date"}
	}
	return d, nil
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
