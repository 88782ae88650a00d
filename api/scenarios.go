/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built data sets that populate the store with companies,
  employees and engagements showing specific scheduling behaviour.

AVAILABLE SCENARIOS:
  baseline:       One engagement per employee, the reference calendar
  back-to-back:   One employee booked in consecutive, touching periods
  cross-lending:  Companies lending employees to each other at the same time

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Save companies and employees through the directory
 3. Book every engagement through loan.Service.Create, so the same
    conflict rules apply as for API callers

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "back-to-back"}

NOTE:
  Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "baseline",
		Name:        "Baseline",
		Description: "Two employees, one engagement each, January 2021",
	},
	{
		ID:          "back-to-back",
		Name:        "Back-to-Back",
		Description: "One employee booked in consecutive periods that touch but never overlap",
	},
	{
		ID:          "cross-lending",
		Name:        "Cross-Lending",
		Description: "Acme and Globex lend employees to each other over the same weeks",
	},
}

type engagement struct {
	loanCompany, borrowingCompany, employee string
	start, end                              string
	cost                                    string
	status                                  string
}

type scenarioData struct {
	companies   []loan.Company
	employees   []loan.Employee
	engagements []engagement
}

var defaultCompanies = []loan.Company{
	{ID: "acme", Name: "Acme Corp"},
	{ID: "globex", Name: "Globex"},
	{ID: "initech", Name: "Initech"},
}

var scenarioSets = map[string]scenarioData{
	"baseline": {
		companies: defaultCompanies,
		employees: []loan.Employee{
			{ID: "emp-ada", Name: "Ada Lovelace", Email: "ada@acme.test", CompanyID: "acme"},
			{ID: "emp-alan", Name: "Alan Turing", Email: "alan@globex.test", CompanyID: "globex"},
		},
		engagements: []engagement{
			{"acme", "globex", "emp-ada", "2021-01-10", "2021-01-20", "1500.00", loan.StatusActive},
			{"globex", "initech", "emp-alan", "2021-01-04", "2021-01-30", "4200.00", loan.StatusPending},
		},
	},
	"back-to-back": {
		companies: defaultCompanies,
		employees: []loan.Employee{
			{ID: "emp-ada", Name: "Ada Lovelace", Email: "ada@acme.test", CompanyID: "acme"},
		},
		engagements: []engagement{
			{"acme", "globex", "emp-ada", "2021-01-05", "2021-01-10", "750.00", loan.StatusCompleted},
			{"acme", "globex", "emp-ada", "2021-01-10", "2021-01-20", "1500.00", loan.StatusActive},
			{"acme", "initech", "emp-ada", "2021-01-20", "2021-01-21", "150.00", loan.StatusPending},
		},
	},
	"cross-lending": {
		companies: defaultCompanies[:2],
		employees: []loan.Employee{
			{ID: "emp-ada", Name: "Ada Lovelace", Email: "ada@acme.test", CompanyID: "acme"},
			{ID: "emp-grace", Name: "Grace Hopper", Email: "grace@acme.test", CompanyID: "acme"},
			{ID: "emp-alan", Name: "Alan Turing", Email: "alan@globex.test", CompanyID: "globex"},
		},
		engagements: []engagement{
			{"acme", "globex", "emp-ada", "2021-02-01", "2021-02-15", "2100.00", loan.StatusActive},
			{"acme", "globex", "emp-grace", "2021-02-01", "2021-03-01", "5600.00", loan.StatusActive},
			{"globex", "acme", "emp-alan", "2021-02-08", "2021-02-22", "2800.00", loan.StatusPending},
			{"globex", "acme", "emp-alan", "2021-03-01", "2021-03-15", "2800.00", loan.StatusCancelled},
		},
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	data, ok := scenarioSets[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("no scenario %q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Clear current scenario on reset
	h.currentScenario = ""
	resp, err := h.loadScenario(r.Context(), req.ScenarioID, data)
	if err != nil {
		h.logger.Error("failed to load scenario", zap.String("scenario", req.ScenarioID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// SCENARIO LOADER
// =============================================================================

func (h *Handler) loadScenario(ctx context.Context, id string, data scenarioData) (LoadScenarioResponse, error) {
	if err := h.Directory.Reset(ctx); err != nil {
		return LoadScenarioResponse{}, fmt.Errorf("reset: %w", err)
	}

	now := h.now()
	for _, c := range data.companies {
		c.CreatedAt = now
		if err := h.Directory.SaveCompany(ctx, c); err != nil {
			return LoadScenarioResponse{}, fmt.Errorf("company %s: %w", c.ID, err)
		}
	}
	for _, e := range data.employees {
		e.CreatedAt = now
		if err := h.Directory.SaveEmployee(ctx, e); err != nil {
			return LoadScenarioResponse{}, fmt.Errorf("employee %s: %w", e.ID, err)
		}
	}

	for _, eg := range data.engagements {
		candidate := &loan.Transaction{
			Key: loan.Key{
				LoanCompanyID:      eg.loanCompany,
				BorrowingCompanyID: eg.borrowingCompany,
				EmployeeID:         eg.employee,
				StartDate:          loan.MustParseDate(eg.start),
			},
			EndDate:   loan.MustParseDate(eg.end),
			TotalCost: decimal.RequireFromString(eg.cost),
			Status:    eg.status,
		}
		if _, err := h.Service.Create(ctx, candidate); err != nil {
			return LoadScenarioResponse{}, fmt.Errorf("engagement %s: %w", candidate.Key, err)
		}
	}

	return LoadScenarioResponse{
		Scenario:     id,
		Companies:    len(data.companies),
		Employees:    len(data.employees),
		Transactions: len(data.engagements),
	}, nil
}
