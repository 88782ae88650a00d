package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/loan-engine/loan"
)

// LoanCmd returns the loan command
func LoanCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "loan",
		Aliases: []string{"loans", "tx"},
		Short:   "Book, move and inspect employee loans",
	}

	cmd.AddCommand(loanCreateCmd(a))
	cmd.AddCommand(loanReplaceCmd(a))
	cmd.AddCommand(loanStatusCmd(a))
	cmd.AddCommand(loanDeleteCmd(a))
	cmd.AddCommand(loanShowCmd(a))
	cmd.AddCommand(loanListCmd(a))

	return cmd
}

// loanFlags are the candidate fields shared by create and replace.
type loanFlags struct {
	loanCompany, borrowingCompany, employee string
	start, end                              string
	cost                                    string
	status                                  string
}

func (f *loanFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.loanCompany, "loan-company", "", "Lending company id")
	cmd.Flags().StringVar(&f.borrowingCompany, "borrowing-company", "", "Borrowing company id")
	cmd.Flags().StringVar(&f.employee, "employee", "", "Employee id")
	cmd.Flags().StringVar(&f.start, "start", "", "First day, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.end, "end", "", "Day after the last day, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.cost, "cost", "0", "Total cost, decimal")
	cmd.Flags().StringVar(&f.status, "status", loan.StatusPending, "Status label")
	for _, name := range []string{"loan-company", "borrowing-company", "employee", "start", "end"} {
		cmd.MarkFlagRequired(name)
	}
}

func (f *loanFlags) candidate() (*loan.Transaction, error) {
	start, err := parseDateFlag("start", f.start)
	if err != nil {
		return nil, err
	}
	end, err := parseDateFlag("end", f.end)
	if err != nil {
		return nil, err
	}
	cost, err := decimal.NewFromString(f.cost)
	if err != nil {
		return nil, &loan.InvalidInputError{Field: "cost", Reason: fmt.Sprintf("%q is not a decimal", f.cost)}
	}
	return &loan.Transaction{
		Key: loan.Key{
			LoanCompanyID:      f.loanCompany,
			BorrowingCompanyID: f.borrowingCompany,
			EmployeeID:         f.employee,
			StartDate:          start,
		},
		EndDate:   end,
		TotalCost: cost,
		Status:    f.status,
	}, nil
}

func loanCreateCmd(a *App) *cobra.Command {
	var f loanFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Book a new engagement",
		Long: `Book an employee from a lending company to a borrowing company.

The period is [start, end): --end is the first day the employee is free again.

Examples:
  loanctl loan create --loan-company acme --borrowing-company globex \
      --employee emp-ada --start 2021-01-10 --end 2021-01-20 --cost 1500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			candidate, err := f.candidate()
			if err != nil {
				return err
			}
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}

			tx, err := rt.Service.Create(cmd.Context(), candidate)
			if err != nil {
				return err
			}
			success(a.Out, "Booked %s", tx.Key)
			printTransaction(a.Out, *tx)
			return nil
		},
	}

	f.register(cmd)
	return cmd
}

func loanReplaceCmd(a *App) *cobra.Command {
	var (
		f                                 loanFlags
		originalEmployee, originalStart string
	)

	cmd := &cobra.Command{
		Use:   "replace",
		Short: "Supersede an engagement, possibly under a new identity",
		Long: `Replace the engagement of --original-employee starting on --original-start
with the candidate. Companies, employee and start date may all change; the
candidate may overlap the engagement it replaces but nothing else.

Examples:
  loanctl loan replace --original-start 2021-01-10 \
      --loan-company acme --borrowing-company globex \
      --employee emp-ada --start 2021-01-12 --end 2021-01-22 --cost 1500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			candidate, err := f.candidate()
			if err != nil {
				return err
			}
			origStart, err := parseDateFlag("original-start", originalStart)
			if err != nil {
				return err
			}
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}

			tx, err := rt.Service.Replace(cmd.Context(), loan.ReplaceInput{
				Original:  loan.OriginalRef{EmployeeID: originalEmployee, StartDate: origStart},
				Candidate: candidate,
			})
			if err != nil {
				return err
			}
			success(a.Out, "Replaced engagement starting %s with %s", origStart, tx.Key)
			printTransaction(a.Out, *tx)
			return nil
		},
	}

	f.register(cmd)
	cmd.Flags().StringVar(&originalEmployee, "original-employee", "", "Employee of the replaced engagement (default: --employee)")
	cmd.Flags().StringVar(&originalStart, "original-start", "", "Start date of the replaced engagement")
	cmd.MarkFlagRequired("original-start")
	return cmd
}

func loanStatusCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status [employee] [start] [status]",
		Short: "Change the status of an engagement",
		Long: `Change only the status label. Dates and parties stay as they are.

Examples:
  loanctl loan status emp-ada 2021-01-10 Completed`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDateFlag("start", args[1])
			if err != nil {
				return err
			}
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}

			tx, err := rt.Service.UpdateStatus(cmd.Context(), args[0], start, args[2])
			if err != nil {
				return err
			}
			success(a.Out, "%s is now %s", tx.Key, tx.Status)
			return nil
		},
	}
}

func loanDeleteCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [employee] [start]",
		Short: "Delete an engagement",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDateFlag("start", args[1])
			if err != nil {
				return err
			}
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}

			if err := rt.Service.Delete(cmd.Context(), args[0], start); err != nil {
				return err
			}
			success(a.Out, "Deleted engagement of %s starting %s", args[0], start)
			return nil
		},
	}
}

func loanShowCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show [employee] [start]",
		Short: "Show one engagement",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDateFlag("start", args[1])
			if err != nil {
				return err
			}
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}

			tx, err := rt.Service.GetByEmployeeAndStartDate(cmd.Context(), args[0], start)
			if err != nil {
				return err
			}
			printTransaction(a.Out, *tx)
			return nil
		},
	}
}

func loanListCmd(a *App) *cobra.Command {
	var loanCompany, borrowingCompany, employee string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List engagements",
		Long: `List engagements, optionally filtered by one party.

Examples:
  loanctl loan list
  loanctl loan list --loan-company acme
  loanctl loan list --employee emp-ada`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}

			var txs []loan.Transaction
			switch {
			case loanCompany != "":
				txs, err = rt.Service.ListByLoanCompany(cmd.Context(), loanCompany)
			case borrowingCompany != "":
				txs, err = rt.Service.ListByBorrowingCompany(cmd.Context(), borrowingCompany)
			case employee != "":
				txs, err = rt.Service.ListByEmployee(cmd.Context(), employee)
			default:
				txs, err = rt.Service.ListAll(cmd.Context())
			}
			if err != nil {
				return err
			}
			if len(txs) == 0 {
				faint.Fprintln(a.Out, "No engagements.")
				return nil
			}

			w := tabwriter.NewWriter(a.Out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "EMPLOYEE\tFROM\tTO\tPERIOD\tDAYS\tCOST\tSTATUS")
			for _, tx := range txs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					displayEmployee(tx), tx.Key.LoanCompanyID, tx.Key.BorrowingCompanyID,
					tx.Period(), tx.Days(), tx.TotalCost.StringFixed(2), tx.Status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&loanCompany, "loan-company", "", "Only engagements lent out by this company")
	cmd.Flags().StringVar(&borrowingCompany, "borrowing-company", "", "Only engagements borrowed by this company")
	cmd.Flags().StringVar(&employee, "employee", "", "Only engagements of this employee")
	cmd.MarkFlagsMutuallyExclusive("loan-company", "borrowing-company", "employee")
	return cmd
}

// =============================================================================
// HELPERS
// =============================================================================

func parseDateFlag(name, value string) (loan.Date, error) {
	d, err := loan.ParseDate(value)
	if err != nil {
		return loan.Date{}, &loan.InvalidInputError{Field: name, Reason: "must be a YYYY-MM-DD date"}
	}
	return d, nil
}

func displayEmployee(tx loan.Transaction) string {
	if tx.Employee != nil && tx.Employee.Name != "" {
		return tx.Employee.Name + " (" + tx.Key.EmployeeID + ")"
	}
	return tx.Key.EmployeeID
}

func printTransaction(w io.Writer, tx loan.Transaction) {
	name := func(c *loan.Company, id string) string {
		if c != nil && c.Name != "" {
			return c.Name + " (" + id + ")"
		}
		return id
	}
	fmt.Fprintf(w, "  Employee:  %s\n", displayEmployee(tx))
	fmt.Fprintf(w, "  From:      %s\n", name(tx.LoanCompany, tx.Key.LoanCompanyID))
	fmt.Fprintf(w, "  To:        %s\n", name(tx.BorrowingCompany, tx.Key.BorrowingCompanyID))
	fmt.Fprintf(w, "  Period:    %s (%d days)\n", tx.Period(), tx.Days())
	fmt.Fprintf(w, "  Cost:      %s\n", tx.TotalCost.StringFixed(2))
	fmt.Fprintf(w, "  Status:    %s\n", tx.Status)
}
