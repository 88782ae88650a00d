package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/loan-engine/loan"
)

// CompanyCmd returns the company command
func CompanyCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "company",
		Short: "Manage lending and borrowing companies",
	}
	cmd.AddCommand(companyAddCmd(a))
	cmd.AddCommand(companyListCmd(a))
	return cmd
}

func companyAddCmd(a *App) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "add [id]",
		Short: "Create or rename a company",
		Long: `Create a company, or rename it when the id already exists.

Examples:
  loanctl company add acme --name "Acme Corp"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name = strings.TrimSpace(name)
			if name == "" {
				return &loan.InvalidInputError{Field: "name", Reason: "is required"}
			}
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}

			c := loan.Company{ID: args[0], Name: name, CreatedAt: time.Now().UTC()}
			if err := rt.Store.SaveCompany(cmd.Context(), c); err != nil {
				return fmt.Errorf("failed to save company: %w", err)
			}
			success(a.Out, "Saved company %s: %s", c.ID, c.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Company display name")
	cmd.MarkFlagRequired("name")
	return cmd
}

func companyListCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List companies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}
			companies, err := rt.Store.ListCompanies(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list companies: %w", err)
			}
			if len(companies) == 0 {
				faint.Fprintln(a.Out, "No companies.")
				return nil
			}

			w := tabwriter.NewWriter(a.Out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, c := range companies {
				fmt.Fprintf(w, "%s\t%s\n", c.ID, c.Name)
			}
			return w.Flush()
		},
	}
}

// EmployeeCmd returns the employee command
func EmployeeCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "employee",
		Short: "Manage employees that can be lent",
	}
	cmd.AddCommand(employeeAddCmd(a))
	cmd.AddCommand(employeeListCmd(a))
	return cmd
}

func employeeAddCmd(a *App) *cobra.Command {
	var name, email, company string

	cmd := &cobra.Command{
		Use:   "add [id]",
		Short: "Create or update an employee",
		Long: `Create an employee, or update it when the id already exists.

Examples:
  loanctl employee add emp-ada --name "Ada Lovelace" --company acme
  loanctl employee add emp-alan --name "Alan Turing" --email alan@globex.test`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name = strings.TrimSpace(name)
			if name == "" {
				return &loan.InvalidInputError{Field: "name", Reason: "is required"}
			}
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}
			if company != "" {
				if _, err := rt.Store.GetCompany(cmd.Context(), company); err != nil {
					return err
				}
			}

			e := loan.Employee{
				ID:        args[0],
				Name:      name,
				Email:     strings.TrimSpace(email),
				CompanyID: company,
				CreatedAt: time.Now().UTC(),
			}
			if err := rt.Store.SaveEmployee(cmd.Context(), e); err != nil {
				return fmt.Errorf("failed to save employee: %w", err)
			}
			success(a.Out, "Saved employee %s: %s", e.ID, e.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Full name")
	cmd.Flags().StringVarP(&email, "email", "e", "", "Email address")
	cmd.Flags().StringVarP(&company, "company", "c", "", "Employer of record (company id)")
	cmd.MarkFlagRequired("name")
	return cmd
}

func employeeListCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List employees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}
			employees, err := rt.Store.ListEmployees(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list employees: %w", err)
			}
			if len(employees) == 0 {
				faint.Fprintln(a.Out, "No employees.")
				return nil
			}

			w := tabwriter.NewWriter(a.Out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCOMPANY\tEMAIL")
			for _, e := range employees {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.Name, dash(e.CompanyID), dash(e.Email))
			}
			return w.Flush()
		},
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
