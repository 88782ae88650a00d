/*
Package cli implements loanctl, the operator tool for the loan engine.

PURPOSE:
  Runs the same loan.Service the HTTP server runs, directly against the
  configured store. Useful for seeding, inspection and repairs without
  going through the API.

COMMANDS:
  loanctl company add|list
  loanctl employee add|list
  loanctl loan create|replace|status|delete|show|list
  loanctl token

STORE SELECTION:
  --db PATH      SQLite file (overrides the config)
  --config FILE  YAML config (see config package); LOAN_* env vars apply

SEE ALSO:
  - wire/wire.go: Store and service assembly
  - cmd/loanctl/main.go: Entry point
*/
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/loan-engine/config"
	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/wire"
)

// App carries global flags and the lazily opened runtime.
type App struct {
	ConfigPath string
	DBPath     string
	Verbose    bool

	Out io.Writer
	Err io.Writer

	// Open builds the runtime. Tests replace it.
	Open func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*wire.Runtime, error)

	cfg *config.Config
	rt  *wire.Runtime
}

// NewApp returns an App writing to stdout/stderr and opening the configured store.
func NewApp() *App {
	return &App{Out: os.Stdout, Err: os.Stderr, Open: wire.Open}
}

// NewRootCmd builds the loanctl command tree.
func NewRootCmd(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "loanctl",
		Short: "Operate the inter-company employee loan engine",
		Long: `loanctl books, moves and inspects employee loans between companies.

An employee can never be lent for two overlapping periods. Periods are
half-open: an engagement ending on 2021-01-20 and one starting on
2021-01-20 do not overlap.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.Close()
		},
	}
	root.SetOut(a.Out)
	root.SetErr(a.Err)

	root.PersistentFlags().StringVar(&a.ConfigPath, "config", "", "YAML config file (default: $LOAN_CONFIG)")
	root.PersistentFlags().StringVar(&a.DBPath, "db", "", "SQLite database path, overrides the configured store")
	root.PersistentFlags().BoolVarP(&a.Verbose, "verbose", "v", false, "Log service activity to stderr")

	root.AddCommand(CompanyCmd(a))
	root.AddCommand(EmployeeCmd(a))
	root.AddCommand(LoanCmd(a))
	root.AddCommand(TokenCmd(a))

	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute(a *App, args []string) int {
	root := NewRootCmd(a)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		a.Close()
		printError(a.Err, err)
		return 1
	}
	return 0
}

// config loads the configuration once, applying --db.
func (a *App) config() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.Load(a.ConfigPath)
	if err != nil {
		return nil, err
	}
	if a.DBPath != "" {
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.SQLitePath = a.DBPath
	}
	a.cfg = cfg
	return cfg, nil
}

// runtime opens the store on first use.
func (a *App) runtime(ctx context.Context) (*wire.Runtime, error) {
	if a.rt != nil {
		return a.rt, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Log
	logCfg.Format = "console"
	if !a.Verbose {
		logCfg.Level = "warn"
	}
	logger, err := config.NewLogger(logCfg)
	if err != nil {
		return nil, err
	}

	rt, err := a.Open(ctx, cfg, logger.Named("loanctl"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.rt = rt
	return rt, nil
}

// Close releases the runtime if one was opened.
func (a *App) Close() error {
	if a.rt == nil {
		return nil
	}
	err := a.rt.Close()
	a.rt = nil
	return err
}

// =============================================================================
// OUTPUT
// =============================================================================

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	faint  = color.New(color.Faint)
)

func printError(w io.Writer, err error) {
	var conflict *loan.ScheduleConflictError
	var exists *loan.AlreadyExistsError
	switch {
	case errors.As(err, &conflict):
		red.Fprintf(w, "✗ CONFLICT: employee %s is already committed %s\n",
			conflict.Existing.EmployeeID, conflict.ExistingPeriod)
		fmt.Fprintf(w, "  colliding transaction: %s\n", conflict.Existing)
		fmt.Fprintf(w, "  requested:             %s %s\n", conflict.Candidate, conflict.CandidatePeriod)
	case errors.As(err, &exists):
		red.Fprintf(w, "✗ CONFLICT: the store rejected %s\n", exists.Key)
	case loan.IsNotFound(err):
		yellow.Fprintf(w, "✗ %s\n", err)
	default:
		red.Fprintf(w, "✗ %s\n", err)
	}
}

func success(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", green.Sprint("✓"), fmt.Sprintf(format, args...))
}
