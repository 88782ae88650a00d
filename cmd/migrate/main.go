/*
main.go - PostgreSQL schema migration runner

PURPOSE:
  Applies or rolls back the migrations embedded in store/postgres. The server
  migrates up on start; this tool is for inspecting and rolling back.

USAGE:
  migrate [-config file] up            Apply all pending migrations
  migrate [-config file] down [N]      Roll back N migrations (default: all)
  migrate [-config file] version       Print the current version
  migrate [-config file] force V       Mark version V as clean after a failed run
  migrate [-config file] drop          Drop everything in the database

  Connection settings come from the database section of the config and the
  LOAN_DATABASE_* environment variables.
*/
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"go.uber.org/zap"

	"github.com/warp/loan-engine/config"
	"github.com/warp/loan-engine/store/postgres"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := config.NewLogger(config.LogConfig{Level: cfg.Log.Level, Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Database.Driver != config.DriverPostgres {
		logger.Fatal("migrations only apply to the postgres driver", zap.String("driver", cfg.Database.Driver))
	}

	if err := run(cfg.Database.DSN(), flag.Args(), logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
}

func run(dsn string, args []string, logger *zap.Logger) error {
	if len(args) == 0 {
		return errors.New("missing command: up, down, version, force or drop")
	}

	m, err := postgres.NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	switch args[0] {
	case "up":
		err = m.Up()
	case "down":
		if len(args) > 1 {
			n, convErr := strconv.Atoi(args[1])
			if convErr != nil || n <= 0 {
				return fmt.Errorf("down: %q is not a positive number of steps", args[1])
			}
			err = m.Steps(-n)
		} else {
			err = m.Down()
		}
	case "force":
		if len(args) < 2 {
			return errors.New("force: missing version")
		}
		v, convErr := strconv.Atoi(args[1])
		if convErr != nil {
			return fmt.Errorf("force: %q is not a version", args[1])
		}
		err = m.Force(v)
	case "drop":
		err = m.Drop()
	case "version":
		// reported below
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("no change")
		err = nil
	}
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		logger.Info("no migration applied")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}
