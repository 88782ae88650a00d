// Package wire assembles the loan service from configuration: the store the
// config selects, the event publisher, and the logger. cmd/server and
// cmd/loanctl both start from Open.
package wire

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/warp/loan-engine/config"
	"github.com/warp/loan-engine/events"
	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/store/postgres"
	"github.com/warp/loan-engine/store/sqlite"
)

// Store is what every storage driver provides.
type Store interface {
	loan.TxRepository
	loan.Directory
	Reset(ctx context.Context) error
}

// Runtime is a wired service and the resources it holds.
type Runtime struct {
	Service *loan.Service
	Store   Store

	closers []func() error
}

// Open connects the configured store and publisher and builds the service.
// On error everything opened so far is closed again.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	rt := &Runtime{}

	store, err := rt.openStore(ctx, cfg.Database, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Store = store

	var publisher loan.Publisher = events.Nop{}
	if cfg.Kafka.Enabled() {
		kp, err := events.NewKafkaPublisher(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.ClientID, logger)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		rt.closers = append(rt.closers, kp.Close)
		publisher = kp
		logger.Info("publishing events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	rt.Service = loan.NewService(rt.Store, rt.Store, rt.Store,
		loan.WithLogger(logger),
		loan.WithPublisher(publisher),
	)
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })

		if err := postgres.Migrate(cfg.DSN()); err != nil {
			return nil, err
		}
		logger.Info("using postgres store", zap.String("host", cfg.Host), zap.String("database", cfg.Name))
		return postgres.New(pool), nil

	case config.DriverSQLite, "":
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		db, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, db.Close)
		logger.Info("using sqlite store", zap.String("path", cfg.SQLitePath))
		return db, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
