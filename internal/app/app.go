// Package app wires configuration, storage and the data service into the snapshot
// services shared by the worker and the API server.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hedge-snapshots/internal/adapter"
	"github.com/hedge-snapshots/internal/api"
	"github.com/hedge-snapshots/internal/circuitbreaker"
	"github.com/hedge-snapshots/internal/config"
	"github.com/hedge-snapshots/internal/cost"
	"github.com/hedge-snapshots/internal/logging"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/provider"
	"github.com/hedge-snapshots/internal/retry"
	"github.com/hedge-snapshots/internal/service"
	"github.com/hedge-snapshots/internal/storage"
	"github.com/hedge-snapshots/internal/types"
)

// Options selects the optional parts of the wiring
type Options struct {
	// DryRun keeps snapshots in memory: no run lock, no export, nothing written to Postgres
	DryRun bool
}

// App holds the wired services and the connections they use
type App struct {
	Creator   *service.SnapshotCreatorService
	History   *service.HistoryService
	Directory *storage.DirectoryRepository
	Checks    map[string]api.HealthCheck

	persisted service.SnapshotStore
	memory    *storage.MemorySnapshotStore
	logger    *logging.Logger
	closers   []func()
}

// New connects to the configured backends and builds the services. Redis and ClickHouse
// are optional: an empty host disables the run lock or the history export.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	a := &App{logger: logger, Checks: make(map[string]api.HealthCheck)}

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	a.closers = append(a.closers, postgres.Close)
	a.Checks["postgres"] = postgres.Ping

	pool := postgres.Pool()
	a.Directory = storage.NewDirectoryRepository(pool)
	a.persisted = storage.NewSnapshotRepository(pool)

	calc := cost.NewRollCostCalculator(logger)
	costs := cost.NewCostProviderService(storage.NewRateTableRepository(pool), storage.NewCostTableRepository(pool), calc, logger)

	client := adapter.NewProviderClient(cfg.Providers, logger)
	a.Checks["data_service"] = func(context.Context) error {
		if state := client.BreakerState(); state == circuitbreaker.StateOpen {
			return fmt.Errorf("circuit %s", state)
		}
		return nil
	}

	// the client retries already; the wrapper only adds the broker breaker
	broker := provider.NewResilientBrokerSummary(client, circuitbreaker.NewManager(nil), &retry.RetryConfig{
		MaxAttempts:  1,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
	}, nil)

	providers := service.Providers{
		Spot:      client,
		Positions: client,
		PnL:       client,
		Hedge:     a.Directory,
		Trades:    client,
		Broker:    broker,
		Vols:      client,
		Directory: a.Directory,
	}

	store := a.persisted
	if opts.DryRun {
		a.memory = storage.NewMemorySnapshotStore()
		store = a.memory
	}
	a.Creator = service.NewSnapshotCreatorService(providers, store, costs, cfg.Snapshot, logger)
	a.History = service.NewHistoryService(store, logger)

	if opts.DryRun {
		return a, nil
	}

	if cfg.Database.Redis.Host != "" {
		redis, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = redis.Close() })
		a.Checks["redis"] = redis.Ping
		a.Creator.WithRunLock(storage.NewRunLock(redis, "hedge-snapshots:lock:"))
	} else {
		logger.Warn("REDIS_HOST is empty, runs are not locked across workers")
	}

	if cfg.Database.ClickHouse.Host != "" {
		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = clickhouse.Close() })
		a.Checks["clickhouse"] = clickhouse.Ping
		a.Creator.WithExporter(storage.NewHistoryRepository(clickhouse))
	}

	return a, nil
}

// SeedDryRun copies the latest persisted snapshot before refDate of every company and
// account into the in-memory store, so a dry run chains from real history. It is a no-op
// outside dry runs.
func (a *App) SeedDryRun(ctx context.Context, refDate time.Time) error {
	if a.memory == nil {
		return nil
	}
	companies, err := a.Directory.ListCompanies(ctx)
	if err != nil {
		return err
	}

	seeded := 0
	for _, company := range companies {
		last, err := a.persisted.LastCompanySnapshot(ctx, company.ID, refDate)
		if err != nil {
			return err
		}
		if last != nil {
			if err := a.memory.InsertCompanySnapshot(ctx, last, true); err != nil {
				return err
			}
			seeded++
		}

		accounts, err := a.Directory.ListAccounts(ctx, company.ID)
		if err != nil {
			return err
		}
		for _, account := range accounts {
			snap, err := a.persisted.LastAccountSnapshot(ctx, account.ID, refDate)
			if err != nil {
				return err
			}
			if snap == nil {
				continue
			}
			if err := a.memory.InsertAccountSnapshot(ctx, snap, true); err != nil {
				return err
			}
			seeded++
		}
	}

	a.logger.WithFields(map[string]interface{}{
		"ref_date": refDate.Format("2006-01-02"),
		"seeded":   seeded,
	}).Info("Seeded dry-run store")
	return nil
}

// DryRunSnapshots returns what a dry run computed for company at refDate. company is nil
// when its snapshot was not created.
func (a *App) DryRunSnapshots(ctx context.Context, companyID string, refDate time.Time) ([]*models.AccountSnapshot, *models.CompanySnapshot, error) {
	if a.memory == nil {
		return nil, nil, fmt.Errorf("not a dry run")
	}
	at := types.StartOfDay(refDate)
	accounts, err := a.memory.ListCompanyAccountSnapshots(ctx, companyID, at)
	if err != nil {
		return nil, nil, err
	}
	company, err := a.memory.GetCompanySnapshot(ctx, companyID, at)
	if err != nil {
		return accounts, nil, nil
	}
	return accounts, company, nil
}

// Close releases every connection, newest first
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
