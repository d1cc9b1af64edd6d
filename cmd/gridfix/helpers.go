package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/gridveg-dates/internal/bq"
	"github.com/Veraticus/gridveg-dates/internal/common"
	"github.com/Veraticus/gridveg-dates/internal/config"
	"github.com/Veraticus/gridveg-dates/internal/engine"
	"github.com/Veraticus/gridveg-dates/internal/objectstore"
	"github.com/Veraticus/gridveg-dates/internal/service"
	"github.com/Veraticus/gridveg-dates/internal/storage"
)

// loadConfig resolves the configuration once per command.
func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper(), time.Now())
	if err != nil {
		return nil, common.NewUserError("Invalid configuration", err)
	}
	if err := cfg.ResolveProject(ctx); err != nil {
		return nil, common.NewUserError("Could not determine the BigQuery project; set warehouse.project", err)
	}
	return cfg, nil
}

// openWarehouse connects to the configured warehouse. SQL warehouses must
// already exist at the current schema version; only migrate creates them.
func openWarehouse(ctx context.Context, cfg *config.Config) (service.Warehouse, error) {
	tables := storage.Tables{Records: cfg.RecordsTable(), References: cfg.ReferencesTable()}

	switch cfg.Warehouse.Driver {
	case config.DriverBigQuery:
		wh, err := bq.Open(ctx, bq.Config{
			Project:         cfg.Warehouse.Project,
			Location:        cfg.Warehouse.Location,
			CredentialsFile: cfg.Warehouse.CredentialsFile,
			Records:         tables.Records,
			References:      tables.References,
		})
		if err != nil {
			return nil, err
		}
		return wh, nil
	case config.DriverSQLite, config.DriverPostgres:
		wh, err := openSQL(ctx, cfg, tables, false)
		if err != nil {
			return nil, err
		}
		if err := wh.CheckSchema(ctx); err != nil {
			_ = wh.Close()
			return nil, common.NewUserError("Warehouse schema is not current. Run: gridfix migrate", err)
		}
		wh.SetProgress(os.Stderr)
		return wh, nil
	default:
		return nil, fmt.Errorf("%w: unknown warehouse.driver %q", common.ErrInvalidConfig, cfg.Warehouse.Driver)
	}
}

// openSQL connects to a SQL warehouse. A SQLite file is created only when
// create is set.
func openSQL(ctx context.Context, cfg *config.Config, tables storage.Tables, create bool) (*storage.Warehouse, error) {
	slog.Debug("Opening SQL warehouse", "driver", cfg.Warehouse.Driver, "create", create)
	if cfg.Warehouse.Driver == config.DriverPostgres {
		return storage.OpenPostgres(ctx, cfg.Warehouse.DSN, tables)
	}
	if create {
		return storage.OpenSQLite(cfg.Warehouse.DSN, tables)
	}
	wh, err := storage.OpenExistingSQLite(cfg.Warehouse.DSN, tables)
	if errors.Is(err, storage.ErrDatabaseNotFound) {
		return nil, common.NewUserError("SQLite warehouse not found; check warehouse.dsn or run: gridfix migrate", err)
	}
	return wh, err
}

// openStore opens the backup object store. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config) (objectstore.Store, func(), error) {
	store, err := objectstore.Open(ctx, cfg.ObjectStore())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open backup store: %w", err)
	}
	release := func() {
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
	}
	return store, release, nil
}

// engineConfig maps the resolved configuration onto a correction run.
func engineConfig(cfg *config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.Cutoff = cfg.Correction.Cutoff
	ec.Analysis = cfg.PatternConfig()
	ec.Retry = cfg.Retry
	ec.MinConfidence = cfg.Analysis.MinConfidence
	ec.SampleSize = cfg.Analysis.Samples
	ec.DryRun = cfg.Correction.DryRun
	ec.Confirmed = cfg.Correction.Confirmed
	return ec
}

func closeWarehouse(wh service.Warehouse) {
	if err := wh.Close(); err != nil {
		slog.Warn("Failed to close warehouse", "error", err)
	}
}
