package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
const ExpectedSchemaVersion = 3

const migrationsTable = "gridfix_schema_migrations"

// ErrSchemaOutdated is returned when the tables have not been migrated to
// ExpectedSchemaVersion.
var ErrSchemaOutdated = errors.New("warehouse schema is not current")

// Migration represents a database schema migration. Migrations are built
// from the configured table names, so each table pair is versioned separately.
type Migration struct {
	Up          func(ctx context.Context, tx *sql.Tx, w *Warehouse) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Create survey records table",
		Up: func(ctx context.Context, tx *sql.Tx, w *Warehouse) error {
			queries := []string{}
			if w.tables.Records.Dataset != "" && w.dialect.schemas {
				queries = append(queries, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, w.tables.Records.Dataset))
			}
			queries = append(queries, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
					grid_point BIGINT,
					survey_ID TEXT NOT NULL,
					"date" %s NOT NULL,
					"year" INTEGER NOT NULL
				)`, w.quote(w.tables.Records), w.dialect.dateType))
			return execAll(ctx, tx, queries)
		},
	},
	{
		Version:     2,
		Description: "Create survey reference table",
		Up: func(ctx context.Context, tx *sql.Tx, w *Warehouse) error {
			queries := []string{}
			if w.tables.References.Dataset != "" && w.dialect.schemas {
				queries = append(queries, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, w.tables.References.Dataset))
			}
			queries = append(queries, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
					survey_ID TEXT NOT NULL,
					"date" %s NOT NULL
				)`, w.quote(w.tables.References), w.dialect.dateType))
			return execAll(ctx, tx, queries)
		},
	},
	{
		Version:     3,
		Description: "Index survey ids",
		Up: func(ctx context.Context, tx *sql.Tx, w *Warehouse) error {
			return execAll(ctx, tx, []string{
				fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "idx_%s_survey_id" ON %s (survey_ID)`,
					w.tables.Records.Table, w.quote(w.tables.Records)),
				fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "idx_%s_date" ON %s ("date")`,
					w.tables.Records.Table, w.quote(w.tables.Records)),
				fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "idx_%s_survey_id" ON %s (survey_ID)`,
					w.tables.References.Table, w.quote(w.tables.References)),
			})
		},
	},
}

func execAll(ctx context.Context, tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", strings.Join(strings.Fields(query), " "), err)
		}
	}
	return nil
}

// Migrate brings the survey and reference tables up to ExpectedSchemaVersion.
func (w *Warehouse) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	if _, err := w.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			target TEXT NOT NULL,
			version INTEGER NOT NULL,
			description TEXT NOT NULL,
			applied_at TEXT NOT NULL,
			PRIMARY KEY (target, version)
		)`, migrationsTable)); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	target := w.tables.Records.String()
	currentVersion, err := w.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	insert := fmt.Sprintf(`INSERT INTO %s (target, version, description, applied_at) VALUES (%s, %s, %s, %s)`,
		migrationsTable, w.dialect.placeholder(1), w.dialect.placeholder(2), w.dialect.placeholder(3), w.dialect.placeholder(4))

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := w.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(ctx, tx, w); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.ExecContext(ctx, insert, target, migration.Version, migration.Description,
			time.Now().UTC().Format(time.RFC3339)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"target", target,
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := w.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}
	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion returns the highest applied migration for the configured tables.
func (w *Warehouse) SchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	query := fmt.Sprintf(`SELECT MAX(version) FROM %s WHERE target = %s`, migrationsTable, w.dialect.placeholder(1))
	if err := w.db.QueryRowContext(ctx, query, w.tables.Records.String()).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return int(version.Int64), nil
}

// CheckSchema verifies that the tables are at ExpectedSchemaVersion without
// changing anything.
func (w *Warehouse) CheckSchema(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	version, err := w.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("%w: not initialized: %w", ErrSchemaOutdated, err)
	}
	if version != ExpectedSchemaVersion {
		return fmt.Errorf("%w: expected version %d, got %d", ErrSchemaOutdated, ExpectedSchemaVersion, version)
	}
	return nil
}
