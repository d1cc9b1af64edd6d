package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Veraticus/gridveg-dates/internal/common"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

// OpenPostgres connects to a PostgreSQL warehouse. A table's Dataset, when
// set, is used as its schema.
func OpenPostgres(ctx context.Context, dsn string, tables Tables) (*Warehouse, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(dsn, "dsn"); err != nil {
		return nil, err
	}
	if err := tables.validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := common.WithRetry(ctx, func() error {
		return classifyPostgresError(db.PingContext(ctx))
	}, common.DefaultRetryOptions()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Warehouse{
		db:      db,
		dialect: postgresDialect,
		tables:  tables,
		dsn:     dsn,
	}, nil
}
