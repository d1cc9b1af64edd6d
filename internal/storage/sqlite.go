package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Veraticus/gridveg-dates/internal/model"
	"github.com/Veraticus/gridveg-dates/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// MemoryPath opens a private in-memory SQLite database.
const MemoryPath = ":memory:"

// Tables names the survey and reference tables inside one database.
type Tables struct {
	Records    model.TableRef
	References model.TableRef
}

func (t Tables) validate() error {
	for _, ref := range []model.TableRef{t.Records, t.References} {
		if err := validateTableName(ref.Table); err != nil {
			return err
		}
		if ref.Dataset != "" {
			if err := validateTableName(ref.Dataset); err != nil {
				return err
			}
		}
	}
	return nil
}

// Warehouse implements service.Warehouse on a database/sql connection.
type Warehouse struct {
	db       *sql.DB
	progress io.Writer
	tables   Tables
	dialect  dialect
	dsn      string
}

var _ service.Warehouse = (*Warehouse)(nil)

// ErrDatabaseNotFound is returned when an existing SQLite file was required.
var ErrDatabaseNotFound = errors.New("database file not found")

// OpenSQLite opens (creating if needed) a SQLite warehouse at path.
func OpenSQLite(path string, tables Tables) (*Warehouse, error) {
	return openSQLite(path, tables, true)
}

// OpenExistingSQLite opens the SQLite warehouse at path read-write and fails
// with ErrDatabaseNotFound instead of creating it.
func OpenExistingSQLite(path string, tables Tables) (*Warehouse, error) {
	return openSQLite(path, tables, false)
}

func openSQLite(path string, tables Tables, create bool) (*Warehouse, error) {
	if err := validateString(path, "path"); err != nil {
		return nil, err
	}
	if err := tables.validate(); err != nil {
		return nil, err
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	switch {
	case path == MemoryPath:
	case create:
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	default:
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, path)
			}
			return nil, fmt.Errorf("failed to stat database: %w", err)
		}
		dsn = "file:" + path + "?mode=rw&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps in-memory databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Warehouse{
		db:      db,
		dialect: sqliteDialect,
		tables:  tables,
		dsn:     path,
	}, nil
}

// SetProgress enables a progress bar on w during extracts.
func (w *Warehouse) SetProgress(out io.Writer) {
	w.progress = out
}

// Dialect returns the SQL engine name.
func (w *Warehouse) Dialect() string {
	return w.dialect.name
}

// DB exposes the underlying connection.
func (w *Warehouse) DB() *sql.DB {
	return w.db
}

// Records returns the survey table adapter.
func (w *Warehouse) Records() service.RecordStore {
	return &recordStore{w: w}
}

// References returns the reference table adapter.
func (w *Warehouse) References() service.ReferenceStore {
	return &referenceStore{w: w}
}

// Extractor returns the CSV table extractor.
func (w *Warehouse) Extractor() service.TableExtractor {
	return &csvExtractor{w: w}
}

// Close closes the database connection.
func (w *Warehouse) Close() error {
	return w.db.Close()
}

// quote renders a table reference as a quoted identifier. SQLite has no
// schemas, so only the table name is used there.
func (w *Warehouse) quote(ref model.TableRef) string {
	if ref.Dataset != "" && w.dialect.schemas {
		return fmt.Sprintf(`"%s"."%s"`, ref.Dataset, ref.Table)
	}
	return fmt.Sprintf(`"%s"`, ref.Table)
}

// knownTable resolves a reference against the configured tables by name.
func (w *Warehouse) knownTable(ref model.TableRef) (model.TableRef, error) {
	for _, t := range []model.TableRef{w.tables.Records, w.tables.References} {
		if strings.EqualFold(t.Table, ref.Table) {
			return t, nil
		}
	}
	return model.TableRef{}, fmt.Errorf("%w: %s is not managed by this warehouse", ErrInvalidTableName, ref)
}
