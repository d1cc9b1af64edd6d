package storage

import (
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/Veraticus/gridveg-dates/internal/common"
	"github.com/Veraticus/gridveg-dates/internal/service"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// dialect captures the SQL differences between the supported engines.
// Dates travel as YYYY-MM-DD strings in both directions.
type dialect struct {
	placeholder func(n int) string
	dateParam   func(n int) string
	dateColumn  func(expr string) string
	yearOf      func(expr string) string
	classify    func(err error) error
	name        string
	dateType    string
	schemas     bool
}

var sqliteDialect = dialect{
	name:        "sqlite",
	dateType:    "TEXT",
	placeholder: func(int) string { return "?" },
	dateParam:   func(int) string { return "?" },
	dateColumn:  func(expr string) string { return expr },
	yearOf: func(expr string) string {
		return fmt.Sprintf("CAST(substr(%s, 1, 4) AS INTEGER)", expr)
	},
	classify: classifySQLiteError,
}

var postgresDialect = dialect{
	name:        "postgres",
	dateType:    "DATE",
	schemas:     true,
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	dateParam:   func(n int) string { return fmt.Sprintf("$%d::date", n) },
	dateColumn: func(expr string) string {
		return fmt.Sprintf("to_char(%s, 'YYYY-MM-DD')", expr)
	},
	yearOf: func(expr string) string {
		return fmt.Sprintf("CAST(EXTRACT(YEAR FROM %s) AS INTEGER)", expr)
	},
	classify: classifyPostgresError,
}

func classifySQLiteError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return common.Transient(err)
	}
	return err
}

func classifyPostgresError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception; 40001/40P01 are serialization
		// failure and deadlock; 57P01 is admin shutdown.
		if strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "57P01" {
			return common.Transient(err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return common.Transient(err)
	}
	return common.ClassifyNetworkError(err)
}

// whereBuilder accumulates predicate clauses and positional arguments.
type whereBuilder struct {
	d       dialect
	alias   string
	clauses []string
	args    []any
}

func newWhereBuilder(d dialect, alias string) *whereBuilder {
	return &whereBuilder{d: d, alias: alias}
}

func (w *whereBuilder) col(name string) string {
	if w.alias == "" {
		return name
	}
	return w.alias + "." + name
}

func (w *whereBuilder) addDateAfter(date civil.Date) {
	w.args = append(w.args, date.String())
	w.clauses = append(w.clauses, fmt.Sprintf(`%s > %s`, w.col(`"date"`), w.d.dateParam(len(w.args))))
}

func (w *whereBuilder) addIn(ids []string, negate bool) {
	if len(ids) == 0 {
		return
	}
	holders := make([]string, len(ids))
	for i, id := range ids {
		w.args = append(w.args, id)
		holders[i] = w.d.placeholder(len(w.args))
	}
	op := "IN"
	if negate {
		op = "NOT IN"
	}
	w.clauses = append(w.clauses, fmt.Sprintf("%s %s (%s)", w.col("survey_ID"), op, strings.Join(holders, ", ")))
}

func (w *whereBuilder) addYearMismatch() {
	w.clauses = append(w.clauses, fmt.Sprintf(`(%s IS NULL OR %s <> %s)`,
		w.col(`"year"`), w.col(`"year"`), w.d.yearOf(w.col(`"date"`))))
}

func (w *whereBuilder) addRaw(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *whereBuilder) apply(p service.Predicate) *whereBuilder {
	if p.DateAfter != nil {
		w.addDateAfter(*p.DateAfter)
	}
	w.addIn(p.SurveyIDs, false)
	w.addIn(p.ExcludeSurveyIDs, true)
	if p.YearMismatch {
		w.addYearMismatch()
	}
	return w
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}
