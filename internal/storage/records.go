package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/Veraticus/gridveg-dates/internal/model"
	"github.com/Veraticus/gridveg-dates/internal/service"
)

type recordStore struct {
	w *Warehouse
}

func (r *recordStore) Table() model.TableRef {
	return r.w.tables.Records
}

// Query returns matching records ordered by survey id then date.
func (r *recordStore) Query(ctx context.Context, filter service.Predicate) ([]model.SurveyRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	d := r.w.dialect
	where := newWhereBuilder(d, "").apply(filter)
	query := fmt.Sprintf(`SELECT grid_point, survey_ID, %s, "year" FROM %s%s ORDER BY survey_ID, "date"`,
		d.dateColumn(`"date"`), r.w.quote(r.Table()), where.sql())

	rows, err := r.w.db.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, d.classify(fmt.Errorf("failed to query records: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var records []model.SurveyRecord
	for rows.Next() {
		var (
			gridPoint sql.NullInt64
			dateStr   string
			record    model.SurveyRecord
		)
		if err := rows.Scan(&gridPoint, &record.SurveyID, &dateStr, &record.Year); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if gridPoint.Valid {
			gp := gridPoint.Int64
			record.GridPoint = &gp
		}
		if record.Date, err = parseDate(dateStr); err != nil {
			return nil, fmt.Errorf("record %s: %w", record.SurveyID, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, d.classify(fmt.Errorf("failed to iterate records: %w", err))
	}
	return records, nil
}

// Count returns the number of matching records.
func (r *recordStore) Count(ctx context.Context, filter service.Predicate) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	d := r.w.dialect
	where := newWhereBuilder(d, "").apply(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, r.w.quote(r.Table()), where.sql())

	var count int64
	if err := r.w.db.QueryRowContext(ctx, query, where.args...).Scan(&count); err != nil {
		return 0, d.classify(fmt.Errorf("failed to count records: %w", err))
	}
	return count, nil
}

// BulkUpdate rewrites date and year from the reference table in a single
// statement inside one transaction.
func (r *recordStore) BulkUpdate(ctx context.Context, update service.BulkUpdate) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateBulkUpdate(update); err != nil {
		return 0, err
	}

	d := r.w.dialect
	where := newWhereBuilder(d, "a")
	where.addRaw("a.survey_ID = r.survey_ID")
	where.addDateAfter(update.DateAfter)
	where.addIn(update.SurveyIDs, false)

	// Duplicate reference rows collapse so each target matches one source row.
	stmt := fmt.Sprintf(`UPDATE %s AS a SET "date" = r."date", "year" = %s FROM (SELECT DISTINCT survey_ID, "date" FROM %s) AS r%s`,
		r.w.quote(r.Table()), d.yearOf(`r."date"`), r.w.quote(r.w.tables.References), where.sql())

	tx, err := r.w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, stmt, where.args...)
	if err != nil {
		return 0, fmt.Errorf("failed to apply bulk update: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit bulk update: %w", err)
	}
	return affected, nil
}

// SaveRecords inserts survey records in one transaction.
func (w *Warehouse) SaveRecords(ctx context.Context, records []model.SurveyRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRecords(records); err != nil {
		return err
	}

	d := w.dialect
	query := fmt.Sprintf(`INSERT INTO %s (grid_point, survey_ID, "date", "year") VALUES (%s, %s, %s, %s)`,
		w.quote(w.tables.Records), d.placeholder(1), d.placeholder(2), d.dateParam(3), d.placeholder(4))

	return w.insertAll(ctx, query, len(records), func(i int) []any {
		rec := records[i]
		var gridPoint any
		if rec.GridPoint != nil {
			gridPoint = *rec.GridPoint
		}
		return []any{gridPoint, rec.SurveyID, rec.Date.String(), rec.Year}
	})
}

func (w *Warehouse) insertAll(ctx context.Context, query string, n int, args func(i int) []any) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func parseDate(s string) (civil.Date, error) {
	// Some drivers hand back a full timestamp for DATE columns.
	if len(s) > 10 {
		s = s[:10]
	}
	d, err := civil.ParseDate(strings.TrimSpace(s))
	if err != nil {
		return civil.Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}
