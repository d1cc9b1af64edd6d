package storage

import (
	"context"
	"fmt"

	"github.com/Veraticus/gridveg-dates/internal/model"
)

type referenceStore struct {
	w *Warehouse
}

func (r *referenceStore) Table() model.TableRef {
	return r.w.tables.References
}

// QueryAll returns the distinct (survey id, date) pairs of the reference table.
func (r *referenceStore) QueryAll(ctx context.Context) ([]model.ReferenceRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	d := r.w.dialect
	query := fmt.Sprintf(`SELECT DISTINCT survey_ID, %s AS ref_date FROM %s ORDER BY survey_ID, ref_date`,
		d.dateColumn(`"date"`), r.w.quote(r.Table()))

	rows, err := r.w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, d.classify(fmt.Errorf("failed to query references: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var refs []model.ReferenceRecord
	for rows.Next() {
		var (
			ref     model.ReferenceRecord
			dateStr string
		)
		if err := rows.Scan(&ref.SurveyID, &dateStr); err != nil {
			return nil, fmt.Errorf("failed to scan reference: %w", err)
		}
		if ref.Date, err = parseDate(dateStr); err != nil {
			return nil, fmt.Errorf("reference %s: %w", ref.SurveyID, err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, d.classify(fmt.Errorf("failed to iterate references: %w", err))
	}
	return refs, nil
}

// SaveReferences inserts reference rows in one transaction.
func (w *Warehouse) SaveReferences(ctx context.Context, refs []model.ReferenceRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateReferences(refs); err != nil {
		return err
	}

	d := w.dialect
	query := fmt.Sprintf(`INSERT INTO %s (survey_ID, "date") VALUES (%s, %s)`,
		w.quote(w.tables.References), d.placeholder(1), d.dateParam(2))

	return w.insertAll(ctx, query, len(refs), func(i int) []any {
		return []any{refs[i].SurveyID, refs[i].Date.String()}
	})
}
