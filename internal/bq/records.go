package bq

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/Veraticus/gridveg-dates/internal/model"
	"github.com/Veraticus/gridveg-dates/internal/service"
	"google.golang.org/api/iterator"
)

// ErrInvalidUpdate is returned for bulk updates that could reach rows outside a plan.
var ErrInvalidUpdate = errors.New("invalid bulk update")

type recordRow struct {
	GridPoint bigquery.NullInt64 `bigquery:"grid_point"`
	SurveyID  string             `bigquery:"survey_ID"`
	Date      civil.Date         `bigquery:"date"`
	Year      bigquery.NullInt64 `bigquery:"year"`
}

func (r recordRow) toModel() model.SurveyRecord {
	rec := model.SurveyRecord{SurveyID: r.SurveyID, Date: r.Date}
	if r.GridPoint.Valid {
		gp := r.GridPoint.Int64
		rec.GridPoint = &gp
	}
	if r.Year.Valid {
		rec.Year = int(r.Year.Int64)
	}
	return rec
}

type recordStore struct {
	w *Warehouse
}

func (s *recordStore) Table() model.TableRef {
	return s.w.records
}

func (s *recordStore) Query(ctx context.Context, filter service.Predicate) ([]model.SurveyRecord, error) {
	sql, params := selectRecordsSQL(s.w.records, filter)
	it, err := s.w.query(sql, params).Read(ctx)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query records: %w", err))
	}

	var records []model.SurveyRecord
	for {
		var row recordRow
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify(fmt.Errorf("failed to read record: %w", err))
		}
		records = append(records, row.toModel())
	}
	return records, nil
}

func (s *recordStore) Count(ctx context.Context, filter service.Predicate) (int64, error) {
	sql, params := countRecordsSQL(s.w.records, filter)
	it, err := s.w.query(sql, params).Read(ctx)
	if err != nil {
		return 0, classify(fmt.Errorf("failed to count records: %w", err))
	}
	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil {
		return 0, classify(fmt.Errorf("failed to read count: %w", err))
	}
	return row.N, nil
}

// BulkUpdate runs one DML statement; BigQuery applies it atomically.
func (s *recordStore) BulkUpdate(ctx context.Context, update service.BulkUpdate) (int64, error) {
	if update.JoinKey != service.JoinKeySurveyID {
		return 0, fmt.Errorf("%w: unsupported join key %q", ErrInvalidUpdate, update.JoinKey)
	}
	if len(update.SurveyIDs) == 0 {
		return 0, fmt.Errorf("%w: no survey ids", ErrInvalidUpdate)
	}
	if !update.DateAfter.IsValid() {
		return 0, fmt.Errorf("%w: invalid cutoff %s", ErrInvalidUpdate, update.DateAfter)
	}

	sql, params := bulkUpdateSQL(s.w.records, s.w.references, update)
	job, err := s.w.query(sql, params).Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to start bulk update: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed waiting for bulk update job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("bulk update job %s failed: %w", job.ID(), err)
	}
	return dmlAffectedRows(status), nil
}

func dmlAffectedRows(status *bigquery.JobStatus) int64 {
	if status == nil || status.Statistics == nil {
		return 0
	}
	if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return qs.NumDMLAffectedRows
	}
	return 0
}

type referenceRow struct {
	SurveyID string     `bigquery:"survey_ID"`
	Date     civil.Date `bigquery:"date"`
}

type referenceStore struct {
	w *Warehouse
}

func (s *referenceStore) Table() model.TableRef {
	return s.w.references
}

func (s *referenceStore) QueryAll(ctx context.Context) ([]model.ReferenceRecord, error) {
	it, err := s.w.query(selectReferencesSQL(s.w.references), nil).Read(ctx)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query references: %w", err))
	}

	var refs []model.ReferenceRecord
	for {
		var row referenceRow
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify(fmt.Errorf("failed to read reference: %w", err))
		}
		refs = append(refs, model.ReferenceRecord{SurveyID: row.SurveyID, Date: row.Date})
	}
	return refs, nil
}
