package storage

import (
	"context"
	"path/filepath"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/Veraticus/gridveg-dates/internal/model"
	"github.com/Veraticus/gridveg-dates/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTables() Tables {
	return Tables{
		Records:    model.TableRef{Dataset: "gridveg", Table: "surveys"},
		References: model.TableRef{Dataset: "gridveg", Table: "survey_reference"},
	}
}

// createTestWarehouse opens a migrated in-memory warehouse.
func createTestWarehouse(t *testing.T) *Warehouse {
	t.Helper()
	w, err := OpenSQLite(MemoryPath, testTables())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	require.NoError(t, w.Migrate(context.Background()))
	return w
}

func date(t *testing.T, s string) civil.Date {
	t.Helper()
	d, err := civil.ParseDate(s)
	require.NoError(t, err)
	return d
}

func gp(n int64) *int64 { return &n }

// seedCorrupted loads a small table with two corrupted surveys, one clean
// survey and one survey with no reference.
func seedCorrupted(t *testing.T, w *Warehouse) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, w.SaveReferences(ctx, []model.ReferenceRecord{
		{SurveyID: "S1", Date: date(t, "2019-03-12")},
		{SurveyID: "S2", Date: date(t, "2020-07-01")},
		{SurveyID: "S3", Date: date(t, "2018-05-05")},
	}))
	require.NoError(t, w.SaveRecords(ctx, []model.SurveyRecord{
		{GridPoint: gp(1), SurveyID: "S1", Date: date(t, "2030-03-12"), Year: 2030},
		{GridPoint: gp(2), SurveyID: "S1", Date: date(t, "2030-03-12"), Year: 2030},
		{GridPoint: nil, SurveyID: "S2", Date: date(t, "2031-07-01"), Year: 2031},
		{GridPoint: gp(3), SurveyID: "S3", Date: date(t, "2018-05-05"), Year: 2018},
		{GridPoint: gp(4), SurveyID: "S4", Date: date(t, "2032-01-01"), Year: 2032},
	}))
}

func TestOpenSQLite_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "warehouse.db")
	w, err := OpenSQLite(path, testTables())
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	assert.Equal(t, "sqlite", w.Dialect())
	assert.Equal(t, "surveys", w.Records().Table().Table)
	assert.Equal(t, `"surveys"`, w.quote(w.Records().Table()))
	require.NoError(t, w.Migrate(context.Background()))
}

func TestOpenSQLite_RejectsBadInput(t *testing.T) {
	_, err := OpenSQLite("", testTables())
	require.ErrorIs(t, err, ErrEmptyString)

	bad := testTables()
	bad.Records.Table = "surveys; DROP TABLE x"
	_, err = OpenSQLite(MemoryPath, bad)
	require.ErrorIs(t, err, ErrInvalidTableName)
}

func TestRecordStore_Query(t *testing.T) {
	w := createTestWarehouse(t)
	seedCorrupted(t, w)
	ctx := context.Background()

	all, err := w.Records().Query(ctx, service.All())
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "S1", all[0].SurveyID)
	require.NotNil(t, all[0].GridPoint)
	assert.Equal(t, int64(1), *all[0].GridPoint)
	assert.Nil(t, all[2].GridPoint)

	future, err := w.Records().Query(ctx, service.FutureDates(model.EndOfYear(2025)))
	require.NoError(t, err)
	assert.Len(t, future, 4)

	filtered, err := w.Records().Query(ctx, service.Predicate{
		SurveyIDs:        []string{"S1", "S2", "S4"},
		ExcludeSurveyIDs: []string{"S4"},
	})
	require.NoError(t, err)
	assert.Len(t, filtered, 3)
}

func TestRecordStore_Count(t *testing.T) {
	w := createTestWarehouse(t)
	seedCorrupted(t, w)
	ctx := context.Background()

	n, err := w.Records().Count(ctx, service.All())
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = w.Records().Count(ctx, service.YearMismatches())
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = w.DB().Exec(`UPDATE "surveys" SET "year" = 1999 WHERE survey_ID = 'S3'`)
	require.NoError(t, err)
	n, err = w.Records().Count(ctx, service.YearMismatches())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRecordStore_BulkUpdate(t *testing.T) {
	w := createTestWarehouse(t)
	seedCorrupted(t, w)
	ctx := context.Background()
	cutoff := model.EndOfYear(2025)

	affected, err := w.Records().BulkUpdate(ctx, service.BulkUpdate{
		JoinKey:   service.JoinKeySurveyID,
		SurveyIDs: []string{"S1", "S2"},
		DateAfter: cutoff,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)

	records, err := w.Records().Query(ctx, service.Predicate{SurveyIDs: []string{"S1", "S2"}})
	require.NoError(t, err)
	for _, r := range records {
		assert.True(t, r.YearConsistent(), "record %s", r.SurveyID)
		assert.False(t, r.Date.After(cutoff), "record %s", r.SurveyID)
	}
	assert.Equal(t, "2019-03-12", records[0].Date.String())
	assert.Equal(t, 2020, records[2].Year)

	// S4 has no reference and stays untouched.
	remaining, err := w.Records().Count(ctx, service.FutureDates(cutoff))
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)

	// Re-running finds nothing left to change.
	affected, err = w.Records().BulkUpdate(ctx, service.BulkUpdate{
		JoinKey:   service.JoinKeySurveyID,
		SurveyIDs: []string{"S1", "S2"},
		DateAfter: cutoff,
	})
	require.NoError(t, err)
	assert.Zero(t, affected)
}

func TestRecordStore_BulkUpdateDuplicateReferences(t *testing.T) {
	w := createTestWarehouse(t)
	ctx := context.Background()
	require.NoError(t, w.SaveReferences(ctx, []model.ReferenceRecord{
		{SurveyID: "S1", Date: date(t, "2019-03-12")},
		{SurveyID: "S1", Date: date(t, "2019-03-12")},
	}))
	require.NoError(t, w.SaveRecords(ctx, []model.SurveyRecord{
		{GridPoint: gp(1), SurveyID: "S1", Date: date(t, "2030-03-12"), Year: 2030},
		{GridPoint: gp(2), SurveyID: "S1", Date: date(t, "2030-03-12"), Year: 2030},
	}))

	affected, err := w.Records().BulkUpdate(ctx, service.BulkUpdate{
		JoinKey:   service.JoinKeySurveyID,
		SurveyIDs: []string{"S1"},
		DateAfter: model.EndOfYear(2025),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	records, err := w.Records().Query(ctx, service.All())
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, "2019-03-12", r.Date.String())
		assert.Equal(t, 2019, r.Year)
	}
}

func TestRecordStore_BulkUpdateValidation(t *testing.T) {
	w := createTestWarehouse(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		update service.BulkUpdate
	}{
		{"wrong join key", service.BulkUpdate{JoinKey: "grid_point", SurveyIDs: []string{"S1"}, DateAfter: model.EndOfYear(2025)}},
		{"no ids", service.BulkUpdate{JoinKey: service.JoinKeySurveyID, DateAfter: model.EndOfYear(2025)}},
		{"zero cutoff", service.BulkUpdate{JoinKey: service.JoinKeySurveyID, SurveyIDs: []string{"S1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := w.Records().BulkUpdate(ctx, tt.update)
			require.ErrorIs(t, err, ErrInvalidUpdate)
		})
	}
}

func TestReferenceStore_QueryAllDistinct(t *testing.T) {
	w := createTestWarehouse(t)
	ctx := context.Background()
	require.NoError(t, w.SaveReferences(ctx, []model.ReferenceRecord{
		{SurveyID: "S1", Date: date(t, "2019-03-12")},
		{SurveyID: "S1", Date: date(t, "2019-03-12")},
		{SurveyID: "S2", Date: date(t, "2020-07-02")},
		{SurveyID: "S2", Date: date(t, "2020-07-01")},
	}))

	refs, err := w.References().QueryAll(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, "2020-07-01", refs[1].Date.String())
	assert.Equal(t, "2020-07-02", refs[2].Date.String())
}

func TestSaveRecords_Validation(t *testing.T) {
	w := createTestWarehouse(t)
	ctx := context.Background()

	require.ErrorIs(t, w.SaveRecords(ctx, nil), ErrEmptySlice)
	require.ErrorIs(t, w.SaveRecords(ctx, []model.SurveyRecord{{Date: date(t, "2020-01-01")}}), ErrInvalidRecord)
	require.ErrorIs(t, w.SaveReferences(ctx, []model.ReferenceRecord{{SurveyID: "S1"}}), ErrInvalidReference)
}

func TestOpenExistingSQLite(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "nested", "warehuose.db")

	_, err := OpenExistingSQLite(missing, testTables())
	require.ErrorIs(t, err, ErrDatabaseNotFound)
	assert.NoFileExists(t, missing)
	assert.NoDirExists(t, filepath.Join(dir, "nested"))

	path := filepath.Join(dir, "warehouse.db")
	created, err := OpenSQLite(path, testTables())
	require.NoError(t, err)
	require.NoError(t, created.Migrate(context.Background()))
	require.NoError(t, created.Close())

	w, err := OpenExistingSQLite(path, testTables())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	require.NoError(t, w.CheckSchema(context.Background()))
}
