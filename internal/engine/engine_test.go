package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Veraticus/gridveg-dates/internal/backup"
	"github.com/Veraticus/gridveg-dates/internal/common"
	"github.com/Veraticus/gridveg-dates/internal/model"
	"github.com/Veraticus/gridveg-dates/internal/objectstore"
	"github.com/Veraticus/gridveg-dates/internal/service"
	"github.com/Veraticus/gridveg-dates/internal/storage"
	"github.com/Veraticus/gridveg-dates/internal/testutil"
	"github.com/Veraticus/gridveg-dates/internal/testutil/surveys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cutoff = model.EndOfYear(2025)

func fastRetry() common.RetryOptions {
	return common.RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Cutoff = cutoff
	cfg.Retry = fastRetry()
	cfg.DryRun = false
	cfg.Confirmed = true
	return cfg
}

func corruptedData(t *testing.T) surveys.Data {
	return surveys.NewBuilder(t).
		WithCorrupted("AB12CD34", "2015-06-01", "2035-06-01", 1).
		WithCorrupted("S1", "2019-03-12", "2030-03-12", 3).
		WithMatching("S2", "2018-05-05", 2).
		WithCorrupted("S3", "2017-01-01", "2016-01-01", 1).
		Build()
}

type harness struct {
	wh      *storage.Warehouse
	store   *objectstore.Memory
	manager *backup.Manager
}

func newHarness(t *testing.T, data surveys.Data) *harness {
	t.Helper()
	wh := testutil.SetupTestWarehouse(t, data)
	store := objectstore.NewMemory()
	return &harness{
		wh:      wh,
		store:   store,
		manager: backup.NewManager(wh.Extractor(), store, backup.WithRetry(fastRetry())),
	}
}

func (h *harness) engine(cfg Config) *CorrectionEngine {
	return New(h.wh.Records(), h.wh.References(), h.manager, cfg)
}

func (h *harness) futureCount(t *testing.T) int64 {
	t.Helper()
	n, err := h.wh.Records().Count(context.Background(), service.FutureDates(cutoff))
	require.NoError(t, err)
	return n
}

func stages(res *RunResult) []model.Stage {
	out := make([]model.Stage, 0, len(res.History))
	for _, tr := range res.History {
		out = append(out, tr.To)
	}
	return out
}

func TestRun_ScenarioA(t *testing.T) {
	h := newHarness(t, corruptedData(t))

	res, err := h.engine(testConfig()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StageValidated, res.Stage)
	assert.True(t, res.Succeeded())
	assert.Equal(t, []model.Stage{
		model.StagePreviewGenerated,
		model.StageBackupCreated,
		model.StageApplied,
		model.StageValidated,
	}, stages(res))
	assert.Equal(t, int64(4), res.AffectedRows)
	require.NotNil(t, res.Snapshot)
	assert.True(t, res.Snapshot.Verified)

	require.Len(t, res.Plan.Entries, 2)
	first := res.Plan.Entries[0]
	assert.Equal(t, "S1", first.SurveyID)
	ab := res.Plan.Entries[1]
	assert.Equal(t, "AB12CD34", ab.SurveyID)
	assert.Equal(t, "2015-06-01", ab.CorrectDate.String())
	assert.Equal(t, 2015, ab.CorrectYear)

	recs, err := h.wh.Records().Query(context.Background(), service.Predicate{SurveyIDs: []string{"AB12CD34"}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "2015-06-01", recs[0].Date.String())
	assert.Equal(t, 2015, recs[0].Year)

	// Match and past-mismatch rows have no plan entry and are untouched.
	recs, err = h.wh.Records().Query(context.Background(), service.Predicate{SurveyIDs: []string{"S3"}})
	require.NoError(t, err)
	assert.Equal(t, "2016-01-01", recs[0].Date.String())
	assert.Zero(t, h.futureCount(t))
}

func TestRun_RerunAfterValidatedFindsNothing(t *testing.T) {
	h := newHarness(t, corruptedData(t))
	_, err := h.engine(testConfig()).Run(context.Background())
	require.NoError(t, err)

	res, err := h.engine(testConfig()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StagePreviewGenerated, res.Stage)
	assert.True(t, res.NothingToCorrect)
	assert.Nil(t, res.Snapshot)
	assert.False(t, res.Mutated())
}

func TestRun_DryRunHaltsAtPreview(t *testing.T) {
	h := newHarness(t, corruptedData(t))
	cfg := testConfig()
	cfg.DryRun = true

	res, err := h.engine(cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StagePreviewGenerated, res.Stage)
	assert.True(t, res.Succeeded())
	assert.Equal(t, 4, res.Plan.TotalRows())
	assert.Equal(t, int64(4), h.futureCount(t))

	objects, err := h.store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestRun_RequiresConfirmation(t *testing.T) {
	h := newHarness(t, corruptedData(t))
	cfg := testConfig()
	cfg.Confirmed = false

	res, err := h.engine(cfg).Run(context.Background())
	require.ErrorIs(t, err, common.ErrNotConfirmed)
	assert.Equal(t, model.StageAborted, res.Stage)
	assert.Nil(t, res.Snapshot)
	assert.Equal(t, int64(4), h.futureCount(t))
}

// emptyExtractor reports success without writing anything.
type emptyExtractor struct{}

func (emptyExtractor) Extract(context.Context, model.TableRef, objectstore.Store, string) error {
	return nil
}

func TestRun_ScenarioB_BackupVerificationFailure(t *testing.T) {
	h := newHarness(t, surveys.NewBuilder(t).
		WithCorrupted("AB12CD34", "2015-06-01", "2035-06-01", 1).
		Build())
	h.manager = backup.NewManager(emptyExtractor{}, h.store, backup.WithRetry(fastRetry()))

	res, err := h.engine(testConfig()).Run(context.Background())
	require.ErrorIs(t, err, common.ErrBackupVerification)
	assert.Equal(t, model.StageAborted, res.Stage)
	assert.False(t, res.Mutated())

	var stageErr *common.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "backup", stageErr.Stage)
	assert.False(t, stageErr.Unsafe)

	recs, err := h.wh.Records().Query(context.Background(), service.All())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "2035-06-01", recs[0].Date.String())
}

// unverifiedBackups returns a snapshot without error but unverified.
type unverifiedBackups struct{}

func (unverifiedBackups) Snapshot(_ context.Context, table model.TableRef) (model.BackupSnapshot, error) {
	return model.BackupSnapshot{SourceTable: table, Location: "mem://nowhere"}, nil
}

// countingRecords records BulkUpdate calls and optionally skips them.
type countingRecords struct {
	service.RecordStore
	queryFailures []error
	updates       int
	skipUpdate    bool
}

func (c *countingRecords) Query(ctx context.Context, p service.Predicate) ([]model.SurveyRecord, error) {
	if len(c.queryFailures) > 0 {
		err := c.queryFailures[0]
		c.queryFailures = c.queryFailures[1:]
		return nil, err
	}
	return c.RecordStore.Query(ctx, p)
}

func (c *countingRecords) BulkUpdate(ctx context.Context, u service.BulkUpdate) (int64, error) {
	c.updates++
	if c.skipUpdate {
		return 0, nil
	}
	return c.RecordStore.BulkUpdate(ctx, u)
}

func TestRun_NeverMutatesWithoutVerifiedBackup(t *testing.T) {
	h := newHarness(t, corruptedData(t))
	records := &countingRecords{RecordStore: h.wh.Records()}

	res, err := New(records, h.wh.References(), unverifiedBackups{}, testConfig()).Run(context.Background())
	require.ErrorIs(t, err, common.ErrBackupVerification)
	assert.Equal(t, model.StageAborted, res.Stage)
	assert.Zero(t, records.updates)
}

func TestRun_RetriesTransientQuery(t *testing.T) {
	h := newHarness(t, corruptedData(t))
	records := &countingRecords{
		RecordStore:   h.wh.Records(),
		queryFailures: []error{common.Transient(errors.New("connection reset"))},
	}

	res, err := New(records, h.wh.References(), h.manager, testConfig()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StageValidated, res.Stage)
}

func TestRun_ExhaustedRetriesAbort(t *testing.T) {
	h := newHarness(t, corruptedData(t))
	transient := common.Transient(errors.New("503"))
	records := &countingRecords{
		RecordStore:   h.wh.Records(),
		queryFailures: []error{transient, transient, transient},
	}

	res, err := New(records, h.wh.References(), h.manager, testConfig()).Run(context.Background())
	require.ErrorIs(t, err, common.ErrMaxRetries)
	assert.Equal(t, model.StageAborted, res.Stage)
	assert.Equal(t, []model.Stage{model.StageAborted}, stages(res))
}

func TestRun_DateValidationFailureIsUnsafe(t *testing.T) {
	h := newHarness(t, corruptedData(t))
	records := &countingRecords{RecordStore: h.wh.Records(), skipUpdate: true}

	res, err := New(records, h.wh.References(), h.manager, testConfig()).Run(context.Background())
	require.ErrorIs(t, err, common.ErrDateValidation)
	assert.Equal(t, model.StageAborted, res.Stage)
	assert.Equal(t, int64(4), res.RemainingFuture)

	var stageErr *common.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.True(t, stageErr.Unsafe)
	require.NotNil(t, res.Snapshot)
	assert.True(t, res.Mutated())
}

func TestRun_YearMismatchFailure(t *testing.T) {
	data := corruptedData(t)
	data.Records = append(data.Records, model.SurveyRecord{
		SurveyID: "S2",
		Date:     surveys.Date(t, "2018-05-05"),
		Year:     1999,
	})
	h := newHarness(t, data)

	res, err := h.engine(testConfig()).Run(context.Background())
	require.ErrorIs(t, err, common.ErrYearMismatch)
	assert.Equal(t, int64(1), res.YearMismatches)
	assert.Equal(t, 1, res.StaleYears)
	assert.Equal(t, model.StageAborted, res.Stage)
}

func TestRun_ReferenceGapsStayAndPass(t *testing.T) {
	data := surveys.NewBuilder(t).
		WithCorrupted("S1", "2019-03-12", "2030-03-12", 1).
		WithUnreferenced("NOREF", "2031-01-01", 2).
		WithCorrupted("AMB", "2020-01-01", "2032-01-01", 1).
		WithReference("AMB", "2020-01-02").
		Build()
	h := newHarness(t, data)

	res, err := h.engine(testConfig()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StageValidated, res.Stage)
	assert.Equal(t, int64(1), res.AffectedRows)
	require.Len(t, res.Gaps, 2)
	require.ErrorIs(t, res.GapError(), common.ErrReferenceLookupGap)

	reasons := map[string]string{}
	for _, g := range res.Gaps {
		reasons[g.SurveyID] = g.Reason
	}
	assert.Equal(t, model.GapMissingReference, reasons["NOREF"])
	assert.Equal(t, model.GapAmbiguousReference, reasons["AMB"])
	assert.Equal(t, int64(3), h.futureCount(t))
}

func TestRun_DuplicateIdenticalReferences(t *testing.T) {
	data := surveys.NewBuilder(t).
		WithCorrupted("S1", "2019-03-12", "2030-03-12", 2).
		WithReference("S1", "2019-03-12").
		Build()
	h := newHarness(t, data)

	res, err := h.engine(testConfig()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StageValidated, res.Stage)
	assert.Empty(t, res.Gaps)
	require.Len(t, res.Plan.Entries, 1)
	assert.Equal(t, "2019-03-12", res.Plan.Entries[0].CorrectDate.String())
	assert.Equal(t, int64(2), res.AffectedRows)
	assert.Zero(t, h.futureCount(t))
}

func TestPreview_StaleYears(t *testing.T) {
	data := surveys.NewBuilder(t).
		WithCorrupted("S1", "2019-03-12", "2030-03-12", 1).
		WithMatching("S2", "2018-05-05", 1).
		WithRecord(model.SurveyRecord{SurveyID: "S1", Date: surveys.Date(t, "2030-03-12"), Year: 1999}).
		WithRecord(model.SurveyRecord{SurveyID: "S2", Date: surveys.Date(t, "2018-05-05"), Year: 1999}).
		WithRecord(model.SurveyRecord{SurveyID: "NOREF", Date: surveys.Date(t, "2031-01-01"), Year: 2030}).
		Build()
	h := newHarness(t, data)

	preview, err := h.engine(testConfig()).Preview(context.Background())
	require.NoError(t, err)
	// The planned S1 row is rewritten by the update; S2 and NOREF are not.
	assert.Equal(t, 2, preview.StaleYears)
	assert.Zero(t, StaleYears(data.Records[:2], preview.Plan))
}

// flakySnapshotter fails every call and counts them.
type flakySnapshotter struct {
	calls int
}

func (f *flakySnapshotter) Snapshot(context.Context, model.TableRef) (model.BackupSnapshot, error) {
	f.calls++
	return model.BackupSnapshot{}, common.Transient(errors.New("503"))
}

func TestRun_SnapshotCalledOnce(t *testing.T) {
	h := newHarness(t, corruptedData(t))
	snaps := &flakySnapshotter{}

	res, err := New(h.wh.Records(), h.wh.References(), snaps, testConfig()).Run(context.Background())
	require.ErrorIs(t, err, common.ErrBackupVerification)
	assert.Equal(t, model.StageAborted, res.Stage)
	assert.Equal(t, 1, snaps.calls)
	assert.Equal(t, int64(4), h.futureCount(t))
}

func TestRun_CancelledBeforeBackup(t *testing.T) {
	h := newHarness(t, corruptedData(t))
	records := &countingRecords{RecordStore: h.wh.Records()}
	ctx, cancel := context.WithCancel(context.Background())

	cfg := testConfig()
	cfg.OnTransition = func(tr Transition) {
		if tr.To == model.StagePreviewGenerated {
			cancel()
		}
	}

	res, err := New(records, h.wh.References(), h.manager, cfg).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.StageAborted, res.Stage)
	assert.Nil(t, res.Snapshot)
	assert.Zero(t, records.updates)
}

func TestRun_LowConfidenceAbortsBeforeBackup(t *testing.T) {
	// Two unrelated shifts so no hypothesis explains the data.
	data := surveys.NewBuilder(t).
		WithCorrupted("S1", "2019-03-12", "2030-03-12", 1).
		WithCorrupted("S2", "2018-04-01", "2033-07-09", 1).
		Build()
	h := newHarness(t, data)
	cfg := testConfig()
	cfg.MinConfidence = 0.9

	res, err := h.engine(cfg).Run(context.Background())
	require.ErrorIs(t, err, ErrLowConfidence)
	require.NotNil(t, res.Diagnosis)
	assert.Nil(t, res.Snapshot)
	assert.Equal(t, int64(2), h.futureCount(t))
}

func TestBuildPlan_FutureReferenceIsAGap(t *testing.T) {
	h := newHarness(t, surveys.NewBuilder(t).
		WithCorrupted("S1", "2027-01-01", "2030-03-12", 1).
		Build())

	preview, err := h.engine(testConfig()).Preview(context.Background())
	require.NoError(t, err)
	assert.True(t, preview.Plan.Empty())
	require.Len(t, preview.Gaps, 1)
	assert.Equal(t, model.GapFutureReference, preview.Gaps[0].Reason)
}
