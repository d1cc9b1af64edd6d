// Package engine implements the correction workflow: preview, backup, apply and validate.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"
	"github.com/Veraticus/gridveg-dates/internal/classification"
	"github.com/Veraticus/gridveg-dates/internal/common"
	"github.com/Veraticus/gridveg-dates/internal/model"
	"github.com/Veraticus/gridveg-dates/internal/pattern"
	"github.com/Veraticus/gridveg-dates/internal/service"
)

// ErrLowConfidence is returned when the diagnosed pattern does not reach the
// configured minimum confidence.
var ErrLowConfidence = errors.New("corruption pattern confidence below threshold")

// Snapshotter creates a verified backup of a table. The engine calls
// Snapshot once; implementations own any retry.
type Snapshotter interface {
	Snapshot(ctx context.Context, table model.TableRef) (model.BackupSnapshot, error)
}

// Config holds the options for one correction run. DryRun and Confirmed are
// resolved before the run starts; the engine never prompts.
type Config struct {
	OnTransition  func(Transition)
	Cutoff        civil.Date
	Analysis      pattern.Config
	Retry         common.RetryOptions
	MinConfidence float64
	SampleSize    int
	DryRun        bool
	Confirmed     bool
}

// DefaultConfig returns a dry-run configuration with the cutoff at the end
// of the current year.
func DefaultConfig() Config {
	return Config{
		Cutoff:     model.EndOfYear(time.Now().Year()),
		Analysis:   pattern.DefaultConfig(),
		Retry:      common.DefaultRetryOptions(),
		SampleSize: 5,
		DryRun:     true,
	}
}

// CorrectionEngine orchestrates a correction run.
type CorrectionEngine struct {
	records    service.RecordStore
	references service.ReferenceStore
	backups    Snapshotter
	now        func() time.Time
	cfg        Config
}

// New creates a correction engine.
func New(records service.RecordStore, references service.ReferenceStore, backups Snapshotter, cfg Config) *CorrectionEngine {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 5
	}
	return &CorrectionEngine{
		records:    records,
		references: references,
		backups:    backups,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Preview is the materialized input and derived plan of a run.
type Preview struct {
	Plan           *model.CorrectionPlan
	Records        []model.SurveyRecord
	References     []model.ReferenceRecord
	Gaps           []model.ReferenceGap
	Classification classification.Result
	StaleYears     int
}

// Preview loads both tables, classifies every record and builds the plan.
// It never mutates anything.
func (e *CorrectionEngine) Preview(ctx context.Context) (*Preview, error) {
	records, err := common.WithRetryValue(ctx, func() ([]model.SurveyRecord, error) {
		return e.records.Query(ctx, service.All())
	}, e.cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("failed to load records from %s: %w", e.records.Table(), err)
	}

	references, err := common.WithRetryValue(ctx, func() ([]model.ReferenceRecord, error) {
		return e.references.QueryAll(ctx)
	}, e.cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("failed to load references from %s: %w", e.references.Table(), err)
	}

	result := classification.Classify(records, references, e.cfg.Cutoff)
	plan, gaps := BuildPlan(result, e.now().UTC())

	return &Preview{
		Records:        records,
		References:     references,
		Classification: result,
		Plan:           plan,
		Gaps:           gaps,
		StaleYears:     StaleYears(records, plan),
	}, nil
}

// Run drives the state machine from idle to a terminal or halting stage.
// The returned error is the failure that aborted the run, if any; the
// result is always populated.
func (e *CorrectionEngine) Run(ctx context.Context) (*RunResult, error) {
	res := &RunResult{Stage: model.StageIdle, DryRun: e.cfg.DryRun}
	slog.Info("Starting correction run",
		"table", e.records.Table().String(),
		"reference_table", e.references.Table().String(),
		"cutoff", e.cfg.Cutoff.String(),
		"dry_run", e.cfg.DryRun)

	preview, err := e.Preview(ctx)
	if err != nil {
		return e.abort(res, "preview", err, false)
	}
	res.Classification = preview.Classification
	res.Plan = preview.Plan
	res.Gaps = preview.Gaps
	res.StaleYears = preview.StaleYears
	e.logPreview(preview)
	e.transition(res, model.StagePreviewGenerated,
		fmt.Sprintf("%d surveys, %d rows to correct, %d gaps", len(preview.Plan.Entries), preview.Plan.TotalRows(), len(preview.Gaps)))

	if e.cfg.MinConfidence > 0 {
		diag := pattern.NewAnalyzer(e.cfg.Analysis).Analyze(preview.Classification.Mismatched())
		res.Diagnosis = &diag
	}

	if e.cfg.DryRun {
		slog.Info("Dry run complete, no changes made")
		return res, nil
	}
	if preview.Plan.Empty() {
		res.NothingToCorrect = true
		slog.Info("Nothing to correct")
		return res, nil
	}
	if res.Diagnosis != nil {
		if _, ok := res.Diagnosis.Recommendation(e.cfg.MinConfidence); !ok {
			best, _ := res.Diagnosis.Best()
			return e.abort(res, "diagnosis",
				fmt.Errorf("%w: best hypothesis %s scored %.2f, need %.2f", ErrLowConfidence, best.Name, best.Score, e.cfg.MinConfidence), false)
		}
	}
	if !e.cfg.Confirmed {
		return e.abort(res, "confirmation", common.ErrNotConfirmed, false)
	}
	if err := ctx.Err(); err != nil {
		return e.abort(res, "backup", err, false)
	}

	snapshot, err := e.backups.Snapshot(ctx, e.records.Table())
	if err == nil && !snapshot.Verified {
		err = fmt.Errorf("%w: snapshot at %s is not verified", common.ErrBackupVerification, snapshot.Location)
	}
	if err != nil {
		if !errors.Is(err, common.ErrBackupVerification) {
			err = fmt.Errorf("%w: %w", common.ErrBackupVerification, err)
		}
		return e.abort(res, "backup", err, false)
	}
	res.Snapshot = &snapshot
	e.transition(res, model.StageBackupCreated,
		fmt.Sprintf("%d objects at %s", snapshot.ObjectCount, snapshot.Location))

	// Last point at which an interrupt stops the run.
	if err := ctx.Err(); err != nil {
		return e.abort(res, "apply", err, false)
	}

	// Once issued, the update and its validation run to completion.
	applyCtx := context.WithoutCancel(ctx)
	update := service.BulkUpdate{
		JoinKey:   service.JoinKeySurveyID,
		SurveyIDs: preview.Plan.SurveyIDs(),
		DateAfter: e.cfg.Cutoff,
	}
	affected, err := e.records.BulkUpdate(applyCtx, update)
	if err != nil {
		return e.abort(res, "apply", fmt.Errorf("%w: %w", common.ErrApplyFailed, err), false)
	}
	res.AffectedRows = affected
	if int(affected) != preview.Plan.TotalRows() {
		slog.Warn("Affected rows differ from plan",
			"affected", affected,
			"planned", preview.Plan.TotalRows())
	}
	e.transition(res, model.StageApplied, fmt.Sprintf("%d rows updated", affected))

	if err := e.validate(applyCtx, res); err != nil {
		return e.abort(res, "validate", err, true)
	}
	e.transition(res, model.StageValidated, "no future dates, years consistent")
	common.LogInfo("Correction complete", common.Fields{
		"table":         e.records.Table().String(),
		"affected_rows": res.AffectedRows,
		"backup":        snapshot.Location,
		"gaps":          len(res.Gaps),
	})
	return res, nil
}

func (e *CorrectionEngine) validate(ctx context.Context, res *RunResult) error {
	future := service.FutureDates(e.cfg.Cutoff)
	future.ExcludeSurveyIDs = gapIDs(res.Gaps, e.cfg.Cutoff)

	remaining, err := common.WithRetryValue(ctx, func() (int64, error) {
		return e.records.Count(ctx, future)
	}, e.cfg.Retry)
	if err != nil {
		return fmt.Errorf("failed to count future dates: %w", err)
	}
	res.RemainingFuture = remaining
	if remaining > 0 {
		return fmt.Errorf("%w: %d records still dated after %s", common.ErrDateValidation, remaining, e.cfg.Cutoff)
	}

	mismatched, err := common.WithRetryValue(ctx, func() (int64, error) {
		return e.records.Count(ctx, service.YearMismatches())
	}, e.cfg.Retry)
	if err != nil {
		return fmt.Errorf("failed to count year mismatches: %w", err)
	}
	res.YearMismatches = mismatched
	if mismatched > 0 {
		return fmt.Errorf("%w: %d records have a year that disagrees with their date", common.ErrYearMismatch, mismatched)
	}
	return nil
}

func (e *CorrectionEngine) transition(res *RunResult, to model.Stage, detail string) {
	t := Transition{At: e.now().UTC(), From: res.Stage, To: to, Detail: detail}
	res.History = append(res.History, t)
	res.Stage = to
	slog.Info("Stage transition",
		"from", string(t.From),
		"to", string(t.To),
		"detail", detail)
	if e.cfg.OnTransition != nil {
		e.cfg.OnTransition(t)
	}
}

func (e *CorrectionEngine) abort(res *RunResult, stage string, err error, unsafe bool) (*RunResult, error) {
	stageErr := &common.StageError{Stage: stage, Err: err, Unsafe: unsafe}
	res.Err = stageErr
	e.transition(res, model.StageAborted, stageErr.Error())

	fields := common.Fields{"stage": stage, "unsafe": unsafe}
	if res.Snapshot != nil {
		fields["backup"] = res.Snapshot.Location
	}
	common.LogError(err, "Correction run aborted", fields)
	return res, stageErr
}

func (e *CorrectionEngine) logPreview(p *Preview) {
	counts := p.Classification.Counts
	slog.Info("Classification complete",
		"records", p.Classification.Records,
		"pairs", counts.Total(),
		"future", counts[model.StatusFutureDate],
		"mismatch", counts[model.StatusDateMismatch],
		"missing", counts[model.StatusMissingReference],
		"match", counts[model.StatusMatch])
	if p.StaleYears > 0 {
		slog.Warn("Records with an inconsistent year are outside the plan; validation will fail after apply",
			"records", p.StaleYears)
	}

	for i, entry := range p.Plan.Entries {
		if i >= e.cfg.SampleSize {
			break
		}
		slog.Info("Planned correction",
			"survey_id", entry.SurveyID,
			"from", entry.IncorrectDate.String(),
			"to", entry.CorrectDate.String(),
			"rows", entry.AffectedRows)
	}
	for i, g := range p.Gaps {
		if i >= e.cfg.SampleSize {
			break
		}
		slog.Warn("Reference lookup gap",
			"survey_id", g.SurveyID,
			"reason", g.Reason,
			"record_date", g.RecordDate.String(),
			"rows", g.RowCount)
	}
}
