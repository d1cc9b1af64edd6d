package engine

import (
	"fmt"
	"time"

	"github.com/Veraticus/gridveg-dates/internal/classification"
	"github.com/Veraticus/gridveg-dates/internal/common"
	"github.com/Veraticus/gridveg-dates/internal/model"
	"github.com/Veraticus/gridveg-dates/internal/pattern"
)

// Transition records one stage change.
type Transition struct {
	At     time.Time
	From   model.Stage
	To     model.Stage
	Detail string
}

// RunResult describes how far a correction run got and what it did.
type RunResult struct {
	Err              error
	Plan             *model.CorrectionPlan
	Snapshot         *model.BackupSnapshot
	Diagnosis        *pattern.Diagnosis
	Classification   classification.Result
	Stage            model.Stage
	History          []Transition
	Gaps             []model.ReferenceGap
	AffectedRows     int64
	RemainingFuture  int64
	YearMismatches   int64
	StaleYears       int
	DryRun           bool
	NothingToCorrect bool
}

// Succeeded reports whether the run stopped in a clean terminal state.
func (r *RunResult) Succeeded() bool {
	return r.Err == nil && r.Stage.Successful()
}

// Mutated reports whether the bulk update committed.
func (r *RunResult) Mutated() bool {
	for _, t := range r.History {
		if t.To == model.StageApplied {
			return true
		}
	}
	return false
}

// GapError summarizes the reference gaps as a non-fatal error, or nil.
func (r *RunResult) GapError() error {
	if len(r.Gaps) == 0 {
		return nil
	}
	rows := 0
	for _, g := range r.Gaps {
		rows += g.RowCount
	}
	return fmt.Errorf("%w: %d survey dates (%d rows) left uncorrected", common.ErrReferenceLookupGap, len(r.Gaps), rows)
}
