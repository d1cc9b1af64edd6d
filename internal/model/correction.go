package model

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"
)

// Stage is a state of the correction workflow.
type Stage string

// Correction workflow stages.
const (
	StageIdle             Stage = "idle"
	StagePreviewGenerated Stage = "preview_generated"
	StageBackupCreated    Stage = "backup_created"
	StageApplied          Stage = "applied"
	StageValidated        Stage = "validated"
	StageAborted          Stage = "aborted"
)

// Terminal reports whether no further transition can leave the stage.
func (s Stage) Terminal() bool {
	return s == StageValidated || s == StageAborted
}

// Successful reports whether a run that stopped at s exits cleanly.
func (s Stage) Successful() bool {
	return s == StagePreviewGenerated || s == StageValidated
}

// PlanEntry is the correction for one survey id and incorrect date.
type PlanEntry struct {
	SurveyID      string
	IncorrectDate civil.Date
	CorrectDate   civil.Date
	IncorrectYear int
	CorrectYear   int
	AffectedRows  int
}

// CorrectionPlan is produced once per run by the preview stage and consumed by apply.
type CorrectionPlan struct {
	GeneratedAt time.Time
	Cutoff      civil.Date
	Entries     []PlanEntry
}

// SurveyIDs returns the distinct survey ids in the plan, sorted.
func (p *CorrectionPlan) SurveyIDs() []string {
	if p == nil {
		return nil
	}
	seen := make(map[string]bool, len(p.Entries))
	ids := make([]string, 0, len(p.Entries))
	for _, e := range p.Entries {
		if seen[e.SurveyID] {
			continue
		}
		seen[e.SurveyID] = true
		ids = append(ids, e.SurveyID)
	}
	sort.Strings(ids)
	return ids
}

// TotalRows is the number of records the plan expects to update.
func (p *CorrectionPlan) TotalRows() int {
	if p == nil {
		return 0
	}
	total := 0
	for _, e := range p.Entries {
		total += e.AffectedRows
	}
	return total
}

// Empty reports whether there is nothing to correct.
func (p *CorrectionPlan) Empty() bool {
	return p == nil || len(p.Entries) == 0
}

// DateRange holds the min and max of a set of dates.
type DateRange struct {
	Min civil.Date
	Max civil.Date
}

// IncorrectRange returns the span of dates being replaced.
func (p *CorrectionPlan) IncorrectRange() DateRange {
	return p.dateRange(func(e PlanEntry) civil.Date { return e.IncorrectDate })
}

// CorrectRange returns the span of replacement dates.
func (p *CorrectionPlan) CorrectRange() DateRange {
	return p.dateRange(func(e PlanEntry) civil.Date { return e.CorrectDate })
}

func (p *CorrectionPlan) dateRange(pick func(PlanEntry) civil.Date) DateRange {
	var r DateRange
	if p.Empty() {
		return r
	}
	for i, e := range p.Entries {
		d := pick(e)
		if i == 0 || d.Before(r.Min) {
			r.Min = d
		}
		if i == 0 || d.After(r.Max) {
			r.Max = d
		}
	}
	return r
}

// ReferenceGap is a record excluded from correction for lack of a usable reference.
type ReferenceGap struct {
	SurveyID   string
	Reason     string
	RecordDate civil.Date
	RowCount   int
}

// Gap reasons.
const (
	GapMissingReference   = "missing_reference"
	GapAmbiguousReference = "ambiguous_reference"
	// GapFutureReference marks a reference that is itself after the cutoff.
	GapFutureReference = "future_reference"
)
