package engine

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/Veraticus/gridveg-dates/internal/classification"
	"github.com/Veraticus/gridveg-dates/internal/model"
)

// BuildPlan turns future_date discrepancies into plan entries. Survey ids
// without a usable reference are returned as gaps and left untouched.
func BuildPlan(result classification.Result, generatedAt time.Time) (*model.CorrectionPlan, []model.ReferenceGap) {
	plan := &model.CorrectionPlan{
		GeneratedAt: generatedAt,
		Cutoff:      result.Cutoff,
	}

	var gaps []model.ReferenceGap
	excluded := make(map[string]string)
	for _, d := range result.Discrepancies {
		if d.Status != model.StatusFutureDate {
			continue
		}
		switch {
		case result.IsAmbiguous(d.SurveyID):
			excluded[d.SurveyID] = model.GapAmbiguousReference
		case d.ReferenceDate.After(result.Cutoff):
			excluded[d.SurveyID] = model.GapFutureReference
		}
	}

	for _, d := range result.Discrepancies {
		if d.Status == model.StatusMissingReference {
			gaps = append(gaps, gap(d, model.GapMissingReference))
			continue
		}
		if d.Status != model.StatusFutureDate {
			continue
		}
		if reason, ok := excluded[d.SurveyID]; ok {
			gaps = append(gaps, gap(d, reason))
			continue
		}
		plan.Entries = append(plan.Entries, entry(d))
	}
	return plan, gaps
}

// StaleYears counts records whose year disagrees with their date and that
// the plan's update will not rewrite. Each one fails validation after apply.
func StaleYears(records []model.SurveyRecord, plan *model.CorrectionPlan) int {
	planned := make(map[string]bool, len(plan.Entries))
	for _, e := range plan.Entries {
		planned[e.SurveyID] = true
	}
	n := 0
	for _, r := range records {
		if r.YearConsistent() {
			continue
		}
		if planned[r.SurveyID] && r.Date.After(plan.Cutoff) {
			continue
		}
		n++
	}
	return n
}

func entry(d model.Discrepancy) model.PlanEntry {
	correct := *d.ReferenceDate
	return model.PlanEntry{
		SurveyID:      d.SurveyID,
		IncorrectDate: d.RecordDate,
		CorrectDate:   correct,
		IncorrectYear: d.RecordDate.Year,
		CorrectYear:   correct.Year,
		AffectedRows:  d.RowCount,
	}
}

func gap(d model.Discrepancy, reason string) model.ReferenceGap {
	return model.ReferenceGap{
		SurveyID:   d.SurveyID,
		Reason:     reason,
		RecordDate: d.RecordDate,
		RowCount:   d.RowCount,
	}
}

// gapIDs returns the distinct survey ids of gaps dated after cutoff. Those
// rows are known to remain in the future after a correction.
func gapIDs(gaps []model.ReferenceGap, cutoff civil.Date) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, g := range gaps {
		if !g.RecordDate.After(cutoff) || seen[g.SurveyID] {
			continue
		}
		seen[g.SurveyID] = true
		ids = append(ids, g.SurveyID)
	}
	return ids
}
