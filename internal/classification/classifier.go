// Package classification joins survey records to their reference dates and
// assigns each distinct (survey id, date) pair a discrepancy status.
package classification

import (
	"sort"

	"cloud.google.com/go/civil"
	"github.com/Veraticus/gridveg-dates/internal/model"
)

// Result is the outcome of one classification pass.
type Result struct {
	Counts        model.StatusCounts
	Ambiguous     map[string][]civil.Date
	Discrepancies []model.Discrepancy
	Cutoff        civil.Date
	Records       int
}

// ByStatus returns the discrepancies with the given status, in report order.
func (r Result) ByStatus(status model.DiscrepancyStatus) []model.Discrepancy {
	var out []model.Discrepancy
	for _, d := range r.Discrepancies {
		if d.Status == status {
			out = append(out, d)
		}
	}
	return out
}

// Mismatched returns the future_date and date_mismatch rows, which all carry
// a reference date.
func (r Result) Mismatched() []model.Discrepancy {
	var out []model.Discrepancy
	for _, d := range r.Discrepancies {
		if d.Status == model.StatusFutureDate || d.Status == model.StatusDateMismatch {
			out = append(out, d)
		}
	}
	return out
}

// IsAmbiguous reports whether the survey id has more than one reference date.
func (r Result) IsAmbiguous(surveyID string) bool {
	_, ok := r.Ambiguous[surveyID]
	return ok
}

type pairKey struct {
	surveyID string
	date     civil.Date
}

// Classify produces one Discrepancy per distinct (survey_id, record date)
// pair in records. Status precedence: missing_reference, future_date,
// date_mismatch, match.
func Classify(records []model.SurveyRecord, references []model.ReferenceRecord, cutoff civil.Date) Result {
	index := NewReferenceIndex(references)

	rowCounts := make(map[pairKey]int, len(records))
	pairs := make([]pairKey, 0, len(records))
	for _, r := range records {
		key := pairKey{surveyID: r.SurveyID, date: r.Date}
		if rowCounts[key] == 0 {
			pairs = append(pairs, key)
		}
		rowCounts[key]++
	}

	counts := make(model.StatusCounts, len(model.AllStatuses))
	discrepancies := make([]model.Discrepancy, 0, len(pairs))
	for _, key := range pairs {
		d := model.Discrepancy{
			SurveyID:   key.surveyID,
			RecordDate: key.date,
			RowCount:   rowCounts[key],
		}
		ref, ok := index.Lookup(key.surveyID)
		if ok {
			refDate := ref
			d.ReferenceDate = &refDate
		}
		d.Status = status(key.date, d.ReferenceDate, cutoff)
		counts[d.Status]++
		discrepancies = append(discrepancies, d)
	}

	for i := range discrepancies {
		discrepancies[i].CategoryCount = counts[discrepancies[i].Status]
	}
	sortReportOrder(discrepancies)

	return Result{
		Discrepancies: discrepancies,
		Counts:        counts,
		Ambiguous:     index.Ambiguous(),
		Cutoff:        cutoff,
		Records:       len(records),
	}
}

func status(recordDate civil.Date, referenceDate *civil.Date, cutoff civil.Date) model.DiscrepancyStatus {
	switch {
	case referenceDate == nil:
		return model.StatusMissingReference
	case recordDate.After(cutoff):
		return model.StatusFutureDate
	case recordDate != *referenceDate:
		return model.StatusDateMismatch
	default:
		return model.StatusMatch
	}
}

func statusRank(s model.DiscrepancyStatus) int {
	for i, st := range model.AllStatuses {
		if st == s {
			return i
		}
	}
	return len(model.AllStatuses)
}

func sortReportOrder(ds []model.Discrepancy) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if ra, rb := statusRank(a.Status), statusRank(b.Status); ra != rb {
			return ra < rb
		}
		if a.RecordDate != b.RecordDate {
			return a.RecordDate.Before(b.RecordDate)
		}
		return a.SurveyID < b.SurveyID
	})
}
