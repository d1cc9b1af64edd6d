package classification

import (
	"sort"

	"cloud.google.com/go/civil"
	"github.com/Veraticus/gridveg-dates/internal/model"
)

// ReferenceIndex maps survey ids to their distinct reference dates, sorted.
type ReferenceIndex struct {
	dates map[string][]civil.Date
}

// NewReferenceIndex de-duplicates references per survey id.
func NewReferenceIndex(references []model.ReferenceRecord) *ReferenceIndex {
	dates := make(map[string][]civil.Date)
	for _, ref := range references {
		existing := dates[ref.SurveyID]
		dup := false
		for _, d := range existing {
			if d == ref.Date {
				dup = true
				break
			}
		}
		if !dup {
			dates[ref.SurveyID] = append(existing, ref.Date)
		}
	}
	for id := range dates {
		ds := dates[id]
		sort.Slice(ds, func(i, j int) bool { return ds[i].Before(ds[j]) })
	}
	return &ReferenceIndex{dates: dates}
}

// Lookup returns the earliest reference date for a survey id.
func (ix *ReferenceIndex) Lookup(surveyID string) (civil.Date, bool) {
	ds, ok := ix.dates[surveyID]
	if !ok || len(ds) == 0 {
		return civil.Date{}, false
	}
	return ds[0], true
}

// Ambiguous returns the survey ids with more than one distinct reference date.
func (ix *ReferenceIndex) Ambiguous() map[string][]civil.Date {
	out := make(map[string][]civil.Date)
	for id, ds := range ix.dates {
		if len(ds) > 1 {
			out[id] = ds
		}
	}
	return out
}

// Has reports whether the survey id has any reference.
func (ix *ReferenceIndex) Has(surveyID string) bool {
	_, ok := ix.dates[surveyID]
	return ok
}

// IDs returns every referenced survey id, sorted.
func (ix *ReferenceIndex) IDs() []string {
	ids := make([]string, 0, len(ix.dates))
	for id := range ix.dates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
