package classification

import (
	"sort"

	"cloud.google.com/go/civil"
	"github.com/Veraticus/gridveg-dates/internal/model"
)

// DateCount is the number of records carrying one date.
type DateCount struct {
	Date    civil.Date
	Records int
}

// Coverage summarizes how well the reference table covers the records.
type Coverage struct {
	MinDate                civil.Date
	MaxDate                civil.Date
	OnlyInRecords          []string
	OnlyInReferences       []string
	Distribution           []DateCount
	DistinctPairs          int
	Matched                int
	Unmatched              int
	FutureWithoutReference int
}

// Percent is the share of distinct pairs that found a reference, 0..100.
func (c Coverage) Percent() float64 {
	if c.DistinctPairs == 0 {
		return 0
	}
	return float64(c.Matched) / float64(c.DistinctPairs) * 100
}

// ComputeCoverage reports join coverage between records and references.
func ComputeCoverage(records []model.SurveyRecord, references []model.ReferenceRecord, cutoff civil.Date) Coverage {
	index := NewReferenceIndex(references)
	var cov Coverage

	seenPairs := make(map[pairKey]bool)
	recordIDs := make(map[string]bool)
	perDate := make(map[civil.Date]int)

	for i, r := range records {
		recordIDs[r.SurveyID] = true
		perDate[r.Date]++
		if i == 0 || r.Date.Before(cov.MinDate) {
			cov.MinDate = r.Date
		}
		if i == 0 || r.Date.After(cov.MaxDate) {
			cov.MaxDate = r.Date
		}

		key := pairKey{surveyID: r.SurveyID, date: r.Date}
		if seenPairs[key] {
			continue
		}
		seenPairs[key] = true
		cov.DistinctPairs++
		if index.Has(r.SurveyID) {
			cov.Matched++
			continue
		}
		cov.Unmatched++
		if r.Date.After(cutoff) {
			cov.FutureWithoutReference++
		}
	}

	for id := range recordIDs {
		if !index.Has(id) {
			cov.OnlyInRecords = append(cov.OnlyInRecords, id)
		}
	}
	sort.Strings(cov.OnlyInRecords)

	for _, id := range index.IDs() {
		if !recordIDs[id] {
			cov.OnlyInReferences = append(cov.OnlyInReferences, id)
		}
	}

	cov.Distribution = make([]DateCount, 0, len(perDate))
	for d, n := range perDate {
		cov.Distribution = append(cov.Distribution, DateCount{Date: d, Records: n})
	}
	sort.Slice(cov.Distribution, func(i, j int) bool {
		return cov.Distribution[i].Date.Before(cov.Distribution[j].Date)
	})

	return cov
}
