// Package surveys provides a fluent builder for survey and reference test
// data, mirroring the corruption seen in production exports.
//
// Example usage:
//
//	data := surveys.NewBuilder(t).
//		WithCorrupted("S1", "2019-03-12", "2030-03-12", 2).
//		WithMatching("S2", "2018-05-05", 1).
//		Build()
//
//	wh := testutil.SetupTestWarehouse(t, data)
package surveys

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/Veraticus/gridveg-dates/internal/model"
)

// Data is the seed content for a warehouse.
type Data struct {
	Records    []model.SurveyRecord
	References []model.ReferenceRecord
}

// Builder assembles survey records and references.
type Builder struct {
	t        *testing.T
	data     Data
	nextGrid int64
}

// NewBuilder returns an empty builder.
func NewBuilder(t *testing.T) *Builder {
	t.Helper()
	return &Builder{t: t, nextGrid: 1}
}

// Date parses YYYY-MM-DD or fails the test.
func Date(t *testing.T, s string) civil.Date {
	t.Helper()
	d, err := civil.ParseDate(s)
	if err != nil {
		t.Fatalf("invalid test date %q: %v", s, err)
	}
	return d
}

func (b *Builder) addRecords(id string, date civil.Date, year, rows int) {
	for i := 0; i < rows; i++ {
		gp := b.nextGrid
		b.nextGrid++
		b.data.Records = append(b.data.Records, model.SurveyRecord{
			GridPoint: &gp,
			SurveyID:  id,
			Date:      date,
			Year:      year,
		})
	}
}

// WithReference adds a reference row without any records.
func (b *Builder) WithReference(id, referenceDate string) *Builder {
	b.t.Helper()
	b.data.References = append(b.data.References, model.ReferenceRecord{SurveyID: id, Date: Date(b.t, referenceDate)})
	return b
}

// WithCorrupted adds rows carrying recordDate whose reference holds referenceDate.
func (b *Builder) WithCorrupted(id, referenceDate, recordDate string, rows int) *Builder {
	b.t.Helper()
	rec := Date(b.t, recordDate)
	b.addRecords(id, rec, rec.Year, rows)
	return b.WithReference(id, referenceDate)
}

// WithMatching adds rows that already agree with their reference.
func (b *Builder) WithMatching(id, date string, rows int) *Builder {
	b.t.Helper()
	return b.WithCorrupted(id, date, date, rows)
}

// WithUnreferenced adds rows whose survey id has no reference.
func (b *Builder) WithUnreferenced(id, recordDate string, rows int) *Builder {
	b.t.Helper()
	rec := Date(b.t, recordDate)
	b.addRecords(id, rec, rec.Year, rows)
	return b
}

// WithRecord adds one raw record, e.g. with an inconsistent year.
func (b *Builder) WithRecord(record model.SurveyRecord) *Builder {
	b.data.Records = append(b.data.Records, record)
	return b
}

// Build returns the assembled data.
func (b *Builder) Build() Data {
	return b.data
}
