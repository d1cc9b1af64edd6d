// Package model defines the core domain models used throughout the application.
package model

import (
	"fmt"

	"cloud.google.com/go/civil"
)

// SurveyRecord is one row of the corrupted survey table.
type SurveyRecord struct {
	GridPoint *int64 // nullable in the source export
	SurveyID  string
	Date      civil.Date
	Year      int
}

// YearConsistent reports whether the year column agrees with the date.
func (r SurveyRecord) YearConsistent() bool {
	return r.Year == r.Date.Year
}

// ReferenceRecord is one row of the authoritative survey metadata table.
type ReferenceRecord struct {
	SurveyID string
	Date     civil.Date
}

// TableRef identifies a warehouse table.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

// String renders the fully qualified project.dataset.table name.
func (t TableRef) String() string {
	if t.Project == "" {
		return fmt.Sprintf("%s.%s", t.Dataset, t.Table)
	}
	return fmt.Sprintf("%s.%s.%s", t.Project, t.Dataset, t.Table)
}

// WithTable returns a copy of t pointing at a sibling table in the same dataset.
func (t TableRef) WithTable(table string) TableRef {
	t.Table = table
	return t
}

// EndOfYear returns December 31st of the given year.
func EndOfYear(year int) civil.Date {
	return civil.Date{Year: year, Month: 12, Day: 31}
}
