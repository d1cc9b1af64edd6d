// Package service defines the interfaces for all application services.
package service

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/Veraticus/gridveg-dates/internal/model"
	"github.com/Veraticus/gridveg-dates/internal/objectstore"
)

// JoinKeySurveyID is the column shared by the survey and reference tables.
const JoinKeySurveyID = "survey_ID"

// Predicate filters survey records. Zero-valued fields are ignored; set
// fields are combined with AND.
type Predicate struct {
	DateAfter        *civil.Date
	SurveyIDs        []string
	ExcludeSurveyIDs []string
	YearMismatch     bool
}

// All matches every record.
func All() Predicate { return Predicate{} }

// FutureDates matches records dated after cutoff.
func FutureDates(cutoff civil.Date) Predicate {
	return Predicate{DateAfter: &cutoff}
}

// YearMismatches matches records whose year column disagrees with their date.
func YearMismatches() Predicate {
	return Predicate{YearMismatch: true}
}

// BulkUpdate describes the single set-based correction statement: every
// record joined to the reference table on JoinKey, whose survey id is in
// SurveyIDs and whose date is after DateAfter, takes the reference date and
// its year.
type BulkUpdate struct {
	JoinKey   string
	SurveyIDs []string
	DateAfter civil.Date
}

// RecordStore gives typed read/write access to the corrupted survey table.
type RecordStore interface {
	Query(ctx context.Context, filter Predicate) ([]model.SurveyRecord, error)
	// BulkUpdate must apply atomically: all eligible rows change or none do.
	BulkUpdate(ctx context.Context, update BulkUpdate) (int64, error)
	Count(ctx context.Context, filter Predicate) (int64, error)
	Table() model.TableRef
}

// ReferenceStore gives read-only access to the authoritative table.
type ReferenceStore interface {
	QueryAll(ctx context.Context) ([]model.ReferenceRecord, error)
	Table() model.TableRef
}

// TableExtractor writes the full contents of a table as CSV objects under
// prefix in store.
type TableExtractor interface {
	Extract(ctx context.Context, table model.TableRef, store objectstore.Store, prefix string) error
}

// Warehouse bundles the adapters one backend provides.
type Warehouse interface {
	Records() RecordStore
	References() ReferenceStore
	Extractor() TableExtractor
	Close() error
}
