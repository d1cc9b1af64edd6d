// Package storage provides the SQL warehouse adapters (SQLite and PostgreSQL).
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Veraticus/gridveg-dates/internal/model"
	"github.com/Veraticus/gridveg-dates/internal/service"
)

// Validation errors.
var (
	ErrNilContext       = errors.New("context cannot be nil")
	ErrEmptyString      = errors.New("string parameter cannot be empty")
	ErrEmptySlice       = errors.New("slice cannot be empty")
	ErrInvalidTableName = errors.New("invalid table name")
	ErrInvalidRecord    = errors.New("invalid survey record")
	ErrInvalidReference = errors.New("invalid reference record")
	ErrInvalidUpdate    = errors.New("invalid bulk update")
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateTableName guards identifiers that are interpolated into SQL.
func validateTableName(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	return nil
}

func validateRecords(records []model.SurveyRecord) error {
	if len(records) == 0 {
		return fmt.Errorf("%w: records", ErrEmptySlice)
	}
	for i, r := range records {
		if strings.TrimSpace(r.SurveyID) == "" {
			return fmt.Errorf("record at index %d: %w: missing survey id", i, ErrInvalidRecord)
		}
		if !r.Date.IsValid() {
			return fmt.Errorf("record at index %d: %w: invalid date %s", i, ErrInvalidRecord, r.Date)
		}
	}
	return nil
}

func validateReferences(refs []model.ReferenceRecord) error {
	if len(refs) == 0 {
		return fmt.Errorf("%w: references", ErrEmptySlice)
	}
	for i, r := range refs {
		if strings.TrimSpace(r.SurveyID) == "" {
			return fmt.Errorf("reference at index %d: %w: missing survey id", i, ErrInvalidReference)
		}
		if !r.Date.IsValid() {
			return fmt.Errorf("reference at index %d: %w: invalid date %s", i, ErrInvalidReference, r.Date)
		}
	}
	return nil
}

// validateBulkUpdate refuses statements that could touch rows outside a plan.
func validateBulkUpdate(u service.BulkUpdate) error {
	if u.JoinKey != service.JoinKeySurveyID {
		return fmt.Errorf("%w: unsupported join key %q", ErrInvalidUpdate, u.JoinKey)
	}
	if len(u.SurveyIDs) == 0 {
		return fmt.Errorf("%w: no survey ids", ErrInvalidUpdate)
	}
	if !u.DateAfter.IsValid() {
		return fmt.Errorf("%w: invalid cutoff %s", ErrInvalidUpdate, u.DateAfter)
	}
	return nil
}
