package model

import "cloud.google.com/go/civil"

// DiscrepancyStatus describes how a record's date relates to the reference date.
type DiscrepancyStatus string

// Discrepancy status constants, in precedence order.
const (
	StatusMissingReference DiscrepancyStatus = "missing_reference"
	StatusFutureDate       DiscrepancyStatus = "future_date"
	StatusDateMismatch     DiscrepancyStatus = "date_mismatch"
	StatusMatch            DiscrepancyStatus = "match"
)

// AllStatuses lists every status in report order.
var AllStatuses = []DiscrepancyStatus{
	StatusFutureDate,
	StatusDateMismatch,
	StatusMissingReference,
	StatusMatch,
}

// String returns the human readable label used in reports.
func (s DiscrepancyStatus) String() string {
	switch s {
	case StatusMissingReference:
		return "Missing Reference"
	case StatusFutureDate:
		return "Future Date"
	case StatusDateMismatch:
		return "Date Mismatch"
	case StatusMatch:
		return "Match"
	default:
		return string(s)
	}
}

// Discrepancy is the classification of one distinct (survey_id, record date) pair.
// It is derived on every classification pass and never stored.
type Discrepancy struct {
	ReferenceDate *civil.Date
	SurveyID      string
	Status        DiscrepancyStatus
	RecordDate    civil.Date
	RowCount      int
	CategoryCount int
}

// HasReference reports whether the discrepancy joined a reference row.
func (d Discrepancy) HasReference() bool {
	return d.ReferenceDate != nil
}

// StatusCounts holds the number of discrepancies per status.
type StatusCounts map[DiscrepancyStatus]int

// Total returns the number of classified pairs.
func (c StatusCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Percent returns the share of a status in the partition, 0..100.
func (c StatusCounts) Percent(status DiscrepancyStatus) float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	return float64(c[status]) / float64(total) * 100
}
