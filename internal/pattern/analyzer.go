// Package pattern diagnoses the systematic transformation behind mismatched
// survey dates. It never mutates data.
package pattern

import (
	"fmt"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/Veraticus/gridveg-dates/internal/model"
)

// Hypothesis names.
const (
	HypothesisYearOffset    = "year_offset"
	HypothesisTransposition = "field_transposition"
)

// DefaultThreshold is the minimum score Recommendation accepts by default.
const DefaultThreshold = 0.90

// Config tunes the analyzer.
type Config struct {
	MaxOffset  int
	Century    int
	SampleSize int
}

// DefaultConfig returns the analyzer defaults.
func DefaultConfig() Config {
	return Config{MaxOffset: 15, Century: 2000, SampleSize: 5}
}

// Sample is one row as seen by a hypothesis.
type Sample struct {
	Reconstructed *civil.Date
	SurveyID      string
	Note          string
	RecordDate    civil.Date
	ReferenceDate civil.Date
	Match         bool
}

// HypothesisResult is the match rate of one corruption hypothesis.
type HypothesisResult struct {
	Name        string
	Description string
	Samples     []Sample
	Parameter   int
	Matches     int
	Total       int
	Score       float64
}

// Diagnosis is the full analyzer output.
type Diagnosis struct {
	Hypotheses []HypothesisResult
	Components ComponentStats
	Total      int
}

// Best returns the highest ranked hypothesis.
func (d Diagnosis) Best() (HypothesisResult, bool) {
	if len(d.Hypotheses) == 0 {
		return HypothesisResult{}, false
	}
	return d.Hypotheses[0], true
}

// Recommendation returns the best hypothesis when its score meets threshold.
func (d Diagnosis) Recommendation(threshold float64) (HypothesisResult, bool) {
	best, ok := d.Best()
	if !ok || best.Total == 0 || best.Score < threshold {
		return HypothesisResult{}, false
	}
	return best, true
}

// Analyzer tests corruption hypotheses against mismatched rows.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer creates an analyzer. Zero config fields take their defaults.
func NewAnalyzer(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.MaxOffset <= 0 {
		cfg.MaxOffset = def.MaxOffset
	}
	if cfg.Century <= 0 {
		cfg.Century = def.Century
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = def.SampleSize
	}
	return &Analyzer{cfg: cfg}
}

type pair struct {
	surveyID  string
	record    civil.Date
	reference civil.Date
}

// Analyze runs every hypothesis over the rows that carry a reference date
// differing from the record date. Other rows are ignored.
func (a *Analyzer) Analyze(rows []model.Discrepancy) Diagnosis {
	pairs := make([]pair, 0, len(rows))
	for _, r := range rows {
		if r.ReferenceDate == nil || *r.ReferenceDate == r.RecordDate {
			continue
		}
		pairs = append(pairs, pair{surveyID: r.SurveyID, record: r.RecordDate, reference: *r.ReferenceDate})
	}

	hypotheses := []HypothesisResult{
		a.yearOffset(pairs),
		a.transposition(pairs),
	}
	sort.SliceStable(hypotheses, func(i, j int) bool {
		return hypotheses[i].Score > hypotheses[j].Score
	})

	return Diagnosis{
		Hypotheses: hypotheses,
		Components: a.components(pairs),
		Total:      len(pairs),
	}
}

func score(matches, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(matches) / float64(total)
}

// yearOffset finds the offset n for which record + n years most often equals
// the reference. Ties go to the smaller magnitude, then the positive sign.
func (a *Analyzer) yearOffset(pairs []pair) HypothesisResult {
	best, bestMatches := 0, -1
	for abs := 1; abs <= a.cfg.MaxOffset; abs++ {
		for _, offset := range []int{abs, -abs} {
			matches := 0
			for _, p := range pairs {
				if addYears(p.record, offset) == p.reference {
					matches++
				}
			}
			if matches > bestMatches {
				best, bestMatches = offset, matches
			}
		}
	}

	result := HypothesisResult{
		Name:        HypothesisYearOffset,
		Description: fmt.Sprintf("record date shifted by a fixed %+d years", best),
		Parameter:   best,
		Matches:     bestMatches,
		Total:       len(pairs),
	}
	if bestMatches < 0 {
		result.Matches = 0
	}
	for _, p := range pairs {
		if len(result.Samples) >= a.cfg.SampleSize {
			break
		}
		shifted := addYears(p.record, best)
		result.Samples = append(result.Samples, Sample{
			SurveyID:      p.surveyID,
			RecordDate:    p.record,
			ReferenceDate: p.reference,
			Reconstructed: &shifted,
			Match:         shifted == p.reference,
		})
	}
	result.Score = score(result.Matches, result.Total)
	return result
}

// transposition reads the corrupted value as a DD-MM-YY date parsed as
// YY-MM-DD: the original day is the corrupted year's last two digits and the
// original year is century plus the corrupted day.
func (a *Analyzer) transposition(pairs []pair) HypothesisResult {
	result := HypothesisResult{
		Name:        HypothesisTransposition,
		Description: fmt.Sprintf("day and two-digit year swapped (year = %d + day)", a.cfg.Century),
		Parameter:   a.cfg.Century,
		Total:       len(pairs),
	}

	var invalid []Sample
	for _, p := range pairs {
		rebuilt, ok := makeDate(a.cfg.Century+p.record.Day, p.record.Month, p.record.Year%100)
		s := Sample{SurveyID: p.surveyID, RecordDate: p.record, ReferenceDate: p.reference}
		if !ok {
			s.Note = fmt.Sprintf("invalid reconstruction: day %d", p.record.Year%100)
			invalid = append(invalid, s)
		} else {
			s.Reconstructed = &rebuilt
			s.Match = rebuilt == p.reference
			if s.Match {
				result.Matches++
			}
		}
		if len(result.Samples) < a.cfg.SampleSize && ok {
			result.Samples = append(result.Samples, s)
		}
	}
	// Invalid reconstructions are always surfaced, after the regular samples.
	for _, s := range invalid {
		if len(result.Samples) >= 2*a.cfg.SampleSize {
			break
		}
		result.Samples = append(result.Samples, s)
	}
	result.Score = score(result.Matches, result.Total)
	return result
}
