package pattern

import "sort"

// Bucket is one histogram bar.
type Bucket struct {
	Diff  int
	Count int
}

// ComponentStats breaks mismatches down by date component.
type ComponentStats struct {
	YearDiffs  []Bucket
	MonthDiffs []Bucket
	DayDiffs   []Bucket
	// Suspicious rows have a record day above 12, a value that can only be
	// a two-digit year or a day, never a month.
	SuspiciousSamples []Sample
	Suspicious        int
	// PatternCheck counts rows whose reference day equals the record year
	// minus the century.
	PatternCheckMatches int
	Total               int
}

func histogram(values map[int]int) []Bucket {
	out := make([]Bucket, 0, len(values))
	for diff, n := range values {
		out = append(out, Bucket{Diff: diff, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Diff < out[j].Diff })
	return out
}

func (a *Analyzer) components(pairs []pair) ComponentStats {
	years := make(map[int]int)
	months := make(map[int]int)
	days := make(map[int]int)
	stats := ComponentStats{Total: len(pairs)}

	for _, p := range pairs {
		years[p.reference.Year-p.record.Year]++
		months[int(p.reference.Month)-int(p.record.Month)]++
		days[p.reference.Day-p.record.Day]++

		if p.record.Day > 12 {
			stats.Suspicious++
			if len(stats.SuspiciousSamples) < a.cfg.SampleSize {
				stats.SuspiciousSamples = append(stats.SuspiciousSamples, Sample{
					SurveyID:      p.surveyID,
					RecordDate:    p.record,
					ReferenceDate: p.reference,
				})
			}
		}
		if p.reference.Day == p.record.Year-a.cfg.Century {
			stats.PatternCheckMatches++
		}
	}

	stats.YearDiffs = histogram(years)
	stats.MonthDiffs = histogram(months)
	stats.DayDiffs = histogram(days)
	return stats
}

// PatternCheckRate is the share of rows passing the pattern check, 0..1.
func (c ComponentStats) PatternCheckRate() float64 {
	return score(c.PatternCheckMatches, c.Total)
}
