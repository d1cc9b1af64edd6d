package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/gridveg-dates/internal/classification"
	"github.com/Veraticus/gridveg-dates/internal/engine"
	"github.com/Veraticus/gridveg-dates/internal/model"
	"github.com/Veraticus/gridveg-dates/internal/pattern"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// RenderTable lays out rows under a bold header, padding every column to
// its widest cell.
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	line := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = TableCellStyle.Width(widths[i] + 2).Render(cell)
		}
		return style.Render(lipgloss.JoinHorizontal(lipgloss.Top, parts...))
	}

	out := []string{line(headers, TableHeaderStyle)}
	for _, row := range rows {
		out = append(out, line(row, lipgloss.NewStyle()))
	}
	return strings.Join(out, "\n")
}

// RenderClassification renders status counts and up to samples example
// rows per non-match status.
func RenderClassification(res classification.Result, samples int) string {
	var b strings.Builder
	b.WriteString(FormatTitle("Date discrepancies"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%d records, %d distinct survey dates, cutoff %s\n\n",
		res.Records, res.Counts.Total(), res.Cutoff)

	rows := make([][]string, 0, len(model.AllStatuses))
	for _, status := range model.AllStatuses {
		rows = append(rows, []string{
			StatusStyle(status).Render(status.String()),
			fmt.Sprintf("%d", res.Counts[status]),
			fmt.Sprintf("%.1f%%", res.Counts.Percent(status)),
		})
	}
	b.WriteString(RenderTable([]string{"Status", "Pairs", "Share"}, rows))
	b.WriteString("\n")

	for _, status := range model.AllStatuses {
		if status == model.StatusMatch {
			continue
		}
		found := res.ByStatus(status)
		if len(found) == 0 {
			continue
		}
		b.WriteString("\n")
		b.WriteString(StatusStyle(status).Render(fmt.Sprintf("%s (%d)", status, len(found))))
		b.WriteString("\n")
		b.WriteString(RenderTable([]string{"Survey", "Record date", "Reference date", "Rows"},
			discrepancyRows(found, samples)))
		b.WriteString("\n")
		if len(found) > samples {
			b.WriteString(SubtleStyle.Render(fmt.Sprintf("... and %d more", len(found)-samples)))
			b.WriteString("\n")
		}
	}

	if len(res.Ambiguous) > 0 {
		b.WriteString("\n")
		b.WriteString(FormatWarning(fmt.Sprintf("%d survey ids have more than one reference date", len(res.Ambiguous))))
		b.WriteString("\n")
	}
	return b.String()
}

func discrepancyRows(found []model.Discrepancy, limit int) [][]string {
	rows := make([][]string, 0, min(limit, len(found)))
	for i, d := range found {
		if i >= limit {
			break
		}
		ref := "-"
		if d.HasReference() {
			ref = d.ReferenceDate.String()
		}
		rows = append(rows, []string{d.SurveyID, d.RecordDate.String(), ref, fmt.Sprintf("%d", d.RowCount)})
	}
	return rows
}

// RenderCoverage renders the join coverage report.
func RenderCoverage(cov classification.Coverage, samples int) string {
	var lines []string
	lines = append(lines,
		fmt.Sprintf("Distinct survey dates: %d", cov.DistinctPairs),
		fmt.Sprintf("With reference:        %d (%.1f%%)", cov.Matched, cov.Percent()),
		fmt.Sprintf("Without reference:     %d", cov.Unmatched),
		fmt.Sprintf("Future, no reference:  %d", cov.FutureWithoutReference),
	)
	if cov.DistinctPairs > 0 {
		lines = append(lines, fmt.Sprintf("Record dates:          %s to %s", cov.MinDate, cov.MaxDate))
	}
	if len(cov.OnlyInRecords) > 0 {
		lines = append(lines, WarningStyle.Render(fmt.Sprintf("Only in records: %s", sampleList(cov.OnlyInRecords, samples))))
	}
	if len(cov.OnlyInReferences) > 0 {
		lines = append(lines, SubtleStyle.Render(fmt.Sprintf("Only in references: %s", sampleList(cov.OnlyInReferences, samples))))
	}
	return RenderBox(ChartIcon+" Reference coverage", strings.Join(lines, "\n"))
}

func sampleList(ids []string, limit int) string {
	if len(ids) <= limit {
		return strings.Join(ids, ", ")
	}
	return fmt.Sprintf("%s (+%d more)", strings.Join(ids[:limit], ", "), len(ids)-limit)
}

// RenderDiagnosis renders the ranked hypotheses and the component breakdown.
func RenderDiagnosis(d pattern.Diagnosis, threshold float64) string {
	var b strings.Builder
	b.WriteString(FormatTitle("Corruption pattern"))
	b.WriteString("\n")

	if d.Total == 0 {
		b.WriteString(FormatInfo("No mismatched rows to analyze"))
		b.WriteString("\n")
		return b.String()
	}
	fmt.Fprintf(&b, "%d mismatched rows analyzed\n\n", d.Total)

	rows := make([][]string, 0, len(d.Hypotheses))
	for _, h := range d.Hypotheses {
		rows = append(rows, []string{
			h.Name,
			h.Description,
			fmt.Sprintf("%d/%d", h.Matches, h.Total),
			fmt.Sprintf("%.1f%%", h.Score*100),
		})
	}
	b.WriteString(RenderTable([]string{"Hypothesis", "Description", "Matches", "Score"}, rows))
	b.WriteString("\n\n")

	if best, ok := d.Recommendation(threshold); ok {
		b.WriteString(FormatSuccess(fmt.Sprintf("Recommended: %s (%.1f%%)", best.Description, best.Score*100)))
		b.WriteString("\n")
		b.WriteString(renderSamples(best.Samples))
	} else {
		b.WriteString(FormatWarning(fmt.Sprintf("No hypothesis reaches %.0f%%; inspect the samples before correcting", threshold*100)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(renderComponents(d.Components))
	return b.String()
}

func renderSamples(samples []pattern.Sample) string {
	if len(samples) == 0 {
		return ""
	}
	rows := make([][]string, 0, len(samples))
	for _, s := range samples {
		rebuilt := "-"
		if s.Reconstructed != nil {
			rebuilt = s.Reconstructed.String()
		}
		mark := ErrorStyle.Render(ErrorIcon)
		if s.Match {
			mark = SuccessStyle.Render(SuccessIcon)
		}
		rows = append(rows, []string{s.SurveyID, s.RecordDate.String(), rebuilt, s.ReferenceDate.String(), mark})
	}
	return RenderTable([]string{"Survey", "Record", "Reconstructed", "Reference", ""}, rows) + "\n"
}

func renderComponents(c pattern.ComponentStats) string {
	var lines []string
	lines = append(lines,
		"Year diffs:  "+buckets(c.YearDiffs),
		"Month diffs: "+buckets(c.MonthDiffs),
		"Day diffs:   "+buckets(c.DayDiffs),
		fmt.Sprintf("Record day > 12: %d of %d", c.Suspicious, c.Total),
		fmt.Sprintf("Reference day = record year - century: %d (%.1f%%)", c.PatternCheckMatches, c.PatternCheckRate()*100),
	)
	return RenderBox(CalendarIcon+" Date components", strings.Join(lines, "\n"))
}

func buckets(bs []pattern.Bucket) string {
	if len(bs) == 0 {
		return "-"
	}
	parts := make([]string, len(bs))
	for i, bucket := range bs {
		parts[i] = fmt.Sprintf("%+d×%d", bucket.Diff, bucket.Count)
	}
	return strings.Join(parts, " ")
}

// RenderPlan renders the correction plan and the rows left out of it.
func RenderPlan(plan *model.CorrectionPlan, gaps []model.ReferenceGap, samples int) string {
	var b strings.Builder
	if plan.Empty() {
		b.WriteString(FormatSuccess("Nothing to correct"))
		b.WriteString("\n")
	} else {
		wrong, right := plan.IncorrectRange(), plan.CorrectRange()
		summary := strings.Join([]string{
			fmt.Sprintf("Surveys:         %d", len(plan.SurveyIDs())),
			fmt.Sprintf("Rows to update:  %d", plan.TotalRows()),
			fmt.Sprintf("Incorrect dates: %s to %s", wrong.Min, wrong.Max),
			fmt.Sprintf("Correct dates:   %s to %s", right.Min, right.Max),
			fmt.Sprintf("Cutoff:          %s", plan.Cutoff),
		}, "\n")
		b.WriteString(RenderBox(CalendarIcon+" Correction plan", summary))
		b.WriteString("\n")

		rows := make([][]string, 0, min(samples, len(plan.Entries)))
		for i, e := range plan.Entries {
			if i >= samples {
				break
			}
			rows = append(rows, []string{
				e.SurveyID,
				ErrorStyle.Render(e.IncorrectDate.String()),
				SuccessStyle.Render(e.CorrectDate.String()),
				fmt.Sprintf("%d", e.AffectedRows),
			})
		}
		b.WriteString(RenderTable([]string{"Survey", "From", "To", "Rows"}, rows))
		b.WriteString("\n")
		if len(plan.Entries) > samples {
			b.WriteString(SubtleStyle.Render(fmt.Sprintf("... and %d more", len(plan.Entries)-samples)))
			b.WriteString("\n")
		}
	}

	if len(gaps) > 0 {
		rows := 0
		for _, g := range gaps {
			rows += g.RowCount
		}
		b.WriteString("\n")
		b.WriteString(FormatWarning(fmt.Sprintf("%d survey dates (%d rows) have no usable reference and will not be corrected", len(gaps), rows)))
		b.WriteString("\n")
		table := make([][]string, 0, min(samples, len(gaps)))
		for i, g := range gaps {
			if i >= samples {
				break
			}
			table = append(table, []string{g.SurveyID, g.RecordDate.String(), g.Reason, fmt.Sprintf("%d", g.RowCount)})
		}
		b.WriteString(RenderTable([]string{"Survey", "Record date", "Reason", "Rows"}, table))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderRunResult renders the outcome of a correction run.
func RenderRunResult(res *engine.RunResult) string {
	var b strings.Builder

	for _, t := range res.History {
		fmt.Fprintf(&b, "%s %s → %s  %s\n",
			SubtleStyle.Render(t.At.Format("15:04:05")),
			t.From,
			StageStyle(t.To).Render(string(t.To)),
			SubtleStyle.Render(t.Detail))
	}
	b.WriteString("\n")

	switch {
	case res.Err != nil:
		b.WriteString(FormatError(res.Err.Error()))
		b.WriteString("\n")
		if res.Mutated() {
			b.WriteString(FormatWarning("The bulk update committed. Restore from the backup if the data is wrong."))
			b.WriteString("\n")
		} else {
			b.WriteString(FormatInfo("No changes were made to the warehouse."))
			b.WriteString("\n")
		}
	case res.DryRun:
		b.WriteString(FormatInfo("Dry run: no backup taken and no changes made. Re-run with --dry-run=false --confirm to apply."))
		b.WriteString("\n")
	case res.NothingToCorrect:
		b.WriteString(FormatSuccess("Nothing to correct"))
		b.WriteString("\n")
	default:
		b.WriteString(FormatSuccess(fmt.Sprintf("%d rows corrected and validated", res.AffectedRows)))
		b.WriteString("\n")
	}

	if res.Snapshot != nil {
		b.WriteString(FormatInfo("Backup: " + res.Snapshot.Location))
		b.WriteString("\n")
	}
	if err := res.GapError(); err != nil {
		b.WriteString(FormatWarning(err.Error()))
		b.WriteString("\n")
	}
	if !res.Mutated() {
		b.WriteString(RenderStaleYears(res.StaleYears))
	}
	return b.String()
}

// RenderStaleYears warns about year mismatches the update will not repair.
// It renders nothing when n is zero.
func RenderStaleYears(n int) string {
	if n == 0 {
		return ""
	}
	return FormatWarning(fmt.Sprintf("%d records have a year that disagrees with their date and are outside the plan; validation will fail after apply", n)) + "\n"
}

// RenderSnapshot renders a single backup.
func RenderSnapshot(s model.BackupSnapshot) string {
	status := SuccessStyle.Render(SuccessIcon + " verified")
	if !s.Verified {
		status = ErrorStyle.Render(ErrorIcon + " unverified")
	}
	lines := []string{
		fmt.Sprintf("Table:    %s", s.SourceTable),
		fmt.Sprintf("Location: %s", s.Location),
		fmt.Sprintf("Taken:    %s", s.Timestamp.Format(timeLayout)),
		fmt.Sprintf("Objects:  %d (%s)", s.ObjectCount, humanBytes(s.Bytes)),
		"Status:   " + status,
	}
	return RenderBox(FolderIcon+" Backup", strings.Join(lines, "\n"))
}

// RenderBackups renders the snapshots found for a table, newest first.
func RenderBackups(table model.TableRef, snapshots []model.BackupSnapshot) string {
	if len(snapshots) == 0 {
		return FormatInfo(fmt.Sprintf("No backups found for %s", table)) + "\n"
	}
	rows := make([][]string, 0, len(snapshots))
	for _, s := range snapshots {
		rows = append(rows, []string{
			s.Timestamp.Format(timeLayout),
			fmt.Sprintf("%d", s.ObjectCount),
			humanBytes(s.Bytes),
			s.Location,
		})
	}
	return FormatTitle(fmt.Sprintf("Backups of %s", table)) + "\n" +
		RenderTable([]string{"Taken", "Objects", "Size", "Location"}, rows) + "\n"
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
