package bq

import (
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/Veraticus/gridveg-dates/internal/model"
	"github.com/Veraticus/gridveg-dates/internal/service"
)

type whereClause struct {
	alias   string
	clauses []string
	params  []bigquery.QueryParameter
}

func (w *whereClause) col(name string) string {
	if w.alias == "" {
		return name
	}
	return w.alias + "." + name
}

func buildWhere(p service.Predicate, alias string) *whereClause {
	w := &whereClause{alias: alias}
	if p.DateAfter != nil {
		w.clauses = append(w.clauses, w.col("`date`")+" > @cutoff")
		w.params = append(w.params, bigquery.QueryParameter{Name: "cutoff", Value: *p.DateAfter})
	}
	if len(p.SurveyIDs) > 0 {
		w.clauses = append(w.clauses, w.col("survey_ID")+" IN UNNEST(@survey_ids)")
		w.params = append(w.params, bigquery.QueryParameter{Name: "survey_ids", Value: p.SurveyIDs})
	}
	if len(p.ExcludeSurveyIDs) > 0 {
		w.clauses = append(w.clauses, w.col("survey_ID")+" NOT IN UNNEST(@exclude_ids)")
		w.params = append(w.params, bigquery.QueryParameter{Name: "exclude_ids", Value: p.ExcludeSurveyIDs})
	}
	if p.YearMismatch {
		w.clauses = append(w.clauses, fmt.Sprintf("(%s IS NULL OR %s != EXTRACT(YEAR FROM %s))",
			w.col("`year`"), w.col("`year`"), w.col("`date`")))
	}
	return w
}

func (w *whereClause) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func selectRecordsSQL(table model.TableRef, p service.Predicate) (string, []bigquery.QueryParameter) {
	where := buildWhere(p, "")
	return fmt.Sprintf("SELECT grid_point, survey_ID, `date`, `year` FROM %s%s ORDER BY survey_ID, `date`",
		quote(table), where.sql()), where.params
}

func countRecordsSQL(table model.TableRef, p service.Predicate) (string, []bigquery.QueryParameter) {
	where := buildWhere(p, "")
	return fmt.Sprintf("SELECT COUNT(*) AS n FROM %s%s", quote(table), where.sql()), where.params
}

func selectReferencesSQL(table model.TableRef) string {
	return fmt.Sprintf("SELECT DISTINCT survey_ID, `date` FROM %s ORDER BY survey_ID, `date`", quote(table))
}

// bulkUpdateSQL joins the reference table so the whole correction is one
// DML statement. Identical reference rows are collapsed first: BigQuery
// rejects an UPDATE that matches more than one source row per target.
func bulkUpdateSQL(records, references model.TableRef, u service.BulkUpdate) (string, []bigquery.QueryParameter) {
	where := buildWhere(service.Predicate{DateAfter: &u.DateAfter, SurveyIDs: u.SurveyIDs}, "a")
	where.clauses = append([]string{"a." + u.JoinKey + " = r." + u.JoinKey}, where.clauses...)
	return fmt.Sprintf("UPDATE %s AS a SET `date` = r.`date`, `year` = EXTRACT(YEAR FROM r.`date`) "+
		"FROM (SELECT DISTINCT %s, `date` FROM %s) AS r%s",
		quote(records), u.JoinKey, quote(references), where.sql()), where.params
}
