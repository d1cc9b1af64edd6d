package storage

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/Veraticus/gridveg-dates/internal/model"
	"github.com/Veraticus/gridveg-dates/internal/objectstore"
	"github.com/schollz/progressbar/v3"
)

type csvExtractor struct {
	w *Warehouse
}

// Extract streams every row of table as CSV with a header line to
// prefix+objectstore.FirstShard in store.
func (e *csvExtractor) Extract(ctx context.Context, table model.TableRef, store objectstore.Store, prefix string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("extract %s: nil object store", table)
	}
	resolved, err := e.w.knownTable(table)
	if err != nil {
		return err
	}

	total, err := e.rowCount(ctx, resolved)
	if err != nil {
		return err
	}

	rows, err := e.w.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s`, e.w.quote(resolved)))
	if err != nil {
		return e.w.dialect.classify(fmt.Errorf("failed to read %s: %w", resolved, err))
	}

	key := prefix + objectstore.FirstShard
	bar := e.newBar(total, resolved)
	info, err := objectstore.PutStream(ctx, store, key, objectstore.PutOptions{
		ContentType: "text/csv",
		Metadata: map[string]string{
			"source-table": resolved.String(),
			"row-count":    strconv.FormatInt(total, 10),
		},
	}, func(out io.Writer) error {
		defer func() { _ = rows.Close() }()
		return writeCSV(rows, out, bar)
	})
	if err != nil {
		return e.w.dialect.classify(fmt.Errorf("failed to back up %s: %w", resolved, err))
	}

	slog.Info("Extracted table",
		"table", resolved.String(),
		"rows", total,
		"uri", store.URI(key),
		"bytes", info.Size)
	return nil
}

func (e *csvExtractor) rowCount(ctx context.Context, table model.TableRef) (int64, error) {
	var n int64
	if err := e.w.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, e.w.quote(table))).Scan(&n); err != nil {
		return 0, e.w.dialect.classify(fmt.Errorf("failed to count %s: %w", table, err))
	}
	return n, nil
}

func (e *csvExtractor) newBar(total int64, table model.TableRef) *progressbar.ProgressBar {
	if e.w.progress == nil {
		return nil
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(e.w.progress),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetDescription(fmt.Sprintf("Backing up %s", table.Table)),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(e.w.progress)
		}),
	)
}

func writeCSV(rows *sql.Rows, out io.Writer, bar *progressbar.ProgressBar) error {
	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("failed to read columns: %w", err)
	}

	cw := csv.NewWriter(out)
	if err := cw.Write(columns); err != nil {
		return err
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	record := make([]string, len(columns))

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			record[i] = formatValue(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
		if bar != nil {
			if err := bar.Add(1); err != nil {
				slog.Warn("Failed to update progress bar", "error", err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	cw.Flush()
	if bar != nil {
		_ = bar.Finish()
	}
	return cw.Error()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format(time.DateOnly)
		}
		return val.UTC().Format(time.RFC3339Nano)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
