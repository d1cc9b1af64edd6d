package bq

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/Veraticus/gridveg-dates/internal/model"
	"github.com/Veraticus/gridveg-dates/internal/objectstore"
	"google.golang.org/api/iterator"
)

type extractor struct {
	w *Warehouse
}

// Extract uses a server-side extract job when store is a GCS bucket and
// streams the table through the client otherwise.
func (e *extractor) Extract(ctx context.Context, table model.TableRef, store objectstore.Store, prefix string) error {
	if store == nil {
		return fmt.Errorf("extract %s: nil object store", table)
	}
	table = withProject(table, e.w.records.Project)
	if gcs, ok := store.(*objectstore.GCS); ok {
		return e.extractJob(ctx, table, gcs, prefix)
	}
	return e.stream(ctx, table, store, prefix)
}

func (e *extractor) extractJob(ctx context.Context, table model.TableRef, store *objectstore.GCS, prefix string) error {
	uri := store.URI(prefix + objectstore.ShardPattern)
	ref := bigquery.NewGCSReference(uri)
	ref.DestinationFormat = bigquery.CSV

	ext := e.w.table(table).ExtractorTo(ref)
	if e.w.location != "" {
		ext.Location = e.w.location
	}

	job, err := ext.Run(ctx)
	if err != nil {
		return classify(fmt.Errorf("failed to start extract of %s: %w", table, err))
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return classify(fmt.Errorf("failed waiting for extract job %s: %w", job.ID(), err))
	}
	if err := status.Err(); err != nil {
		return classify(fmt.Errorf("extract job %s failed: %w", job.ID(), err))
	}

	slog.Info("Extracted table", "table", table.String(), "uri", uri, "job", job.ID())
	return nil
}

func (e *extractor) stream(ctx context.Context, table model.TableRef, store objectstore.Store, prefix string) error {
	it := e.w.table(table).Read(ctx)
	key := prefix + objectstore.FirstShard

	info, err := objectstore.PutStream(ctx, store, key, objectstore.PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"source-table": table.String()},
	}, func(out io.Writer) error {
		return writeRows(it, out)
	})
	if err != nil {
		return classify(fmt.Errorf("failed to back up %s: %w", table, err))
	}

	slog.Info("Extracted table",
		"table", table.String(),
		"rows", it.TotalRows,
		"uri", store.URI(key),
		"bytes", info.Size)
	return nil
}

// rowSource is the part of bigquery.RowIterator that writeRows needs.
type rowSource interface {
	Next(dst interface{}) error
}

func writeRows(it rowSource, out io.Writer) error {
	cw := csv.NewWriter(out)
	headerWritten := false

	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return err
		}
		if !headerWritten {
			if err := cw.Write(header(it)); err != nil {
				return err
			}
			headerWritten = true
		}
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = formatValue(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	if !headerWritten {
		if h := header(it); len(h) > 0 {
			if err := cw.Write(h); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func header(it rowSource) []string {
	ri, ok := it.(*bigquery.RowIterator)
	if !ok || ri.Schema == nil {
		if s, ok := it.(interface{ Columns() []string }); ok {
			return s.Columns()
		}
		return nil
	}
	names := make([]string, len(ri.Schema))
	for i, f := range ri.Schema {
		names[i] = f.Name
	}
	return names
}

func formatValue(v bigquery.Value) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case civil.Date:
		return val.String()
	case civil.DateTime:
		return val.String()
	case time.Time:
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
