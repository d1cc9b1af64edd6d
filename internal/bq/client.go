// Package bq implements the warehouse adapters on Google BigQuery.
package bq

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/Veraticus/gridveg-dates/internal/common"
	"github.com/Veraticus/gridveg-dates/internal/model"
	"github.com/Veraticus/gridveg-dates/internal/service"
	"google.golang.org/api/option"
)

// Config holds the connection settings for a BigQuery warehouse.
type Config struct {
	Project         string
	Location        string
	CredentialsFile string
	Records         model.TableRef
	References      model.TableRef
}

// Warehouse implements service.Warehouse on BigQuery.
type Warehouse struct {
	client     *bigquery.Client
	location   string
	records    model.TableRef
	references model.TableRef
}

var _ service.Warehouse = (*Warehouse)(nil)

// Open creates a BigQuery client for cfg.Project.
func Open(ctx context.Context, cfg Config) (*Warehouse, error) {
	if cfg.Project == "" {
		return nil, fmt.Errorf("%w: warehouse.project", common.ErrMissingConfig)
	}
	for _, ref := range []model.TableRef{cfg.Records, cfg.References} {
		if ref.Dataset == "" || ref.Table == "" {
			return nil, fmt.Errorf("%w: table %s needs a dataset and a name", common.ErrInvalidConfig, ref)
		}
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := bigquery.NewClient(ctx, cfg.Project, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}

	return &Warehouse{
		client:     client,
		location:   cfg.Location,
		records:    withProject(cfg.Records, cfg.Project),
		references: withProject(cfg.References, cfg.Project),
	}, nil
}

func withProject(ref model.TableRef, project string) model.TableRef {
	if ref.Project == "" {
		ref.Project = project
	}
	return ref
}

// Records returns the survey table adapter.
func (w *Warehouse) Records() service.RecordStore {
	return &recordStore{w: w}
}

// References returns the reference table adapter.
func (w *Warehouse) References() service.ReferenceStore {
	return &referenceStore{w: w}
}

// Extractor returns the table extractor.
func (w *Warehouse) Extractor() service.TableExtractor {
	return &extractor{w: w}
}

// Close releases the client.
func (w *Warehouse) Close() error {
	return w.client.Close()
}

func (w *Warehouse) query(sql string, params []bigquery.QueryParameter) *bigquery.Query {
	q := w.client.Query(sql)
	q.Parameters = params
	if w.location != "" {
		q.Location = w.location
	}
	return q
}

func (w *Warehouse) table(ref model.TableRef) *bigquery.Table {
	return w.client.DatasetInProject(ref.Project, ref.Dataset).Table(ref.Table)
}

// quote renders a backtick-quoted table path.
func quote(ref model.TableRef) string {
	return "`" + ref.String() + "`"
}

// classify marks retryable BigQuery failures as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var bqErr *bigquery.Error
	if asBigQueryError(err, &bqErr) {
		switch strings.ToLower(bqErr.Reason) {
		case "backenderror", "internalerror", "ratelimitexceeded", "jobbackenderror", "jobinternalerror":
			return common.Transient(err)
		}
	}
	return common.ClassifyNetworkError(err)
}
