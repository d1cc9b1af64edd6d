package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/Veraticus/gridveg-dates/internal/common"
	"github.com/Veraticus/gridveg-dates/internal/model"
	"github.com/Veraticus/gridveg-dates/internal/objectstore"
	"github.com/Veraticus/gridveg-dates/internal/pattern"
	"github.com/spf13/viper"
	"golang.org/x/oauth2/google"
)

// Warehouse drivers.
const (
	DriverBigQuery = "bigquery"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// bigqueryScope is the OAuth scope used when detecting the ADC project.
const bigqueryScope = "https://www.googleapis.com/auth/bigquery"

// WarehouseConfig selects the warehouse adapter and its tables.
type WarehouseConfig struct {
	Driver          string
	Project         string
	Dataset         string
	Table           string
	ReferenceTable  string
	DSN             string
	CredentialsFile string
	Location        string
}

// BackupConfig selects the object store backups are written to.
type BackupConfig struct {
	Driver    string
	Bucket    string
	Root      string
	Region    string
	Endpoint  string
	PathStyle bool
}

// CorrectionConfig holds the run gates, resolved before a run starts.
type CorrectionConfig struct {
	Cutoff    civil.Date
	DryRun    bool
	Confirmed bool
}

// AnalysisConfig tunes the pattern analyzer.
type AnalysisConfig struct {
	MaxOffset     int
	Samples       int
	Century       int
	MinConfidence float64
}

// Config is the fully resolved application configuration.
type Config struct {
	Warehouse  WarehouseConfig
	Backup     BackupConfig
	Logging    common.LogConfig
	Analysis   AnalysisConfig
	Retry      common.RetryOptions
	Correction CorrectionConfig
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	retry := common.DefaultRetryOptions()
	analysis := pattern.DefaultConfig()

	v.SetDefault("warehouse.driver", DriverBigQuery)
	v.SetDefault("warehouse.dataset", "vegetation_point_intercept_gridVeg")
	v.SetDefault("warehouse.table", "gridVeg_additional_species")
	v.SetDefault("warehouse.reference_table", "gridVeg_survey_metadata")
	v.SetDefault("backup.driver", string(objectstore.DriverGCS))
	v.SetDefault("backup.root", "./backups")
	v.SetDefault("correction.cutoff", "")
	v.SetDefault("correction.dry_run", true)
	v.SetDefault("correction.confirmed", false)
	v.SetDefault("analysis.max_offset", analysis.MaxOffset)
	v.SetDefault("analysis.samples", analysis.SampleSize)
	v.SetDefault("analysis.century", analysis.Century)
	v.SetDefault("analysis.min_confidence", 0.0)
	v.SetDefault("retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("retry.initial_delay", retry.InitialDelay)
	v.SetDefault("retry.max_delay", retry.MaxDelay)
	v.SetDefault("retry.multiplier", retry.Multiplier)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.dir", "")
}

// Load resolves the configuration from v. now supplies the current time for
// the default cutoff.
func Load(v *viper.Viper, now time.Time) (*Config, error) {
	cfg := &Config{
		Warehouse: WarehouseConfig{
			Driver:          strings.ToLower(v.GetString("warehouse.driver")),
			Project:         v.GetString("warehouse.project"),
			Dataset:         v.GetString("warehouse.dataset"),
			Table:           v.GetString("warehouse.table"),
			ReferenceTable:  v.GetString("warehouse.reference_table"),
			DSN:             v.GetString("warehouse.dsn"),
			CredentialsFile: ExpandPath(v.GetString("warehouse.credentials_file")),
			Location:        v.GetString("warehouse.location"),
		},
		Backup: BackupConfig{
			Driver:    strings.ToLower(v.GetString("backup.driver")),
			Bucket:    v.GetString("backup.bucket"),
			Root:      ExpandPath(v.GetString("backup.root")),
			Region:    v.GetString("backup.region"),
			Endpoint:  v.GetString("backup.endpoint"),
			PathStyle: v.GetBool("backup.path_style"),
		},
		Correction: CorrectionConfig{
			DryRun:    v.GetBool("correction.dry_run"),
			Confirmed: v.GetBool("correction.confirmed"),
		},
		Analysis: AnalysisConfig{
			MaxOffset:     v.GetInt("analysis.max_offset"),
			Samples:       v.GetInt("analysis.samples"),
			Century:       v.GetInt("analysis.century"),
			MinConfidence: v.GetFloat64("analysis.min_confidence"),
		},
		Retry: common.RetryOptions{
			MaxAttempts:  v.GetInt("retry.max_attempts"),
			InitialDelay: v.GetDuration("retry.initial_delay"),
			MaxDelay:     v.GetDuration("retry.max_delay"),
			Multiplier:   v.GetFloat64("retry.multiplier"),
		},
		Logging: common.LogConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
			Dir:    ExpandPath(v.GetString("logging.dir")),
		},
	}
	if cfg.Warehouse.Driver == DriverSQLite {
		cfg.Warehouse.DSN = ExpandPath(cfg.Warehouse.DSN)
	}

	cutoff, err := ParseCutoff(v.GetString("correction.cutoff"), now)
	if err != nil {
		return nil, err
	}
	cfg.Correction.Cutoff = cutoff

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseCutoff parses a YYYY-MM-DD cutoff. An empty value means December 31
// of the year of now.
func ParseCutoff(s string, now time.Time) (civil.Date, error) {
	if strings.TrimSpace(s) == "" {
		return model.EndOfYear(now.Year()), nil
	}
	d, err := civil.ParseDate(strings.TrimSpace(s))
	if err != nil {
		return civil.Date{}, fmt.Errorf("%w: correction.cutoff %q: %w", common.ErrInvalidConfig, s, err)
	}
	return d, nil
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	switch c.Warehouse.Driver {
	case DriverBigQuery:
	case DriverSQLite, DriverPostgres:
		if c.Warehouse.DSN == "" {
			return fmt.Errorf("%w: warehouse.dsn is required for the %s driver", common.ErrMissingConfig, c.Warehouse.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown warehouse.driver %q", common.ErrInvalidConfig, c.Warehouse.Driver)
	}
	if c.Warehouse.Table == "" || c.Warehouse.ReferenceTable == "" {
		return fmt.Errorf("%w: warehouse.table and warehouse.reference_table", common.ErrMissingConfig)
	}
	if c.Warehouse.Table == c.Warehouse.ReferenceTable {
		return fmt.Errorf("%w: warehouse.table and warehouse.reference_table must differ", common.ErrInvalidConfig)
	}

	switch objectstore.Driver(c.Backup.Driver) {
	case objectstore.DriverGCS, objectstore.DriverS3:
		if c.Backup.Bucket == "" {
			return fmt.Errorf("%w: backup.bucket is required for the %s driver", common.ErrMissingConfig, c.Backup.Driver)
		}
	case objectstore.DriverFilesystem, objectstore.DriverMemory:
	default:
		return fmt.Errorf("%w: unknown backup.driver %q", common.ErrInvalidConfig, c.Backup.Driver)
	}

	if c.Analysis.MinConfidence < 0 || c.Analysis.MinConfidence > 1 {
		return fmt.Errorf("%w: analysis.min_confidence must be within [0, 1]", common.ErrInvalidConfig)
	}
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// RecordsTable is the corrupted survey table.
func (c *Config) RecordsTable() model.TableRef {
	return model.TableRef{Project: c.Warehouse.Project, Dataset: c.Warehouse.Dataset, Table: c.Warehouse.Table}
}

// ReferencesTable is the authoritative metadata table.
func (c *Config) ReferencesTable() model.TableRef {
	return c.RecordsTable().WithTable(c.Warehouse.ReferenceTable)
}

// ObjectStore returns the object store settings for backups.
func (c *Config) ObjectStore() objectstore.Config {
	return objectstore.Config{
		Driver:          objectstore.Driver(c.Backup.Driver),
		Bucket:          c.Backup.Bucket,
		Root:            c.Backup.Root,
		Region:          c.Backup.Region,
		Endpoint:        c.Backup.Endpoint,
		CredentialsFile: c.Warehouse.CredentialsFile,
		PathStyle:       c.Backup.PathStyle,
	}
}

// PatternConfig returns the analyzer settings.
func (c *Config) PatternConfig() pattern.Config {
	return pattern.Config{
		MaxOffset:  c.Analysis.MaxOffset,
		Century:    c.Analysis.Century,
		SampleSize: c.Analysis.Samples,
	}
}

// ResolveProject fills Warehouse.Project from Application Default
// Credentials when it is not configured.
func (c *Config) ResolveProject(ctx context.Context) error {
	if c.Warehouse.Project != "" || c.Warehouse.Driver != DriverBigQuery {
		return nil
	}
	creds, err := google.FindDefaultCredentials(ctx, bigqueryScope)
	if err != nil {
		return fmt.Errorf("%w: warehouse.project not set and no default credentials: %w", common.ErrMissingConfig, err)
	}
	if creds.ProjectID == "" {
		return fmt.Errorf("%w: warehouse.project not set and default credentials carry no project", common.ErrMissingConfig)
	}
	c.Warehouse.Project = creds.ProjectID
	return nil
}
