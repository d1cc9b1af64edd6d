package config

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/Veraticus/gridveg-dates/internal/common"
	"github.com/Veraticus/gridveg-dates/internal/objectstore"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newViper(values map[string]any) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper(map[string]any{"backup.bucket": "gridveg-backups"}), now)
	require.NoError(t, err)

	assert.Equal(t, DriverBigQuery, cfg.Warehouse.Driver)
	assert.Equal(t, civil.Date{Year: 2026, Month: 12, Day: 31}, cfg.Correction.Cutoff)
	assert.True(t, cfg.Correction.DryRun)
	assert.False(t, cfg.Correction.Confirmed)
	assert.Equal(t, 15, cfg.Analysis.MaxOffset)
	assert.Equal(t, 2000, cfg.Analysis.Century)
	assert.Equal(t, common.DefaultRetryOptions(), cfg.Retry)
	assert.Equal(t, "vegetation_point_intercept_gridVeg.gridVeg_survey_metadata", cfg.ReferencesTable().String())
	assert.Equal(t, objectstore.DriverGCS, cfg.ObjectStore().Driver)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(newViper(map[string]any{
		"warehouse.driver":        "SQLite",
		"warehouse.dsn":           "/tmp/gridveg.db",
		"backup.driver":           "fs",
		"correction.cutoff":       "2024-12-31",
		"correction.dry_run":      false,
		"correction.confirmed":    true,
		"retry.initial_delay":     "250ms",
		"analysis.min_confidence": 0.95,
	}), now)
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Warehouse.Driver)
	assert.Equal(t, civil.Date{Year: 2024, Month: 12, Day: 31}, cfg.Correction.Cutoff)
	assert.False(t, cfg.Correction.DryRun)
	assert.True(t, cfg.Correction.Confirmed)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialDelay)
	assert.InDelta(t, 0.95, cfg.Analysis.MinConfidence, 1e-9)
	assert.Equal(t, 15, cfg.PatternConfig().MaxOffset)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
		want   error
	}{
		{"unknown warehouse", map[string]any{"warehouse.driver": "oracle", "backup.bucket": "b"}, common.ErrInvalidConfig},
		{"sqlite without dsn", map[string]any{"warehouse.driver": "sqlite", "backup.driver": "fs"}, common.ErrMissingConfig},
		{"gcs without bucket", map[string]any{}, common.ErrMissingConfig},
		{"bad cutoff", map[string]any{"backup.bucket": "b", "correction.cutoff": "31/12/2025"}, common.ErrInvalidConfig},
		{"same tables", map[string]any{"backup.bucket": "b", "warehouse.reference_table": "gridVeg_additional_species"}, common.ErrInvalidConfig},
		{"bad confidence", map[string]any{"backup.bucket": "b", "analysis.min_confidence": 1.5}, common.ErrInvalidConfig},
		{"bad log level", map[string]any{"backup.bucket": "b", "logging.level": "loud"}, common.ErrInvalidConfig},
		{"unknown backup driver", map[string]any{"backup.driver": "ftp"}, common.ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(newViper(tt.values), now)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("GRIDFIX_TEST_DIR", "/data")
	assert.Equal(t, "/data/backups", ExpandPath("$GRIDFIX_TEST_DIR/backups"))
	assert.Empty(t, ExpandPath(""))
	assert.NotContains(t, ExpandPath("~/x"), "~")
}

func TestResolveProject_SkipsWhenSet(t *testing.T) {
	cfg := &Config{Warehouse: WarehouseConfig{Driver: DriverBigQuery, Project: "proj"}}
	require.NoError(t, cfg.ResolveProject(t.Context()))
	assert.Equal(t, "proj", cfg.Warehouse.Project)

	cfg = &Config{Warehouse: WarehouseConfig{Driver: DriverSQLite}}
	require.NoError(t, cfg.ResolveProject(t.Context()))
	assert.Empty(t, cfg.Warehouse.Project)
}
