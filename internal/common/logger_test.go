package common

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "", want: slog.LevelInfo},
		{input: " INFO ", want: slog.LevelInfo},
		{input: "warning", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetupLogger_WritesLogFile(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	dir := filepath.Join(t.TempDir(), "logs")
	closer, err := SetupLogger(LogConfig{Level: "info", Format: "json", Dir: dir})
	require.NoError(t, err)

	LogInfo("backup verified", Fields{"objects": 3})
	LogError(errors.New("boom"), "apply failed", Fields{"stage": "apply"})
	require.NoError(t, closer.Close())

	files, err := filepath.Glob(filepath.Join(dir, "gridfix_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	content, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"backup verified"`)
	assert.Contains(t, string(content), `"objects":3`)
	assert.Contains(t, string(content), `"error":"boom"`)
}

func TestSetupLogger_RejectsUnknownFormat(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	_, err := SetupLogger(LogConfig{Level: "info", Format: "xml"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
