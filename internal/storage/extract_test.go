package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"testing"

	"github.com/Veraticus/gridveg-dates/internal/model"
	"github.com/Veraticus/gridveg-dates/internal/objectstore"
	"github.com/Veraticus/gridveg-dates/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_WritesCSVShard(t *testing.T) {
	w := createTestWarehouse(t)
	seedCorrupted(t, w)
	var progress bytes.Buffer
	w.SetProgress(&progress)

	store := objectstore.NewMemory()
	prefix := "backups/gridveg/surveys/20250101_000000/"
	err := w.Extractor().Extract(context.Background(), w.Records().Table(), store, prefix)
	require.NoError(t, err)

	data, ok := store.Read(prefix + objectstore.FirstShard)
	require.True(t, ok)

	lines, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, lines, 6)
	assert.Equal(t, []string{"grid_point", "survey_ID", "date", "year"}, lines[0])
	assert.Equal(t, []string{"", "S2", "2031-07-01", "2031"}, lines[3])
	assert.NotEmpty(t, progress.String())
}

func TestExtract_UnknownTable(t *testing.T) {
	w := createTestWarehouse(t)
	err := w.Extractor().Extract(context.Background(), model.TableRef{Table: "other"}, objectstore.NewMemory(), "p/")
	require.ErrorIs(t, err, ErrInvalidTableName)
}

type failingStore struct {
	*objectstore.Memory
}

var errUploadRejected = errors.New("upload rejected")

func (f failingStore) Put(_ context.Context, _ string, r io.Reader, _ objectstore.PutOptions) (objectstore.Info, error) {
	buf := make([]byte, 8)
	_, _ = r.Read(buf)
	return objectstore.Info{}, errUploadRejected
}

func TestExtract_UploadFailureDoesNotHang(t *testing.T) {
	w := createTestWarehouse(t)
	seedCorrupted(t, w)

	store := failingStore{Memory: objectstore.NewMemory()}
	err := w.Extractor().Extract(context.Background(), w.Records().Table(), store, "p/")
	require.Error(t, err)

	require.ErrorIs(t, err, errUploadRejected)

	// The connection is released once the writer exits.
	n, err := w.Records().Count(context.Background(), service.All())
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}
