package backup

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Veraticus/gridveg-dates/internal/common"
	"github.com/Veraticus/gridveg-dates/internal/model"
	"github.com/Veraticus/gridveg-dates/internal/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var table = model.TableRef{Project: "proj", Dataset: "gridveg", Table: "surveys"}

func fixedClock(ts string) func() time.Time {
	return func() time.Time {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			panic(err)
		}
		return t
	}
}

func fastRetry() common.RetryOptions {
	return common.RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

// fakeExtractor writes one shard per call unless configured otherwise.
type fakeExtractor struct {
	failures  []error
	writeNone bool
	calls     int
}

func (f *fakeExtractor) Extract(ctx context.Context, _ model.TableRef, store objectstore.Store, prefix string) error {
	f.calls++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return err
	}
	if f.writeNone {
		return nil
	}
	_, err := store.Put(ctx, prefix+objectstore.FirstShard, bytes.NewBufferString("survey_ID,date\nS1,2019-03-12\n"), objectstore.PutOptions{})
	return err
}

func TestPrefix(t *testing.T) {
	ts := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "backups/gridveg/surveys/20250304_050607/", Prefix(table, ts))
	assert.Equal(t, "backups/default/surveys/", TablePrefix(model.TableRef{Table: "surveys"}))
}

func TestSnapshot_Verified(t *testing.T) {
	store := objectstore.NewMemory()
	m := NewManager(&fakeExtractor{}, store, WithClock(fixedClock("2025-03-04T05:06:07Z")), WithRetry(fastRetry()))

	snap, err := m.Snapshot(context.Background(), table)
	require.NoError(t, err)
	assert.True(t, snap.Verified)
	assert.Equal(t, 1, snap.ObjectCount)
	assert.Positive(t, snap.Bytes)
	assert.Equal(t, "mem://backups/gridveg/surveys/20250304_050607/*.csv", snap.Location)
	assert.Equal(t, table, snap.SourceTable)
}

func TestSnapshot_EmptyLocationFailsVerification(t *testing.T) {
	store := objectstore.NewMemory()
	m := NewManager(&fakeExtractor{writeNone: true}, store, WithRetry(fastRetry()))

	snap, err := m.Snapshot(context.Background(), table)
	require.ErrorIs(t, err, common.ErrBackupVerification)
	assert.False(t, snap.Verified)
	assert.Zero(t, snap.ObjectCount)
}

func TestSnapshot_RefusesOccupiedLocation(t *testing.T) {
	store := objectstore.NewMemory()
	clock := WithClock(fixedClock("2025-03-04T05:06:07Z"))
	_, err := store.Put(context.Background(), "backups/gridveg/surveys/20250304_050607/old.csv",
		bytes.NewBufferString("x"), objectstore.PutOptions{})
	require.NoError(t, err)

	ext := &fakeExtractor{}
	_, err = NewManager(ext, store, clock, WithRetry(fastRetry())).Snapshot(context.Background(), table)
	require.ErrorIs(t, err, ErrLocationInUse)
	require.ErrorIs(t, err, common.ErrBackupVerification)
	assert.Zero(t, ext.calls)
}

func TestSnapshot_RetriesTransientExtract(t *testing.T) {
	ext := &fakeExtractor{failures: []error{common.Transient(errors.New("503"))}}
	m := NewManager(ext, objectstore.NewMemory(), WithRetry(fastRetry()))

	snap, err := m.Snapshot(context.Background(), table)
	require.NoError(t, err)
	assert.True(t, snap.Verified)
	assert.Equal(t, 2, ext.calls)
}

func TestSnapshot_FatalExtractError(t *testing.T) {
	boom := errors.New("permission denied")
	ext := &fakeExtractor{failures: []error{boom}}
	m := NewManager(ext, objectstore.NewMemory(), WithRetry(fastRetry()))

	snap, err := m.Snapshot(context.Background(), table)
	require.ErrorIs(t, err, boom)
	assert.False(t, snap.Verified)
	assert.Equal(t, 1, ext.calls)
}

func TestList_NewestFirst(t *testing.T) {
	store := objectstore.NewMemory()
	ctx := context.Background()

	for _, ts := range []string{"2025-01-01T00:00:00Z", "2025-06-01T12:00:00Z", "2024-12-31T23:59:59Z"} {
		m := NewManager(&fakeExtractor{}, store, WithClock(fixedClock(ts)), WithRetry(fastRetry()))
		_, err := m.Snapshot(ctx, table)
		require.NoError(t, err)
	}
	_, err := store.Put(ctx, "backups/gridveg/surveys/README", bytes.NewBufferString("x"), objectstore.PutOptions{})
	require.NoError(t, err)
	_, err = store.Put(ctx, "backups/gridveg/surveys/not-a-stamp/x.csv", bytes.NewBufferString("x"), objectstore.PutOptions{})
	require.NoError(t, err)

	snaps, err := NewManager(&fakeExtractor{}, store).List(ctx, table)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, "backups/gridveg/surveys/20250601_120000/", snaps[0].Prefix)
	assert.Equal(t, "backups/gridveg/surveys/20241231_235959/", snaps[2].Prefix)
	for _, s := range snaps {
		assert.True(t, s.Verified)
		assert.Equal(t, 1, s.ObjectCount)
	}
}
