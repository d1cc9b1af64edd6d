// Package backup snapshots warehouse tables to an object store before they are mutated.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/gridveg-dates/internal/common"
	"github.com/Veraticus/gridveg-dates/internal/model"
	"github.com/Veraticus/gridveg-dates/internal/objectstore"
	"github.com/Veraticus/gridveg-dates/internal/service"
)

// TimestampLayout names snapshot directories.
const TimestampLayout = "20060102_150405"

// Root is the key prefix every snapshot lives under.
const Root = "backups"

// ErrLocationInUse is returned when a snapshot location already holds objects.
var ErrLocationInUse = errors.New("backup location already holds objects")

// Manager creates and lists table snapshots. Snapshots are never deleted.
type Manager struct {
	extractor service.TableExtractor
	store     objectstore.Store
	now       func() time.Time
	retry     common.RetryOptions
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used to name snapshots.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRetry sets the retry policy for extract and list calls.
func WithRetry(opts common.RetryOptions) Option {
	return func(m *Manager) { m.retry = opts }
}

// NewManager creates a backup manager writing to store.
func NewManager(extractor service.TableExtractor, store objectstore.Store, opts ...Option) *Manager {
	m := &Manager{
		extractor: extractor,
		store:     store,
		now:       time.Now,
		retry:     common.DefaultRetryOptions(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TablePrefix is the key prefix holding every snapshot of table.
func TablePrefix(table model.TableRef) string {
	dataset := table.Dataset
	if dataset == "" {
		dataset = "default"
	}
	return path.Join(Root, dataset, table.Table) + "/"
}

// Prefix is the key prefix of the snapshot of table taken at ts.
func Prefix(table model.TableRef, ts time.Time) string {
	return TablePrefix(table) + ts.UTC().Format(TimestampLayout) + "/"
}

// Snapshot extracts table to a fresh timestamped location and verifies that
// at least one object landed there.
func (m *Manager) Snapshot(ctx context.Context, table model.TableRef) (model.BackupSnapshot, error) {
	ts := m.now().UTC().Truncate(time.Second)
	prefix := Prefix(table, ts)
	snapshot := model.BackupSnapshot{
		Timestamp:   ts,
		SourceTable: table,
		Prefix:      prefix,
		Location:    m.store.URI(prefix + objectstore.ShardPattern),
	}

	existing, err := common.WithRetryValue(ctx, func() ([]objectstore.Info, error) {
		return m.store.List(ctx, prefix)
	}, m.retry)
	if err != nil {
		return snapshot, fmt.Errorf("failed to inspect backup location %s: %w", snapshot.Location, err)
	}
	if len(existing) > 0 {
		return snapshot, fmt.Errorf("%w: %w: %s has %d objects", common.ErrBackupVerification, ErrLocationInUse, snapshot.Location, len(existing))
	}

	slog.Info("Creating backup",
		"table", table.String(),
		"location", snapshot.Location,
		"driver", string(m.store.Driver()))

	// Extract overwrites its shard names, so a retry after a partial write is safe.
	if err := common.WithRetry(ctx, func() error {
		return m.extractor.Extract(ctx, table, m.store, prefix)
	}, m.retry); err != nil {
		return snapshot, fmt.Errorf("failed to extract %s: %w", table, err)
	}

	objects, err := common.WithRetryValue(ctx, func() ([]objectstore.Info, error) {
		return m.store.List(ctx, prefix)
	}, m.retry)
	if err != nil {
		return snapshot, fmt.Errorf("failed to list backup location %s: %w", snapshot.Location, err)
	}

	snapshot.ObjectCount = len(objects)
	for _, obj := range objects {
		snapshot.Bytes += obj.Size
	}
	if snapshot.ObjectCount == 0 {
		return snapshot, fmt.Errorf("%w: no objects found at %s", common.ErrBackupVerification, snapshot.Location)
	}
	snapshot.Verified = true

	slog.Info("Backup verified",
		"location", snapshot.Location,
		"objects", snapshot.ObjectCount,
		"bytes", snapshot.Bytes)
	return snapshot, nil
}

// List returns the snapshots of table, newest first.
func (m *Manager) List(ctx context.Context, table model.TableRef) ([]model.BackupSnapshot, error) {
	base := TablePrefix(table)
	objects, err := common.WithRetryValue(ctx, func() ([]objectstore.Info, error) {
		return m.store.List(ctx, base)
	}, m.retry)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups of %s: %w", table, err)
	}

	byStamp := make(map[string]*model.BackupSnapshot)
	for _, obj := range objects {
		rest := strings.TrimPrefix(obj.Key, base)
		stamp, _, found := strings.Cut(rest, "/")
		if !found {
			continue
		}
		ts, err := time.ParseInLocation(TimestampLayout, stamp, time.UTC)
		if err != nil {
			slog.Debug("Skipping object outside a snapshot", "key", obj.Key)
			continue
		}
		snap, ok := byStamp[stamp]
		if !ok {
			prefix := base + stamp + "/"
			snap = &model.BackupSnapshot{
				Timestamp:   ts,
				SourceTable: table,
				Prefix:      prefix,
				Location:    m.store.URI(prefix + objectstore.ShardPattern),
			}
			byStamp[stamp] = snap
		}
		snap.ObjectCount++
		snap.Bytes += obj.Size
		snap.Verified = true
	}

	snapshots := make([]model.BackupSnapshot, 0, len(byStamp))
	for _, snap := range byStamp {
		snapshots = append(snapshots, *snap)
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}
