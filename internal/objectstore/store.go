// Package objectstore provides the blob storage used for table backups.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Veraticus/gridveg-dates/internal/common"
)

// Driver identifies a concrete object store implementation.
type Driver string

const (
	// DriverGCS stores objects in a Google Cloud Storage bucket.
	DriverGCS Driver = "gcs"
	// DriverS3 stores objects in an S3 / MinIO compatible bucket.
	DriverS3 Driver = "s3"
	// DriverFilesystem stores objects under a local directory.
	DriverFilesystem Driver = "fs"
	// DriverMemory keeps objects in process memory (tests).
	DriverMemory Driver = "memory"
)

// FirstShard is the object name of the first CSV shard of a table export,
// numbered the way a BigQuery wildcard extract names it.
const FirstShard = "000000000000.csv"

// ShardPattern matches every CSV shard under a backup prefix.
const ShardPattern = "*.csv"

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	Metadata    map[string]string
	ContentType string
}

// Info describes a stored object.
type Info struct {
	LastModified time.Time
	Key          string
	Size         int64
}

// Store is the minimal blob surface the backup manager needs.
// Put overwrites an existing key so a retried export stays idempotent.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	// URI renders a driver-native address for key, e.g. gs://bucket/key.
	URI(key string) string
	Driver() Driver
}

// Config selects and configures a driver.
type Config struct {
	Driver          Driver
	Bucket          string
	Root            string
	Region          string
	Endpoint        string
	CredentialsFile string
	PathStyle       bool
}

// Open constructs the store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverGCS:
		return NewGCS(ctx, GCSConfig{Bucket: cfg.Bucket, CredentialsFile: cfg.CredentialsFile})
	case DriverS3:
		return NewS3(ctx, S3Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PathStyle: cfg.PathStyle,
		})
	case DriverFilesystem:
		return NewFilesystem(cfg.Root)
	case DriverMemory:
		return NewMemory(), nil
	case "":
		return nil, fmt.Errorf("%w: backup driver", common.ErrMissingConfig)
	default:
		return nil, fmt.Errorf("%w: unknown backup driver %q", common.ErrInvalidConfig, cfg.Driver)
	}
}

// sanitizeKey rejects keys that could escape the store root.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid absolute key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid key %q contains '..'", key)
		}
	}
	return key, nil
}
