package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Veraticus/gridveg-dates/internal/common"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSConfig configures the Google Cloud Storage driver.
type GCSConfig struct {
	Bucket string
	// CredentialsFile is optional; application default credentials are used otherwise.
	CredentialsFile string
}

// GCS implements Store on a single Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS creates a Cloud Storage backed store.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("%w: gcs bucket", common.ErrMissingConfig)
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}
	return &GCS{client: client, bucket: cfg.Bucket}, nil
}

// Driver returns DriverGCS.
func (s *GCS) Driver() Driver { return DriverGCS }

// Bucket returns the bucket name.
func (s *GCS) Bucket() string { return s.bucket }

// Put uploads the object, replacing any previous generation.
func (s *GCS) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	if _, err := sanitizeKey(key); err != nil {
		return Info{}, err
	}

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = opts.ContentType
	if len(opts.Metadata) > 0 {
		w.Metadata = opts.Metadata
	}

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return Info{}, common.ClassifyNetworkError(fmt.Errorf("failed to upload %s: %w", key, err))
	}
	if err := w.Close(); err != nil {
		return Info{}, common.ClassifyNetworkError(fmt.Errorf("failed to finalize %s: %w", key, err))
	}

	attrs := w.Attrs()
	return Info{Key: key, Size: attrs.Size, LastModified: attrs.Updated}, nil
}

// List returns the objects under prefix.
func (s *GCS) List(ctx context.Context, prefix string) ([]Info, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var out []Info
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, common.ClassifyNetworkError(fmt.Errorf("failed to list gs://%s/%s: %w", s.bucket, prefix, err))
		}
		out = append(out, Info{Key: attrs.Name, Size: attrs.Size, LastModified: attrs.Updated})
	}
	return out, nil
}

// URI renders gs://bucket/key.
func (s *GCS) URI(key string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, key)
}

// Close releases the underlying client.
func (s *GCS) Close() error {
	return s.client.Close()
}
