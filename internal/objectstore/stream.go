package objectstore

import (
	"context"
	"fmt"
	"io"
)

// PutStream uploads whatever write produces to key without buffering it in
// memory. An upload failure takes precedence over the writer's error.
func PutStream(ctx context.Context, store Store, key string, opts PutOptions, write func(w io.Writer) error) (Info, error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := write(pw)
		_ = pw.CloseWithError(err)
		done <- err
	}()

	info, putErr := store.Put(ctx, key, pr, opts)
	_ = pr.CloseWithError(putErr)
	writeErr := <-done

	if putErr != nil {
		return Info{}, fmt.Errorf("failed to upload %s: %w", key, putErr)
	}
	if writeErr != nil {
		return Info{}, writeErr
	}
	return info, nil
}
