// Package source opens import inputs: local files or gs://bucket/object.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ErrNotFound is returned when the input does not exist.
var ErrNotFound = errors.New("source not found")

const gcsScheme = "gs://"

// ParseGCS splits "gs://bucket/object". ok is false for other paths.
func ParseGCS(path string) (bucket, object string, ok bool, err error) {
	if !strings.HasPrefix(path, gcsScheme) {
		return "", "", false, nil
	}
	bucket, object, _ = strings.Cut(strings.TrimPrefix(path, gcsScheme), "/")
	if bucket == "" || object == "" {
		return "", "", true, fmt.Errorf("invalid object path %q", path)
	}
	return bucket, object, true, nil
}

// Opener opens inputs, creating the Cloud Storage client on first use.
type Opener struct {
	opts []option.ClientOption

	mu  sync.Mutex
	gcs *storage.Client
}

func NewOpener(opts ...option.ClientOption) *Opener {
	return &Opener{opts: opts}
}

// Open returns a reader for path. The caller closes it.
func (o *Opener) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	bucket, object, isGCS, err := ParseGCS(path)
	if err != nil {
		return nil, err
	}
	if !isGCS {
		f, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return f, err
	}

	c, err := o.client(ctx)
	if err != nil {
		return nil, err
	}
	r, err := c.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return r, nil
}

func (o *Opener) client(ctx context.Context) (*storage.Client, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gcs != nil {
		return o.gcs, nil
	}
	c, err := storage.NewClient(ctx, o.opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	o.gcs = c
	return c, nil
}

func (o *Opener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gcs == nil {
		return nil
	}
	err := o.gcs.Close()
	o.gcs = nil
	return err
}
