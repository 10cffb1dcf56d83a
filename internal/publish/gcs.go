package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
)

// Defaults for the results bucket layout.
const (
	DefaultBucket = "rcpsp-results-bucket"
	DefaultPrefix = "results"
)

// GCS uploads to Google Cloud Storage under <prefix>/<basename>.
type GCS struct {
	bucket string
	prefix string
	// newWriter opens the destination object; replaced in tests.
	newWriter func(ctx context.Context, bucket, key string) io.WriteCloser
	close     func() error
}

// NewGCS creates a GCS publisher using application default credentials.
func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create storage client: %v", ErrPublish, err)
	}

	return &GCS{
		bucket: bucket,
		prefix: prefix,
		newWriter: func(ctx context.Context, bucket, key string) io.WriteCloser {
			w := client.Bucket(bucket).Object(key).NewWriter(ctx)
			w.ContentType = "text/csv"
			return w
		},
		close: client.Close,
	}, nil
}

// ObjectKey returns the object name for a local file.
func ObjectKey(prefix, localPath string) string {
	return path.Join(prefix, filepath.Base(localPath))
}

// Publish uploads localPath and returns its gs:// URL.
func (g *GCS) Publish(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublish, err)
	}
	defer f.Close()

	key := ObjectKey(g.prefix, localPath)
	w := g.newWriter(ctx, g.bucket, key)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", fmt.Errorf("%w: writing gs://%s/%s: %v", ErrPublish, g.bucket, key, err)
	}
	// the object only exists once Close succeeds
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: finalizing gs://%s/%s: %v", ErrPublish, g.bucket, key, err)
	}

	url := fmt.Sprintf("gs://%s/%s", g.bucket, key)
	log.Info("Results published", "url", url)
	return url, nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	if g.close == nil {
		return nil
	}
	return g.close()
}
