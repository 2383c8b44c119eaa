// GCP Cloud Storage gateway backend.
//
// Asset bytes live in one upstream GCS bucket under an optional prefix.
// Key mapping:
//
//	Assets:  {prefix}{relative path}
//
// Credentials are resolved via Application Default Credentials
// (GOOGLE_APPLICATION_CREDENTIALS, gcloud auth, metadata server).

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/galleria/galleria/internal/naming"
)

// GCSAPI defines the subset of the GCS client interface that the gateway
// backend uses. This allows mocking in tests.
type GCSAPI interface {
	// NewWriter returns a writer for the given GCS object.
	NewWriter(ctx context.Context, bucket, object string) io.WriteCloser
	// NewReader returns a reader for the given GCS object.
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	// Delete deletes the given GCS object.
	Delete(ctx context.Context, bucket, object string) error
	// Exists reports whether the given GCS object exists.
	Exists(ctx context.Context, bucket, object string) (bool, error)
	// Objects iterates object names under prefix. Next returns iterator.Done
	// when exhausted.
	Objects(ctx context.Context, bucket, prefix string) GCSObjectIterator
}

// GCSObjectIterator yields object names one at a time.
type GCSObjectIterator interface {
	Next() (string, error)
}

type realGCSClient struct {
	client *gcs.Client
}

func (c *realGCSClient) NewWriter(ctx context.Context, bucket, object string) io.WriteCloser {
	return c.client.Bucket(bucket).Object(object).NewWriter(ctx)
}

func (c *realGCSClient) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return c.client.Bucket(bucket).Object(object).NewReader(ctx)
}

func (c *realGCSClient) Delete(ctx context.Context, bucket, object string) error {
	return c.client.Bucket(bucket).Object(object).Delete(ctx)
}

func (c *realGCSClient) Exists(ctx context.Context, bucket, object string) (bool, error) {
	_, err := c.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	return false, err
}

func (c *realGCSClient) Objects(ctx context.Context, bucket, prefix string) GCSObjectIterator {
	return &realGCSIterator{it: c.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix})}
}

type realGCSIterator struct {
	it *gcs.ObjectIterator
}

func (r *realGCSIterator) Next() (string, error) {
	attrs, err := r.it.Next()
	if err != nil {
		return "", err
	}
	return attrs.Name, nil
}

// GCPGatewayBackend implements Backend on Google Cloud Storage.
type GCPGatewayBackend struct {
	// Bucket is the upstream GCS bucket name.
	Bucket string
	// Project is the GCP project ID.
	Project string
	// Prefix is the key prefix for all assets in the upstream bucket.
	Prefix string

	client GCSAPI
}

// NewGCPGatewayBackend creates a new GCPGatewayBackend configured to proxy
// to the specified GCS bucket. It initializes the GCS client using
// Application Default Credentials and verifies the bucket is listable.
func NewGCPGatewayBackend(ctx context.Context, bucket, project, prefix string) (*GCPGatewayBackend, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	b := NewGCPGatewayBackendWithClient(bucket, project, prefix, &realGCSClient{client: client})
	if err := b.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("cannot access upstream GCS bucket %q: %w", bucket, err)
	}

	slog.Info("GCP gateway backend initialized", "bucket", bucket, "project", project, "prefix", prefix)
	return b, nil
}

// NewGCPGatewayBackendWithClient creates a GCPGatewayBackend with a
// pre-configured GCS client. This is primarily used for testing with mock
// clients.
func NewGCPGatewayBackendWithClient(bucket, project, prefix string, client GCSAPI) *GCPGatewayBackend {
	return &GCPGatewayBackend{
		Bucket:  bucket,
		Project: project,
		Prefix:  prefix,
		client:  client,
	}
}

func (b *GCPGatewayBackend) gcsKey(rel string) string {
	return b.Prefix + naming.Normalize(rel)
}

// EnsureRoot is a no-op: GCS has no directories to create.
func (b *GCPGatewayBackend) EnsureRoot(ctx context.Context) error {
	return nil
}

// Write uploads data. The object becomes visible only when the writer is
// closed successfully.
func (b *GCPGatewayBackend) Write(ctx context.Context, rel string, data []byte) error {
	if !naming.Valid(rel) {
		return &WriteError{Path: rel, Err: errors.New("invalid path")}
	}
	w := b.client.NewWriter(ctx, b.Bucket, b.gcsKey(rel))
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return &WriteError{Path: rel, Err: fmt.Errorf("uploading to GCS: %w", err)}
	}
	if err := w.Close(); err != nil {
		return &WriteError{Path: rel, Err: fmt.Errorf("finalizing GCS upload: %w", err)}
	}
	return nil
}

// Read downloads the asset bytes at rel.
func (b *GCPGatewayBackend) Read(ctx context.Context, rel string) ([]byte, error) {
	r, err := b.client.NewReader(ctx, b.Bucket, b.gcsKey(rel))
	if err != nil {
		if isGCSNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting object from GCS: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading GCS object: %w", err)
	}
	return data, nil
}

// Delete removes rel. GCS errors on deleting a missing object, unlike S3,
// so not-found is swallowed here.
func (b *GCPGatewayBackend) Delete(ctx context.Context, rel string) error {
	if err := b.client.Delete(ctx, b.Bucket, b.gcsKey(rel)); err != nil && !isGCSNotFound(err) {
		return fmt.Errorf("deleting object from GCS: %w", err)
	}
	return nil
}

// Exists reports whether rel exists upstream.
func (b *GCPGatewayBackend) Exists(ctx context.Context, rel string) (bool, error) {
	ok, err := b.client.Exists(ctx, b.Bucket, b.gcsKey(rel))
	if err != nil {
		if isGCSNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking object existence in GCS: %w", err)
	}
	return ok, nil
}

// Walk drains the object iterator under the prefix.
func (b *GCPGatewayBackend) Walk(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		it := b.client.Objects(ctx, b.Bucket, b.Prefix)
		for {
			name, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				if errors.Is(err, gcs.ErrBucketNotExist) {
					yield("", ErrRootNotFound)
				} else {
					yield("", &WalkError{Dir: b.Prefix, Err: err})
				}
				return
			}
			key := strings.TrimPrefix(name, b.Prefix)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			if !yield(key, nil) {
				return
			}
		}
	}
}

// HealthCheck verifies that the upstream bucket can be listed.
func (b *GCPGatewayBackend) HealthCheck(ctx context.Context) error {
	_, err := b.client.Objects(ctx, b.Bucket, "\x00nonexistent\x00").Next()
	if err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}

func isGCSNotFound(err error) bool {
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return true
	}
	if errors.Is(err, gcs.ErrBucketNotExist) {
		return true
	}
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "not found") || strings.Contains(msg, "404") {
			return true
		}
	}
	return false
}

var _ Backend = (*GCPGatewayBackend)(nil)
