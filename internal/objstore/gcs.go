package objstore

import (
	"context"
	"errors"
	"io"

	gcs "cloud.google.com/go/storage"
	"github.com/cuemby/logship/pkg/apperror"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSConfig configures a Google Cloud Storage backend.
type GCSConfig struct {
	Bucket         string
	CredentialFile string
}

// GCSBackend stores objects in a single GCS bucket.
type GCSBackend struct {
	bucket *gcs.BucketHandle
}

// NewGCS creates a client against cfg.Bucket. If CredentialFile is empty,
// application default credentials are used.
func NewGCS(cfg GCSConfig) (*GCSBackend, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if cfg.CredentialFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindObjectStoreAuth, "create gcs client", err)
	}

	return &GCSBackend{bucket: client.Bucket(cfg.Bucket)}, nil
}

func (g *GCSBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := g.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, classifyGCSError(key, err)
	}
	return r, nil
}

func (g *GCSBackend) Put(ctx context.Context, key string, body io.Reader, _ int64) error {
	w := g.bucket.Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, body); err != nil {
		w.Close()
		return apperror.Wrap(apperror.KindObjectStoreTransient, key, err)
	}
	if err := w.Close(); err != nil {
		return classifyGCSError(key, err)
	}
	return nil
}

func (g *GCSBackend) PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64) (bool, error) {
	w := g.bucket.Object(key).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := io.Copy(w, body); err != nil {
		w.Close()
		return false, apperror.Wrap(apperror.KindObjectStoreTransient, key, err)
	}
	if err := w.Close(); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		// GCS returns a precondition-failed googleapi.Error when the
		// DoesNotExist condition loses the race.
		if isGCSPreconditionFailed(err) {
			return false, nil
		}
		return false, classifyGCSError(key, err)
	}
	return true, nil
}

func (g *GCSBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	it := g.bucket.Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classifyGCSError(prefix, err)
		}
		out = append(out, ObjectInfo{
			Key:          attrs.Name,
			Size:         attrs.Size,
			ETag:         attrs.Etag,
			LastModified: attrs.Updated,
		})
	}
	return out, nil
}

func (g *GCSBackend) Head(ctx context.Context, key string) (ObjectInfo, error) {
	attrs, err := g.bucket.Object(key).Attrs(ctx)
	if err != nil {
		return ObjectInfo{}, classifyGCSError(key, err)
	}
	return ObjectInfo{
		Key:          key,
		Size:         attrs.Size,
		ETag:         attrs.Etag,
		LastModified: attrs.Updated,
	}, nil
}

func (g *GCSBackend) Delete(ctx context.Context, key string) error {
	err := g.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return classifyGCSError(key, err)
	}
	return nil
}

func classifyGCSError(key string, err error) error {
	if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
		return apperror.Wrap(apperror.KindObjectStoreNotFound, key, err)
	}
	return apperror.Wrap(apperror.KindObjectStoreTransient, key, err)
}

func isGCSPreconditionFailed(err error) bool {
	type statusCoder interface {
		Code() int
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.Code() == 412
	}
	return false
}
