package objstore

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/cuemby/logship/pkg/apperror"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures an S3-compatible backend.
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// S3Backend stores objects in an S3-compatible bucket via minio-go.
type S3Backend struct {
	client *minio.Client
	bucket string
}

// NewS3 connects to the bucket described by cfg and ensures it exists.
func NewS3(cfg S3Config) (*S3Backend, error) {
	endpoint := cfg.Endpoint
	secure := true
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	} else {
		u, err := url.Parse(endpoint)
		if err == nil && u.Host != "" {
			endpoint = u.Host
			secure = u.Scheme != "http"
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, apperror.Wrap(apperror.KindObjectStoreAuth, "create s3 client", err)
	}

	return &S3Backend{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyS3Error(key, err)
	}
	// minio-go defers the network round trip to first Read/Stat; force it
	// now so a missing key surfaces here rather than at the caller's first
	// read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, classifyS3Error(key, err)
	}
	return obj, nil
}

func (s *S3Backend) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return classifyS3Error(key, err)
	}
	return nil
}

func (s *S3Backend) PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return false, nil
	}
	if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return false, classifyS3Error(key, err)
	}

	// S3 has no universal conditional-create header across every
	// compatible implementation minio-go targets, so the stat-then-put
	// above is best effort: two writers racing on the same key can both
	// pass the stat check.
	if err := s.Put(ctx, key, body, size); err != nil {
		return false, err
	}
	return true, nil
}

func (s *S3Backend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, classifyS3Error(prefix, obj.Err)
		}
		out = append(out, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         strings.Trim(obj.ETag, `"`),
			LastModified: obj.LastModified,
		})
	}
	return out, nil
}

func (s *S3Backend) Head(ctx context.Context, key string) (ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, classifyS3Error(key, err)
	}
	return ObjectInfo{
		Key:          key,
		Size:         info.Size,
		ETag:         strings.Trim(info.ETag, `"`),
		LastModified: info.LastModified,
	}, nil
}

func (s *S3Backend) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return classifyS3Error(key, err)
	}
	return nil
}

func classifyS3Error(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return apperror.Wrap(apperror.KindObjectStoreNotFound, key, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return apperror.Wrap(apperror.KindObjectStoreAuth, key, err)
	default:
		return apperror.Wrap(apperror.KindObjectStoreTransient, key, err)
	}
}
