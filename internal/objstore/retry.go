package objstore

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/logship/pkg/apperror"
	"github.com/cuemby/logship/pkg/log"
	"github.com/cuemby/logship/pkg/metrics"
)

// retrying wraps a Backend and retries operations that fail with a
// transient classification, using an exponential backoff bounded at five
// attempts (~100ms to ~1.6s between tries).
type retrying struct {
	inner Backend
}

// WithRetry decorates backend with the standard transient-error retry
// policy. Every component that touches object storage goes through this.
func WithRetry(backend Backend) Backend {
	return &retrying{inner: backend}
}

func (r *retrying) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = 1600 * time.Millisecond
	return backoff.WithContext(backoff.WithMaxRetries(eb, 4), ctx)
}

func (r *retrying) run(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		e := fn()
		if e == nil {
			metrics.ObjectStoreOpsTotal.WithLabelValues(op, "success").Inc()
			return nil
		}
		if !apperror.Retryable(e) {
			metrics.ObjectStoreOpsTotal.WithLabelValues(op, "failure").Inc()
			return backoff.Permanent(e)
		}
		metrics.ObjectStoreRetries.WithLabelValues(op).Inc()
		log.WithComponent("objstore").Warn().Err(e).Str("op", op).Int("attempt", attempt).Msg("retrying object store operation")
		return e
	}, r.policy(ctx))

	if err != nil {
		metrics.ObjectStoreOpsTotal.WithLabelValues(op, "failure").Inc()
	}
	return err
}

func (r *retrying) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := r.run(ctx, "get", func() error {
		var e error
		rc, e = r.inner.Get(ctx, key)
		return e
	})
	return rc, err
}

func (r *retrying) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	buf, err := io.ReadAll(body)
	if err != nil {
		return apperror.Wrap(apperror.KindObjectStoreTransient, key, err)
	}
	return r.run(ctx, "put", func() error {
		return r.inner.Put(ctx, key, bytes.NewReader(buf), size)
	})
}

func (r *retrying) PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64) (bool, error) {
	buf, err := io.ReadAll(body)
	if err != nil {
		return false, apperror.Wrap(apperror.KindObjectStoreTransient, key, err)
	}

	var created bool
	runErr := r.run(ctx, "put_if_absent", func() error {
		var e error
		created, e = r.inner.PutIfAbsent(ctx, key, bytes.NewReader(buf), size)
		return e
	})
	return created, runErr
}

func (r *retrying) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	err := r.run(ctx, "list", func() error {
		var e error
		out, e = r.inner.List(ctx, prefix)
		return e
	})
	return out, err
}

func (r *retrying) Head(ctx context.Context, key string) (ObjectInfo, error) {
	var info ObjectInfo
	err := r.run(ctx, "head", func() error {
		var e error
		info, e = r.inner.Head(ctx, key)
		return e
	})
	return info, err
}

func (r *retrying) Delete(ctx context.Context, key string) error {
	return r.run(ctx, "delete", func() error {
		return r.inner.Delete(ctx, key)
	})
}
