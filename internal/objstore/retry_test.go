package objstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/cuemby/logship/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	failuresLeft int
	failKind     apperror.Kind
	puts         int
}

func (f *fakeBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return nil, apperror.New(f.failKind, "simulated")
	}
	return io.NopCloser(bytes.NewReader([]byte("ok"))), nil
}

func (f *fakeBackend) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	f.puts++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return apperror.New(f.failKind, "simulated")
	}
	return nil
}

func (f *fakeBackend) PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64) (bool, error) {
	return true, nil
}

func (f *fakeBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	return nil, nil
}

func (f *fakeBackend) Head(ctx context.Context, key string) (ObjectInfo, error) {
	return ObjectInfo{}, nil
}

func (f *fakeBackend) Delete(ctx context.Context, key string) error {
	return nil
}

func TestRetrying_RetriesTransientThenSucceeds(t *testing.T) {
	fake := &fakeBackend{failuresLeft: 2, failKind: apperror.KindObjectStoreTransient}
	backend := WithRetry(fake)

	err := backend.Put(context.Background(), "k", bytes.NewReader([]byte("v")), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, fake.puts)
}

func TestRetrying_DoesNotRetryNonTransient(t *testing.T) {
	fake := &fakeBackend{failuresLeft: 1, failKind: apperror.KindObjectStoreAuth}
	backend := WithRetry(fake)

	err := backend.Put(context.Background(), "k", bytes.NewReader([]byte("v")), 1)
	assert.Error(t, err)
	assert.Equal(t, 1, fake.puts)
}

func TestRetrying_GivesUpAfterMaxRetries(t *testing.T) {
	fake := &fakeBackend{failuresLeft: 100, failKind: apperror.KindObjectStoreTransient}
	backend := WithRetry(fake)

	_, err := backend.Get(context.Background(), "k")
	assert.Error(t, err)
}
