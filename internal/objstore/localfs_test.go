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

func TestLocalFS_PutGetRoundTrip(t *testing.T) {
	fs, err := NewLocalFS(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, fs.Put(ctx, "streamA/.stream/schema", bytes.NewReader([]byte("hello")), 5))

	r, err := fs.Get(ctx, "streamA/.stream/schema")
	require.NoError(t, err)
	defer r.Close()

	body, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestLocalFS_GetMissingIsNotFound(t *testing.T) {
	fs, err := NewLocalFS(t.TempDir())
	require.NoError(t, err)

	_, err = fs.Get(context.Background(), "nope")
	assert.True(t, apperror.Is(err, apperror.KindObjectStoreNotFound))
}

func TestLocalFS_PutIfAbsent(t *testing.T) {
	fs, err := NewLocalFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	created, err := fs.PutIfAbsent(ctx, "k", bytes.NewReader([]byte("v1")), 2)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = fs.PutIfAbsent(ctx, "k", bytes.NewReader([]byte("v2")), 2)
	require.NoError(t, err)
	assert.False(t, created)

	r, err := fs.Get(ctx, "k")
	require.NoError(t, err)
	defer r.Close()
	body, _ := io.ReadAll(r)
	assert.Equal(t, "v1", string(body))
}

func TestLocalFS_ListOrderedByKey(t *testing.T) {
	fs, err := NewLocalFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, k := range []string{"b/2.json", "a/1.json", "a/0.json"} {
		require.NoError(t, fs.Put(ctx, k, bytes.NewReader([]byte("x")), 1))
	}

	out, err := fs.List(ctx, "a/")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a/0.json", out[0].Key)
	assert.Equal(t, "a/1.json", out[1].Key)
}

func TestLocalFS_DeleteMissingIsNoop(t *testing.T) {
	fs, err := NewLocalFS(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, fs.Delete(context.Background(), "never-existed"))
}

func TestLocalFS_HeadReturnsSize(t *testing.T) {
	fs, err := NewLocalFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, fs.Put(ctx, "k", bytes.NewReader([]byte("12345")), 5))

	info, err := fs.Head(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
}
