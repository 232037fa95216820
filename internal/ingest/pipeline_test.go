package ingest

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/logship/internal/catalog"
	"github.com/cuemby/logship/internal/convert"
	"github.com/cuemby/logship/internal/manifest"
	"github.com/cuemby/logship/internal/objstore"
	"github.com/cuemby/logship/internal/schema"
	"github.com/cuemby/logship/internal/staging"
	"github.com/cuemby/logship/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func newMemStore() *memStore { return &memStore{objs: make(map[string][]byte)} }

func (m *memStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objs[key]
	if !ok {
		return nil, apperror.New(apperror.KindObjectStoreNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memStore) Put(_ context.Context, key string, body io.Reader, _ int64) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[key] = b
	return nil
}

func (m *memStore) PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64) (bool, error) {
	m.mu.Lock()
	_, exists := m.objs[key]
	m.mu.Unlock()
	if exists {
		return false, nil
	}
	return true, m.Put(ctx, key, body, size)
}

func (m *memStore) List(_ context.Context, prefix string) ([]objstore.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []objstore.ObjectInfo
	for k, v := range m.objs {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, objstore.ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (m *memStore) Head(_ context.Context, key string) (objstore.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objs[key]
	if !ok {
		return objstore.ObjectInfo{}, apperror.New(apperror.KindObjectStoreNotFound, key)
	}
	return objstore.ObjectInfo{Key: key, Size: int64(len(b))}, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objs, key)
	return nil
}

func TestPipeline_TickConvertsUploadsAndPublishes(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	cat, err := catalog.New(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer cat.Close()
	require.NoError(t, cat.Create(ctx, catalog.StreamConfig{Name: "app-logs"}))

	reg := schema.NewRegistry(store)
	s := schema.Schema{
		{Name: "ts", Type: schema.TypeTimestamp},
		{Name: "msg", Type: schema.TypeUtf8},
	}
	reg.Seed("app-logs", s)

	eng, err := staging.NewEngine(staging.EngineConfig{Dir: t.TempDir(), Hostname: "h1", CapBytes: 1 << 20})
	require.NoError(t, err)

	minuteBucket := time.Now().UTC().Unix() / 60
	require.NoError(t, eng.Append(ctx, staging.AppendRequest{
		Stream:      "app-logs",
		Fingerprint: s.Fingerprint(),
		Records: []staging.Record{
			{"ts": "2026-07-30T00:00:00Z", "msg": "hello"},
			{"ts": "2026-07-30T00:00:01Z", "msg": "world"},
		},
		PartitionOf: func(staging.Record) (int64, []string) { return minuteBucket, nil },
	}))
	eng.Stop() // rotates the open file without ever starting the rotation loop

	conv := convert.NewConverter()
	pub := manifest.NewPublisher(store)
	p := New(cat, reg, eng, conv, pub, store)

	p.Tick(ctx)

	date := time.Unix(minuteBucket*60, 0).UTC().Format("2006-01-02")
	dates, err := pub.ListDates(ctx, "app-logs")
	require.NoError(t, err)
	assert.Contains(t, dates, date)

	keys, err := store.List(ctx, "app-logs/date=")
	require.NoError(t, err)
	assert.NotEmpty(t, keys)

	cfg, ok := cat.Get("app-logs")
	require.True(t, ok)
	assert.False(t, cfg.FirstEventAt.IsZero())
}

// failOnceStore fails the first Put to a key containing ".parquet" so
// tests can exercise the release-and-retry path without a real
// unreachable backend.
type failOnceStore struct {
	*memStore
	failed bool
}

func (f *failOnceStore) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	if !f.failed && strings.Contains(key, ".parquet") {
		f.failed = true
		return apperror.New(apperror.KindObjectStoreTransient, "simulated transient upload failure")
	}
	return f.memStore.Put(ctx, key, body, size)
}

func TestPipeline_TickReleasesFilesForRetryOnUploadFailure(t *testing.T) {
	ctx := context.Background()
	store := &failOnceStore{memStore: newMemStore()}

	cat, err := catalog.New(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer cat.Close()
	require.NoError(t, cat.Create(ctx, catalog.StreamConfig{Name: "app-logs"}))

	reg := schema.NewRegistry(store)
	s := schema.Schema{
		{Name: "ts", Type: schema.TypeTimestamp},
		{Name: "msg", Type: schema.TypeUtf8},
	}
	reg.Seed("app-logs", s)

	eng, err := staging.NewEngine(staging.EngineConfig{Dir: t.TempDir(), Hostname: "h1", CapBytes: 1 << 20})
	require.NoError(t, err)

	minuteBucket := time.Now().UTC().Unix() / 60
	require.NoError(t, eng.Append(ctx, staging.AppendRequest{
		Stream:      "app-logs",
		Fingerprint: s.Fingerprint(),
		Records:     []staging.Record{{"ts": "2026-07-30T00:00:00Z", "msg": "hello"}},
		PartitionOf: func(staging.Record) (int64, []string) { return minuteBucket, nil },
	}))
	eng.Stop()

	p := New(cat, reg, eng, convert.NewConverter(), manifest.NewPublisher(store), store)

	p.Tick(ctx) // first tick: upload fails, files are released back to Rotated
	date := time.Unix(minuteBucket*60, 0).UTC().Format("2006-01-02")
	dates, err := manifest.NewPublisher(store).ListDates(ctx, "app-logs")
	require.NoError(t, err)
	assert.NotContains(t, dates, date)

	p.Tick(ctx) // second tick: the same files are claimed again and succeed
	dates, err = manifest.NewPublisher(store).ListDates(ctx, "app-logs")
	require.NoError(t, err)
	assert.Contains(t, dates, date)
}

func TestPipeline_TickIsNoOpWhenNothingRotated(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	cat, err := catalog.New(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer cat.Close()
	require.NoError(t, cat.Create(ctx, catalog.StreamConfig{Name: "empty-stream"}))

	reg := schema.NewRegistry(store)
	eng, err := staging.NewEngine(staging.EngineConfig{Dir: t.TempDir(), Hostname: "h1", CapBytes: 1 << 20})
	require.NoError(t, err)

	p := New(cat, reg, eng, convert.NewConverter(), manifest.NewPublisher(store), store)
	p.Tick(ctx)

	dates, err := manifest.NewPublisher(store).ListDates(ctx, "empty-stream")
	require.NoError(t, err)
	assert.Empty(t, dates)
}

func TestArtifactKeys_PercentEncodesCustomParts(t *testing.T) {
	minute := time.Date(2026, 7, 30, 14, 5, 0, 0, time.UTC).Unix() / 60
	dataKey, indexKey := artifactKeys("app-logs", minute, []string{"a/b"}, "01ULID")

	assert.Contains(t, dataKey, "a%2Fb")
	assert.Contains(t, dataKey, "app-logs/date=2026-07-30/hour=14/minute=05/")
	assert.True(t, strings.HasSuffix(dataKey, "01ULID.parquet"))
	assert.True(t, strings.HasSuffix(indexKey, "01ULID.index"))
}
