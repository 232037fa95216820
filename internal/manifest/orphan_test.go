package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cuemby/logship/internal/convert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_SweepOrphansRepublishesRecoverableOrphan(t *testing.T) {
	store := newMemStore()
	p := NewPublisher(store)
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, "app-logs", "2026-07-30", []Entry{
		{Key: "app-logs/date=2026-07-30/known.data"},
	}))

	minTS := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	maxTS := minTS.Add(time.Hour)
	sidecar := convert.Sidecar{MinTS: minTS, MaxTS: maxTS}
	body, err := json.Marshal(sidecar)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "app-logs/date=2026-07-30/orphan.data", bytes.NewReader([]byte("payload")), 7))
	require.NoError(t, store.Put(ctx, "app-logs/date=2026-07-30/orphan.data.index", bytes.NewReader(body), int64(len(body))))

	require.NoError(t, p.SweepOrphans(ctx, store, "app-logs"))

	_, m, found, err := p.latestVersion(ctx, "app-logs", "2026-07-30")
	require.NoError(t, err)
	require.True(t, found)

	var keys []string
	for _, e := range m.Entries {
		keys = append(keys, e.Key)
	}
	assert.Contains(t, keys, "app-logs/date=2026-07-30/orphan.data")
	assert.Contains(t, keys, "app-logs/date=2026-07-30/known.data")
}

func TestPublisher_SweepOrphansSkipsUnrecoverableIndex(t *testing.T) {
	store := newMemStore()
	p := NewPublisher(store)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "app-logs/date=2026-07-30/broken.data", bytes.NewReader([]byte("x")), 1))
	require.NoError(t, store.Put(ctx, "app-logs/date=2026-07-30/broken.data.index", bytes.NewReader([]byte("not json")), 8))

	require.NoError(t, p.SweepOrphans(ctx, store, "app-logs"))

	dates, err := p.ListDates(ctx, "app-logs")
	require.NoError(t, err)
	assert.Empty(t, dates)
}

func TestExtractDate(t *testing.T) {
	cases := []struct {
		key, stream, want string
	}{
		{"app-logs/date=2026-07-30/file.data", "app-logs", "2026-07-30"},
		{"app-logs/.stream/config", "app-logs", ""},
		{"other-stream/date=2026-07-30/file.data", "app-logs", ""},
	}
	for _, c := range cases {
		require.Equal(t, c.want, extractDate(c.key, c.stream))
	}
}
