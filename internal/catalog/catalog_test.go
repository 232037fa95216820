package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/logship/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("app-logs"))
	assert.NoError(t, ValidateName("a"))
	assert.Error(t, ValidateName("App-Logs"))
	assert.Error(t, ValidateName("has a space"))
	assert.Error(t, ValidateName("stream"))
}

func TestCatalog_CreateAndGet(t *testing.T) {
	c := newTestCatalog(t)
	err := c.Create(context.Background(), StreamConfig{Name: "app-logs"})
	require.NoError(t, err)

	cfg, ok := c.Get("app-logs")
	require.True(t, ok)
	assert.Equal(t, time.Minute, cfg.TimePartitionGranularity)
	assert.False(t, cfg.CreatedAt.IsZero())
}

func TestCatalog_CreateDuplicateFails(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, StreamConfig{Name: "app-logs"}))

	err := c.Create(ctx, StreamConfig{Name: "app-logs"})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindFatal))
}

func TestCatalog_CreateInvalidName(t *testing.T) {
	c := newTestCatalog(t)
	err := c.Create(context.Background(), StreamConfig{Name: "Not Valid"})
	assert.Error(t, err)
}

func TestCatalog_UpdateRetention(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, StreamConfig{Name: "app-logs"}))

	err := c.Update(ctx, "app-logs", Patch{Retention: &RetentionPolicy{Days: 30}})
	require.NoError(t, err)

	cfg, _ := c.Get("app-logs")
	assert.Equal(t, 30, cfg.Retention.Days)
}

func TestCatalog_AddCustomPartitionFieldBeforeFirstEvent(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, StreamConfig{Name: "app-logs"}))

	require.NoError(t, c.Update(ctx, "app-logs", Patch{AddCustomPartitionField: "region"}))

	cfg, _ := c.Get("app-logs")
	assert.Equal(t, []string{"region"}, cfg.CustomPartitionFields)
}

func TestCatalog_AddCustomPartitionFieldAfterFirstEventFails(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, StreamConfig{Name: "app-logs"}))
	require.NoError(t, c.MarkFirstEvent("app-logs", time.Now()))

	err := c.Update(ctx, "app-logs", Patch{AddCustomPartitionField: "region"})
	assert.Error(t, err)
}

func TestCatalog_MarkFirstEventIsIdempotent(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, StreamConfig{Name: "app-logs"}))

	first := time.Now().Add(-time.Hour)
	require.NoError(t, c.MarkFirstEvent("app-logs", first))
	require.NoError(t, c.MarkFirstEvent("app-logs", time.Now()))

	cfg, _ := c.Get("app-logs")
	assert.WithinDuration(t, first, cfg.FirstEventAt, time.Second)
}

func TestCatalog_RebuildFromCache(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	c1, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, c1.Create(context.Background(), StreamConfig{Name: "app-logs"}))
	require.NoError(t, c1.Close())

	c2, err := New(dbPath)
	require.NoError(t, err)
	defer c2.Close()
	require.NoError(t, c2.Rebuild())

	_, ok := c2.Get("app-logs")
	assert.True(t, ok)
}

func TestCatalog_List(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, StreamConfig{Name: "a"}))
	require.NoError(t, c.Create(ctx, StreamConfig{Name: "b"}))

	assert.Len(t, c.List(), 2)
}
