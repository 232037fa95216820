package staging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(EngineConfig{
		Dir:      t.TempDir(),
		Hostname: "test-host",
		CapBytes: 1 << 20,
	})
	require.NoError(t, err)
	return e
}

func fixedPartition(rec Record) (int64, []string) {
	return 1000, nil
}

func TestEngine_AppendCreatesOpenFile(t *testing.T) {
	e := newTestEngine(t)
	err := e.Append(context.Background(), AppendRequest{
		Stream:      "app-logs",
		Fingerprint: 42,
		Records:     []Record{{"msg": "hello"}},
		PartitionOf: fixedPartition,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, e.OpenFileCount())
	assert.Greater(t, e.BytesInUse(), int64(0))
}

func TestEngine_AppendReusesOpenFileForSameGroup(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	req := AppendRequest{Stream: "app-logs", Fingerprint: 1, Records: []Record{{"a": 1}}, PartitionOf: fixedPartition}

	require.NoError(t, e.Append(ctx, req))
	require.NoError(t, e.Append(ctx, req))
	assert.Equal(t, 1, e.OpenFileCount())
}

func TestEngine_AppendSeparatesByFingerprint(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Append(ctx, AppendRequest{Stream: "s", Fingerprint: 1, Records: []Record{{"a": 1}}, PartitionOf: fixedPartition}))
	require.NoError(t, e.Append(ctx, AppendRequest{Stream: "s", Fingerprint: 2, Records: []Record{{"a": 1}}, PartitionOf: fixedPartition}))

	assert.Equal(t, 2, e.OpenFileCount())
}

func TestEngine_BackpressureLatchesAndReleases(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.CapBytes = 100
	e.cfg.HighWatermark = 0.8
	e.cfg.LowWatermark = 0.6

	bigRecords := make([]Record, 0, 50)
	for i := 0; i < 50; i++ {
		bigRecords = append(bigRecords, Record{"field": "0123456789"})
	}

	err := e.Append(context.Background(), AppendRequest{
		Stream: "s", Fingerprint: 1, Records: bigRecords, PartitionOf: fixedPartition,
	})
	require.NoError(t, err)
	assert.True(t, e.isFull())

	err = e.Append(context.Background(), AppendRequest{
		Stream: "s", Fingerprint: 1, Records: []Record{{"a": 1}}, PartitionOf: fixedPartition,
	})
	assert.Error(t, err)

	e.ReleaseBytes(e.BytesInUse())
	assert.False(t, e.isFull())
}

func TestEngine_OnSchemaChangeRotatesOpenFiles(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Append(context.Background(), AppendRequest{
		Stream: "s", Fingerprint: 1, Records: []Record{{"a": 1}}, PartitionOf: fixedPartition,
	}))
	assert.Equal(t, 1, e.OpenFileCount())

	e.OnSchemaChange("s")
	assert.Equal(t, 0, e.OpenFileCount())

	byFP, err := e.ClaimRotated("s", "epoch1")
	require.NoError(t, err)
	assert.Len(t, byFP[1], 1)
}

func TestEngine_StopRotatesRemainingOpenFiles(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Append(context.Background(), AppendRequest{
		Stream: "s", Fingerprint: 1, Records: []Record{{"a": 1}}, PartitionOf: fixedPartition,
	}))
	e.Start()
	e.Stop()
	assert.Equal(t, 0, e.OpenFileCount())
}

func TestEngine_ClaimAndTombstoneRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Append(ctx, AppendRequest{Stream: "s", Fingerprint: 7, Records: []Record{{"a": 1}}, PartitionOf: fixedPartition}))

	e.checkRotationsForTest()
	byFP, err := e.ClaimRotated("s", "epoch-x")
	require.NoError(t, err)
	require.Len(t, byFP[7], 1)

	f := byFP[7][0]
	assert.Equal(t, StateClaimed, f.State())

	before := e.BytesInUse()
	require.NoError(t, e.Tombstone(f))
	assert.Less(t, e.BytesInUse(), before+1)
}

func TestEngine_ReleaseReturnsClaimedFileToRotatedPool(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Append(ctx, AppendRequest{Stream: "s", Fingerprint: 7, Records: []Record{{"a": 1}}, PartitionOf: fixedPartition}))

	e.checkRotationsForTest()
	byFP, err := e.ClaimRotated("s", "epoch-x")
	require.NoError(t, err)
	require.Len(t, byFP[7], 1)
	f := byFP[7][0]
	require.Equal(t, StateClaimed, f.State())

	e.Release("s", byFP[7])
	assert.Equal(t, StateRotated, f.State())

	again, err := e.ClaimRotated("s", "epoch-y")
	require.NoError(t, err)
	require.Len(t, again[7], 1)
	assert.Equal(t, StateClaimed, again[7][0].State())
}

func (e *Engine) checkRotationsForTest() {
	e.mu.Lock()
	for key, f := range e.open {
		_ = f.rotate()
		e.rotated[f.name.Stream] = append(e.rotated[f.name.Stream], f)
		delete(e.open, key)
	}
	e.mu.Unlock()
}
