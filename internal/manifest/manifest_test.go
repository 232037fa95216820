package manifest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManifest_MergeDeduplicatesByKey(t *testing.T) {
	m := Manifest{Stream: "app-logs", Date: "2026-07-30"}
	m = m.Merge([]Entry{{Key: "a"}, {Key: "b"}})

	merged := m.Merge([]Entry{{Key: "b"}, {Key: "c"}})

	var keys []string
	for _, e := range merged.Entries {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestManifest_MergeIsIdempotentForSameDelta(t *testing.T) {
	delta := []Entry{{Key: "a"}, {Key: "b"}}
	m := Manifest{}.Merge(delta).Merge(delta)
	assert.Len(t, m.Entries, 2)
}

func TestManifest_WithoutExpiredSplitsOnCutoff(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	m := Manifest{
		Stream: "app-logs",
		Date:   "2026-07-20",
		Entries: []Entry{
			{Key: "old", MaxTS: now.Add(-48 * time.Hour)},
			{Key: "fresh", MaxTS: now.Add(-1 * time.Hour)},
		},
	}

	kept, removed := m.WithoutExpired(now.Add(-24 * time.Hour))

	assert.Len(t, kept.Entries, 1)
	assert.Equal(t, "fresh", kept.Entries[0].Key)
	assert.Len(t, removed, 1)
	assert.Equal(t, "old", removed[0].Key)
}

func TestManifest_WithoutExpiredKeepsEverythingAfterCutoff(t *testing.T) {
	now := time.Now()
	m := Manifest{Entries: []Entry{{Key: "a", MaxTS: now}}}
	kept, removed := m.WithoutExpired(now.Add(-time.Hour))
	assert.Len(t, kept.Entries, 1)
	assert.Empty(t, removed)
}
