// Package manifest maintains the per-stream, per-date manifest tree
// that records every published artifact: its key, timestamp range,
// row count, and column statistics. Publishing is compare-and-swap
// against the latest version, with a durable pending log absorbing
// repeated CAS losses, and a retention sweep that removes expired
// artifacts from both the manifest and object storage.
package manifest

import (
	"time"

	"github.com/cuemby/logship/internal/convert"
)

// Entry describes one published artifact within a stream's manifest.
type Entry struct {
	Key      string // the .parquet-equivalent data key
	IndexKey string
	MinTS    time.Time
	MaxTS    time.Time
	Rows     int64
	ByteSize int64
	ColStats []convert.ColumnStat
}

// Manifest is the full, ordered artifact list for one stream on one
// date partition. Entries are appended, never mutated in place;
// retention removes entries by producing a new Manifest that omits
// them.
type Manifest struct {
	Stream  string
	Date    string // YYYY-MM-DD
	Entries []Entry
}

// Merge returns a new Manifest holding the union of m's and delta's
// entries, deduplicated by Key. Because artifact keys are
// ulid-scoped, re-publishing the same conversion result (after a
// retry or restart) is always a no-op merge.
func (m Manifest) Merge(delta []Entry) Manifest {
	seen := make(map[string]bool, len(m.Entries))
	out := Manifest{Stream: m.Stream, Date: m.Date, Entries: make([]Entry, 0, len(m.Entries)+len(delta))}
	for _, e := range m.Entries {
		if seen[e.Key] {
			continue
		}
		seen[e.Key] = true
		out.Entries = append(out.Entries, e)
	}
	for _, e := range delta {
		if seen[e.Key] {
			continue
		}
		seen[e.Key] = true
		out.Entries = append(out.Entries, e)
	}
	return out
}

// WithoutExpired returns a new Manifest omitting every entry whose
// MaxTS falls before cutoff, plus the list of removed entries so the
// caller can delete their object-store keys.
func (m Manifest) WithoutExpired(cutoff time.Time) (kept Manifest, removed []Entry) {
	kept = Manifest{Stream: m.Stream, Date: m.Date}
	for _, e := range m.Entries {
		if e.MaxTS.Before(cutoff) {
			removed = append(removed, e)
			continue
		}
		kept.Entries = append(kept.Entries, e)
	}
	return kept, removed
}
