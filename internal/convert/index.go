package convert

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/cuemby/logship/pkg/apperror"
)

// IndexEntry pairs an indexed column's value with the row group that
// contains it, so a reader can skip row groups that cannot match a
// predicate without decompressing them.
type IndexEntry struct {
	Value      string
	RowGroupID int
}

// ColumnIndex is the sorted (value, row_group_id) list for one
// indexed column.
type ColumnIndex struct {
	Column  string
	Entries []IndexEntry
}

// Sidecar is the full index written alongside an artifact: the
// timestamp column is always indexed, plus every custom partition
// column.
type Sidecar struct {
	Columns []ColumnIndex
	MinTS   time.Time
	MaxTS   time.Time
}

// buildSidecar scans every row group's encoded columns for the
// indexed set (timeField plus customFields) and emits a sorted index
// per column. Rows within a row group are not individually addressed;
// the index resolves to row-group granularity, consistent with the
// row-group-sized statistics already carried in RowGroup.Stats.
func buildSidecar(a Artifact, timeField string, customFields []string) (Sidecar, error) {
	indexed := map[string]bool{timeField: true}
	for _, f := range customFields {
		indexed[f] = true
	}

	byColumn := make(map[string][]IndexEntry)
	var minTS, maxTS time.Time

	for rgID, rg := range a.RowGroups {
		raw, err := decompress(rg.Data)
		if err != nil {
			return Sidecar{}, err
		}
		var cols []encodedColumn
		if err := json.Unmarshal(raw, &cols); err != nil {
			return Sidecar{}, apperror.Wrap(apperror.KindStagingCorrupt, "decode row group for indexing", err)
		}

		for _, col := range cols {
			if !indexed[col.Name] {
				continue
			}
			values := renderColumnValues(col)
			for _, v := range values {
				byColumn[col.Name] = append(byColumn[col.Name], IndexEntry{Value: v, RowGroupID: rgID})
				if col.Name == timeField {
					if t, ok := parseTimestamp(v); ok {
						if minTS.IsZero() || t.Before(minTS) {
							minTS = t
						}
						if t.After(maxTS) {
							maxTS = t
						}
					}
				}
			}
		}
	}

	out := Sidecar{MinTS: minTS, MaxTS: maxTS}
	for name, entries := range byColumn {
		sort.Slice(entries, func(i, j int) bool { return entries[i].Value < entries[j].Value })
		out.Columns = append(out.Columns, ColumnIndex{Column: name, Entries: entries})
	}
	sort.Slice(out.Columns, func(i, j int) bool { return out.Columns[i].Column < out.Columns[j].Column })
	return out, nil
}

func renderColumnValues(col encodedColumn) []string {
	if col.Dict != nil {
		out := make([]string, 0, len(col.Codes))
		for i, code := range col.Codes {
			if col.Null[i] || code < 0 {
				continue
			}
			out = append(out, col.Dict[code])
		}
		return out
	}
	out := make([]string, 0, len(col.Values))
	for i, v := range col.Values {
		if col.Null[i] {
			continue
		}
		out = append(out, toComparable(v))
	}
	return out
}

func parseTimestamp(s string) (time.Time, bool) {
	// Values arrive JSON-encoded (see toComparable); strip quotes.
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (s Sidecar) marshal() ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindFatal, "marshal index sidecar", err)
	}
	return b, nil
}
