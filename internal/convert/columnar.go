// Package convert implements the conversion engine: it claims Rotated
// staging files, decodes their row-group blocks, and writes a columnar
// artifact plus an index sidecar, grounded in the same row-group,
// dictionary-encoding, and per-column-statistics design the spec
// describes for the conversion step.
package convert

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"sort"

	"github.com/cuemby/logship/internal/schema"
	"github.com/cuemby/logship/pkg/apperror"
)

// rowGroupSize is the target number of rows per row group; large
// batches are split at this boundary so a single corrupt row group
// doesn't invalidate an entire artifact.
const rowGroupSize = 256 * 1024

// ColumnStat carries the per-column statistics recorded for one row
// group: min/max (rendered as strings, comparable lexicographically
// for Utf8 and numerically-sortable representations for numbers),
// null count, and a cheap distinct-value estimate.
type ColumnStat struct {
	Name             string
	NullCount        int64
	DistinctEstimate int64
	Min              string
	Max              string
}

// RowGroup is one encoded, compressed row group within an artifact.
type RowGroup struct {
	Rows  int64
	Stats []ColumnStat
	Data  []byte // zstd-compressed encoded column data
}

// Artifact is the full decoded representation of a columnar file
// before it is serialized and compressed for upload.
type Artifact struct {
	Schema    schema.Schema
	RowGroups []RowGroup
	TotalRows int64
}

// columnValues holds one column's values across a row group, in row
// order, with nulls tracked separately so zero values and nulls are
// distinguishable.
type columnValues struct {
	field  schema.Field
	values []any
	null   []bool
}

// encodeRowGroup transforms a slice of decoded JSON records (a single
// row group's worth) into per-column arrays, computes statistics, and
// serializes them with dictionary encoding for Utf8 columns.
func encodeRowGroup(s schema.Schema, records []map[string]any) (RowGroup, error) {
	cols := make([]*columnValues, len(s))
	for i, f := range s {
		cols[i] = &columnValues{field: f, values: make([]any, len(records)), null: make([]bool, len(records))}
	}

	for r, rec := range records {
		for i, f := range s {
			v, ok := rec[f.Name]
			if !ok || v == nil {
				cols[i].null[r] = true
				continue
			}
			cols[i].values[r] = v
		}
	}

	stats := make([]ColumnStat, len(cols))
	encoded := make([]encodedColumn, len(cols))
	for i, c := range cols {
		stat, enc := encodeColumn(c)
		stats[i] = stat
		encoded[i] = enc
	}

	raw, err := json.Marshal(encoded)
	if err != nil {
		return RowGroup{}, apperror.Wrap(apperror.KindFatal, "encode row group columns", err)
	}

	compressed, err := compress(raw)
	if err != nil {
		return RowGroup{}, err
	}

	return RowGroup{Rows: int64(len(records)), Stats: stats, Data: compressed}, nil
}

// encodedColumn is the on-disk shape of one column's values. Utf8
// columns carry a Dict (distinct values in first-seen order) and
// Codes indexing into it instead of repeating strings; every other
// type stores its values directly.
type encodedColumn struct {
	Name   string  `json:"name"`
	Dict   []string `json:"dict,omitempty"`
	Codes  []int    `json:"codes,omitempty"`
	Values []any    `json:"values,omitempty"`
	Null   []bool   `json:"null"`
}

func encodeColumn(c *columnValues) (ColumnStat, encodedColumn) {
	stat := ColumnStat{Name: c.field.Name}
	enc := encodedColumn{Name: c.field.Name, Null: c.null}

	if c.field.Type == schema.TypeUtf8 {
		dictIndex := make(map[string]int)
		var dict []string
		codes := make([]int, len(c.values))
		for i, v := range c.values {
			if c.null[i] {
				codes[i] = -1
				continue
			}
			sv, _ := v.(string)
			idx, ok := dictIndex[sv]
			if !ok {
				idx = len(dict)
				dict = append(dict, sv)
				dictIndex[sv] = idx
			}
			codes[i] = idx
		}
		enc.Dict = dict
		enc.Codes = codes
		stat.DistinctEstimate = int64(len(dict))
		stat.Min, stat.Max = minMaxStrings(dict)
	} else {
		enc.Values = c.values
		stat.Min, stat.Max = minMaxGeneric(c.values, c.null)
		stat.DistinctEstimate = estimateDistinct(c.values, c.null)
	}

	for _, isNull := range c.null {
		if isNull {
			stat.NullCount++
		}
	}
	return stat, enc
}

func minMaxStrings(vals []string) (string, string) {
	if len(vals) == 0 {
		return "", ""
	}
	sorted := append([]string(nil), vals...)
	sort.Strings(sorted)
	return sorted[0], sorted[len(sorted)-1]
}

func minMaxGeneric(values []any, null []bool) (string, string) {
	less := func(a, b any) bool {
		af, aok := a.(float64)
		bf, bok := b.(float64)
		if aok && bok {
			return af < bf
		}
		return toComparable(a) < toComparable(b)
	}
	var min, max any
	first := true
	for i, v := range values {
		if null[i] {
			continue
		}
		if first {
			min, max = v, v
			first = false
			continue
		}
		if less(v, min) {
			min = v
		}
		if less(max, v) {
			max = v
		}
	}
	if first {
		return "", ""
	}
	return toComparable(min), toComparable(max)
}

func toComparable(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func estimateDistinct(values []any, null []bool) int64 {
	seen := make(map[string]struct{})
	for i, v := range values {
		if null[i] {
			continue
		}
		seen[toComparable(v)] = struct{}{}
	}
	return int64(len(seen))
}

// splitRowGroups partitions records into slices of at most
// rowGroupSize, preserving order.
func splitRowGroups(records []map[string]any) [][]map[string]any {
	if len(records) <= rowGroupSize {
		return [][]map[string]any{records}
	}
	var out [][]map[string]any
	for start := 0; start < len(records); start += rowGroupSize {
		end := start + rowGroupSize
		if end > len(records) {
			end = len(records)
		}
		out = append(out, records[start:end])
	}
	return out
}

// serializeArtifact writes an Artifact's row groups as a length-
// prefixed sequence, so a reader can seek row groups independently
// without decompressing the whole artifact.
func serializeArtifact(a Artifact) []byte {
	var buf bytes.Buffer
	header := struct {
		RowGroupCount int
		TotalRows     int64
	}{len(a.RowGroups), a.TotalRows}
	headerBytes, _ := json.Marshal(header)
	writeLengthPrefixed(&buf, headerBytes)

	for _, rg := range a.RowGroups {
		meta := struct {
			Rows  int64
			Stats []ColumnStat
		}{rg.Rows, rg.Stats}
		metaBytes, _ := json.Marshal(meta)
		writeLengthPrefixed(&buf, metaBytes)
		writeLengthPrefixed(&buf, rg.Data)
	}
	return buf.Bytes()
}

func writeLengthPrefixed(buf *bytes.Buffer, data []byte) {
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(data)))
	buf.Write(lenBytes[:])
	buf.Write(data)
}
