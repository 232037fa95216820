package convert

import (
	"context"
	"encoding/json"
	"runtime"
	"time"

	"github.com/cuemby/logship/internal/ids"
	"github.com/cuemby/logship/internal/schema"
	"github.com/cuemby/logship/internal/staging"
	"github.com/cuemby/logship/pkg/apperror"
	"github.com/cuemby/logship/pkg/log"
	"github.com/cuemby/logship/pkg/metrics"
)

// Result is everything the upload stage needs for one converted
// group: the artifact and index bytes ready to upload, plus the
// manifest entry fields describing them.
type Result struct {
	Stream     string
	ArtifactID string // ulid shared by the data file and its index sidecar
	DataBytes  []byte
	IndexBytes []byte
	MinTS      time.Time
	MaxTS      time.Time
	Rows       int64
	ByteSize   int64
	ColStats   []ColumnStat
}

// StagedFile is the minimal view of a claimed staging file the
// converter needs. *staging.StagingFile satisfies this directly.
type StagedFile interface {
	Path() string
}

// poolSize bounds conversion concurrency at min(NumCPU, 8), per the
// system's scheduling model: CPU-bound conversion work is kept off
// the unbounded goroutine-per-request path used by ingest.
func poolSize() int {
	n := runtime.NumCPU()
	if n > 8 {
		return 8
	}
	if n < 1 {
		return 1
	}
	return n
}

// Converter runs the claim→group→convert step of the pipeline. One
// Converter is shared across streams; its worker pool is a single
// bounded resource for the whole process.
type Converter struct {
	sem chan struct{}
}

// NewConverter constructs a Converter with the standard worker pool
// size.
func NewConverter() *Converter {
	return &Converter{sem: make(chan struct{}, poolSize())}
}

// ConvertGroup decodes every block in files (already grouped by
// fingerprint by the staging engine's ClaimRotated), builds one
// columnar artifact plus its index sidecar, and returns the result
// ready for upload. Decoding and compression happen inside the bounded
// worker pool; ConvertGroup blocks until a slot is free.
func (c *Converter) ConvertGroup(ctx context.Context, stream string, s schema.Schema, timeField string, customFields []string, files []StagedFile) (Result, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-c.sem }()

	start := time.Now()
	defer func() {
		metrics.ConversionDuration.Observe(time.Since(start).Seconds())
	}()

	records, err := decodeFiles(files)
	if err != nil {
		metrics.ConversionFilesTotal.WithLabelValues(stream, "failure").Inc()
		return Result{}, err
	}

	artifact := Artifact{Schema: s, TotalRows: int64(len(records))}
	for _, group := range splitRowGroups(records) {
		rg, err := encodeRowGroup(s, group)
		if err != nil {
			metrics.ConversionFilesTotal.WithLabelValues(stream, "failure").Inc()
			return Result{}, err
		}
		artifact.RowGroups = append(artifact.RowGroups, rg)
	}

	sidecar, err := buildSidecar(artifact, timeField, customFields)
	if err != nil {
		metrics.ConversionFilesTotal.WithLabelValues(stream, "failure").Inc()
		return Result{}, err
	}

	dataBytes := serializeArtifact(artifact)
	indexBytes, err := sidecar.marshal()
	if err != nil {
		metrics.ConversionFilesTotal.WithLabelValues(stream, "failure").Inc()
		return Result{}, err
	}

	var allStats []ColumnStat
	for _, rg := range artifact.RowGroups {
		allStats = append(allStats, rg.Stats...)
	}

	metrics.ConversionFilesTotal.WithLabelValues(stream, "success").Inc()
	metrics.ArtifactBytesTotal.WithLabelValues(stream).Add(float64(len(dataBytes)))

	return Result{
		Stream:     stream,
		ArtifactID: ids.New(),
		DataBytes:  dataBytes,
		IndexBytes: indexBytes,
		MinTS:      sidecar.MinTS,
		MaxTS:      sidecar.MaxTS,
		Rows:       artifact.TotalRows,
		ByteSize:   int64(len(dataBytes)),
		ColStats:   allStats,
	}, nil
}

// decodeFiles reads every block from every claimed staging file in
// submission order within each file (files themselves have no
// cross-file order guarantee, consistent with the system's ordering
// model) and JSON-decodes each block's row-group payload.
func decodeFiles(files []StagedFile) ([]map[string]any, error) {
	var out []map[string]any
	for _, sf := range files {
		recs, err := decodeOneFile(sf.Path())
		if err != nil {
			log.WithComponent("convert").Error().Err(err).Str("path", sf.Path()).Msg("failed to decode staging file; skipping remainder")
			out = append(out, recs...)
			continue
		}
		out = append(out, recs...)
	}
	return out, nil
}

func decodeOneFile(path string) ([]map[string]any, error) {
	var out []map[string]any
	err := staging.ReadBlocks(path, func(payload []byte) error {
		var block []map[string]any
		if err := json.Unmarshal(payload, &block); err != nil {
			return apperror.Wrap(apperror.KindStagingCorrupt, "decode row-group block", err)
		}
		out = append(out, block...)
		return nil
	})
	return out, err
}
