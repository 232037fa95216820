// Package ingest wires the staging, conversion, and manifest stages
// together into the periodic tick that claims Rotated staging files,
// converts each fingerprint group into a columnar artifact, uploads it,
// and publishes the resulting manifest entries.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/cuemby/logship/internal/catalog"
	"github.com/cuemby/logship/internal/convert"
	"github.com/cuemby/logship/internal/ids"
	"github.com/cuemby/logship/internal/manifest"
	"github.com/cuemby/logship/internal/objstore"
	"github.com/cuemby/logship/internal/schema"
	"github.com/cuemby/logship/internal/staging"
	"github.com/cuemby/logship/pkg/log"
)

// Pipeline runs one conversion+upload+publish tick across every stream
// in the catalog.
type Pipeline struct {
	catalog   *catalog.Catalog
	registry  *schema.Registry
	staging   *staging.Engine
	converter *convert.Converter
	publisher *manifest.Publisher
	store     objstore.Backend
}

// New constructs a Pipeline from the already-wired component set.
func New(cat *catalog.Catalog, reg *schema.Registry, eng *staging.Engine, conv *convert.Converter, pub *manifest.Publisher, store objstore.Backend) *Pipeline {
	return &Pipeline{catalog: cat, registry: reg, staging: eng, converter: conv, publisher: pub, store: store}
}

// Tick claims rotated files for every stream, converts each fingerprint
// group, uploads the resulting artifact and index, publishes a manifest
// entry, and tombstones the source files. Streams are processed
// independently; a failure in one does not stop the others.
func (p *Pipeline) Tick(ctx context.Context) {
	epoch := ids.New()
	for _, cfg := range p.catalog.List() {
		if err := p.DrainPending(ctx, cfg.Name); err != nil {
			log.WithStream(cfg.Name).Warn().Err(err).Msg("failed to drain pending manifest deltas")
		}
		if err := p.tickStream(ctx, cfg, epoch); err != nil {
			log.WithStream(cfg.Name).Error().Err(err).Msg("conversion tick failed for stream")
		}
	}
}

// DrainPending retries any manifest deltas left over from exhausted CAS
// retries, scoped to today's date partition since that is where an
// in-flight tick's own deltas would land.
func (p *Pipeline) DrainPending(ctx context.Context, stream string) error {
	return p.publisher.DrainPending(ctx, stream, time.Now().UTC().Format("2006-01-02"))
}

func (p *Pipeline) tickStream(ctx context.Context, cfg catalog.StreamConfig, epoch string) error {
	byFingerprint, err := p.staging.ClaimRotated(cfg.Name, epoch)
	if err != nil {
		return err
	}
	if len(byFingerprint) == 0 {
		return nil
	}

	s, _, ok := p.registry.Snapshot(cfg.Name)
	if !ok {
		var err error
		s, err = p.registry.Load(ctx, cfg.Name)
		if err != nil {
			return err
		}
	}

	byDate := make(map[string][]manifest.Entry)
	for _, files := range byFingerprint {
		staged := make([]convert.StagedFile, len(files))
		for i, f := range files {
			staged[i] = f
		}

		result, err := p.converter.ConvertGroup(ctx, cfg.Name, s, cfg.TimePartitionField, cfg.CustomPartitionFields, staged)
		if err != nil {
			log.WithStream(cfg.Name).Error().Err(err).Msg("failed to convert staged file group; releasing files to be retried next tick")
			p.staging.Release(cfg.Name, files)
			continue
		}

		n := files[0].Name()
		dataKey, indexKey := artifactKeys(cfg.Name, n.Minute, n.CustomParts, result.ArtifactID)
		minTS, maxTS := result.MinTS, result.MaxTS
		if minTS.IsZero() {
			// No time partition field was indexed: fall back to the
			// ingestion-time minute the staging file was written under.
			minTS = time.Unix(n.Minute*60, 0).UTC()
			maxTS = minTS.Add(time.Minute)
		}

		if err := p.store.Put(ctx, dataKey, bytes.NewReader(result.DataBytes), int64(len(result.DataBytes))); err != nil {
			log.WithStream(cfg.Name).Error().Err(err).Msg("failed to upload artifact data; releasing files to be retried next tick")
			p.staging.Release(cfg.Name, files)
			continue
		}
		if err := p.store.Put(ctx, indexKey, bytes.NewReader(result.IndexBytes), int64(len(result.IndexBytes))); err != nil {
			log.WithStream(cfg.Name).Error().Err(err).Msg("failed to upload artifact index; releasing files to be retried next tick")
			p.staging.Release(cfg.Name, files)
			continue
		}

		date := time.Unix(n.Minute*60, 0).UTC().Format("2006-01-02")
		byDate[date] = append(byDate[date], manifest.Entry{
			Key:      dataKey,
			IndexKey: indexKey,
			MinTS:    minTS,
			MaxTS:    maxTS,
			Rows:     result.Rows,
			ByteSize: result.ByteSize,
			ColStats: result.ColStats,
		})

		if err := p.catalog.MarkFirstEvent(cfg.Name, minTS); err != nil {
			log.WithStream(cfg.Name).Warn().Err(err).Msg("failed to record first-event timestamp")
		}

		for _, f := range files {
			if err := p.staging.Tombstone(f); err != nil {
				log.WithStream(cfg.Name).Error().Err(err).Str("path", f.Path()).Msg("failed to tombstone converted staging file")
			}
		}
	}

	for date, entries := range byDate {
		if err := p.publisher.Publish(ctx, cfg.Name, date, entries); err != nil {
			return err
		}
	}
	return nil
}

// artifactKeys builds the data and index object keys for an artifact
// belonging to stream, a unix-minute time bucket, and a set of custom
// partition values. Each custom part is percent-encoded so a literal
// '/' in partition data cannot be mistaken for a key-path separator.
func artifactKeys(stream string, minute int64, customParts []string, artifactID string) (dataKey, indexKey string) {
	t := time.Unix(minute*60, 0).UTC()
	prefix := fmt.Sprintf("%s/date=%s/hour=%02d/minute=%02d/",
		stream, t.Format("2006-01-02"), t.Hour(), t.Minute())
	for _, part := range customParts {
		prefix += url.PathEscape(part) + "/"
	}
	dataKey = prefix + artifactID + ".parquet"
	indexKey = prefix + artifactID + ".index"
	return dataKey, indexKey
}
