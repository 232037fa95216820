package manifest

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/cuemby/logship/internal/convert"
	"github.com/cuemby/logship/internal/objstore"
	"github.com/cuemby/logship/pkg/apperror"
	"github.com/cuemby/logship/pkg/log"
)

// SweepOrphans lists every artifact key under stream's data prefix,
// compares it against the latest manifest for each date partition, and
// republishes an entry for any artifact no manifest references. This
// recovers from a crash between artifact upload and manifest publish:
// the data exists in object storage but was never recorded, and
// duplicate publishes are harmless since artifact keys are ulid-scoped.
// MinTS/MaxTS and ByteSize are recovered from the artifact's index
// sidecar and object metadata; Rows and per-column statistics require
// decoding the full artifact body, which only the conversion path does,
// so a recovered entry carries zero values for those fields.
func (p *Publisher) SweepOrphans(ctx context.Context, store objstore.Backend, stream string) error {
	dates, err := p.ListDates(ctx, stream)
	if err != nil {
		return err
	}
	knownByDate := make(map[string]map[string]bool, len(dates))
	for _, date := range dates {
		_, m, found, err := p.latestVersion(ctx, stream, date)
		if err != nil {
			return err
		}
		known := make(map[string]bool)
		if found {
			for _, e := range m.Entries {
				known[e.Key] = true
			}
		}
		knownByDate[date] = known
	}

	infos, err := store.List(ctx, stream+"/date=")
	if err != nil {
		return err
	}

	logger := log.WithStream(stream)
	byDate := make(map[string][]Entry)
	for _, info := range infos {
		if strings.HasSuffix(info.Key, ".index") {
			continue
		}
		date := extractDate(info.Key, stream)
		if date == "" {
			continue
		}
		if knownByDate[date][info.Key] {
			continue
		}

		entry, err := p.recoverEntry(ctx, store, info.Key)
		if err != nil {
			logger.Warn().Err(err).Str("key", info.Key).Msg("found orphaned artifact but could not recover its index sidecar; skipping")
			continue
		}
		logger.Warn().Str("key", info.Key).Msg("republishing orphaned artifact with no manifest entry")
		byDate[date] = append(byDate[date], entry)
	}

	for date, delta := range byDate {
		if err := p.Publish(ctx, stream, date, delta); err != nil {
			return err
		}
	}
	return nil
}

// recoverEntry rebuilds a manifest Entry for an orphaned artifact from
// its index sidecar and object metadata.
func (p *Publisher) recoverEntry(ctx context.Context, store objstore.Backend, dataKey string) (Entry, error) {
	indexKey := strings.TrimSuffix(dataKey, ".parquet") + ".index"

	rc, err := store.Get(ctx, indexKey)
	if err != nil {
		return Entry{}, err
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return Entry{}, apperror.Wrap(apperror.KindObjectStoreTransient, "read orphan index sidecar", err)
	}

	var sidecar convert.Sidecar
	if err := json.Unmarshal(body, &sidecar); err != nil {
		return Entry{}, apperror.Wrap(apperror.KindStagingCorrupt, "decode orphan index sidecar", err)
	}

	info, err := store.Head(ctx, dataKey)
	if err != nil {
		return Entry{}, err
	}

	return Entry{
		Key:      dataKey,
		IndexKey: indexKey,
		MinTS:    sidecar.MinTS,
		MaxTS:    sidecar.MaxTS,
		ByteSize: info.Size,
	}, nil
}

func extractDate(key, stream string) string {
	prefix := stream + "/date="
	if !strings.HasPrefix(key, prefix) {
		return ""
	}
	rest := key[len(prefix):]
	idx := strings.Index(rest, "/")
	if idx < 0 {
		return ""
	}
	return rest[:idx]
}
