package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/logship/internal/ids"
	"github.com/cuemby/logship/internal/objstore"
	"github.com/cuemby/logship/pkg/apperror"
	"github.com/cuemby/logship/pkg/log"
	"github.com/cuemby/logship/pkg/metrics"
)

const maxCASRetries = 8

// Publisher reads, merges, and CAS-publishes manifest versions for a
// single object store. It is shared across streams; callers always
// pass the stream and date partition explicitly.
type Publisher struct {
	store objstore.Backend
}

// NewPublisher binds a Publisher to store.
func NewPublisher(store objstore.Backend) *Publisher {
	return &Publisher{store: store}
}

func manifestDir(stream, date string) string {
	return fmt.Sprintf("%s/.stream/manifest/%s/", stream, date)
}

func manifestKey(stream, date, version string) string {
	return manifestDir(stream, date) + version + ".json"
}

func pendingKey(stream string, id string) string {
	return fmt.Sprintf("%s/.stream/manifest/pending/%s.json", stream, id)
}

// latestVersion lists every version object under the stream/date
// prefix and returns the lexicographically greatest suffix, which —
// because versions are monotonic ulids — is also the most recently
// published.
func (p *Publisher) latestVersion(ctx context.Context, stream, date string) (version string, m Manifest, found bool, err error) {
	infos, err := p.store.List(ctx, manifestDir(stream, date))
	if err != nil {
		return "", Manifest{}, false, err
	}
	if len(infos) == 0 {
		return "", Manifest{Stream: stream, Date: date}, false, nil
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	latest := infos[len(infos)-1]

	rc, err := p.store.Get(ctx, latest.Key)
	if err != nil {
		return "", Manifest{}, false, err
	}
	defer rc.Close()

	var m2 Manifest
	if err := json.NewDecoder(rc).Decode(&m2); err != nil {
		return "", Manifest{}, false, apperror.Wrap(apperror.KindFatal, "decode manifest", err)
	}

	base := strings.TrimPrefix(latest.Key, manifestDir(stream, date))
	base = strings.TrimSuffix(base, ".json")
	return base, m2, true, nil
}

// Publish merges delta into the stream's current manifest for date
// and writes a new version. If another writer races ahead between our
// read and write, we re-read and retry up to maxCASRetries times; on
// repeated failure the delta is persisted to the pending log for the
// next conversion tick to retry.
func (p *Publisher) Publish(ctx context.Context, stream, date string, delta []Entry) error {
	logger := log.WithStream(stream)

	for attempt := 0; attempt < maxCASRetries; attempt++ {
		versionBefore, current, _, err := p.latestVersion(ctx, stream, date)
		if err != nil {
			return err
		}

		merged := current.Merge(delta)
		newVersion := ids.New()
		body, err := json.Marshal(merged)
		if err != nil {
			return apperror.Wrap(apperror.KindFatal, "marshal manifest", err)
		}

		key := manifestKey(stream, date, newVersion)
		if err := p.store.Put(ctx, key, bytes.NewReader(body), int64(len(body))); err != nil {
			return err
		}

		// Re-check that no newer version appeared while we were
		// encoding and writing; if one did, our merge may already be
		// stale and we must retry against the fresher base.
		versionAfter, _, _, err := p.latestVersion(ctx, stream, date)
		if err != nil {
			return err
		}
		if versionAfter == newVersion || versionAfter == versionBefore {
			if attempt > 0 {
				metrics.ManifestCASRetries.WithLabelValues(stream).Add(float64(attempt))
			}
			return nil
		}
		logger.Warn().Int("attempt", attempt+1).Msg("manifest publish raced with a concurrent writer; retrying")
	}

	metrics.ManifestCASFailuresTotal.WithLabelValues(stream).Inc()
	return p.deferToPendingLog(ctx, stream, delta)
}

func (p *Publisher) deferToPendingLog(ctx context.Context, stream string, delta []Entry) error {
	body, err := json.Marshal(delta)
	if err != nil {
		return apperror.Wrap(apperror.KindFatal, "marshal pending manifest delta", err)
	}
	key := pendingKey(stream, ids.New())
	if err := p.store.Put(ctx, key, bytes.NewReader(body), int64(len(body))); err != nil {
		return err
	}
	log.WithStream(stream).Warn().Str("key", key).Msg("manifest publish deferred to pending log after exhausting CAS retries")
	return nil
}

// ListDates returns every date partition (YYYY-MM-DD) that has at
// least one manifest version published for stream.
func (p *Publisher) ListDates(ctx context.Context, stream string) ([]string, error) {
	prefix := fmt.Sprintf("%s/.stream/manifest/", stream)
	infos, err := p.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var dates []string
	for _, info := range infos {
		rest := strings.TrimPrefix(info.Key, prefix)
		if rest == info.Key || strings.HasPrefix(rest, "pending/") {
			continue
		}
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			continue
		}
		if !seen[parts[0]] {
			seen[parts[0]] = true
			dates = append(dates, parts[0])
		}
	}
	sort.Strings(dates)
	return dates, nil
}

// publishReplacement writes kept as a new manifest version
// unconditionally. It is used by retention, which has already
// computed the full surviving entry set and does not need the
// merge-then-CAS dance Publish performs for concurrent deltas.
func (p *Publisher) publishReplacement(ctx context.Context, stream, date string, kept Manifest) error {
	newVersion := ids.New()
	body, err := json.Marshal(kept)
	if err != nil {
		return apperror.Wrap(apperror.KindFatal, "marshal manifest", err)
	}
	return p.store.Put(ctx, manifestKey(stream, date, newVersion), bytes.NewReader(body), int64(len(body)))
}

// DrainPending retries every delta left in the pending log, removing
// each on successful publish. Called once per conversion tick before
// new deltas for that tick are published, so a backlog never grows
// unboundedly as long as contention eventually clears.
func (p *Publisher) DrainPending(ctx context.Context, stream, date string) error {
	prefix := fmt.Sprintf("%s/.stream/manifest/pending/", stream)
	infos, err := p.store.List(ctx, prefix)
	if err != nil {
		return err
	}

	for _, info := range infos {
		rc, err := p.store.Get(ctx, info.Key)
		if err != nil {
			continue
		}
		var delta []Entry
		decodeErr := json.NewDecoder(rc).Decode(&delta)
		rc.Close()
		if decodeErr != nil {
			continue
		}

		if err := p.Publish(ctx, stream, date, delta); err != nil {
			continue
		}
		_ = p.store.Delete(ctx, info.Key)
	}
	return nil
}
