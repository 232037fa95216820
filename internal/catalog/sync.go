package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/cuemby/logship/internal/objstore"
	"github.com/cuemby/logship/pkg/apperror"
	"github.com/cuemby/logship/pkg/log"
)

const configSuffix = "/.stream/config"

// Syncer persists catalog mutations to object storage and rebuilds the
// catalog from there on startup. It is separate from Catalog itself so
// that unit tests of catalog mutation logic do not need a Backend.
type Syncer struct {
	catalog *Catalog
	store   objstore.Backend
}

// NewSyncer binds catalog to store for persistence.
func NewSyncer(catalog *Catalog, store objstore.Backend) *Syncer {
	return &Syncer{catalog: catalog, store: store}
}

// Create validates and registers a new stream, then publishes its
// config to object storage.
func (s *Syncer) Create(ctx context.Context, cfg StreamConfig) error {
	if err := s.catalog.Create(ctx, cfg); err != nil {
		return err
	}
	return s.publish(ctx, cfg)
}

// Update applies patch and republishes the resulting config.
func (s *Syncer) Update(ctx context.Context, name string, patch Patch) error {
	if err := s.catalog.Update(ctx, name, patch); err != nil {
		return err
	}
	cfg, _ := s.catalog.Get(name)
	return s.publish(ctx, cfg)
}

func (s *Syncer) publish(ctx context.Context, cfg StreamConfig) error {
	body, err := json.Marshal(cfg)
	if err != nil {
		return apperror.Wrap(apperror.KindFatal, "marshal stream config", err)
	}
	key := cfg.Name + configSuffix
	return s.store.Put(ctx, key, bytes.NewReader(body), int64(len(body)))
}

// RebuildFromObjectStore lists every <stream>/.stream/config object,
// reconciling the local cache with the canonical object-store state.
// Called once at startup after Catalog.Rebuild has loaded whatever was
// in the local cache, so that a cache that fell behind (or was wiped)
// converges to what object storage actually holds.
func (s *Syncer) RebuildFromObjectStore(ctx context.Context) error {
	infos, err := s.store.List(ctx, "")
	if err != nil {
		return err
	}

	logger := log.WithComponent("catalog")
	count := 0
	for _, info := range infos {
		if !strings.HasSuffix(info.Key, configSuffix) {
			continue
		}
		rc, err := s.store.Get(ctx, info.Key)
		if err != nil {
			logger.Warn().Err(err).Str("key", info.Key).Msg("skipping unreadable stream config during rebuild")
			continue
		}
		var cfg StreamConfig
		decodeErr := json.NewDecoder(rc).Decode(&cfg)
		rc.Close()
		if decodeErr != nil {
			logger.Warn().Err(decodeErr).Str("key", info.Key).Msg("skipping malformed stream config during rebuild")
			continue
		}

		s.catalog.mu.Lock()
		s.catalog.streams[cfg.Name] = cfg
		s.catalog.mu.Unlock()
		if err := s.catalog.cache.put(cfg); err != nil {
			logger.Warn().Err(err).Str("stream", cfg.Name).Msg("failed to refresh local catalog cache entry")
		}
		count++
	}

	logger.Info().Int("streams", count).Msg("catalog rebuilt from object storage")
	return nil
}
