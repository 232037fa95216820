// Package catalog maintains the stream catalog: the map from stream
// name to its StreamConfig (time partitioning, custom partitions,
// retention, schema mode). Configs are persisted to object storage as
// the system of record, and cached locally in bbolt for fast startup
// and lookup without a network round trip.
package catalog

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/cuemby/logship/pkg/apperror"
)

var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

var reservedNames = map[string]bool{
	"stream": true,
	"node":   true,
	"admin":  true,
}

// ValidateName reports whether name is a legal stream name: lowercase
// alphanumeric plus '-', 1-64 characters, and not one of a small set
// of reserved names used for internal object-store prefixes.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return apperror.New(apperror.KindFatal, fmt.Sprintf("invalid stream name %q", name))
	}
	if reservedNames[name] {
		return apperror.New(apperror.KindFatal, fmt.Sprintf("stream name %q is reserved", name))
	}
	return nil
}

// RetentionPolicy bounds how long a stream's artifacts are retained
// before the retention GC sweep deletes them.
type RetentionPolicy struct {
	Days int
}

// StreamConfig is a stream's catalog entry: everything about it that
// is not part of its data schema.
type StreamConfig struct {
	Name                     string
	TimePartitionField       string // empty means ingestion time
	TimePartitionGranularity time.Duration
	CustomPartitionFields    []string // at most 3
	StaticSchema             bool
	Retention                RetentionPolicy
	FirstEventAt             time.Time
	CreatedAt                time.Time
}

// Catalog is the in-memory, bbolt-cached map of stream name to
// StreamConfig. All mutation goes through Create/Update so that the
// object-store write and the cache update stay consistent.
type Catalog struct {
	cache *cache

	mu      sync.RWMutex
	streams map[string]StreamConfig
}

// New constructs a Catalog backed by a bbolt database at dbPath for
// the local cache.
func New(dbPath string) (*Catalog, error) {
	c, err := openCache(dbPath)
	if err != nil {
		return nil, err
	}
	return &Catalog{cache: c, streams: make(map[string]StreamConfig)}, nil
}

// Close releases the underlying bbolt handle.
func (c *Catalog) Close() error {
	return c.cache.close()
}

// Create registers a new stream. Returns KindFatal (wrapping
// AlreadyExists/InvalidName conditions) on a bad name or a name
// already present in the catalog.
func (c *Catalog) Create(ctx context.Context, cfg StreamConfig) error {
	if err := ValidateName(cfg.Name); err != nil {
		return err
	}

	c.mu.Lock()
	if _, exists := c.streams[cfg.Name]; exists {
		c.mu.Unlock()
		return apperror.New(apperror.KindFatal, fmt.Sprintf("stream %q already exists", cfg.Name))
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}
	if cfg.TimePartitionGranularity == 0 {
		cfg.TimePartitionGranularity = time.Minute
	}
	c.streams[cfg.Name] = cfg
	c.mu.Unlock()

	return c.cache.put(cfg)
}

// Get returns a stream's current config.
func (c *Catalog) Get(name string) (StreamConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.streams[name]
	return cfg, ok
}

// List returns all known stream configs, unordered.
func (c *Catalog) List() []StreamConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]StreamConfig, 0, len(c.streams))
	for _, cfg := range c.streams {
		out = append(out, cfg)
	}
	return out
}

// Patch describes a mutation to an existing stream. Custom partition
// fields may only be added while the stream has no recorded
// FirstEventAt, since retroactively partitioning already-ingested data
// is not supported.
type Patch struct {
	Retention             *RetentionPolicy
	AddCustomPartitionField string
}

// Update applies patch to an existing stream's config.
func (c *Catalog) Update(ctx context.Context, name string, patch Patch) error {
	c.mu.Lock()
	cfg, ok := c.streams[name]
	if !ok {
		c.mu.Unlock()
		return apperror.New(apperror.KindFatal, fmt.Sprintf("stream %q does not exist", name))
	}

	if patch.Retention != nil {
		cfg.Retention = *patch.Retention
	}
	if patch.AddCustomPartitionField != "" {
		if !cfg.FirstEventAt.IsZero() {
			c.mu.Unlock()
			return apperror.New(apperror.KindFatal, fmt.Sprintf("stream %q already has data; cannot add a custom partition field", name))
		}
		if len(cfg.CustomPartitionFields) >= 3 {
			c.mu.Unlock()
			return apperror.New(apperror.KindFatal, fmt.Sprintf("stream %q already has the maximum of 3 custom partition fields", name))
		}
		cfg.CustomPartitionFields = append(cfg.CustomPartitionFields, patch.AddCustomPartitionField)
	}
	c.streams[name] = cfg
	c.mu.Unlock()

	return c.cache.put(cfg)
}

// MarkFirstEvent records the first ingested timestamp for a stream, if
// not already set. Subsequent calls are no-ops.
func (c *Catalog) MarkFirstEvent(name string, at time.Time) error {
	c.mu.Lock()
	cfg, ok := c.streams[name]
	if !ok {
		c.mu.Unlock()
		return apperror.New(apperror.KindFatal, fmt.Sprintf("stream %q does not exist", name))
	}
	if !cfg.FirstEventAt.IsZero() {
		c.mu.Unlock()
		return nil
	}
	cfg.FirstEventAt = at
	c.streams[name] = cfg
	c.mu.Unlock()

	return c.cache.put(cfg)
}

// Rebuild discards the in-memory map and reloads every stream config
// from the local bbolt cache. Called at startup; the caller is
// responsible for separately reconciling the cache against the
// canonical object-store listing of <stream>/.stream/config objects.
func (c *Catalog) Rebuild() error {
	all, err := c.cache.list()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams = make(map[string]StreamConfig, len(all))
	for _, cfg := range all {
		c.streams[cfg.Name] = cfg
	}
	return nil
}
