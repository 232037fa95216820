package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cuemby/logship/internal/objstore"
	"github.com/cuemby/logship/pkg/apperror"
	"github.com/cuemby/logship/pkg/log"
)

// Registry holds the current schema for every stream known to this
// node and serializes reconciliation per stream. Readers obtain an
// immutable snapshot and never block on an in-flight writer.
type Registry struct {
	store objstore.Backend

	mu      sync.RWMutex
	guards  map[string]*sync.Mutex
	current map[string]Schema
}

// NewRegistry returns an empty registry backed by store for persisting
// reconciled schemas.
func NewRegistry(store objstore.Backend) *Registry {
	return &Registry{
		store:   store,
		guards:  make(map[string]*sync.Mutex),
		current: make(map[string]Schema),
	}
}

// Snapshot returns the stream's current schema and fingerprint. The
// zero value is returned, with ok false, for a stream the registry has
// never seen.
func (r *Registry) Snapshot(stream string) (s Schema, fingerprint uint64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok = r.current[stream]
	if !ok {
		return nil, 0, false
	}
	return s, s.Fingerprint(), true
}

// Seed installs a schema read from persistent storage (e.g. during
// catalog rebuild on startup) without running reconciliation.
func (r *Registry) Seed(stream string, s Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current[stream] = s
}

func (r *Registry) guardFor(stream string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.guards[stream]
	if !ok {
		g = &sync.Mutex{}
		r.guards[stream] = g
	}
	return g
}

// Reconcile merges incoming into the stream's current schema. When
// static is true the stream's schema is frozen: incoming must already
// be a subset of the current schema or reconciliation fails with
// SchemaIncompatible. Otherwise the schemas are merged and, if the
// fingerprint changed, the new schema is persisted by overwriting the
// stream's schema object with Put (last writer wins; there is no
// compare-and-swap) and didChange is reported true.
func (r *Registry) Reconcile(ctx context.Context, stream string, incoming Schema, static bool) (merged Schema, fingerprint uint64, didChange bool, err error) {
	guard := r.guardFor(stream)
	guard.Lock()
	defer guard.Unlock()

	r.mu.RLock()
	existing, hasExisting := r.current[stream]
	r.mu.RUnlock()

	if !hasExisting {
		existing = Schema{}
	}

	if static && hasExisting {
		if !incoming.IsSubsetOf(existing) {
			return nil, 0, false, apperror.New(apperror.KindSchemaIncompatible,
				fmt.Sprintf("stream %q has a frozen schema; incoming record is not a subset", stream))
		}
		return existing, existing.Fingerprint(), false, nil
	}

	next, err := Merge(existing, incoming)
	if err != nil {
		return nil, 0, false, err
	}

	oldFP := existing.Fingerprint()
	newFP := next.Fingerprint()
	if hasExisting && oldFP == newFP {
		return existing, oldFP, false, nil
	}

	if err := r.persist(ctx, stream, next); err != nil {
		return nil, 0, false, err
	}

	r.mu.Lock()
	r.current[stream] = next
	r.mu.Unlock()

	log.WithStream(stream).Info().
		Uint64("old_fingerprint", oldFP).
		Uint64("new_fingerprint", newFP).
		Msg("schema reconciled")

	return next, newFP, true, nil
}

func (r *Registry) persist(ctx context.Context, stream string, s Schema) error {
	key := fmt.Sprintf("%s/.stream/schema", stream)
	body, err := json.Marshal(toWire(s))
	if err != nil {
		return apperror.Wrap(apperror.KindFatal, "marshal schema", err)
	}

	// Schema updates are last-writer-wins at this key: we always
	// overwrite rather than CAS, since the merged result already
	// incorporates whatever was last read. Concurrent writers are
	// serialized by guardFor per stream within this process; across
	// processes the cluster plane elects a single writer per stream.
	return r.store.Put(ctx, key, bytes.NewReader(body), int64(len(body)))
}

// Load reads a stream's persisted schema from storage and seeds the
// registry with it. Returns apperror.KindObjectStoreNotFound if the
// stream has never had a schema written.
func (r *Registry) Load(ctx context.Context, stream string) (Schema, error) {
	key := fmt.Sprintf("%s/.stream/schema", stream)
	rc, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var wire wireSchema
	if err := json.NewDecoder(rc).Decode(&wire); err != nil {
		return nil, apperror.Wrap(apperror.KindFatal, "decode schema", err)
	}
	s := fromWire(wire)
	r.Seed(stream, s)
	return s, nil
}
