package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/logship/internal/objstore"
	"github.com/cuemby/logship/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func newMemStore() *memStore { return &memStore{objs: make(map[string][]byte)} }

func (m *memStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objs[key]
	if !ok {
		return nil, apperror.New(apperror.KindObjectStoreNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memStore) Put(_ context.Context, key string, body io.Reader, _ int64) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[key] = b
	return nil
}

func (m *memStore) PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64) (bool, error) {
	m.mu.Lock()
	_, exists := m.objs[key]
	m.mu.Unlock()
	if exists {
		return false, nil
	}
	return true, m.Put(ctx, key, body, size)
}

func (m *memStore) List(_ context.Context, prefix string) ([]objstore.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []objstore.ObjectInfo
	for k, v := range m.objs {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, objstore.ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (m *memStore) Head(_ context.Context, key string) (objstore.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objs[key]
	if !ok {
		return objstore.ObjectInfo{}, apperror.New(apperror.KindObjectStoreNotFound, key)
	}
	return objstore.ObjectInfo{Key: key, Size: int64(len(b))}, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objs, key)
	return nil
}

func TestMembership_StartWritesHeartbeatSynchronously(t *testing.T) {
	store := newMemStore()
	m := NewMembership(store, Node{ID: "node-a", Role: RoleIngestor, DomainName: "a.local", Port: 8000}, time.Hour, time.Minute)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	_, err := store.Get(context.Background(), nodeKey("node-a"))
	assert.NoError(t, err)
}

func TestMembership_ListReturnsAllPeers(t *testing.T) {
	store := newMemStore()
	a := NewMembership(store, Node{ID: "node-a", Role: RoleIngestor}, time.Hour, time.Minute)
	b := NewMembership(store, Node{ID: "node-b", Role: RoleQuerier}, time.Hour, time.Minute)
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))
	defer a.Stop()
	defer b.Stop()

	nodes, err := a.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}

func TestMembership_ListNodesFlagsStalePeers(t *testing.T) {
	store := newMemStore()
	m := NewMembership(store, Node{ID: "node-a", Role: RoleIngestor}, time.Hour, time.Minute)

	stale := Node{ID: "node-stale", Role: RoleIngestor, LastHeartbeat: time.Now().Add(-time.Hour)}
	body, _ := json.Marshal(stale)
	require.NoError(t, store.Put(context.Background(), nodeKey("node-stale"), bytes.NewReader(body), int64(len(body))))

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	summaries, err := m.ListNodes()
	require.NoError(t, err)

	var sawStale bool
	for _, s := range summaries {
		if s.Stale {
			sawStale = true
		}
	}
	assert.True(t, sawStale)
}

func TestIsStale(t *testing.T) {
	now := time.Now()
	fresh := Node{LastHeartbeat: now.Add(-10 * time.Second)}
	old := Node{LastHeartbeat: now.Add(-90 * time.Second)}
	assert.False(t, IsStale(fresh, now, 60*time.Second))
	assert.True(t, IsStale(old, now, 60*time.Second))
}
