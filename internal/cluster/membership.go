// Package cluster maintains cluster membership over object storage and
// fans live queries out to ingestor nodes. Membership replaces the
// teacher's Raft-managed node table with a heartbeat file per node,
// since every component in this system already treats object storage as
// the system of record; there is no separate consensus layer to keep in
// sync.
package cluster

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/cuemby/logship/internal/objstore"
	"github.com/cuemby/logship/pkg/apperror"
	"github.com/cuemby/logship/pkg/log"
	"github.com/cuemby/logship/pkg/metrics"
)

const nodesPrefix = ".parseable/nodes/"

// Role is the set of duties a node advertises to the rest of the
// cluster, mirroring the teacher's NodeRoleManager/NodeRoleWorker enum
// shape.
type Role string

const (
	RoleIngestor Role = "ingestor"
	RoleQuerier  Role = "querier"
	RoleAll      Role = "all"
)

// Node is one cluster membership record, written by its own node and
// read by every other node to build the live roster.
type Node struct {
	ID            string
	Role          Role
	DomainName    string
	Port          int
	StartedAt     time.Time
	LastHeartbeat time.Time
}

func nodeKey(id string) string {
	return nodesPrefix + id + ".json"
}

// Membership periodically republishes this node's heartbeat record and
// lists the current roster on demand. A node is considered stale once
// its LastHeartbeat is older than staleAfter.
type Membership struct {
	store objstore.Backend
	self  Node

	period     time.Duration
	staleAfter time.Duration
	stopCh     chan struct{}
}

// NewMembership constructs a Membership for self, writing heartbeats to
// store every period and treating peers silent for longer than
// staleAfter as down.
func NewMembership(store objstore.Backend, self Node, period, staleAfter time.Duration) *Membership {
	if self.StartedAt.IsZero() {
		self.StartedAt = time.Now().UTC()
	}
	return &Membership{
		store:      store,
		self:       self,
		period:     period,
		staleAfter: staleAfter,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the heartbeat loop in a background goroutine, writing
// an initial heartbeat synchronously so peers can see this node before
// Start returns.
func (m *Membership) Start(ctx context.Context) error {
	if err := m.heartbeat(ctx); err != nil {
		return err
	}
	go m.run()
	return nil
}

// Stop halts the heartbeat loop. The node's record is left in place;
// peers age it out once LastHeartbeat exceeds staleAfter.
func (m *Membership) Stop() {
	close(m.stopCh)
}

func (m *Membership) run() {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.heartbeat(context.Background()); err != nil {
				log.WithNodeID(m.self.ID).Warn().Err(err).Msg("failed to write cluster heartbeat")
			}
		}
	}
}

func (m *Membership) heartbeat(ctx context.Context) error {
	m.self.LastHeartbeat = time.Now().UTC()
	body, err := json.Marshal(m.self)
	if err != nil {
		return apperror.Wrap(apperror.KindFatal, "marshal node heartbeat", err)
	}
	return m.store.Put(ctx, nodeKey(m.self.ID), strings.NewReader(string(body)), int64(len(body)))
}

// List returns every node record found under the heartbeat prefix,
// including stale ones; callers that need only live peers should
// consult each record's staleness via the package-level IsStale helper
// or filter on ListNodes's Stale field.
func (m *Membership) List(ctx context.Context) ([]Node, error) {
	infos, err := m.store.List(ctx, nodesPrefix)
	if err != nil {
		return nil, err
	}

	out := make([]Node, 0, len(infos))
	for _, info := range infos {
		n, err := m.readNode(ctx, info.Key)
		if err != nil {
			log.WithComponent("cluster").Warn().Err(err).Str("key", info.Key).Msg("skipping unreadable node record")
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (m *Membership) readNode(ctx context.Context, key string) (Node, error) {
	rc, err := m.store.Get(ctx, key)
	if err != nil {
		return Node{}, err
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return Node{}, apperror.Wrap(apperror.KindObjectStoreTransient, "read node heartbeat", err)
	}
	var n Node
	if err := json.Unmarshal(body, &n); err != nil {
		return Node{}, apperror.Wrap(apperror.KindFatal, "decode node heartbeat", err)
	}
	return n, nil
}

// IsStale reports whether n's last heartbeat is older than staleAfter
// as of now.
func IsStale(n Node, now time.Time, staleAfter time.Duration) bool {
	return now.Sub(n.LastHeartbeat) > staleAfter
}

// ListNodes implements metrics.NodeLister by listing the roster and
// flagging stale entries rather than dropping them, so the collector
// can still report on nodes that have gone quiet.
func (m *Membership) ListNodes() ([]metrics.NodeSummary, error) {
	nodes, err := m.List(context.Background())
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]metrics.NodeSummary, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, metrics.NodeSummary{
			Role:  string(n.Role),
			Stale: IsStale(n, now, m.staleAfter),
		})
	}
	return out, nil
}
