package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeForServer(t *testing.T, id string, srv *httptest.Server) Node {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return Node{ID: id, DomainName: u.Hostname(), Port: port}
}

func TestFanout_UnionsResponsesFromAllLiveNodes(t *testing.T) {
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(QueryResponse{Rows: []map[string]any{{"msg": "from-a"}}})
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(QueryResponse{Rows: []map[string]any{{"msg": "from-b"}}})
	}))
	defer srvB.Close()

	nodes := []Node{nodeForServer(t, "a", srvA), nodeForServer(t, "b", srvB)}
	result := Fanout(context.Background(), srvA.Client(), nodes, QueryRequest{Query: "SELECT 1"}, time.Second)

	assert.False(t, result.Partial)
	assert.Len(t, result.Responses, 2)
}

func TestFanout_MarksPartialWhenANodeFails(t *testing.T) {
	srvOK := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(QueryResponse{Rows: []map[string]any{{"msg": "ok"}}})
	}))
	defer srvOK.Close()
	srvDown := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	srvDown.Close() // closed before use: connection refused simulates an unreachable ingestor

	nodes := []Node{nodeForServer(t, "ok", srvOK), nodeForServer(t, "down", srvDown)}
	result := Fanout(context.Background(), srvOK.Client(), nodes, QueryRequest{Query: "SELECT 1"}, time.Second)

	assert.True(t, result.Partial)
	require.Len(t, result.Responses, 1)
	assert.Equal(t, "ok", result.Responses[0].NodeID)
}

func TestFanout_EmptyRosterReturnsEmptyNonPartialResult(t *testing.T) {
	result := Fanout(context.Background(), http.DefaultClient, nil, QueryRequest{}, time.Second)
	assert.False(t, result.Partial)
	assert.Empty(t, result.Responses)
}
