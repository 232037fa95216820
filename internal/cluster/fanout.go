package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/logship/pkg/apperror"
	"github.com/cuemby/logship/pkg/log"
)

// QueryRequest is the body POSTed to a peer's /api/v1/query-live
// endpoint, the same shape the querier's own /api/v1/query handler
// accepts.
type QueryRequest struct {
	Query     string    `json:"query"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// QueryResponse is one ingestor's reply to a live query scatter.
type QueryResponse struct {
	NodeID string           `json:"nodeId"`
	Rows   []map[string]any `json:"rows"`
}

// FanoutResult is the outcome of scattering a live query to the
// ingestor roster: the rows every reachable node returned, plus
// whether any node failed to answer in time.
type FanoutResult struct {
	Responses []QueryResponse
	Partial   bool
}

// Fanout scatters req to every live ingestor in nodes over HTTP,
// unioning whatever answers arrive within timeout. A node that errors
// or times out is dropped from Responses and flips Partial to true,
// matching the NodeUnreachable → X-P-Partial: true contract the query
// handler surfaces to its caller.
func Fanout(ctx context.Context, client *http.Client, nodes []Node, req QueryRequest, timeout time.Duration) FanoutResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		result  FanoutResult
		wg      sync.WaitGroup
		partial bool
	)

	for _, n := range nodes {
		n := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := queryLive(ctx, client, n, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				partial = true
				log.WithNodeID(n.ID).Warn().Err(err).Msg("live query fan-out call failed")
				return
			}
			result.Responses = append(result.Responses, resp)
		}()
	}
	wg.Wait()

	result.Partial = partial
	return result
}

func queryLive(ctx context.Context, client *http.Client, n Node, req QueryRequest) (QueryResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return QueryResponse{}, apperror.Wrap(apperror.KindFatal, "marshal fan-out query request", err)
	}

	url := "http://" + n.DomainName + ":" + strconv.Itoa(n.Port) + "/api/v1/query-live"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return QueryResponse{}, apperror.Wrap(apperror.KindNodeUnreachable, "build fan-out request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return QueryResponse{}, apperror.Wrap(apperror.KindNodeUnreachable, "call "+n.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return QueryResponse{}, apperror.New(apperror.KindNodeUnreachable, "node "+n.ID+" returned non-200 for live query")
	}

	var out QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return QueryResponse{}, apperror.Wrap(apperror.KindNodeUnreachable, "decode response from "+n.ID, err)
	}
	out.NodeID = n.ID
	return out, nil
}
