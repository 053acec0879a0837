package shardsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"shardkv/internal/obs"
	"shardkv/internal/wire"
)

// leaderProxy forwards a follower's write to the current leader and
// relays its response, grounded on the original's _proxy_to_leader.
type leaderProxy struct {
	http *http.Client
}

func newLeaderProxy(timeout time.Duration) *leaderProxy {
	return &leaderProxy{http: &http.Client{Timeout: timeout}}
}

func (p *leaderProxy) forward(ctx context.Context, method, leaderURL, path string, body any, query url.Values) (wire.RecordResponse, error) {
	var out wire.RecordResponse

	fullURL := leaderURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reqBody bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return out, err
		}
		reqBody = *bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, &reqBody)
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")
	if tid := obs.TraceID(ctx); tid != "" {
		req.Header.Set(obs.TraceHeader, tid)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return out, obs.NewAPIError(http.StatusBadGateway, "leader proxy failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr obs.APIError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Detail == "" {
			apiErr.Detail = fmt.Sprintf("leader returned status %d", resp.StatusCode)
		}
		return out, obs.NewAPIError(resp.StatusCode, "leader error: %s", apiErr.Detail)
	}

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, obs.NewAPIError(http.StatusBadGateway, "leader returned non-JSON response: %v", err)
	}
	return out, nil
}
