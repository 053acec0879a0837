package shardsvc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"shardkv/internal/obs"
	"shardkv/internal/wire"
)

// registrar periodically announces this replica to the coordinator and
// updates the shared roleState with whatever role/leader the
// coordinator assigns. Grounded on the original's
// register.py::try_register_forever, which runs as a daemon thread for
// the life of the process and never gives up on a failed attempt.
type registrar struct {
	coordinatorURL string
	shardName      string
	shardURL       string
	replicaID      string
	interval       time.Duration
	requestedRole  string

	http    *http.Client
	state   *roleState
	metrics obs.Metrics
	logger  *zap.Logger
}

func newRegistrar(coordinatorURL, shardName, shardURL, replicaID, requestedRole string, interval, timeout time.Duration, state *roleState, metrics obs.Metrics, logger *zap.Logger) *registrar {
	return &registrar{
		coordinatorURL: strings.TrimRight(coordinatorURL, "/"),
		shardName:      shardName,
		shardURL:       strings.TrimRight(shardURL, "/"),
		replicaID:      replicaID,
		interval:       interval,
		requestedRole:  requestedRole,
		http:           &http.Client{Timeout: timeout},
		state:          state,
		metrics:        metrics,
		logger:         logger,
	}
}

// run polls the coordinator every interval until ctx is canceled,
// exactly as the original's daemon thread does with time.sleep.
func (r *registrar) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.registerOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.registerOnce(ctx)
		}
	}
}

func (r *registrar) registerOnce(ctx context.Context) {
	payload := wire.RegisterReplicaRequest{
		ShardName:  r.shardName,
		ReplicaURL: r.shardURL,
		ReplicaID:  r.replicaID,
		Role:       r.requestedRole,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.coordinatorURL+"/register-replica", strings.NewReader(string(body)))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		r.logger.Warn("registration heartbeat failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Warn("registration heartbeat rejected", zap.Int("status", resp.StatusCode))
		return
	}

	var out wire.RegisterReplicaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return
	}

	leader := strings.TrimRight(out.LeaderURL, "/")
	r.state.set(out.AssignedRole, leader)
	r.metrics.Heartbeat(r.shardName, out.AssignedRole)
}
