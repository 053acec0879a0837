package shardsvc

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shardkv/internal/obs"
	"shardkv/internal/shardstore"
	"shardkv/internal/wire"
)

// eventPublisher is the slice of bus.Publisher the Service depends on.
// Declared as an interface so tests can exercise the leader write path
// without a real AMQP broker; *bus.Publisher satisfies it.
type eventPublisher interface {
	Publish(ctx context.Context, ev wire.Event) error
}

// Service holds one shard replica's dependencies and exposes the HTTP
// surface the coordinator and proxied clients talk to. Grounded on
// original_source/apps/shard/app/main.py.
type Service struct {
	store     *shardstore.Store
	publisher eventPublisher
	state     *roleState
	proxy     *leaderProxy
	logger    *zap.Logger

	origin       string
	proxyWrites  bool
	buildVersion string
	buildTime    string
}

// NewService wires a Service around an already-running Store and
// Publisher; the caller owns starting the Consumer and the
// registration heartbeat.
func NewService(store *shardstore.Store, publisher eventPublisher, state *roleState, origin string, proxyWrites bool, httpTimeout time.Duration, logger *zap.Logger) *Service {
	return &Service{
		store:        store,
		publisher:    publisher,
		state:        state,
		proxy:        newLeaderProxy(httpTimeout),
		logger:       logger,
		origin:       origin,
		proxyWrites:  proxyWrites,
		buildVersion: "dev",
		buildTime:    "unknown",
	}
}

// nanoNow mints a monotonically-increasing-enough version stamp the
// same way the original's time.time_ns() does — good enough as a LWW
// tiebreaker since ties within the same origin never occur in
// practice and cross-origin ties fall back to the origin string.
func nanoNow() int64 {
	return time.Now().UnixNano()
}

// Register mounts every shard route on router.
func (s *Service) Register(router *gin.Engine) {
	router.GET("/health", s.health)
	router.GET("/version", s.version)
	router.GET("/stats", s.stats)

	router.POST("/records", s.createRecord)
	router.GET("/records", s.readRecord)
	router.DELETE("/records", s.deleteRecord)
	router.GET("/exists", s.exists)

	router.GET("/internal/stats", s.stats)
	router.GET("/internal/keys", s.internalKeys)
	router.POST("/internal/migrate-put", s.migratePut)
	router.POST("/internal/migrate-del", s.migrateDel)
}

func writeAPIError(c *gin.Context, status int, format string, args ...any) {
	c.AbortWithStatusJSON(status, obs.NewAPIError(status, format, args...))
}

func (s *Service) health(c *gin.Context) {
	role, leader := s.state.get()
	resp := gin.H{"status": "ok", "role": role}
	if leader != "" {
		resp["leader_url"] = leader
	} else {
		resp["leader_url"] = nil
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Service) version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":       "shard",
		"build_version": s.buildVersion,
		"build_time":    s.buildTime,
		"origin":        s.origin,
	})
}

func (s *Service) stats(c *gin.Context) {
	st := s.store.Stats()
	c.JSON(http.StatusOK, wire.StatsResponse{Tables: st.Tables, TotalKeys: st.TotalKeys})
}

func (s *Service) leaderOr503(c *gin.Context) (string, bool) {
	_, leader := s.state.get()
	if leader == "" {
		writeAPIError(c, http.StatusServiceUnavailable, "no leader known yet (replica not registered or coordinator unreachable)")
		return "", false
	}
	return leader, true
}

func (s *Service) createRecord(c *gin.Context) {
	var req wire.RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, http.StatusBadRequest, "%v", err)
		return
	}

	if !s.state.isLeader() {
		s.proxyOrRedirectWrite(c, http.MethodPost, "/records", req, nil)
		return
	}

	version := nanoNow()
	ev := wire.Event{
		Op:        wire.OpPut,
		TableName: req.TableName,
		PK:        req.PK,
		SK:        req.SK,
		Value:     req.Value,
		Version:   version,
		Origin:    s.origin,
	}
	if err := s.publisher.Publish(c.Request.Context(), ev); err != nil {
		writeAPIError(c, http.StatusServiceUnavailable, "replication log publish failed: %v", err)
		return
	}
	s.store.Put(req.TableName, req.PK, req.SK, req.Value, version, s.origin)

	value := req.Value
	c.JSON(http.StatusOK, wire.RecordResponse{
		TableName: req.TableName,
		PK:        req.PK,
		SK:        req.SK,
		Value:     &value,
		Version:   &version,
		Origin:    s.origin,
	})
}

func (s *Service) readRecord(c *gin.Context) {
	table, pk, sk, ok := requireKeyParams(c)
	if !ok {
		return
	}

	value, version, origin, found := s.store.GetWithVersion(table, pk, sk)
	if !found {
		writeAPIError(c, http.StatusNotFound, "not found")
		return
	}
	c.JSON(http.StatusOK, wire.RecordResponse{
		TableName: table, PK: pk, SK: sk,
		Value: &value, Version: &version, Origin: origin,
	})
}

func (s *Service) deleteRecord(c *gin.Context) {
	table, pk, sk, ok := requireKeyParams(c)
	if !ok {
		return
	}

	if !s.state.isLeader() {
		q := url.Values{"table_name": {table}, "pk": {pk}, "sk": {sk}}
		s.proxyOrRedirectWrite(c, http.MethodDelete, "/records", nil, q)
		return
	}

	// The previous value is read before publishing: this replica's own
	// consumer may apply the DEL event before the local Delete below runs.
	prev, _ := s.store.Get(table, pk, sk)

	version := nanoNow()
	ev := wire.Event{Op: wire.OpDelete, TableName: table, PK: pk, SK: sk, Version: version, Origin: s.origin}
	if err := s.publisher.Publish(c.Request.Context(), ev); err != nil {
		writeAPIError(c, http.StatusServiceUnavailable, "replication log publish failed: %v", err)
		return
	}

	// Matches the original: the response's "previous value" is the
	// authority on 404, not whether a tombstone was actually written —
	// a delete of a key that never existed still writes a tombstone
	// but is still reported as not found.
	s.store.Delete(table, pk, sk, version, s.origin)
	if prev.IsNull() {
		writeAPIError(c, http.StatusNotFound, "not found")
		return
	}

	c.JSON(http.StatusOK, wire.RecordResponse{
		TableName: table, PK: pk, SK: sk,
		Value: &prev, Version: &version, Origin: s.origin,
	})
}

func (s *Service) exists(c *gin.Context) {
	table, pk, sk, ok := requireKeyParams(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, wire.ExistsResponse{Exists: s.store.Exists(table, pk, sk)})
}

func (s *Service) internalKeys(c *gin.Context) {
	table := c.Query("table_name")
	records := s.store.IterRecords(table)

	items := make([]wire.Item, 0, len(records))
	for _, r := range records {
		if r.Deleted {
			continue
		}
		items = append(items, wire.Item{
			TableName: r.Table, PK: r.PK, SK: r.SK,
			Value: r.Value, Version: r.Version, Origin: r.Origin,
		})
	}
	c.JSON(http.StatusOK, wire.KeysResponse{Items: items})
}

func (s *Service) migratePut(c *gin.Context) {
	if !s.state.isLeader() {
		writeAPIError(c, http.StatusConflict, "not leader")
		return
	}
	var req wire.MigrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, http.StatusBadRequest, "%v", err)
		return
	}

	for _, it := range req.Items {
		ev := wire.Event{
			Op: wire.OpPut, TableName: it.TableName, PK: it.PK, SK: it.SK,
			Value: it.Value, Version: it.Version, Origin: it.Origin,
		}
		if err := s.publisher.Publish(c.Request.Context(), ev); err != nil {
			writeAPIError(c, http.StatusServiceUnavailable, "replication log publish failed: %v", err)
			return
		}
		s.store.Put(it.TableName, it.PK, it.SK, it.Value, it.Version, it.Origin)
	}
	c.JSON(http.StatusOK, gin.H{"migrated": len(req.Items)})
}

func (s *Service) migrateDel(c *gin.Context) {
	if !s.state.isLeader() {
		writeAPIError(c, http.StatusConflict, "not leader")
		return
	}
	var req wire.MigrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, http.StatusBadRequest, "%v", err)
		return
	}

	for _, it := range req.Items {
		ev := wire.Event{Op: wire.OpDelete, TableName: it.TableName, PK: it.PK, SK: it.SK, Version: it.Version, Origin: it.Origin}
		if err := s.publisher.Publish(c.Request.Context(), ev); err != nil {
			writeAPIError(c, http.StatusServiceUnavailable, "replication log publish failed: %v", err)
			return
		}
		s.store.Delete(it.TableName, it.PK, it.SK, it.Version, it.Origin)
	}
	c.JSON(http.StatusOK, gin.H{"deleted": len(req.Items)})
}

func requireKeyParams(c *gin.Context) (table, pk, sk string, ok bool) {
	table = c.Query("table_name")
	pk = c.Query("pk")
	sk = c.Query("sk")
	if table == "" || pk == "" || sk == "" {
		writeAPIError(c, http.StatusBadRequest, "table_name, pk, and sk are required")
		return "", "", "", false
	}
	return table, pk, sk, true
}

// proxyOrRedirectWrite either 307-redirects the caller to the leader
// (when proxyWrites is disabled) or forwards the write itself and
// relays the leader's response, matching the original's create/delete
// follower branch.
func (s *Service) proxyOrRedirectWrite(c *gin.Context, method, path string, body any, query url.Values) {
	leader, ok := s.leaderOr503(c)
	if !ok {
		return
	}

	if !s.proxyWrites {
		c.Header("Location", leader+path)
		writeAPIError(c, http.StatusTemporaryRedirect, "redirect to leader")
		return
	}

	resp, err := s.proxy.forward(c.Request.Context(), method, leader, path, body, query)
	if err != nil {
		if apiErr, ok := err.(*obs.APIError); ok {
			c.AbortWithStatusJSON(apiErr.Status, apiErr)
			return
		}
		writeAPIError(c, http.StatusBadGateway, "%v", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
