package coordinator

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shardkv/internal/obs"
	"shardkv/internal/registry"
	"shardkv/internal/ring"
	"shardkv/internal/wire"
)

// Handler holds the Routing Tier's dependencies and exposes the HTTP
// surface clients and shard replicas talk to.
type Handler struct {
	tables   *TableRegistry
	ring     *ring.Ring
	registry *registry.Registry
	migrator *Migrator
	client   *shardClient
	logger   *zap.Logger

	reqTimeout time.Duration
}

// NewHandler wires up the Routing Tier.
func NewHandler(tables *TableRegistry, r *ring.Ring, reg *registry.Registry, mig *Migrator, logger *zap.Logger) *Handler {
	return &Handler{
		tables:     tables,
		ring:       r,
		registry:   reg,
		migrator:   mig,
		client:     newShardClient(5 * time.Second),
		logger:     logger,
		reqTimeout: 5 * time.Second,
	}
}

// Register mounts every coordinator route on router.
func (h *Handler) Register(router *gin.Engine) {
	router.GET("/health", h.health)
	router.GET("/version", h.version)

	router.POST("/tables", h.registerTable)
	router.GET("/tables", h.listTables)
	router.GET("/tables/:table_name", h.getTable)

	router.POST("/register-replica", h.registerReplica)
	router.GET("/replicas", h.listReplicas)

	router.POST("/records", h.createRecord)
	router.GET("/records", h.readRecord)
	router.DELETE("/records", h.deleteRecord)
	router.GET("/exists", h.exists)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": "dev"})
}

func writeAPIError(c *gin.Context, status int, format string, args ...any) {
	c.AbortWithStatusJSON(status, obs.NewAPIError(status, format, args...))
}

func (h *Handler) requireTable(c *gin.Context, name string) bool {
	if !h.tables.Exists(name) {
		writeAPIError(c, http.StatusNotFound, "table not registered. Call POST /tables first.")
		return false
	}
	return true
}

func (h *Handler) pickShard(c *gin.Context, pk string) (string, bool) {
	shard, ok := h.ring.Get(pk)
	if !ok {
		writeAPIError(c, http.StatusServiceUnavailable, "no shards registered")
		return "", false
	}
	return shard, true
}

func (h *Handler) leaderURL(c *gin.Context, shardName string) (string, bool) {
	url := h.registry.LeaderURL(shardName)
	if url == "" {
		writeAPIError(c, http.StatusServiceUnavailable, "no leader available for shard %s", shardName)
		return "", false
	}
	return url, true
}

func (h *Handler) readURL(c *gin.Context, shardName string) (string, bool) {
	url := h.registry.PickReadReplica(shardName)
	if url == "" {
		writeAPIError(c, http.StatusServiceUnavailable, "no active replicas for shard %s", shardName)
		return "", false
	}
	return url, true
}

// -------------------- tables --------------------

func (h *Handler) registerTable(c *gin.Context) {
	var t TableDef
	if err := c.ShouldBindJSON(&t); err != nil {
		writeAPIError(c, http.StatusBadRequest, "%v", err)
		return
	}
	c.JSON(http.StatusOK, h.tables.Register(t))
}

func (h *Handler) listTables(c *gin.Context) {
	c.JSON(http.StatusOK, h.tables.List())
}

func (h *Handler) getTable(c *gin.Context) {
	t, err := h.tables.Get(c.Param("table_name"))
	if err != nil {
		writeAPIError(c, http.StatusNotFound, "table not found")
		return
	}
	c.JSON(http.StatusOK, t)
}

// -------------------- replica registration / migration trigger --------------------

func (h *Handler) registerReplica(c *gin.Context) {
	var req wire.RegisterReplicaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, http.StatusBadRequest, "%v", err)
		return
	}

	before := h.ring.Clone()
	beforeNodes := make(map[string]bool)
	for _, n := range before.Nodes() {
		beforeNodes[n] = true
	}

	assignedRole, leaderURL := h.registry.Register(req.ShardName, req.ReplicaURL, req.ReplicaID, registry.RequestedRole(req.Role))

	// Only add the shard to the ring once it has a live leader —
	// otherwise every read/write routed to it would immediately 503.
	if h.registry.LeaderURL(req.ShardName) != "" {
		h.ring.Add(req.ShardName)
	}

	if !beforeNodes[req.ShardName] {
		h.migrator.MaybeStart(before)
	}

	c.JSON(http.StatusOK, wire.RegisterReplicaResponse{
		ShardName:    req.ShardName,
		AssignedRole: string(assignedRole),
		LeaderURL:    leaderURL,
	})
}

func (h *Handler) listReplicas(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.ListAll())
}

// -------------------- records --------------------

func (h *Handler) createRecord(c *gin.Context) {
	var req wire.RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, http.StatusBadRequest, "%v", err)
		return
	}
	if !h.requireTable(c, req.TableName) {
		return
	}
	shardName, ok := h.pickShard(c, req.PK)
	if !ok {
		return
	}
	leader, ok := h.leaderURL(c, shardName)
	if !ok {
		return
	}

	resp, err := h.client.createRecord(c.Request.Context(), leader, req)
	if err != nil {
		writeAPIError(c, http.StatusBadGateway, "shard request failed: %v", err)
		return
	}
	resp.ShardURL = leader
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) readRecord(c *gin.Context) {
	table := c.Query("table_name")
	pk := c.Query("pk")
	sk := c.Query("sk")
	if !h.requireTable(c, table) {
		return
	}

	primaryShard, ok := h.pickShard(c, pk)
	if !ok {
		return
	}
	primary, ok := h.readURL(c, primaryShard)
	if !ok {
		return
	}

	resp, found, err := h.client.readRecord(c.Request.Context(), primary, table, pk, sk)
	if err != nil {
		writeAPIError(c, http.StatusBadGateway, "shard request failed: %v", err)
		return
	}

	if !found {
		// During an in-flight migration, the key may still live on the
		// old owner; fall back there before reporting it missing.
		if oldRing, migrating := h.migrator.InProgress(); migrating {
			if oldShard, ok := oldRing.Get(pk); ok && oldShard != primaryShard {
				if fallback := h.registry.PickReadReplica(oldShard); fallback != "" {
					fbResp, fbFound, fbErr := h.client.readRecord(c.Request.Context(), fallback, table, pk, sk)
					if fbErr == nil && fbFound {
						fbResp.ShardURL = fallback
						c.JSON(http.StatusOK, fbResp)
						return
					}
				}
			}
		}
		c.JSON(http.StatusOK, wire.RecordResponse{TableName: table, PK: pk, SK: sk, ShardURL: primary})
		return
	}

	resp.ShardURL = primary
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) deleteRecord(c *gin.Context) {
	table := c.Query("table_name")
	pk := c.Query("pk")
	sk := c.Query("sk")
	if !h.requireTable(c, table) {
		return
	}

	shardName, ok := h.pickShard(c, pk)
	if !ok {
		return
	}
	leader, ok := h.leaderURL(c, shardName)
	if !ok {
		return
	}

	resp, err := h.client.deleteRecord(c.Request.Context(), leader, table, pk, sk)
	if err != nil {
		writeAPIError(c, http.StatusBadGateway, "shard request failed: %v", err)
		return
	}
	resp.ShardURL = leader
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) exists(c *gin.Context) {
	table := c.Query("table_name")
	pk := c.Query("pk")
	sk := c.Query("sk")
	if !h.requireTable(c, table) {
		return
	}

	shardName, ok := h.pickShard(c, pk)
	if !ok {
		return
	}
	leader, ok := h.leaderURL(c, shardName)
	if !ok {
		return
	}

	leaderExists, err := h.client.exists(c.Request.Context(), leader, table, pk, sk)
	if err != nil {
		writeAPIError(c, http.StatusServiceUnavailable, "/exists failed on leader: %v", err)
		return
	}
	if leaderExists {
		c.JSON(http.StatusOK, wire.ExistsResponse{Exists: true})
		return
	}

	// The leader is authoritative about existence; only fall through to
	// followers when it explicitly reports the key absent, in case a
	// follower has a write the leader hasn't caught up on replaying yet.
	for _, rep := range h.registry.ActiveReplicas(shardName) {
		if rep.ReplicaURL == leader {
			continue
		}
		if exists, err := h.client.exists(c.Request.Context(), rep.ReplicaURL, table, pk, sk); err == nil && exists {
			c.JSON(http.StatusOK, wire.ExistsResponse{Exists: true})
			return
		}
	}

	c.JSON(http.StatusOK, wire.ExistsResponse{Exists: false})
}
