package shardsvc

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shardkv/internal/bus"
	"shardkv/internal/obs"
	"shardkv/internal/shardstore"
	"shardkv/internal/wire"
)

// Server bundles a shard replica's store, bus client, registration
// heartbeat, and HTTP surface.
type Server struct {
	Service *Service
	Router  *gin.Engine

	store      *shardstore.Store
	publisher  *bus.Publisher
	consumer   *bus.Consumer
	registrar  *registrar
	state      *roleState
	logger     *zap.Logger
}

// Config is everything Server needs to wire a shard replica, mirroring
// the original's SHARD_* / REPLICA_ID / ORIGIN / PROXY_WRITES
// environment variables.
type Config struct {
	ShardName        string
	ShardURL         string
	ReplicaID        string
	Origin           string
	CoordinatorURL   string
	RequestedRole    string
	RegisterInterval time.Duration
	ProxyWrites      bool
	HTTPTimeout      time.Duration
	Bus              bus.Config
}

// NewServer wires a Store, a bus Publisher/Consumer pair (the
// Consumer applying inbound events to the Store), a registration
// heartbeat, and the Gin router exposing the shard's HTTP surface.
// Background goroutines are started against ctx and stop when it is
// canceled.
func NewServer(ctx context.Context, cfg Config, metrics obs.Metrics, logger *zap.Logger) *Server {
	store := shardstore.New()
	publisher := bus.NewPublisher(ctx, cfg.Bus)
	state := newRoleState("auto")

	consumer := bus.NewConsumer(ctx, cfg.Bus, func(ev wire.Event) error {
		store.Apply(ev)
		if lag := time.Since(time.Unix(0, ev.Version)).Seconds(); lag > 0 {
			metrics.ObserveReplicationLag(cfg.ShardName, lag)
		}
		return nil
	})

	reg := newRegistrar(cfg.CoordinatorURL, cfg.ShardName, cfg.ShardURL, cfg.ReplicaID, cfg.RequestedRole, cfg.RegisterInterval, cfg.HTTPTimeout, state, metrics, logger)
	go reg.run(ctx)

	svc := NewService(store, publisher, state, cfg.Origin, cfg.ProxyWrites, cfg.HTTPTimeout, logger)

	router := gin.New()
	router.Use(obs.TraceMiddleware(), obs.Recovery(logger), obs.RequestLogger(logger, metrics))
	svc.Register(router)

	return &Server{
		Service:   svc,
		Router:    router,
		store:     store,
		publisher: publisher,
		consumer:  consumer,
		registrar: reg,
		state:     state,
		logger:    logger,
	}
}
