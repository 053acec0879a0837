// cmd/shard is the entrypoint for one shard replica.
//
// Every replica runs this same binary; whether it ends up leader or
// follower for its shard is decided by the coordinator at
// registration time, not by a flag here. Configuration mirrors the
// original shard FastAPI service's environment variables (SHARD_NAME,
// SHARD_URL, REPLICA_ID, COORDINATOR_URL, REGISTER_INTERVAL_SEC,
// PROXY_WRITES, ORIGIN).
//
// Example:
//
//	./shard --shard-name shard-0 --shard-url http://shard0:9000 \
//	        --coordinator-url http://coordinator:8000
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"shardkv/internal/bus"
	"shardkv/internal/config"
	"shardkv/internal/obs"
	"shardkv/internal/shardsvc"
)

func main() {
	cfg := config.LoadShard()

	logger, err := obs.NewLogger(*cfg.Obs.LogLevel, *cfg.Obs.Service, *cfg.Obs.Cluster)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer logger.Sync()

	metrics := obs.NewMetrics(*cfg.Obs.Cluster, *cfg.Obs.Service)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svcCfg := shardsvc.Config{
		ShardName:        *cfg.ShardName,
		ShardURL:         *cfg.ShardURL,
		ReplicaID:        *cfg.ReplicaID,
		Origin:           *cfg.Origin,
		CoordinatorURL:   *cfg.CoordinatorURL,
		RequestedRole:    *cfg.RequestedRole,
		RegisterInterval: *cfg.RegisterInterval,
		ProxyWrites:      *cfg.ProxyWrites,
		HTTPTimeout:      *cfg.HTTPTimeout,
		Bus: bus.Config{
			URL:              *cfg.Bus.URL,
			Queue:            *cfg.Bus.Queue,
			PublishTimeout:   *cfg.Bus.PublishTimeout,
			PublishRetries:   *cfg.Bus.PublishRetries,
			ReconnectBackoff: *cfg.Bus.ReconnectBackoff,
			TickInterval:     *cfg.Bus.TickInterval,
			Heartbeat:        *cfg.Bus.Heartbeat,
			PrefetchCount:    *cfg.Bus.PrefetchCount,
		},
	}

	gin.SetMode(gin.ReleaseMode)
	server := shardsvc.NewServer(ctx, svcCfg, metrics, logger)
	server.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	httpSrv := &http.Server{
		Addr:         *cfg.Addr,
		Handler:      server.Router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("shard replica listening", zap.String("addr", *cfg.Addr), zap.String("shard", *cfg.ShardName))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down shard replica")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
}
