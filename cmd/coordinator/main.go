// cmd/coordinator is the entrypoint for the stateless Routing Tier.
//
// Configuration is entirely via flags/environment so the same binary
// runs in any deployment, matching the original coordinator FastAPI
// service's reliance on COORDINATOR_ADDR, RING_REPLICAS,
// REPLICA_TTL_SEC, and the shared RABBITMQ_*/LOG_LEVEL/... variables.
//
// Example:
//
//	./coordinator --addr :8000 --ring-vnodes 128 --replica-ttl 30s
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

	"shardkv/internal/config"
	"shardkv/internal/coordinator"
	"shardkv/internal/obs"
)

func main() {
	cfg := config.LoadCoordinator()

	logger, err := obs.NewLogger(*cfg.Obs.LogLevel, *cfg.Obs.Service, *cfg.Obs.Cluster)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer logger.Sync()

	metrics := obs.NewMetrics(*cfg.Obs.Cluster, *cfg.Obs.Service)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(obs.TraceMiddleware(), obs.Recovery(logger), obs.RequestLogger(logger, metrics))

	server := coordinator.NewServer(*cfg.RingVNodes, *cfg.ReplicaTTL, metrics, logger)
	server.Handler.Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.RunGaugeLoop(ctx, 10*time.Second)

	httpSrv := &http.Server{
		Addr:         *cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("coordinator listening", zap.String("addr", *cfg.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down coordinator")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
}
