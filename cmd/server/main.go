package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fleetgazer/fleetgazer/internal/api/handlers"
	"github.com/fleetgazer/fleetgazer/internal/config"
	"github.com/fleetgazer/fleetgazer/internal/fleet"
	"github.com/fleetgazer/fleetgazer/internal/ingest"
	"github.com/fleetgazer/fleetgazer/internal/maplayer"
	"github.com/fleetgazer/fleetgazer/internal/metrics"
	"github.com/fleetgazer/fleetgazer/internal/routing"
	"github.com/fleetgazer/fleetgazer/internal/service"
	"github.com/fleetgazer/fleetgazer/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting Fleetgazer",
		zap.String("port", cfg.ServerPort),
		zap.String("org", cfg.OrganizationID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Prometheus 指标
	registry := prometheus.NewRegistry()
	ingestMetrics := metrics.NewIngest(registry)
	hubMetrics := metrics.NewHub(registry)

	// 车队状态仓库
	store := fleet.NewStore(logger, fleet.Options{
		TrailMaxPositions: cfg.TrailMaxPositions,
		UpdatePolicy:      cfg.UpdatePolicy,
	})

	// 上游接入客户端
	feedClient := ingest.NewClient(logger, ingest.ClientOptions{
		FeedURL:        cfg.FeedURL,
		APIKey:         cfg.APIKey,
		OrganizationID: cfg.OrganizationID,
		Worker: ingest.Options{
			FlushInterval:        cfg.FlushInterval,
			ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			ConnectTimeout:       cfg.ConnectTimeout,
		},
		ResubscribeOnConnect: true,
	}, ingestMetrics)

	// WebSocket Hub
	wsHub := ws.NewHub(logger, hubMetrics)
	go wsHub.Run()

	// 路由服务探测
	var routingSvc routing.Service
	if cfg.RoutingHealthURL != "" {
		routingSvc = routing.NewHTTPProber(cfg.RoutingHealthURL, logger)
	} else {
		routingSvc = routing.StaticStub{}
	}

	// 车队服务
	fleetService := service.NewFleetService(cfg, logger, store, feedClient, wsHub, routingSvc)
	if err := fleetService.Start(ctx); err != nil {
		logger.Fatal("Failed to start fleet service", zap.Error(err))
	}

	// 地图层组装
	composer := maplayer.NewComposer(logger, store, maplayer.Options{
		ClusteringEnabled: cfg.ClusteringEnabled,
	})

	handler := handlers.NewHandler(logger, store, composer, fleetService, wsHub, registry)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	fleetService.Stop()

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
