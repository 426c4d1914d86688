// Package handlers 仪表盘 HTTP / WebSocket 接口
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fleetgazer/fleetgazer/internal/fleet"
	"github.com/fleetgazer/fleetgazer/internal/maplayer"
	"github.com/fleetgazer/fleetgazer/internal/service"
	"github.com/fleetgazer/fleetgazer/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger       *zap.Logger
	store        *fleet.Store
	composer     *maplayer.Composer
	fleetService *service.FleetService
	wsHub        *ws.Hub
	gatherer     prometheus.Gatherer
	upgrader     websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	store *fleet.Store,
	composer *maplayer.Composer,
	fleetService *service.FleetService,
	wsHub *ws.Hub,
	gatherer prometheus.Gatherer,
) *Handler {
	return &Handler{
		logger:       logger,
		store:        store,
		composer:     composer,
		fleetService: fleetService,
		wsHub:        wsHub,
		gatherer:     gatherer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 车辆
		api.GET("/vehicles", h.ListVehicles)
		api.GET("/vehicles/:id", h.GetVehicle)
		api.GET("/vehicles/:id/trail", h.GetVehicleTrail)
		api.POST("/vehicles/:id/select", h.SelectVehicle)

		// 选中状态
		api.GET("/selection", h.GetSelection)
		api.DELETE("/selection", h.ClearSelection)

		// 地图相机
		api.GET("/viewport", h.GetViewport)
		api.PUT("/viewport", h.SetViewport)

		// 渲染层
		api.GET("/layers", h.GetLayers)

		// 路由服务
		api.GET("/routing/health", h.GetRoutingHealth)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查与指标
	r.GET("/health", h.HealthCheck)
	if h.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"feed_connected": h.store.IsConnected(),
		"vehicle_count":  h.store.VehicleCount(),
		"ws_clients":     h.wsHub.ClientCount(),
	})
}
