package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fleetgazer/fleetgazer/internal/models"
)

// ListVehicles 获取车辆列表
func (h *Handler) ListVehicles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.store.Vehicles()})
}

// GetVehicle 获取车辆详情
func (h *Handler) GetVehicle(c *gin.Context) {
	vehicle, ok := h.store.Vehicle(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": vehicle})
}

// GetVehicleTrail 获取车辆轨迹
func (h *Handler) GetVehicleTrail(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.store.Vehicle(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not found"})
		return
	}

	trail := h.store.Trail(id)
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"vehicle_id": id,
			"positions":  trail,
		},
	})
}

// SelectVehicle 选中车辆 (地图随之聚焦)
// POST /api/vehicles/:id/select
func (h *Handler) SelectVehicle(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.store.Vehicle(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not found"})
		return
	}

	h.store.SelectVehicle(id)
	h.logger.Info("Vehicle selected via API", zap.String("vehicle_id", id))
	c.JSON(http.StatusOK, gin.H{
		"message":  "Vehicle selected",
		"viewport": h.store.Viewport(),
	})
}

// GetSelection 获取当前选中车辆
func (h *Handler) GetSelection(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{"vehicle_id": h.store.SelectedVehicleID()},
	})
}

// ClearSelection 取消选中
func (h *Handler) ClearSelection(c *gin.Context) {
	h.store.SelectVehicle("")
	c.JSON(http.StatusOK, gin.H{"message": "Selection cleared"})
}

// GetViewport 获取地图相机状态
func (h *Handler) GetViewport(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.store.Viewport()})
}

// SetViewport 设置地图相机状态
func (h *Handler) SetViewport(c *gin.Context) {
	var vp models.Viewport
	if err := c.ShouldBindJSON(&vp); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid viewport"})
		return
	}
	if vp.Latitude < -90 || vp.Latitude > 90 || vp.Longitude < -180 || vp.Longitude > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Coordinates out of range"})
		return
	}

	h.store.SetViewport(vp)
	c.JSON(http.StatusOK, gin.H{"data": h.store.Viewport()})
}

// GetLayers 获取当前渲染层
// GET /api/layers?zoom=12 (zoom 省略时按相机未就绪处理)
func (h *Handler) GetLayers(c *gin.Context) {
	var zoom *float64
	if raw := c.Query("zoom"); raw != "" {
		z, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid zoom"})
			return
		}
		zoom = &z
	}

	vehicleLayers := h.composer.CreateVehicleLayers(zoom)
	trailLayer := h.composer.CreateTrailLayer()

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"vehicles": vehicleLayers,
			"trails":   trailLayer,
		},
	})
}

// GetRoutingHealth 路由服务健康状态
func (h *Handler) GetRoutingHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.fleetService.RoutingHealth()})
}
