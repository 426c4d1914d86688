// Package maplayer 把车队状态组装为地图渲染层
package maplayer

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fleetgazer/fleetgazer/internal/cluster"
	"github.com/fleetgazer/fleetgazer/internal/fleet"
	"github.com/fleetgazer/fleetgazer/internal/models"
)

const (
	baseIconSize     = 32
	selectedIconSize = 48

	trailBaseWidth = 2.0

	// 簇背景圆半径范围 (px)
	minClusterRadius = 20
	maxClusterRadius = 80

	// 个体渲染阈值: 车辆数不超过该值时不聚合
	individualThreshold = 10
)

// selectedTrailColor 选中轨迹高亮色
var selectedTrailColor = cluster.RGBA{255, 109, 0, 255}

// trailPalette 未选中轨迹按序循环取色
var trailPalette = []cluster.RGBA{
	{0, 122, 255, 200},
	{52, 199, 89, 200},
	{255, 149, 0, 200},
	{175, 82, 222, 200},
	{255, 45, 85, 200},
	{90, 200, 250, 200},
}

// ClusterClickPolicy 点簇时的行为
type ClusterClickPolicy func(store *fleet.Store, c *models.VehicleCluster)

// SelectFirstVehicle 选中簇内第一辆车 (默认行为)
func SelectFirstVehicle(store *fleet.Store, c *models.VehicleCluster) {
	if len(c.Vehicles) > 0 {
		store.SelectVehicle(c.Vehicles[0].ID)
	}
}

// ExpandViewport 放大到簇的质心而不选中任何车
func ExpandViewport(store *fleet.Store, c *models.VehicleCluster) {
	vp := store.Viewport()
	vp.Longitude = c.Position[0]
	vp.Latitude = c.Position[1]
	vp.Zoom += 2
	if vp.Zoom > 20 {
		vp.Zoom = 20
	}
	store.SetViewport(vp)
}

// Options composer 配置
type Options struct {
	ClusteringEnabled bool
	ClusterClick      ClusterClickPolicy // nil -> SelectFirstVehicle
}

// Composer 层组装器
// Reads vehicles and trails from the store; click handlers route back into
// the store (selection recentres the viewport there).
type Composer struct {
	logger *zap.Logger
	store  *fleet.Store
	opts   Options

	mu           sync.Mutex
	lastClusters map[string]*models.VehicleCluster
}

// NewComposer 创建 composer
func NewComposer(logger *zap.Logger, store *fleet.Store, opts Options) *Composer {
	if opts.ClusterClick == nil {
		opts.ClusterClick = SelectFirstVehicle
	}
	return &Composer{
		logger:       logger,
		store:        store,
		opts:         opts,
		lastClusters: make(map[string]*models.VehicleCluster),
	}
}

// CreateVehicleLayers 组装一帧车辆层
// zoom == nil means the camera is not settled yet; everything renders as
// individual icons. Clustering also switches off for small fleets and past
// street-level zoom.
func (c *Composer) CreateVehicleLayers(zoom *float64) VehicleLayers {
	vehicles := c.store.Vehicles()

	if !c.opts.ClusteringEnabled ||
		len(vehicles) <= individualThreshold ||
		zoom == nil ||
		*zoom >= cluster.DisableZoom {
		c.setClusters(nil)
		return VehicleLayers{Icons: c.iconLayer("vehicles", vehicles)}
	}

	result := cluster.ClusterVehicles(vehicles, cluster.Options{Zoom: *zoom})
	c.setClusters(result.Clusters)

	scatter := &ScatterplotLayer{ID: "vehicle-clusters", OnClick: c.handleClusterClick}
	counts := &TextLayer{ID: "vehicle-cluster-counts"}
	for _, cl := range result.Clusters {
		cat := cluster.CategoryForCount(cl.Count)
		radius := clusterRadius(cat, *zoom)
		pos := Position{cl.Position[0], cl.Position[1]}

		scatter.Points = append(scatter.Points, ScatterPoint{
			ClusterID:    cl.ID,
			Position:     pos,
			RadiusPixels: radius,
			Color:        cluster.Color(cat),
		})
		counts.Labels = append(counts.Labels, TextLabel{
			ClusterID:  cl.ID,
			Position:   pos,
			Text:       fmt.Sprintf("%d", cl.Count),
			SizePixels: radius * 0.8,
		})
	}

	return VehicleLayers{
		Clusters: scatter,
		Counts:   counts,
		Icons:    c.iconLayer("vehicles-unclustered", result.IndividualVehicles),
	}
}

// iconLayer 个体车辆图标层
func (c *Composer) iconLayer(id string, vehicles []*models.Vehicle) *IconLayer {
	layer := &IconLayer{ID: id, OnClick: c.handleVehicleClick}
	selected := c.store.SelectedVehicleID()

	for _, v := range vehicles {
		if v.CurrentPosition == nil {
			continue
		}
		asset := "vehicle-inactive"
		if v.Status == models.StatusActive {
			asset = "vehicle-active"
		}
		size := float64(baseIconSize)
		isSelected := v.ID == selected
		if isSelected {
			size = selectedIconSize
		}
		layer.Icons = append(layer.Icons, Icon{
			VehicleID: v.ID,
			Position:  Position{v.CurrentPosition.Longitude, v.CurrentPosition.Latitude},
			Asset:     asset,
			Size:      size,
			Angle:     v.CurrentPosition.Heading,
			Selected:  isSelected,
		})
	}
	return layer
}

// CreateTrailLayer 组装轨迹层
// The selected vehicle's trail is highlighted: distinct color, 1.5x width.
func (c *Composer) CreateTrailLayer() *PathLayer {
	trails := c.store.Trails()
	selected := c.store.SelectedVehicleID()

	// 稳定顺序: 跟随车辆插入顺序, 没有车辆记录的轨迹殿后
	layer := &PathLayer{ID: "vehicle-trails"}
	seen := make(map[string]bool, len(trails))
	ordered := make([]string, 0, len(trails))
	for _, v := range c.store.Vehicles() {
		if _, ok := trails[v.ID]; ok {
			ordered = append(ordered, v.ID)
			seen[v.ID] = true
		}
	}
	for id := range trails {
		if !seen[id] {
			ordered = append(ordered, id)
		}
	}

	for i, vehicleID := range ordered {
		trail := trails[vehicleID]
		if len(trail) < 2 {
			continue
		}
		positions := make([]Position, 0, len(trail))
		for _, p := range trail {
			positions = append(positions, Position{p.Longitude, p.Latitude})
		}

		path := Path{
			VehicleID:   vehicleID,
			Positions:   positions,
			Color:       trailPalette[i%len(trailPalette)],
			WidthPixels: trailBaseWidth,
		}
		if vehicleID == selected {
			path.Color = selectedTrailColor
			path.WidthPixels = trailBaseWidth * 1.5
			path.Highlighted = true
		}
		layer.Paths = append(layer.Paths, path)
	}
	return layer
}

func (c *Composer) handleVehicleClick(vehicleID string) {
	c.logger.Debug("Vehicle clicked", zap.String("vehicle_id", vehicleID))
	c.store.SelectVehicle(vehicleID)
}

func (c *Composer) handleClusterClick(clusterID string) {
	c.mu.Lock()
	cl, ok := c.lastClusters[clusterID]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("Click on stale cluster ignored", zap.String("cluster_id", clusterID))
		return
	}
	c.opts.ClusterClick(c.store, cl)
}

func (c *Composer) setClusters(clusters []*models.VehicleCluster) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastClusters = make(map[string]*models.VehicleCluster, len(clusters))
	for _, cl := range clusters {
		c.lastClusters[cl.ID] = cl
	}
}

// clusterRadius 背景圆半径: 分档基础值加缩放补偿, 限制在 [20, 80] px
func clusterRadius(cat cluster.SizeCategory, zoom float64) float64 {
	radius := cluster.BaseSize(cat) + (zoom-8)*2
	if radius < minClusterRadius {
		radius = minClusterRadius
	}
	if radius > maxClusterRadius {
		radius = maxClusterRadius
	}
	return radius
}
