package maplayer

import "github.com/fleetgazer/fleetgazer/internal/cluster"

// Position [lng, lat]
type Position [2]float64

// Icon 单车图标
type Icon struct {
	VehicleID string   `json:"vehicle_id"`
	Position  Position `json:"position"`
	Asset     string   `json:"asset"` // vehicle-active / vehicle-inactive
	Size      float64  `json:"size"`  // px
	Angle     float64  `json:"angle"` // heading, degrees
	Selected  bool     `json:"selected"`
}

// IconLayer 车辆图标层
type IconLayer struct {
	ID    string `json:"id"`
	Icons []Icon `json:"icons"`

	// OnClick receives the picked vehicle id.
	OnClick func(vehicleID string) `json:"-"`
}

// ScatterPoint 簇背景圆
type ScatterPoint struct {
	ClusterID    string       `json:"cluster_id"`
	Position     Position     `json:"position"`
	RadiusPixels float64      `json:"radius_pixels"`
	Color        cluster.RGBA `json:"color"`
}

// ScatterplotLayer 簇背景层
type ScatterplotLayer struct {
	ID     string         `json:"id"`
	Points []ScatterPoint `json:"points"`

	OnClick func(clusterID string) `json:"-"`
}

// TextLabel 簇计数文本
type TextLabel struct {
	ClusterID  string   `json:"cluster_id"`
	Position   Position `json:"position"`
	Text       string   `json:"text"`
	SizePixels float64  `json:"size_pixels"`
}

// TextLayer 簇计数层
type TextLayer struct {
	ID     string      `json:"id"`
	Labels []TextLabel `json:"labels"`
}

// Path 一条轨迹
type Path struct {
	VehicleID   string       `json:"vehicle_id"`
	Positions   []Position   `json:"positions"`
	Color       cluster.RGBA `json:"color"`
	WidthPixels float64      `json:"width_pixels"`
	Highlighted bool         `json:"highlighted"`
}

// PathLayer 轨迹层
type PathLayer struct {
	ID    string `json:"id"`
	Paths []Path `json:"paths"`
}

// VehicleLayers is one render pass worth of vehicle layers. Clusters and
// Counts are nil when everything renders as individual icons.
type VehicleLayers struct {
	Clusters *ScatterplotLayer `json:"clusters,omitempty"`
	Counts   *TextLayer        `json:"counts,omitempty"`
	Icons    *IconLayer        `json:"icons,omitempty"`
}
