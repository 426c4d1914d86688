package models

import "time"

// VehicleStatus 车辆状态
type VehicleStatus string

const (
	StatusActive      VehicleStatus = "active"
	StatusInactive    VehicleStatus = "inactive"
	StatusMaintenance VehicleStatus = "maintenance"
	StatusOffline     VehicleStatus = "offline"
)

// VehiclePosition is a single position sample. Snapshots are immutable: every
// update carries a fresh one, positions are never patched in place.
type VehiclePosition struct {
	ID          string    `json:"id"`
	VehicleID   string    `json:"vehicle_id"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Altitude    *float64  `json:"altitude,omitempty"`  // m
	Speed       float64   `json:"speed"`               // km/h
	Heading     float64   `json:"heading"`             // degrees, 0 = north
	Accuracy    *float64  `json:"accuracy,omitempty"`  // m
	Timestamp   time.Time `json:"timestamp"`
	Ignition    bool      `json:"ignition"`
	Odometer    *float64  `json:"odometer,omitempty"`   // km
	FuelLevel   *float64  `json:"fuel_level,omitempty"` // percent
	EngineRPM   *int      `json:"engine_rpm,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"` // ℃
}

// Vehicle 车辆信息
// Identity is ID. CurrentPosition is replaced wholesale on update; only
// top-level fields merge.
type Vehicle struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	RegistrationNumber string            `json:"registration_number"`
	Type               string            `json:"type"`
	Driver             string            `json:"driver,omitempty"`
	Status             VehicleStatus     `json:"status"`
	CurrentPosition    *VehiclePosition  `json:"current_position,omitempty"`
	LastUpdate         time.Time         `json:"last_update"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// UpdateType 更新类型
type UpdateType string

const (
	UpdatePosition UpdateType = "position"
	UpdateStatus   UpdateType = "status"
	UpdateMetadata UpdateType = "metadata"
)

// VehicleUpdate is the wire-level delta for one vehicle. Consumed once by the
// store's merge-by-id logic and discarded.
type VehicleUpdate struct {
	Type      UpdateType   `json:"type"`
	VehicleID string       `json:"vehicle_id"`
	Timestamp time.Time    `json:"timestamp"`
	Data      VehicleDelta `json:"data"`
}

// VehicleDelta 部分车辆字段
// Nil fields are left untouched when merged into a Vehicle.
type VehicleDelta struct {
	Name               *string           `json:"name,omitempty"`
	RegistrationNumber *string           `json:"registration_number,omitempty"`
	Type               *string           `json:"type,omitempty"`
	Driver             *string           `json:"driver,omitempty"`
	Status             *VehicleStatus    `json:"status,omitempty"`
	CurrentPosition    *VehiclePosition  `json:"current_position,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// VehicleCluster is a derived group of nearby vehicles, recomputed every
// render pass and never persisted.
type VehicleCluster struct {
	ID       string     `json:"id"`
	Position [2]float64 `json:"position"` // [lng, lat] centroid
	Vehicles []*Vehicle `json:"vehicles"`
	Count    int        `json:"count"`
}

// GeofenceAlert 地理围栏告警
type GeofenceAlert struct {
	ID           string           `json:"id"`
	VehicleID    string           `json:"vehicle_id"`
	GeofenceID   string           `json:"geofence_id"`
	GeofenceName string           `json:"geofence_name,omitempty"`
	Event        string           `json:"event"` // enter, exit
	Position     *VehiclePosition `json:"position,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// Viewport 地图相机状态
type Viewport struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Zoom      float64 `json:"zoom"`
	Bearing   float64 `json:"bearing"`
	Pitch     float64 `json:"pitch"`
}
