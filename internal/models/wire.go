package models

import "encoding/json"

// 帧类型 (服务端 -> 客户端)
const (
	FrameVehicleUpdate = "vehicle_update"
	FrameBulkUpdate    = "bulk_update"
	FrameGeofenceAlert = "geofence_alert"
)

// FrameSubscribe 客户端 -> 服务端
const FrameSubscribe = "subscribe"

// Frame is the JSON envelope for every inbound websocket message. Data is
// decoded lazily per Type; unknown types are forwarded as-is.
type Frame struct {
	Type           string          `json:"type"`
	OrganizationID string          `json:"organization_id,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// SubscribeRequest 订阅请求
// Channels are "vehicle:<id>" or "org:<id>" strings.
type SubscribeRequest struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

// VehicleChannel 单车频道名
func VehicleChannel(id string) string { return "vehicle:" + id }

// OrgChannel 组织频道名
func OrgChannel(id string) string { return "org:" + id }
