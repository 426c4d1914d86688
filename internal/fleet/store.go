// Package fleet 进程内的车队状态
//
// One Store per running app instance, owned by the application root and
// injected into whatever needs it. All mutation is synchronous: apply under
// the lock, then notify listeners.
package fleet

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetgazer/fleetgazer/internal/config"
	"github.com/fleetgazer/fleetgazer/internal/models"
)

// Change 一次变更涉及的状态面
type Change uint8

const (
	ChangeVehicles Change = 1 << iota
	ChangeSelection
	ChangeViewport
	ChangeTrails
	ChangeConnection
)

// Listener 变更回调
// mask tells the listener which facets moved, so a selection watcher is not
// woken by position-only batches.
type Listener func(mask Change)

// Options store 配置
type Options struct {
	// TrailMaxPositions bounds each vehicle's trail; older samples fall off.
	TrailMaxPositions int
	// UpdatePolicy decides what happens to updates for unknown vehicle ids.
	UpdatePolicy config.UpdatePolicy
}

// Store 车队状态存储
type Store struct {
	logger *zap.Logger
	opts   Options

	mu                sync.RWMutex
	vehicles          map[string]*models.Vehicle
	order             []string // 插入顺序
	selectedVehicleID string
	viewport          models.Viewport
	trails            map[string][]*models.VehiclePosition
	connected         bool
	lastUpdate        time.Time

	listeners []Listener
}

// NewStore 创建 store
func NewStore(logger *zap.Logger, opts Options) *Store {
	if opts.TrailMaxPositions <= 0 {
		opts.TrailMaxPositions = 500
	}
	if opts.UpdatePolicy == "" {
		opts.UpdatePolicy = config.UpdatePolicyDrop
	}
	return &Store{
		logger:   logger,
		opts:     opts,
		vehicles: make(map[string]*models.Vehicle),
		trails:   make(map[string][]*models.VehiclePosition),
		viewport: models.Viewport{Latitude: 53.35, Longitude: -6.26, Zoom: 7},
	}
}

// AddListener 注册变更回调
func (s *Store) AddListener(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *Store) notify(mask Change) {
	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, l := range listeners {
		l(mask)
	}
}

// SetVehicles 整体替换车辆列表
func (s *Store) SetVehicles(vehicles []*models.Vehicle) {
	s.mu.Lock()
	s.vehicles = make(map[string]*models.Vehicle, len(vehicles))
	s.order = s.order[:0]
	for _, v := range vehicles {
		if _, dup := s.vehicles[v.ID]; dup {
			continue // id 唯一
		}
		s.vehicles[v.ID] = v
		s.order = append(s.order, v.ID)
	}
	s.stampLocked()
	s.mu.Unlock()

	s.notify(ChangeVehicles)
}

// cloneVehicle 拷贝一份车辆记录
// Merges mutate the stored structs in place under the lock, so everything
// handed out must be a copy. Position snapshots are immutable and can be
// shared; the metadata map cannot.
func cloneVehicle(v *models.Vehicle) *models.Vehicle {
	c := *v
	if v.Metadata != nil {
		c.Metadata = make(map[string]string, len(v.Metadata))
		for k, val := range v.Metadata {
			c.Metadata[k] = val
		}
	}
	return &c
}

// Vehicles 按插入顺序返回车辆快照
// The returned structs are copies; later merges never touch them.
func (s *Store) Vehicles() []*models.Vehicle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Vehicle, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneVehicle(s.vehicles[id]))
	}
	return out
}

// Vehicle 按 id 查找, 返回拷贝
func (s *Store) Vehicle(id string) (*models.Vehicle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[id]
	if !ok {
		return nil, false
	}
	return cloneVehicle(v), true
}

// VehicleCount 车辆数
func (s *Store) VehicleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vehicles)
}

// UpdateVehicle 按 id 浅合并一条增量
// CurrentPosition is replaced wholesale, never patched field by field. With
// the drop policy an unknown id is ignored; with upsert it creates a record.
func (s *Store) UpdateVehicle(id string, delta models.VehicleDelta) {
	s.mu.Lock()
	changed := s.applyDeltaLocked(id, delta, time.Now())
	if changed {
		s.stampLocked()
	}
	s.mu.Unlock()

	if changed {
		s.notify(ChangeVehicles)
	}
}

// ApplyUpdates 应用一批合并后的更新 (每车一条)
func (s *Store) ApplyUpdates(updates []models.VehicleUpdate) {
	if len(updates) == 0 {
		return
	}

	s.mu.Lock()
	var changed bool
	for _, u := range updates {
		if s.applyDeltaLocked(u.VehicleID, u.Data, u.Timestamp) {
			changed = true
		}
	}
	if changed {
		s.stampLocked()
	}
	s.mu.Unlock()

	if changed {
		s.notify(ChangeVehicles)
	}
}

func (s *Store) applyDeltaLocked(id string, delta models.VehicleDelta, ts time.Time) bool {
	v, ok := s.vehicles[id]
	if !ok {
		if s.opts.UpdatePolicy != config.UpdatePolicyUpsert {
			// 未知 id: 按策略静默丢弃
			s.logger.Debug("Dropping update for unknown vehicle", zap.String("vehicle_id", id))
			return false
		}
		v = &models.Vehicle{ID: id, Status: models.StatusActive}
		s.vehicles[id] = v
		s.order = append(s.order, id)
	}

	if delta.Name != nil {
		v.Name = *delta.Name
	}
	if delta.RegistrationNumber != nil {
		v.RegistrationNumber = *delta.RegistrationNumber
	}
	if delta.Type != nil {
		v.Type = *delta.Type
	}
	if delta.Driver != nil {
		v.Driver = *delta.Driver
	}
	if delta.Status != nil {
		v.Status = *delta.Status
	}
	if delta.CurrentPosition != nil {
		v.CurrentPosition = delta.CurrentPosition
	}
	if delta.Metadata != nil {
		if v.Metadata == nil {
			v.Metadata = make(map[string]string, len(delta.Metadata))
		}
		for k, val := range delta.Metadata {
			v.Metadata[k] = val
		}
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	v.LastUpdate = ts
	return true
}

// stampLocked keeps lastUpdate strictly monotonic even when batches land
// within the same wall-clock instant.
func (s *Store) stampLocked() {
	now := time.Now()
	if !now.After(s.lastUpdate) {
		now = s.lastUpdate.Add(time.Nanosecond)
	}
	s.lastUpdate = now
}

// LastUpdate 最近一次变更时间
func (s *Store) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// SelectVehicle 选中车辆并把视口移过去
// Zoom is raised to at least 15, never lowered. Passing "" clears the
// selection and leaves the viewport alone.
func (s *Store) SelectVehicle(id string) {
	s.mu.Lock()
	mask := ChangeSelection
	s.selectedVehicleID = id
	if id != "" {
		if v, ok := s.vehicles[id]; ok && v.CurrentPosition != nil {
			s.viewport.Latitude = v.CurrentPosition.Latitude
			s.viewport.Longitude = v.CurrentPosition.Longitude
			if s.viewport.Zoom < 15 {
				s.viewport.Zoom = 15
			}
			mask |= ChangeViewport
		}
	}
	s.mu.Unlock()

	s.notify(mask)
}

// SelectedVehicleID 当前选中车辆 id ("" 表示未选中)
func (s *Store) SelectedVehicleID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedVehicleID
}

// SetViewport 地图平移/缩放
func (s *Store) SetViewport(vp models.Viewport) {
	s.mu.Lock()
	s.viewport = vp
	s.mu.Unlock()
	s.notify(ChangeViewport)
}

// Viewport 当前视口
func (s *Store) Viewport() models.Viewport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewport
}

// AddTrail 追加轨迹点
// The trail is a bounded ring: past TrailMaxPositions the oldest samples are
// evicted.
func (s *Store) AddTrail(vehicleID string, positions []*models.VehiclePosition) {
	if len(positions) == 0 {
		return
	}

	s.mu.Lock()
	trail := append(s.trails[vehicleID], positions...)
	if excess := len(trail) - s.opts.TrailMaxPositions; excess > 0 {
		trail = append(trail[:0:0], trail[excess:]...)
	}
	s.trails[vehicleID] = trail
	s.mu.Unlock()

	s.notify(ChangeTrails)
}

// Trail 某车的轨迹
func (s *Store) Trail(vehicleID string) []*models.VehiclePosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trails[vehicleID]
}

// Trails 全部轨迹快照
func (s *Store) Trails() map[string][]*models.VehiclePosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]*models.VehiclePosition, len(s.trails))
	for id, trail := range s.trails {
		out[id] = trail
	}
	return out
}

// ClearTrails 清空全部轨迹
func (s *Store) ClearTrails() {
	s.mu.Lock()
	s.trails = make(map[string][]*models.VehiclePosition)
	s.mu.Unlock()
	s.notify(ChangeTrails)
}

// SetConnectionStatus 连接标志, 由接入层生命周期事件驱动
func (s *Store) SetConnectionStatus(connected bool) {
	s.mu.Lock()
	if s.connected == connected {
		s.mu.Unlock()
		return
	}
	s.connected = connected
	s.mu.Unlock()
	s.notify(ChangeConnection)
}

// IsConnected 连接标志
func (s *Store) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}
