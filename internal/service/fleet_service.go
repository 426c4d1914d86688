// Package service 车队服务编排层
// 把上游接入、车队状态、仪表盘推送和路由健康探测串起来
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetgazer/fleetgazer/internal/config"
	"github.com/fleetgazer/fleetgazer/internal/fleet"
	"github.com/fleetgazer/fleetgazer/internal/ingest"
	"github.com/fleetgazer/fleetgazer/internal/models"
	"github.com/fleetgazer/fleetgazer/internal/routing"
	"github.com/fleetgazer/fleetgazer/pkg/ws"
)

// FleetService 车队服务
type FleetService struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *fleet.Store
	client  *ingest.Client
	hub     *ws.Hub
	routing routing.Service

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewFleetService 创建车队服务
func NewFleetService(
	cfg *config.Config,
	logger *zap.Logger,
	store *fleet.Store,
	client *ingest.Client,
	hub *ws.Hub,
	routingSvc routing.Service,
) *FleetService {
	svc := &FleetService{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		client:  client,
		hub:     hub,
		routing: routingSvc,
		stopCh:  make(chan struct{}),
	}

	if hub != nil {
		hub.SetInitDataProvider(svc.initData)
	}
	return svc
}

// Start 启动服务: 连接上游并开始消费事件
func (s *FleetService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Info("Fleet service already running, skipping start")
		return nil
	}
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting fleet service")

	if s.cfg.OrganizationID == "" {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("organization id is required")
	}

	// 上游暂时不可用不致命: worker 会继续按退避重连,
	// 事件循环照常启动以消费后续的 connected 事件
	if err := s.client.Connect(ctx); err != nil {
		s.logger.Warn("Feed not immediately available", zap.Error(err))
	} else if err := s.client.SubscribeToOrganization(); err != nil {
		s.logger.Warn("Initial organization subscribe failed", zap.Error(err))
	}

	s.wg.Add(1)
	go s.eventLoop(stopCh)

	if s.routing != nil && s.cfg.RoutingHealthInterval > 0 {
		s.wg.Add(1)
		go s.routingHealthLoop(stopCh)
	}

	s.logger.Info("Fleet service started")
	return nil
}

// Stop 停止服务
func (s *FleetService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.client.Disconnect()
	s.wg.Wait()
	s.logger.Info("Fleet service stopped")
}

// RoutingHealth 最近一次路由服务健康快照
func (s *FleetService) RoutingHealth() routing.Health {
	if s.routing == nil {
		return routing.Health{Detail: "not configured"}
	}
	return s.routing.GetServiceHealth()
}

// broadcast 全量推送到仪表盘, hub 未配置时跳过
func (s *FleetService) broadcast(msgType string, data interface{}) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastMessage(msgType, data)
}

// broadcastToChannel 按频道推送到仪表盘, hub 未配置时跳过
func (s *FleetService) broadcastToChannel(channel, msgType string, data interface{}) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastToChannel(channel, msgType, data)
}

// initData 新仪表盘客户端的初始快照
func (s *FleetService) initData() *ws.InitData {
	return &ws.InitData{
		Vehicles:      s.store.Vehicles(),
		FeedConnected: s.store.IsConnected(),
	}
}

// eventLoop 消费接入事件, 更新状态并推送给仪表盘
func (s *FleetService) eventLoop(stopCh <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-stopCh:
			return
		case ev, ok := <-s.client.Events():
			if !ok {
				return
			}
			s.handleEvent(ev)
		}
	}
}

func (s *FleetService) handleEvent(ev ingest.Event) {
	switch ev.Type {
	case ingest.EventConnected:
		s.store.SetConnectionStatus(true)
		s.broadcast(ws.MsgTypeFeedStatus, map[string]bool{"connected": true})

	case ingest.EventDisconnected:
		s.store.SetConnectionStatus(false)
		s.broadcast(ws.MsgTypeFeedStatus, map[string]bool{"connected": false})
		if ev.Terminal {
			s.logger.Error("Feed connection permanently lost", zap.Error(ev.Err))
		}

	case ingest.EventReconnecting:
		s.logger.Warn("Reconnecting to feed", zap.Int("attempt", ev.Attempt))

	case ingest.EventBulkUpdate:
		s.applyBulkUpdate(ev.Updates)

	case ingest.EventMessage:
		s.handlePassThrough(ev.Frame)

	case ingest.EventError:
		s.logger.Warn("Feed error", zap.Error(ev.Err))
	}
}

// applyBulkUpdate 批量更新入库、记录轨迹并推送
func (s *FleetService) applyBulkUpdate(updates []models.VehicleUpdate) {
	s.store.ApplyUpdates(updates)

	for _, u := range updates {
		if u.Type != models.UpdatePosition || u.Data.CurrentPosition == nil {
			continue
		}
		s.store.AddTrail(u.VehicleID, []*models.VehiclePosition{u.Data.CurrentPosition})
		// 单车频道: 详情视图只订阅自己关心的车
		s.broadcastToChannel(models.VehicleChannel(u.VehicleID), ws.MsgTypeBulkUpdate,
			[]models.VehicleUpdate{u})
	}

	s.broadcastToChannel(models.OrgChannel(s.cfg.OrganizationID), ws.MsgTypeBulkUpdate, updates)
}

// handlePassThrough 转发非位置类帧
func (s *FleetService) handlePassThrough(frame *models.Frame) {
	if frame == nil {
		return
	}
	switch frame.Type {
	case models.FrameGeofenceAlert:
		var alert models.GeofenceAlert
		if err := json.Unmarshal(frame.Data, &alert); err != nil {
			s.logger.Warn("Malformed geofence alert", zap.Error(err))
			return
		}
		s.logger.Info("Geofence alert",
			zap.String("vehicle_id", alert.VehicleID),
			zap.String("geofence_id", alert.GeofenceID))
		s.broadcast(ws.MsgTypeAlert, alert)
	default:
		s.logger.Debug("Unhandled feed frame", zap.String("type", frame.Type))
	}
}

// routingHealthLoop 周期性探测路由服务
func (s *FleetService) routingHealthLoop(stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.RoutingHealthInterval)
	defer ticker.Stop()

	probe := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		available, err := s.routing.IsAvailable(ctx)
		if err != nil {
			s.logger.Warn("Routing health probe failed", zap.Error(err))
			return
		}
		s.logger.Debug("Routing health probe", zap.Bool("available", available))
	}

	probe()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			probe()
		}
	}
}
