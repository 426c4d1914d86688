// feedsim 合成车队数据源
// 起一个 WebSocket 端点, 按固定节奏广播随机游走的车辆位置,
// 供本地开发时替代真实的车队数据服务
package main

import (
	"encoding/json"
	"flag"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fleetgazer/fleetgazer/internal/models"
	"github.com/fleetgazer/fleetgazer/internal/sim"
)

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	vehicles := flag.Int("vehicles", 25, "simulated vehicle count")
	interval := flag.Duration("interval", 500*time.Millisecond, "update broadcast interval")
	seed := flag.Int64("seed", 0, "rng seed, 0 = time-based")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	simulator := sim.New(sim.Options{VehicleCount: *vehicles, Seed: *seed})
	logger.Info("Feed simulator starting",
		zap.String("addr", *addr),
		zap.Int("vehicles", simulator.VehicleCount()),
		zap.Duration("interval", *interval))

	srv := newFeedServer(logger, simulator, *interval)

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", srv.handleStream)

	httpServer := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start simulator", zap.Error(err))
		}
	}()

	go srv.run()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Feed simulator exiting")
	httpServer.Close()
}

// feedServer 管理连接并广播模拟数据
type feedServer struct {
	logger    *zap.Logger
	simulator *sim.Simulator
	interval  time.Duration
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]bool

	// simulator 本身没有锁, 快照和广播 tick 都要拿它
	simMu sync.Mutex
}

func newFeedServer(logger *zap.Logger, simulator *sim.Simulator, interval time.Duration) *feedServer {
	return &feedServer{
		logger:    logger,
		simulator: simulator,
		interval:  interval,
		upgrader:  websocket.Upgrader{},
		conns:     make(map[*websocket.Conn]bool),
	}
}

func (s *feedServer) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Upgrade failed", zap.Error(err))
		return
	}

	s.logger.Info("Client connected",
		zap.String("remote", conn.RemoteAddr().String()),
		zap.String("org", r.URL.Query().Get("org")))

	// 欢迎包: 整个车队的当前位置
	// 在注册进广播集合之前发送, 避免和广播循环并发写同一连接
	s.sendSnapshot(conn)

	s.mu.Lock()
	s.conns[conn] = true
	s.mu.Unlock()

	// 读循环只为消费订阅请求和感知断开
	go func() {
		defer s.drop(conn)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req models.SubscribeRequest
			if err := json.Unmarshal(data, &req); err == nil && req.Type == models.FrameSubscribe {
				s.logger.Info("Subscribe request", zap.Strings("channels", req.Channels))
			}
		}
	}()
}

func (s *feedServer) sendSnapshot(conn *websocket.Conn) {
	now := time.Now()
	s.simMu.Lock()
	fleet := s.simulator.Fleet(now)
	s.simMu.Unlock()

	updates := make([]models.VehicleUpdate, 0, len(fleet))
	for _, v := range fleet {
		updates = append(updates, models.VehicleUpdate{
			Type:      models.UpdatePosition,
			VehicleID: v.ID,
			Timestamp: now,
			Data:      models.VehicleDelta{CurrentPosition: v.CurrentPosition},
		})
	}
	if err := s.writeFrame(conn, models.FrameBulkUpdate, updates); err != nil {
		s.drop(conn)
	}
}

// run 推进模拟并把每个 tick 的更新广播给所有连接
func (s *feedServer) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	last := time.Now()
	for now := range ticker.C {
		s.simMu.Lock()
		updates := s.simulator.Tick(now, now.Sub(last))
		s.simMu.Unlock()
		last = now
		if len(updates) == 0 {
			continue
		}

		s.mu.Lock()
		conns := make([]*websocket.Conn, 0, len(s.conns))
		for conn := range s.conns {
			conns = append(conns, conn)
		}
		s.mu.Unlock()

		for _, conn := range conns {
			if err := s.writeFrame(conn, models.FrameBulkUpdate, updates); err != nil {
				s.drop(conn)
			}
		}

		// 偶尔夹一条围栏告警, 演练非位置帧的透传路径
		if rand.Float64() < 0.02 {
			s.broadcastAlert(conns, updates, now)
		}
	}
}

func (s *feedServer) broadcastAlert(conns []*websocket.Conn, updates []models.VehicleUpdate, now time.Time) {
	if len(updates) == 0 {
		return
	}
	u := updates[rand.Intn(len(updates))]
	alert := models.GeofenceAlert{
		ID:           uuid.NewString(),
		VehicleID:    u.VehicleID,
		GeofenceID:   "depot",
		GeofenceName: "Main Depot",
		Event:        []string{"enter", "exit"}[rand.Intn(2)],
		Position:     u.Data.CurrentPosition,
		Timestamp:    now,
	}
	s.logger.Info("Broadcasting geofence alert",
		zap.String("vehicle_id", alert.VehicleID),
		zap.String("event", alert.Event))
	for _, conn := range conns {
		if err := s.writeFrame(conn, models.FrameGeofenceAlert, alert); err != nil {
			s.drop(conn)
		}
	}
}

func (s *feedServer) writeFrame(conn *websocket.Conn, frameType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteJSON(models.Frame{Type: frameType, Data: data})
}

func (s *feedServer) drop(conn *websocket.Conn) {
	s.mu.Lock()
	if _, ok := s.conns[conn]; ok {
		delete(s.conns, conn)
		s.logger.Info("Client disconnected", zap.String("remote", conn.RemoteAddr().String()))
	}
	s.mu.Unlock()
	conn.Close()
}
