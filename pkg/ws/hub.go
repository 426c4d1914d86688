// Package ws 仪表盘 WebSocket 推送
package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fleetgazer/fleetgazer/internal/metrics"
	"github.com/fleetgazer/fleetgazer/internal/models"
)

// 消息类型 (服务端 -> 仪表盘)
const (
	MsgTypeInit       = "init"        // 初始快照（车辆列表+连接状态）
	MsgTypeBulkUpdate = "bulk_update" // 批量车辆更新
	MsgTypeAlert      = "alert"       // 告警
	MsgTypeFeedStatus = "feed_status" // 上游连接状态变化
	MsgTypeError      = "error"       // 错误消息
)

// Message WebSocket 消息结构
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// InitData 初始快照
type InitData struct {
	Vehicles      interface{} `json:"vehicles"`
	FeedConnected bool        `json:"feed_connected"`
}

// envelope 待广播消息
// channel 为空表示广播给所有客户端
type envelope struct {
	channel string
	data    []byte
}

// Client WebSocket 客户端
// 未显式订阅任何频道的客户端接收全部广播
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]bool
}

// Hub WebSocket 连接管理中心
type Hub struct {
	logger     *zap.Logger
	metrics    *metrics.Hub
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	// 初始快照提供者回调
	getInitData func() *InitData
}

// NewHub 创建 Hub
func NewHub(logger *zap.Logger, m *metrics.Hub) *Hub {
	return &Hub{
		logger:     logger,
		metrics:    m,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// SetInitDataProvider 设置初始快照提供者
func (h *Hub) SetInitDataProvider(provider func() *InitData) {
	h.getInitData = provider
}

// Run 运行 Hub 主循环
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.Clients.Set(float64(total))
			}
			h.logger.Info("WebSocket client connected", zap.Int("total_clients", total))

			h.sendInitData(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.Clients.Set(float64(total))
			}
			h.logger.Info("WebSocket client disconnected", zap.Int("total_clients", total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(msg.channel) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// 慢消费者, 关闭连接
					close(client.send)
					delete(h.clients, client)
					if h.metrics != nil {
						h.metrics.Evictions.Inc()
						h.metrics.Clients.Set(float64(len(h.clients)))
					}
					h.logger.Warn("Evicted slow WebSocket client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// sendInitData 发送初始快照给新连接的客户端
func (h *Hub) sendInitData(client *Client) {
	if h.getInitData == nil {
		h.logger.Warn("No init data provider set")
		return
	}

	initData := h.getInitData()
	if initData == nil {
		h.logger.Warn("Init data provider returned nil")
		return
	}

	data, err := json.Marshal(Message{Type: MsgTypeInit, Data: initData})
	if err != nil {
		h.logger.Error("Failed to marshal init data", zap.Error(err))
		return
	}

	select {
	case client.send <- data:
		h.logger.Debug("Sent init snapshot to client")
	default:
		h.logger.Warn("Failed to send init snapshot, client buffer full")
	}
}

// Broadcast 广播消息给所有客户端
func (h *Hub) Broadcast(message []byte) {
	h.enqueue(envelope{data: message})
}

// BroadcastMessage 广播结构化消息给所有客户端
func (h *Hub) BroadcastMessage(msgType string, data interface{}) {
	h.broadcastToChannel("", msgType, data)
}

// BroadcastToChannel 广播结构化消息给订阅了指定频道的客户端
// 频道名用 models.VehicleChannel / models.OrgChannel 生成
func (h *Hub) BroadcastToChannel(channel, msgType string, data interface{}) {
	h.broadcastToChannel(channel, msgType, data)
}

func (h *Hub) broadcastToChannel(channel, msgType string, data interface{}) {
	jsonData, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}
	h.enqueue(envelope{channel: channel, data: jsonData})
}

func (h *Hub) enqueue(msg envelope) {
	if h.metrics != nil {
		h.metrics.Broadcasts.Inc()
	}
	h.broadcast <- msg
}

// ClientCount 获取客户端数量
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewClient 创建客户端
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		channels: make(map[string]bool),
	}
}

// Register 注册客户端
func (c *Client) Register() {
	c.hub.register <- c
}

// Unregister 注销客户端
func (c *Client) Unregister() {
	c.hub.unregister <- c
}

// Subscribe 设置客户端订阅的频道集合, 覆盖之前的订阅
func (c *Client) Subscribe(channels []string) {
	c.mu.Lock()
	c.channels = make(map[string]bool, len(channels))
	for _, ch := range channels {
		c.channels[ch] = true
	}
	c.mu.Unlock()
}

// wants 判断客户端是否接收该频道的消息
func (c *Client) wants(channel string) bool {
	if channel == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.channels) == 0 {
		return true
	}
	return c.channels[channel]
}

// ReadPump 读取客户端消息, 处理订阅请求并保持连接活跃
func (c *Client) ReadPump() {
	defer func() {
		c.Unregister()
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var req models.SubscribeRequest
		if err := json.Unmarshal(data, &req); err != nil || req.Type != models.FrameSubscribe {
			continue
		}
		c.Subscribe(req.Channels)
		c.hub.logger.Debug("Client subscription updated", zap.Strings("channels", req.Channels))
	}
}

// WritePump 发送消息
func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
}
