// Package ingest 上游车辆位置流的接入层
//
// Worker owns the feed socket on its own goroutines so socket I/O never runs
// on the caller's path; everything crosses the boundary as Event values.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fleetgazer/fleetgazer/internal/metrics"
	"github.com/fleetgazer/fleetgazer/internal/models"
)

// ErrNotConnected send 只在连接打开时有效
var ErrNotConnected = errors.New("feed not connected")

// Options worker 配置
type Options struct {
	URL                  string
	FlushInterval        time.Duration // 默认 16ms (~60 批/秒)
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	ConnectTimeout       time.Duration
}

func (o *Options) fillDefaults() {
	if o.FlushInterval <= 0 {
		o.FlushInterval = 16 * time.Millisecond
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 10
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
}

// Worker 持有上游 WebSocket 连接
// Single use: one Run per Worker. After the retry cap is spent or Disconnect
// is called the worker is done; recovery means building a new one.
type Worker struct {
	logger  *zap.Logger
	opts    Options
	machine *connMachine
	batcher *batcher
	metrics *metrics.Ingest

	mu       sync.Mutex
	writeMu  sync.Mutex
	conn     *websocket.Conn
	attempts int

	stopCh      chan struct{}
	stopOnce    sync.Once
	reconnectCh chan struct{}
	events      chan Event
}

// NewWorker 创建 worker
// m may be nil when metrics are not wanted (tests).
func NewWorker(logger *zap.Logger, opts Options, m *metrics.Ingest) *Worker {
	opts.fillDefaults()

	w := &Worker{
		logger:      logger,
		opts:        opts,
		batcher:     newBatcher(),
		metrics:     m,
		stopCh:      make(chan struct{}),
		reconnectCh: make(chan struct{}, 1),
		events:      make(chan Event, 256),
	}
	w.machine = newConnMachine(func(from, to string) {
		logger.Debug("Feed connection state changed",
			zap.String("from", from),
			zap.String("to", to))
		if m != nil {
			if to == StateConnected {
				m.Connected.Set(1)
			} else {
				m.Connected.Set(0)
			}
		}
	})
	return w
}

// Events worker 的出站消息
func (w *Worker) Events() <-chan Event { return w.events }

// State 当前连接状态
func (w *Worker) State() string { return w.machine.Current() }

// IsConnected 连接是否打开
func (w *Worker) IsConnected() bool { return w.machine.Is(StateConnected) }

// Run 连接并维持连接，直到 ctx 取消、Disconnect 或重试耗尽
// Backoff grows as base * 2^attempts; the attempt counter resets on every
// successful open and the loop stops for good past MaxReconnectAttempts.
func (w *Worker) Run(ctx context.Context) {
	go w.flushLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			w.Disconnect()
			return
		case <-w.stopCh:
			return
		default:
		}

		switch w.machine.Current() {
		case StateDisconnected:
			_ = w.machine.Trigger(eventDial)
		case StateReconnecting:
			_ = w.machine.Trigger(eventRetry)
		}

		if err := w.dial(ctx); err != nil {
			w.logger.Warn("Feed dial failed",
				zap.String("url", w.opts.URL),
				zap.Error(err))
			w.emit(Event{Type: EventError, Err: err})
			if !w.backoff(ctx) {
				return
			}
			continue
		}

		// 连接成功，等待断开
		select {
		case <-ctx.Done():
			w.Disconnect()
			return
		case <-w.stopCh:
			return
		case <-w.reconnectCh:
			if !w.backoff(ctx) {
				return
			}
		}
	}
}

// dial 建立一次连接
func (w *Worker) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: w.opts.ConnectTimeout}

	dialCtx, cancel := context.WithTimeout(ctx, w.opts.ConnectTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, w.opts.URL, nil)
	if err != nil {
		_ = w.machine.Trigger(eventLost)
		return fmt.Errorf("dial feed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.attempts = 0 // 连接成功，重置重连计数
	w.mu.Unlock()

	_ = w.machine.Trigger(eventOpen)
	w.logger.Info("Feed connected", zap.String("url", w.opts.URL))
	w.emit(Event{Type: EventConnected})

	go w.readLoop(conn)
	return nil
}

// backoff handles one lost connection. Returns false when the retry budget is
// spent and the worker must stop (terminal disconnected).
func (w *Worker) backoff(ctx context.Context) bool {
	w.mu.Lock()
	attempt := w.attempts
	w.attempts++
	w.mu.Unlock()

	if attempt >= w.opts.MaxReconnectAttempts {
		_ = w.machine.Trigger(eventGiveUp)
		w.logger.Error("Feed reconnect attempts exhausted, giving up",
			zap.Int("attempts", attempt))
		w.emit(Event{
			Type:     EventDisconnected,
			Err:      fmt.Errorf("reconnect attempts exhausted after %d tries", attempt),
			Terminal: true,
		})
		w.stop()
		return false
	}

	if w.metrics != nil {
		w.metrics.Reconnects.Inc()
	}

	delay := w.opts.ReconnectBaseDelay * (1 << uint(attempt))
	w.logger.Info("Feed reconnecting",
		zap.Int("attempt", attempt+1),
		zap.Duration("delay", delay))
	w.emit(Event{Type: EventReconnecting, Attempt: attempt + 1})

	select {
	case <-ctx.Done():
		return false
	case <-w.stopCh:
		return false
	case <-time.After(delay):
		return true
	}
}

// readLoop 消息读取循环
func (w *Worker) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			stale := w.conn != conn
			if !stale {
				w.conn = nil
			}
			w.mu.Unlock()
			if stale {
				return
			}

			select {
			case <-w.stopCh:
				// Disconnect already reported the close
				return
			default:
			}

			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				w.logger.Debug("Feed closed normally")
			} else {
				w.logger.Warn("Feed read error", zap.Error(err))
			}

			_ = w.machine.Trigger(eventLost)
			w.emit(Event{Type: EventDisconnected, Err: err})
			w.triggerReconnect()
			return
		}

		w.handleFrame(message)
	}
}

// handleFrame 解析单帧
// A bad frame is dropped and reported; it never tears the connection down.
func (w *Worker) handleFrame(message []byte) {
	if w.metrics != nil {
		w.metrics.FramesReceived.Inc()
	}

	var frame models.Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		if w.metrics != nil {
			w.metrics.ParseErrors.Inc()
		}
		w.logger.Warn("Failed to parse feed frame",
			zap.ByteString("frame", message),
			zap.Error(err))
		w.emit(Event{Type: EventError, Err: fmt.Errorf("parse frame: %w", err)})
		return
	}

	switch frame.Type {
	case models.FrameVehicleUpdate:
		var update models.VehicleUpdate
		if err := json.Unmarshal(frame.Data, &update); err != nil {
			if w.metrics != nil {
				w.metrics.ParseErrors.Inc()
			}
			w.emit(Event{Type: EventError, Err: fmt.Errorf("parse vehicle_update: %w", err)})
			return
		}
		w.buffer(update)

	case models.FrameBulkUpdate:
		var updates []models.VehicleUpdate
		if err := json.Unmarshal(frame.Data, &updates); err != nil {
			if w.metrics != nil {
				w.metrics.ParseErrors.Inc()
			}
			w.emit(Event{Type: EventError, Err: fmt.Errorf("parse bulk_update: %w", err)})
			return
		}
		for _, update := range updates {
			w.buffer(update)
		}

	default:
		// 非位置类消息直接透传 (例如 geofence_alert)
		w.emit(Event{Type: EventMessage, Frame: &frame})
	}
}

func (w *Worker) buffer(update models.VehicleUpdate) {
	w.batcher.Add(update)
	if w.metrics != nil {
		w.metrics.UpdatesBuffered.Set(float64(w.batcher.Len()))
	}
}

// flushLoop 以固定节奏把缓冲批量下发
func (w *Worker) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			updates := w.batcher.Flush()
			if len(updates) == 0 {
				continue
			}
			if w.metrics != nil {
				w.metrics.Flushes.Inc()
				w.metrics.UpdatesDelivered.Add(float64(len(updates)))
				w.metrics.UpdatesBuffered.Set(0)
			}
			w.emit(Event{Type: EventBulkUpdate, Updates: updates})
		}
	}
}

// Send 向上游发送一条 JSON 消息
// Only valid while the socket is open; otherwise the failure is reported as an
// error event and returned, never silently dropped.
func (w *Worker) Send(v interface{}) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()

	if conn == nil || !w.machine.Is(StateConnected) {
		w.emit(Event{Type: EventError, Err: ErrNotConnected})
		return ErrNotConnected
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write feed message: %w", err)
	}
	return nil
}

// Disconnect 主动断开: 取消待定重连、关闭连接
// Idempotent.
func (w *Worker) Disconnect() {
	w.stopOnce.Do(func() {
		close(w.stopCh)

		w.mu.Lock()
		conn := w.conn
		w.conn = nil
		w.mu.Unlock()

		if conn != nil {
			_ = conn.Close()
		}
		if !w.machine.Is(StateDisconnected) {
			_ = w.machine.Trigger(eventCleanClose)
		}
		w.emit(Event{Type: EventDisconnected})
		w.logger.Info("Feed disconnected")
	})
}

// stop 内部终止 (重试耗尽)，不再触发断开事件
func (w *Worker) stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

func (w *Worker) triggerReconnect() {
	select {
	case w.reconnectCh <- struct{}{}:
	default:
		// 已有重连请求排队
	}
}

// emit 投递事件，worker 停止后丢弃
func (w *Worker) emit(e Event) {
	select {
	case w.events <- e:
	default:
		// 消费者落后时丢弃最旧的一条，保证 worker 永不阻塞
		select {
		case <-w.events:
		default:
		}
		select {
		case w.events <- e:
		default:
		}
	}
}
