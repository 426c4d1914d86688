package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/fleetgazer/fleetgazer/internal/metrics"
	"github.com/fleetgazer/fleetgazer/internal/models"
)

// ErrClientClosed 客户端已断开
var ErrClientClosed = errors.New("ingest client closed")

// ClientOptions 客户端配置
type ClientOptions struct {
	FeedURL        string
	APIKey         string // 可选, 追加为 ?key=
	OrganizationID string // 必填, 追加为 ?org=

	Worker               Options // worker 透传配置 (URL 字段由客户端填充)
	ResubscribeOnConnect bool    // 重连后重发订阅意图
}

// Client is the facade the rest of the process talks to. It owns the worker,
// forwards its events, and keeps subscription intent so channels survive a
// reconnect.
type Client struct {
	logger  *zap.Logger
	opts    ClientOptions
	metrics *metrics.Ingest

	mu       sync.Mutex
	worker   *Worker
	cancel   context.CancelFunc
	channels map[string]struct{} // 已声明的订阅频道
	closed   bool

	out chan Event
}

// NewClient 创建客户端
func NewClient(logger *zap.Logger, opts ClientOptions, m *metrics.Ingest) *Client {
	if opts.Worker.MaxReconnectAttempts == 0 {
		opts.Worker.MaxReconnectAttempts = 10
	}
	return &Client{
		logger:   logger,
		opts:     opts,
		metrics:  m,
		channels: make(map[string]struct{}),
		out:      make(chan Event, 256),
	}
}

// Events 转发给消费者的事件流
func (c *Client) Events() <-chan Event { return c.out }

// IsConnected 连接是否打开
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.worker != nil && c.worker.IsConnected()
}

// Connect 启动 worker 并阻塞到第一次连接成功或失败
// The returned error reflects only the first outcome; later reconnects are
// reported through Events. Calling Connect again after a terminal disconnect
// builds a fresh worker.
func (c *Client) Connect(ctx context.Context) error {
	feedURL, err := c.buildURL()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.worker != nil {
		if c.worker.IsConnected() {
			c.mu.Unlock()
			return nil
		}
		// 替换掉已终止的 worker
		c.cancel()
		c.worker.stop()
	}

	opts := c.opts.Worker
	opts.URL = feedURL
	worker := NewWorker(c.logger, opts, c.metrics)
	c.worker = worker

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	firstOutcome := make(chan error, 1)
	go c.dispatch(runCtx, worker, firstOutcome)
	go worker.Run(runCtx)

	select {
	case <-ctx.Done():
		c.Disconnect()
		return ctx.Err()
	case err := <-firstOutcome:
		return err
	}
}

// dispatch 转发 worker 事件; 第一次 connected/错误 兑现 Connect 的承诺
func (c *Client) dispatch(ctx context.Context, worker *Worker, firstOutcome chan<- error) {
	var settled bool
	settle := func(err error) {
		if settled {
			return
		}
		settled = true
		firstOutcome <- err
	}

	for {
		select {
		case <-ctx.Done():
			settle(ctx.Err())
			return
		case ev := <-worker.Events():
			switch ev.Type {
			case EventConnected:
				settle(nil)
				c.resubscribe(worker)
			case EventError:
				// 首次连接成功前的错误使 Connect 失败
				settle(ev.Err)
			case EventDisconnected:
				if ev.Terminal {
					settle(fmt.Errorf("feed connect failed: %w", ev.Err))
				}
			}
			c.forward(ev)
			if ev.Type == EventDisconnected && ev.Terminal {
				return
			}
		}
	}
}

func (c *Client) forward(ev Event) {
	select {
	case c.out <- ev:
	default:
		c.logger.Warn("Dropping ingest event, consumer too slow",
			zap.String("type", string(ev.Type)))
	}
}

// resubscribe 重连后重发订阅意图
func (c *Client) resubscribe(worker *Worker) {
	if !c.opts.ResubscribeOnConnect {
		return
	}

	c.mu.Lock()
	channels := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	if len(channels) == 0 {
		return
	}
	if err := worker.Send(models.SubscribeRequest{Type: models.FrameSubscribe, Channels: channels}); err != nil {
		c.logger.Warn("Failed to resubscribe after reconnect", zap.Error(err))
		return
	}
	c.logger.Info("Resubscribed channels after reconnect",
		zap.Int("count", len(channels)))
}

// Disconnect 终止 worker
// Idempotent; in-flight events already forwarded are not retracted.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.worker != nil {
		c.worker.Disconnect()
		c.worker = nil
	}
}

// Send 透传任意 JSON 消息
func (c *Client) Send(v interface{}) error {
	c.mu.Lock()
	worker := c.worker
	c.mu.Unlock()

	if worker == nil {
		return ErrNotConnected
	}
	return worker.Send(v)
}

// SubscribeToVehicles 订阅单车频道
func (c *Client) SubscribeToVehicles(ids []string) error {
	channels := make([]string, 0, len(ids))
	for _, id := range ids {
		channels = append(channels, models.VehicleChannel(id))
	}
	return c.subscribe(channels)
}

// SubscribeToOrganization 订阅组织频道
func (c *Client) SubscribeToOrganization() error {
	return c.subscribe([]string{models.OrgChannel(c.opts.OrganizationID)})
}

func (c *Client) subscribe(channels []string) error {
	c.mu.Lock()
	for _, ch := range channels {
		c.channels[ch] = struct{}{}
	}
	c.mu.Unlock()

	return c.Send(models.SubscribeRequest{Type: models.FrameSubscribe, Channels: channels})
}

// buildURL 在 feed URL 上追加 key/org 查询参数
func (c *Client) buildURL() (string, error) {
	u, err := url.Parse(c.opts.FeedURL)
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}
	q := u.Query()
	if c.opts.APIKey != "" {
		q.Set("key", c.opts.APIKey)
	}
	if c.opts.OrganizationID == "" {
		return "", errors.New("organization id is required")
	}
	q.Set("org", c.opts.OrganizationID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
