// Package routing 路由服务可用性探测
package routing

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Health 路由服务健康快照
type Health struct {
	Available bool      `json:"available"`
	CheckedAt time.Time `json:"checked_at"`
	Detail    string    `json:"detail,omitempty"`
}

// Service 路由服务探测接口
type Service interface {
	// IsAvailable 探测服务是否可用
	IsAvailable(ctx context.Context) (bool, error)
	// GetServiceHealth 返回最近一次探测结果
	GetServiceHealth() Health
}

// HTTPProber 基于 HTTP 健康端点的探测器
// 缓存最近一次结果，供不想触发网络请求的调用方读取
type HTTPProber struct {
	healthURL  string
	httpClient *http.Client
	logger     *zap.Logger

	mu   sync.RWMutex
	last Health
}

// NewHTTPProber 创建探测器
func NewHTTPProber(healthURL string, logger *zap.Logger) *HTTPProber {
	return &HTTPProber{
		healthURL: healthURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// IsAvailable 请求健康端点，2xx 视为可用
func (p *HTTPProber) IsAvailable(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		return false, fmt.Errorf("build health request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.record(false, err.Error())
		return false, fmt.Errorf("routing health request: %w", err)
	}
	defer resp.Body.Close()

	available := resp.StatusCode >= 200 && resp.StatusCode < 300
	detail := ""
	if !available {
		detail = fmt.Sprintf("status %d", resp.StatusCode)
		p.logger.Warn("Routing service unhealthy",
			zap.String("url", p.healthURL),
			zap.Int("status", resp.StatusCode))
	}
	p.record(available, detail)
	return available, nil
}

// GetServiceHealth 返回缓存的健康快照
func (p *HTTPProber) GetServiceHealth() Health {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

func (p *HTTPProber) record(available bool, detail string) {
	p.mu.Lock()
	p.last = Health{Available: available, CheckedAt: time.Now(), Detail: detail}
	p.mu.Unlock()
}

// StaticStub 固定返回值的探测器，未配置健康端点时使用
type StaticStub struct {
	Available bool
}

func (s StaticStub) IsAvailable(ctx context.Context) (bool, error) {
	return s.Available, nil
}

func (s StaticStub) GetServiceHealth() Health {
	return Health{Available: s.Available, CheckedAt: time.Now(), Detail: "static"}
}
