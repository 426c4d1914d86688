package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// UpdatePolicy 收到未知车辆 id 的单条更新时的处理策略
type UpdatePolicy string

const (
	// UpdatePolicyDrop 丢弃未知 id 的更新 (默认)
	UpdatePolicyDrop UpdatePolicy = "drop"
	// UpdatePolicyUpsert 为未知 id 创建新车辆记录
	UpdatePolicyUpsert UpdatePolicy = "upsert"
)

type Config struct {
	// Server
	ServerPort string
	Debug      bool

	// Feed (上游车辆位置 WebSocket)
	FeedURL        string
	APIKey         string
	OrganizationID string

	// Ingest
	FlushInterval        time.Duration // 批量下发周期
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	ConnectTimeout       time.Duration

	// Fleet store
	TrailMaxPositions int
	UpdatePolicy      UpdatePolicy

	// Map
	ClusteringEnabled bool

	// Routing/geocoding 服务健康检查
	RoutingHealthURL      string
	RoutingHealthInterval time.Duration
}

func Load() (*Config, error) {
	// 尝试加载 .env 文件（可选）
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:            getEnv("PORT", "4000"),
		Debug:                 getEnvBool("DEBUG", false),
		FeedURL:               getEnv("FEED_URL", "ws://localhost:9090/stream"),
		APIKey:                getEnv("FEED_API_KEY", ""),
		OrganizationID:        getEnv("ORGANIZATION_ID", "demo-org"),
		FlushInterval:         getEnvDuration("FLUSH_INTERVAL", 16*time.Millisecond),
		ReconnectBaseDelay:    getEnvDuration("RECONNECT_BASE_DELAY", 1*time.Second),
		MaxReconnectAttempts:  getEnvInt("MAX_RECONNECT_ATTEMPTS", 10),
		ConnectTimeout:        getEnvDuration("CONNECT_TIMEOUT", 10*time.Second),
		TrailMaxPositions:     getEnvInt("TRAIL_MAX_POSITIONS", 500),
		UpdatePolicy:          UpdatePolicy(getEnv("UPDATE_POLICY", string(UpdatePolicyDrop))),
		ClusteringEnabled:     getEnvBool("CLUSTERING_ENABLED", true),
		RoutingHealthURL:      getEnv("ROUTING_HEALTH_URL", ""),
		RoutingHealthInterval: getEnvDuration("ROUTING_HEALTH_INTERVAL", 30*time.Second),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		n, err := strconv.Atoi(value)
		if err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
