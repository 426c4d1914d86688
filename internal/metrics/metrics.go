// Package metrics 管道的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest 上游接入管道指标
type Ingest struct {
	FramesReceived   prometheus.Counter
	ParseErrors      prometheus.Counter
	UpdatesBuffered  prometheus.Gauge
	Flushes          prometheus.Counter
	UpdatesDelivered prometheus.Counter
	Reconnects       prometheus.Counter
	Connected        prometheus.Gauge
}

// NewIngest 注册接入指标
func NewIngest(reg prometheus.Registerer) *Ingest {
	factory := promauto.With(reg)
	return &Ingest{
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetgazer_ingest_frames_received_total",
			Help: "Raw websocket frames received from the feed.",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetgazer_ingest_parse_errors_total",
			Help: "Frames dropped because they could not be parsed.",
		}),
		UpdatesBuffered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fleetgazer_ingest_updates_buffered",
			Help: "Vehicle updates waiting in the coalescing buffer.",
		}),
		Flushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetgazer_ingest_flushes_total",
			Help: "Batch flushes delivered downstream.",
		}),
		UpdatesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetgazer_ingest_updates_delivered_total",
			Help: "Coalesced vehicle updates delivered downstream.",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetgazer_ingest_reconnects_total",
			Help: "Reconnect attempts after an unexpected close.",
		}),
		Connected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fleetgazer_ingest_connected",
			Help: "1 while the feed connection is open.",
		}),
	}
}

// Hub 仪表盘推送指标
type Hub struct {
	Clients    prometheus.Gauge
	Broadcasts prometheus.Counter
	Evictions  prometheus.Counter
}

// NewHub 注册推送指标
func NewHub(reg prometheus.Registerer) *Hub {
	factory := promauto.With(reg)
	return &Hub{
		Clients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fleetgazer_hub_clients",
			Help: "Dashboard websocket clients currently connected.",
		}),
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetgazer_hub_broadcasts_total",
			Help: "Messages broadcast to dashboard clients.",
		}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetgazer_hub_evictions_total",
			Help: "Clients dropped for not keeping up.",
		}),
	}
}
