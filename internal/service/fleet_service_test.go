package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetgazer/fleetgazer/internal/config"
	"github.com/fleetgazer/fleetgazer/internal/fleet"
	"github.com/fleetgazer/fleetgazer/internal/ingest"
	"github.com/fleetgazer/fleetgazer/internal/models"
	"github.com/fleetgazer/fleetgazer/internal/routing"
	"github.com/fleetgazer/fleetgazer/pkg/ws"
)

// testFeed 模拟上游数据源
type testFeed struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	received chan []byte
}

func startFeed(t *testing.T) *testFeed {
	t.Helper()
	f := &testFeed{
		conns:    make(chan *websocket.Conn, 4),
		received: make(chan []byte, 64),
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- conn
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				f.received <- data
			}
		}()
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *testFeed) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *testFeed) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("feed never saw a connection")
		return nil
	}
}

func (f *testFeed) sendFrame(t *testing.T, conn *websocket.Conn, frameType string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.Frame{Type: frameType, Data: data}))
}

func newTestService(t *testing.T, feedURL string) (*FleetService, *fleet.Store, *ws.Hub) {
	t.Helper()

	cfg := &config.Config{
		FeedURL:               feedURL,
		OrganizationID:        "acme",
		RoutingHealthInterval: time.Hour,
	}
	logger := zap.NewNop()
	store := fleet.NewStore(logger, fleet.Options{})
	client := ingest.NewClient(logger, ingest.ClientOptions{
		FeedURL:        feedURL,
		OrganizationID: "acme",
		Worker: ingest.Options{
			FlushInterval:        5 * time.Millisecond,
			ReconnectBaseDelay:   5 * time.Millisecond,
			MaxReconnectAttempts: 2,
		},
		ResubscribeOnConnect: true,
	}, nil)
	hub := ws.NewHub(logger, nil)
	go hub.Run()

	svc := NewFleetService(cfg, logger, store, client, hub, routing.StaticStub{Available: true})
	t.Cleanup(svc.Stop)
	return svc, store, hub
}

func positionFrame(id string, lat, lng float64) models.VehicleUpdate {
	return models.VehicleUpdate{
		Type:      models.UpdatePosition,
		VehicleID: id,
		Timestamp: time.Now(),
		Data: models.VehicleDelta{
			CurrentPosition: &models.VehiclePosition{
				VehicleID: id,
				Latitude:  lat,
				Longitude: lng,
			},
		},
	}
}

func TestStart_SubscribesToOrganization(t *testing.T) {
	feed := startFeed(t)
	svc, store, _ := newTestService(t, feed.url())

	require.NoError(t, svc.Start(context.Background()))
	feed.conn(t)

	select {
	case data := <-feed.received:
		var req models.SubscribeRequest
		require.NoError(t, json.Unmarshal(data, &req))
		assert.Equal(t, models.FrameSubscribe, req.Type)
		assert.Equal(t, []string{models.OrgChannel("acme")}, req.Channels)
	case <-time.After(3 * time.Second):
		t.Fatal("feed never received subscribe request")
	}

	require.Eventually(t, store.IsConnected, 3*time.Second, 10*time.Millisecond)
}

func TestBulkUpdate_ReachesStoreAndTrail(t *testing.T) {
	feed := startFeed(t)
	svc, store, _ := newTestService(t, feed.url())

	store.SetVehicles([]*models.Vehicle{{ID: "v1", Status: models.StatusActive}})
	require.NoError(t, svc.Start(context.Background()))
	conn := feed.conn(t)

	feed.sendFrame(t, conn, models.FrameVehicleUpdate, positionFrame("v1", 53.35, -6.26))
	feed.sendFrame(t, conn, models.FrameVehicleUpdate, positionFrame("v1", 53.36, -6.25))

	require.Eventually(t, func() bool {
		v, ok := store.Vehicle("v1")
		return ok && v.CurrentPosition != nil && v.CurrentPosition.Latitude > 53.35
	}, 3*time.Second, 10*time.Millisecond)

	// 轨迹随位置更新累积; 去重合并可能把两条压成一条, 至少要有一个点
	assert.NotEmpty(t, store.Trail("v1"))
}

func TestUnknownVehicleDroppedByDefault(t *testing.T) {
	feed := startFeed(t)
	svc, store, _ := newTestService(t, feed.url())

	require.NoError(t, svc.Start(context.Background()))
	conn := feed.conn(t)

	feed.sendFrame(t, conn, models.FrameVehicleUpdate, positionFrame("ghost", 53.35, -6.26))

	time.Sleep(100 * time.Millisecond)
	_, ok := store.Vehicle("ghost")
	assert.False(t, ok)
}

func TestFeedDisconnectFlagsStore(t *testing.T) {
	feed := startFeed(t)
	svc, store, _ := newTestService(t, feed.url())

	require.NoError(t, svc.Start(context.Background()))
	conn := feed.conn(t)
	require.Eventually(t, store.IsConnected, 3*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return !store.IsConnected() },
		3*time.Second, 10*time.Millisecond)
}

func TestGeofenceAlertBroadcast(t *testing.T) {
	feed := startFeed(t)
	svc, _, hub := newTestService(t, feed.url())

	// 仪表盘客户端直连 hub
	upgrader := websocket.Upgrader{}
	dashSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		client := ws.NewClient(hub, conn)
		client.Register()
		go client.WritePump()
		go client.ReadPump()
	}))
	defer dashSrv.Close()

	dash, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(dashSrv.URL, "http"), nil)
	require.NoError(t, err)
	defer dash.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		3*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.Start(context.Background()))
	conn := feed.conn(t)

	feed.sendFrame(t, conn, models.FrameGeofenceAlert, models.GeofenceAlert{
		ID:         "a1",
		VehicleID:  "v1",
		GeofenceID: "depot",
		Event:      "exit",
	})

	deadline := time.Now().Add(3 * time.Second)
	for {
		require.False(t, time.Now().After(deadline), "alert never reached the dashboard")
		dash.SetReadDeadline(time.Now().Add(3 * time.Second))
		var msg ws.Message
		require.NoError(t, dash.ReadJSON(&msg))
		if msg.Type == ws.MsgTypeAlert {
			data, ok := msg.Data.(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, "depot", data["geofence_id"])
			return
		}
	}
}

func TestRoutingHealthExposed(t *testing.T) {
	feed := startFeed(t)
	svc, _, _ := newTestService(t, feed.url())

	h := svc.RoutingHealth()
	assert.True(t, h.Available)
}

func TestStartRequiresOrganization(t *testing.T) {
	feed := startFeed(t)
	logger := zap.NewNop()
	store := fleet.NewStore(logger, fleet.Options{})
	client := ingest.NewClient(logger, ingest.ClientOptions{FeedURL: feed.url()}, nil)
	hub := ws.NewHub(logger, nil)
	go hub.Run()

	svc := NewFleetService(&config.Config{}, logger, store, client, hub,
		routing.StaticStub{})
	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "organization")
}

func TestStopIsIdempotent(t *testing.T) {
	feed := startFeed(t)
	svc, _, _ := newTestService(t, feed.url())

	require.NoError(t, svc.Start(context.Background()))
	feed.conn(t)

	svc.Stop()
	svc.Stop()
}

func TestStartTwiceIsNoop(t *testing.T) {
	feed := startFeed(t)
	svc, store, _ := newTestService(t, feed.url())

	require.NoError(t, svc.Start(context.Background()))
	feed.conn(t)
	require.Eventually(t, store.IsConnected, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.Start(context.Background()))
	assert.True(t, store.IsConnected())
}

// hub 可选: 无仪表盘推送时事件处理照常工作
func TestNilHubDoesNotPanicOnEvents(t *testing.T) {
	feed := startFeed(t)
	logger := zap.NewNop()
	store := fleet.NewStore(logger, fleet.Options{UpdatePolicy: config.UpdatePolicyUpsert})
	client := ingest.NewClient(logger, ingest.ClientOptions{FeedURL: feed.url()}, nil)

	svc := NewFleetService(&config.Config{OrganizationID: "acme"}, logger, store,
		client, nil, routing.StaticStub{})

	svc.handleEvent(ingest.Event{Type: ingest.EventConnected})
	assert.True(t, store.IsConnected())

	svc.handleEvent(ingest.Event{Type: ingest.EventBulkUpdate,
		Updates: []models.VehicleUpdate{positionFrame("v1", 53.3, -6.2)}})
	_, ok := store.Vehicle("v1")
	assert.True(t, ok)

	alert, err := json.Marshal(models.GeofenceAlert{VehicleID: "v1", GeofenceID: "depot"})
	require.NoError(t, err)
	svc.handleEvent(ingest.Event{Type: ingest.EventMessage,
		Frame: &models.Frame{Type: models.FrameGeofenceAlert, Data: alert}})

	svc.handleEvent(ingest.Event{Type: ingest.EventDisconnected})
	assert.False(t, store.IsConnected())
}
