package fleet

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetgazer/fleetgazer/internal/config"
	"github.com/fleetgazer/fleetgazer/internal/models"
)

func newTestStore(opts Options) *Store {
	return NewStore(zap.NewNop(), opts)
}

func testVehicle(id string, lat, lng float64) *models.Vehicle {
	return &models.Vehicle{
		ID:     id,
		Name:   "Vehicle " + id,
		Status: models.StatusActive,
		CurrentPosition: &models.VehiclePosition{
			VehicleID: id,
			Latitude:  lat,
			Longitude: lng,
			Timestamp: time.Now(),
		},
	}
}

func TestStore_SetVehiclesReplacesAndDedupes(t *testing.T) {
	s := newTestStore(Options{})
	s.SetVehicles([]*models.Vehicle{
		testVehicle("v1", 53.0, -6.0),
		testVehicle("v2", 53.1, -6.1),
		testVehicle("v1", 54.0, -7.0), // duplicate id ignored
	})

	vehicles := s.Vehicles()
	require.Len(t, vehicles, 2)
	assert.Equal(t, "v1", vehicles[0].ID)
	assert.InDelta(t, 53.0, vehicles[0].CurrentPosition.Latitude, 1e-9)
}

func TestStore_UpdateVehicleMergesTopLevel(t *testing.T) {
	s := newTestStore(Options{})
	s.SetVehicles([]*models.Vehicle{testVehicle("v1", 53.0, -6.0)})

	driver := "Aoife"
	status := models.StatusMaintenance
	s.UpdateVehicle("v1", models.VehicleDelta{Driver: &driver, Status: &status})

	v, ok := s.Vehicle("v1")
	require.True(t, ok)
	assert.Equal(t, "Aoife", v.Driver)
	assert.Equal(t, models.StatusMaintenance, v.Status)
	// untouched fields survive
	assert.Equal(t, "Vehicle v1", v.Name)
	assert.InDelta(t, 53.0, v.CurrentPosition.Latitude, 1e-9)
}

func TestStore_PositionReplacedWholesale(t *testing.T) {
	s := newTestStore(Options{})
	odo := 12000.5
	v := testVehicle("v1", 53.0, -6.0)
	v.CurrentPosition.Odometer = &odo
	s.SetVehicles([]*models.Vehicle{v})

	s.UpdateVehicle("v1", models.VehicleDelta{
		CurrentPosition: &models.VehiclePosition{VehicleID: "v1", Latitude: 53.5, Longitude: -6.5},
	})

	got, _ := s.Vehicle("v1")
	assert.InDelta(t, 53.5, got.CurrentPosition.Latitude, 1e-9)
	assert.Nil(t, got.CurrentPosition.Odometer, "old position fields must not leak into the new snapshot")
}

func TestStore_UnknownIDDroppedByDefault(t *testing.T) {
	s := newTestStore(Options{})
	s.SetVehicles([]*models.Vehicle{testVehicle("v1", 53.0, -6.0)})
	before := s.Vehicles()

	name := "ghost"
	s.UpdateVehicle("missing-id", models.VehicleDelta{Name: &name})

	assert.Equal(t, before, s.Vehicles())
	_, ok := s.Vehicle("missing-id")
	assert.False(t, ok)
}

func TestStore_UnknownIDUpsertsWhenConfigured(t *testing.T) {
	s := newTestStore(Options{UpdatePolicy: config.UpdatePolicyUpsert})

	name := "new arrival"
	s.UpdateVehicle("v9", models.VehicleDelta{Name: &name})

	v, ok := s.Vehicle("v9")
	require.True(t, ok)
	assert.Equal(t, "new arrival", v.Name)
	assert.Equal(t, models.StatusActive, v.Status)
}

func TestStore_LastUpdateStrictlyMonotonic(t *testing.T) {
	s := newTestStore(Options{})

	var stamps []time.Time
	for i := 0; i < 100; i++ {
		s.SetVehicles([]*models.Vehicle{testVehicle("v1", 53.0, -6.0)})
		stamps = append(stamps, s.LastUpdate())
	}
	for i := 1; i < len(stamps); i++ {
		assert.True(t, stamps[i].After(stamps[i-1]),
			"stamp %d (%v) must be after %v", i, stamps[i], stamps[i-1])
	}
}

func TestStore_SelectVehicleRecentersViewport(t *testing.T) {
	s := newTestStore(Options{})
	s.SetVehicles([]*models.Vehicle{testVehicle("v1", 52.2, -7.1)})
	s.SetViewport(models.Viewport{Latitude: 53.35, Longitude: -6.26, Zoom: 9})

	s.SelectVehicle("v1")

	vp := s.Viewport()
	assert.InDelta(t, 52.2, vp.Latitude, 1e-9)
	assert.InDelta(t, -7.1, vp.Longitude, 1e-9)
	assert.InDelta(t, 15, vp.Zoom, 1e-9)
	assert.Equal(t, "v1", s.SelectedVehicleID())
}

func TestStore_SelectVehicleNeverLowersZoom(t *testing.T) {
	s := newTestStore(Options{})
	s.SetVehicles([]*models.Vehicle{testVehicle("v1", 52.2, -7.1)})
	s.SetViewport(models.Viewport{Zoom: 18})

	s.SelectVehicle("v1")
	assert.InDelta(t, 18, s.Viewport().Zoom, 1e-9)
}

func TestStore_DeselectLeavesViewport(t *testing.T) {
	s := newTestStore(Options{})
	s.SetVehicles([]*models.Vehicle{testVehicle("v1", 52.2, -7.1)})
	s.SelectVehicle("v1")
	vp := s.Viewport()

	s.SelectVehicle("")

	assert.Empty(t, s.SelectedVehicleID())
	assert.Equal(t, vp, s.Viewport())
}

func TestStore_TrailAppendsAndIsBounded(t *testing.T) {
	s := newTestStore(Options{TrailMaxPositions: 10})

	for i := 0; i < 25; i++ {
		s.AddTrail("v1", []*models.VehiclePosition{{
			VehicleID: "v1",
			Latitude:  53.0 + float64(i)*0.001,
		}})
	}

	trail := s.Trail("v1")
	require.Len(t, trail, 10)
	// oldest samples were evicted, newest kept
	assert.InDelta(t, 53.015, trail[0].Latitude, 1e-9)
	assert.InDelta(t, 53.024, trail[9].Latitude, 1e-9)
}

func TestStore_ClearTrails(t *testing.T) {
	s := newTestStore(Options{})
	s.AddTrail("v1", []*models.VehiclePosition{{VehicleID: "v1"}})
	s.AddTrail("v2", []*models.VehiclePosition{{VehicleID: "v2"}})

	s.ClearTrails()
	assert.Empty(t, s.Trails())
}

func TestStore_ListenerMasks(t *testing.T) {
	s := newTestStore(Options{})
	s.SetVehicles([]*models.Vehicle{testVehicle("v1", 53.0, -6.0)})

	var selectionEvents, vehicleEvents int
	s.AddListener(func(mask Change) {
		if mask&ChangeSelection != 0 {
			selectionEvents++
		}
		if mask&ChangeVehicles != 0 {
			vehicleEvents++
		}
	})

	// position-only batches must not look like selection changes
	s.ApplyUpdates([]models.VehicleUpdate{{
		VehicleID: "v1",
		Type:      models.UpdatePosition,
		Data: models.VehicleDelta{
			CurrentPosition: &models.VehiclePosition{VehicleID: "v1", Latitude: 53.2},
		},
	}})
	assert.Equal(t, 0, selectionEvents)
	assert.Equal(t, 1, vehicleEvents)

	s.SelectVehicle("v1")
	assert.Equal(t, 1, selectionEvents)
	assert.Equal(t, 1, vehicleEvents)
}

func TestStore_ApplyUpdatesBatch(t *testing.T) {
	s := newTestStore(Options{})
	var vehicles []*models.Vehicle
	for i := 0; i < 5; i++ {
		vehicles = append(vehicles, testVehicle(fmt.Sprintf("v%d", i), 53.0, -6.0))
	}
	s.SetVehicles(vehicles)

	var updates []models.VehicleUpdate
	for i := 0; i < 5; i++ {
		updates = append(updates, models.VehicleUpdate{
			VehicleID: fmt.Sprintf("v%d", i),
			Type:      models.UpdatePosition,
			Timestamp: time.Now(),
			Data: models.VehicleDelta{
				CurrentPosition: &models.VehiclePosition{Latitude: 53.0 + float64(i)},
			},
		})
	}
	s.ApplyUpdates(updates)

	for i := 0; i < 5; i++ {
		v, _ := s.Vehicle(fmt.Sprintf("v%d", i))
		assert.InDelta(t, 53.0+float64(i), v.CurrentPosition.Latitude, 1e-9)
	}
}

func TestStore_SnapshotsDoNotAliasLiveState(t *testing.T) {
	s := newTestStore(Options{})
	v := testVehicle("v1", 53.0, -6.0)
	v.Metadata = map[string]string{"depot": "north"}
	s.SetVehicles([]*models.Vehicle{v})

	snap, ok := s.Vehicle("v1")
	require.True(t, ok)
	listSnap := s.Vehicles()

	name := "renamed"
	s.UpdateVehicle("v1", models.VehicleDelta{
		Name:            &name,
		CurrentPosition: &models.VehiclePosition{VehicleID: "v1", Latitude: 54.0},
		Metadata:        map[string]string{"depot": "south"},
	})

	// earlier snapshots keep the state they were taken with
	assert.Equal(t, "Vehicle v1", snap.Name)
	assert.Equal(t, "north", snap.Metadata["depot"])
	assert.InDelta(t, 53.0, snap.CurrentPosition.Latitude, 1e-9)
	assert.Equal(t, "Vehicle v1", listSnap[0].Name)

	cur, _ := s.Vehicle("v1")
	assert.Equal(t, "renamed", cur.Name)
	assert.Equal(t, "south", cur.Metadata["depot"])
}

// 快照读和增量写并发跑, 交给 -race 把关
func TestStore_ConcurrentSnapshotAndMerge(t *testing.T) {
	s := newTestStore(Options{})
	v := testVehicle("v1", 53.0, -6.0)
	v.Metadata = map[string]string{"depot": "north"}
	s.SetVehicles([]*models.Vehicle{v})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			name := fmt.Sprintf("Vehicle %d", i)
			s.UpdateVehicle("v1", models.VehicleDelta{
				Name:            &name,
				CurrentPosition: &models.VehiclePosition{VehicleID: "v1", Latitude: 53.0 + float64(i)*1e-4},
				Metadata:        map[string]string{"tick": name},
			})
		}
	}()

	for i := 0; i < 500; i++ {
		for _, v := range s.Vehicles() {
			_ = v.Name
			_ = v.LastUpdate
			_ = v.Metadata["tick"]
			if v.CurrentPosition != nil {
				_ = v.CurrentPosition.Latitude
			}
		}
	}
	<-done
}

func TestStore_ConnectionStatusNotifiesOnEdge(t *testing.T) {
	s := newTestStore(Options{})

	var events int
	s.AddListener(func(mask Change) {
		if mask&ChangeConnection != 0 {
			events++
		}
	})

	s.SetConnectionStatus(true)
	s.SetConnectionStatus(true) // no edge, no event
	s.SetConnectionStatus(false)

	assert.True(t, s.IsConnected() == false)
	assert.Equal(t, 2, events)
}
