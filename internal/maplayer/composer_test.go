package maplayer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetgazer/fleetgazer/internal/fleet"
	"github.com/fleetgazer/fleetgazer/internal/models"
)

func newComposerWithFleet(t *testing.T, n int, opts Options) (*Composer, *fleet.Store) {
	store := fleet.NewStore(zap.NewNop(), fleet.Options{})

	var vehicles []*models.Vehicle
	for i := 0; i < n; i++ {
		vehicles = append(vehicles, &models.Vehicle{
			ID:     fmt.Sprintf("v%02d", i),
			Status: models.StatusActive,
			CurrentPosition: &models.VehiclePosition{
				VehicleID: fmt.Sprintf("v%02d", i),
				// tight pack around Dublin so everything clusters together
				Latitude:  53.3500 + float64(i)*0.0001,
				Longitude: -6.2600 + float64(i)*0.0001,
				Heading:   float64(i * 10),
			},
		})
	}
	store.SetVehicles(vehicles)

	return NewComposer(zap.NewNop(), store, opts), store
}

func zoomPtr(z float64) *float64 { return &z }

func TestCreateVehicleLayers_SmallFleetRendersIndividuals(t *testing.T) {
	c, _ := newComposerWithFleet(t, 8, Options{ClusteringEnabled: true})

	layers := c.CreateVehicleLayers(zoomPtr(8))

	assert.Nil(t, layers.Clusters)
	require.NotNil(t, layers.Icons)
	assert.Len(t, layers.Icons.Icons, 8)
}

func TestCreateVehicleLayers_NilZoomRendersIndividuals(t *testing.T) {
	c, _ := newComposerWithFleet(t, 20, Options{ClusteringEnabled: true})

	layers := c.CreateVehicleLayers(nil)
	assert.Nil(t, layers.Clusters)
	assert.Len(t, layers.Icons.Icons, 20)
}

func TestCreateVehicleLayers_StreetZoomDisablesClustering(t *testing.T) {
	c, _ := newComposerWithFleet(t, 20, Options{ClusteringEnabled: true})

	layers := c.CreateVehicleLayers(zoomPtr(16))
	assert.Nil(t, layers.Clusters)
	assert.Len(t, layers.Icons.Icons, 20)
}

func TestCreateVehicleLayers_ClusteringDisabledByConfig(t *testing.T) {
	c, _ := newComposerWithFleet(t, 20, Options{ClusteringEnabled: false})

	layers := c.CreateVehicleLayers(zoomPtr(8))
	assert.Nil(t, layers.Clusters)
	assert.Len(t, layers.Icons.Icons, 20)
}

func TestCreateVehicleLayers_ClustersWithCounts(t *testing.T) {
	c, _ := newComposerWithFleet(t, 20, Options{ClusteringEnabled: true})

	layers := c.CreateVehicleLayers(zoomPtr(8))

	require.NotNil(t, layers.Clusters)
	require.NotNil(t, layers.Counts)
	require.NotEmpty(t, layers.Clusters.Points)
	assert.Len(t, layers.Counts.Labels, len(layers.Clusters.Points))

	total := len(layers.Icons.Icons)
	for i, p := range layers.Clusters.Points {
		assert.GreaterOrEqual(t, p.RadiusPixels, 20.0)
		assert.LessOrEqual(t, p.RadiusPixels, 80.0)
		assert.Equal(t, p.ClusterID, layers.Counts.Labels[i].ClusterID)
	}
	for _, l := range layers.Counts.Labels {
		var n int
		_, err := fmt.Sscanf(l.Text, "%d", &n)
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, 20, total, "clusters plus leftovers must cover the whole fleet")
}

func TestCreateVehicleLayers_SelectedVehicleEnlarged(t *testing.T) {
	c, store := newComposerWithFleet(t, 8, Options{ClusteringEnabled: true})
	store.SelectVehicle("v03")

	layers := c.CreateVehicleLayers(zoomPtr(8))

	var found bool
	for _, icon := range layers.Icons.Icons {
		if icon.VehicleID == "v03" {
			found = true
			assert.True(t, icon.Selected)
			assert.Greater(t, icon.Size, float64(baseIconSize))
		} else {
			assert.InDelta(t, baseIconSize, icon.Size, 1e-9)
		}
	}
	assert.True(t, found)
}

func TestCreateVehicleLayers_IconAssetsFollowStatus(t *testing.T) {
	c, store := newComposerWithFleet(t, 8, Options{ClusteringEnabled: true})
	status := models.StatusOffline
	store.UpdateVehicle("v01", models.VehicleDelta{Status: &status})

	layers := c.CreateVehicleLayers(zoomPtr(8))
	for _, icon := range layers.Icons.Icons {
		if icon.VehicleID == "v01" {
			assert.Equal(t, "vehicle-inactive", icon.Asset)
		} else {
			assert.Equal(t, "vehicle-active", icon.Asset)
		}
	}
}

func TestVehicleClick_SelectsAndRecenters(t *testing.T) {
	c, store := newComposerWithFleet(t, 8, Options{ClusteringEnabled: true})

	layers := c.CreateVehicleLayers(zoomPtr(8))
	layers.Icons.OnClick("v05")

	assert.Equal(t, "v05", store.SelectedVehicleID())
	assert.GreaterOrEqual(t, store.Viewport().Zoom, 15.0)
}

func TestClusterClick_DefaultSelectsFirstVehicle(t *testing.T) {
	c, store := newComposerWithFleet(t, 20, Options{ClusteringEnabled: true})

	layers := c.CreateVehicleLayers(zoomPtr(8))
	require.NotEmpty(t, layers.Clusters.Points)

	layers.Clusters.OnClick(layers.Clusters.Points[0].ClusterID)
	assert.NotEmpty(t, store.SelectedVehicleID())
}

func TestClusterClick_ExpandViewportPolicy(t *testing.T) {
	c, store := newComposerWithFleet(t, 20, Options{
		ClusteringEnabled: true,
		ClusterClick:      ExpandViewport,
	})
	store.SetViewport(models.Viewport{Latitude: 40, Longitude: -3, Zoom: 8})

	layers := c.CreateVehicleLayers(zoomPtr(8))
	require.NotEmpty(t, layers.Clusters.Points)
	point := layers.Clusters.Points[0]

	layers.Clusters.OnClick(point.ClusterID)

	assert.Empty(t, store.SelectedVehicleID())
	vp := store.Viewport()
	assert.InDelta(t, point.Position[1], vp.Latitude, 1e-9)
	assert.InDelta(t, point.Position[0], vp.Longitude, 1e-9)
	assert.InDelta(t, 10, vp.Zoom, 1e-9)
}

func TestClusterClick_StaleClusterIgnored(t *testing.T) {
	c, store := newComposerWithFleet(t, 20, Options{ClusteringEnabled: true})

	layers := c.CreateVehicleLayers(zoomPtr(8))
	require.NotEmpty(t, layers.Clusters.Points)
	staleID := layers.Clusters.Points[0].ClusterID

	// a street-level pass invalidates the cluster set
	c.CreateVehicleLayers(zoomPtr(17))

	layers.Clusters.OnClick(staleID)
	assert.Empty(t, store.SelectedVehicleID())
}

func TestCreateTrailLayer_HighlightsSelected(t *testing.T) {
	c, store := newComposerWithFleet(t, 3, Options{ClusteringEnabled: true})
	for _, id := range []string{"v00", "v01", "v02"} {
		store.AddTrail(id, []*models.VehiclePosition{
			{VehicleID: id, Latitude: 53.30, Longitude: -6.30},
			{VehicleID: id, Latitude: 53.31, Longitude: -6.29},
			{VehicleID: id, Latitude: 53.32, Longitude: -6.28},
		})
	}
	store.SelectVehicle("v01")

	layer := c.CreateTrailLayer()
	require.Len(t, layer.Paths, 3)

	for _, p := range layer.Paths {
		if p.VehicleID == "v01" {
			assert.True(t, p.Highlighted)
			assert.Equal(t, selectedTrailColor, p.Color)
			assert.InDelta(t, trailBaseWidth*1.5, p.WidthPixels, 1e-9)
		} else {
			assert.False(t, p.Highlighted)
			assert.InDelta(t, trailBaseWidth, p.WidthPixels, 1e-9)
		}
		assert.Len(t, p.Positions, 3)
	}
}

func TestCreateTrailLayer_SkipsSinglePointTrails(t *testing.T) {
	c, store := newComposerWithFleet(t, 2, Options{ClusteringEnabled: true})
	store.AddTrail("v00", []*models.VehiclePosition{{VehicleID: "v00", Latitude: 53.3, Longitude: -6.3}})

	layer := c.CreateTrailLayer()
	assert.Empty(t, layer.Paths)
}
