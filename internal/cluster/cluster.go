// Package cluster 按缩放级别对地图上的车辆做贪心聚合
package cluster

import (
	"fmt"
	"sort"

	"github.com/fleetgazer/fleetgazer/internal/geo"
	"github.com/fleetgazer/fleetgazer/internal/models"
)

// ReferenceLatitude 像素半径换算使用的参考纬度 (都柏林)
const ReferenceLatitude = 53.35

// DisableZoom 到达该缩放级别后上游不再聚合
const DisableZoom = 16

// Options 聚合参数
type Options struct {
	Zoom float64
}

// Result 聚合结果
// Every input vehicle appears in exactly one cluster or in IndividualVehicles.
type Result struct {
	Clusters           []*models.VehicleCluster `json:"clusters"`
	IndividualVehicles []*models.Vehicle        `json:"individual_vehicles"`
}

// MinClusterSize 该缩放级别下成簇所需的最少车辆数
// Denser requirement as you zoom in; clustering should vanish at street level.
func MinClusterSize(zoom float64) int {
	switch {
	case zoom <= 8:
		return 2
	case zoom <= 12:
		return 3
	case zoom <= 15:
		return 4
	default:
		return 5
	}
}

// RadiusMeters 该缩放级别下的聚合半径 (m)
// Pixel radius by zoom bracket, converted at the reference latitude.
func RadiusMeters(zoom float64) float64 {
	var pixels float64
	switch {
	case zoom <= 6:
		pixels = 80
	case zoom <= 9:
		pixels = 60
	case zoom <= 12:
		pixels = 40
	case zoom <= 15:
		pixels = 25
	default:
		pixels = 15
	}
	return geo.PixelsToMeters(pixels, zoom, ReferenceLatitude)
}

// ClusterVehicles 贪心单链接聚合, O(n²)
// Vehicles are sorted by id before the greedy pass so the grouping is stable
// under input reordering. Vehicles without a position are passed through as
// individuals.
func ClusterVehicles(vehicles []*models.Vehicle, opts Options) Result {
	result := Result{
		Clusters:           []*models.VehicleCluster{},
		IndividualVehicles: []*models.Vehicle{},
	}
	if len(vehicles) == 0 {
		return result
	}

	sorted := make([]*models.Vehicle, len(vehicles))
	copy(sorted, vehicles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	minSize := MinClusterSize(opts.Zoom)
	radius := RadiusMeters(opts.Zoom)

	processed := make(map[string]bool, len(sorted))

	for _, seed := range sorted {
		if processed[seed.ID] {
			continue
		}
		if seed.CurrentPosition == nil {
			processed[seed.ID] = true
			result.IndividualVehicles = append(result.IndividualVehicles, seed)
			continue
		}

		group := []*models.Vehicle{seed}
		for _, other := range sorted {
			if processed[other.ID] || other.ID == seed.ID || other.CurrentPosition == nil {
				continue
			}
			d := geo.Distance(
				seed.CurrentPosition.Latitude, seed.CurrentPosition.Longitude,
				other.CurrentPosition.Latitude, other.CurrentPosition.Longitude,
			)
			if d <= radius {
				group = append(group, other)
			}
		}

		if len(group) >= minSize {
			for _, v := range group {
				processed[v.ID] = true
			}
			result.Clusters = append(result.Clusters, newCluster(group))
		} else {
			processed[seed.ID] = true
			result.IndividualVehicles = append(result.IndividualVehicles, seed)
		}
	}

	return result
}

func newCluster(group []*models.Vehicle) *models.VehicleCluster {
	var sumLat, sumLng float64
	for _, v := range group {
		sumLat += v.CurrentPosition.Latitude
		sumLng += v.CurrentPosition.Longitude
	}
	n := float64(len(group))

	return &models.VehicleCluster{
		ID:       fmt.Sprintf("cluster-%s-%d", group[0].ID, len(group)),
		Position: [2]float64{sumLng / n, sumLat / n},
		Vehicles: group,
		Count:    len(group),
	}
}
