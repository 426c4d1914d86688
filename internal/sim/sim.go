// Package sim 合成车队数据生成器
// 供 feedsim 命令产生逼真的实时数据流
package sim

import (
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/fleetgazer/fleetgazer/internal/models"
)

// City 车辆聚集的城市中心
type City struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// DefaultCities 默认城市分布
var DefaultCities = []City{
	{Name: "Dublin", Latitude: 53.3498, Longitude: -6.2603},
	{Name: "Cork", Latitude: 51.8985, Longitude: -8.4756},
	{Name: "Galway", Latitude: 53.2707, Longitude: -9.0568},
}

const (
	// 初始散布半径 (度, 约 5km)
	spawnRadiusDeg = 0.05

	// 每次 tick 的转向与速度扰动
	turnProbability = 0.08
	turnMaxRadians  = 0.3
	speedJitterProb = 0.1
	maxSpeedKmh     = 90.0
	minSpeedKmh     = 10.0
)

// Options 模拟器配置
type Options struct {
	VehicleCount int
	Cities       []City
	Seed         int64 // 0 -> 按时间取种子
}

// Simulator 按随机游走推进一组虚拟车辆
type Simulator struct {
	rng      *rand.Rand
	vehicles []*simVehicle
}

type simVehicle struct {
	id       string
	lat      float64
	lng      float64
	heading  float64 // 弧度
	speedKmh float64
	status   models.VehicleStatus
	odometer float64
	fuel     float64
}

// New 创建模拟器并布置初始车队
func New(opts Options) *Simulator {
	if opts.VehicleCount <= 0 {
		opts.VehicleCount = 20
	}
	if len(opts.Cities) == 0 {
		opts.Cities = DefaultCities
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	s := &Simulator{rng: rng}
	for i := 0; i < opts.VehicleCount; i++ {
		city := opts.Cities[i%len(opts.Cities)]
		status := models.StatusActive
		// 少量车辆处于非活跃状态, 让仪表盘更真实
		switch r := rng.Float64(); {
		case r < 0.05:
			status = models.StatusMaintenance
		case r < 0.15:
			status = models.StatusInactive
		}
		s.vehicles = append(s.vehicles, &simVehicle{
			id:       uuid.NewString(),
			lat:      city.Latitude + (rng.Float64()*2-1)*spawnRadiusDeg,
			lng:      city.Longitude + (rng.Float64()*2-1)*spawnRadiusDeg,
			heading:  rng.Float64() * 2 * math.Pi,
			speedKmh: minSpeedKmh + rng.Float64()*(maxSpeedKmh-minSpeedKmh),
			status:   status,
			odometer: rng.Float64() * 120000,
			fuel:     20 + rng.Float64()*80,
		})
	}
	return s
}

// VehicleCount 当前车辆数
func (s *Simulator) VehicleCount() int {
	return len(s.vehicles)
}

// Fleet 当前整个车队的完整快照
func (s *Simulator) Fleet(now time.Time) []*models.Vehicle {
	out := make([]*models.Vehicle, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		out = append(out, v.snapshot(now))
	}
	return out
}

// Tick 推进 elapsed 时长并返回一批位置更新
// 非活跃车辆不动也不上报
func (s *Simulator) Tick(now time.Time, elapsed time.Duration) []models.VehicleUpdate {
	updates := make([]models.VehicleUpdate, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		if v.status != models.StatusActive {
			continue
		}
		s.advance(v, elapsed)
		pos := v.position(now)
		updates = append(updates, models.VehicleUpdate{
			Type:      models.UpdatePosition,
			VehicleID: v.id,
			Timestamp: now,
			Data: models.VehicleDelta{
				CurrentPosition: pos,
			},
		})
	}
	return updates
}

func (s *Simulator) advance(v *simVehicle, elapsed time.Duration) {
	if s.rng.Float64() < turnProbability {
		v.heading += (s.rng.Float64()*2 - 1) * turnMaxRadians
	}
	if s.rng.Float64() < speedJitterProb {
		v.speedKmh += (s.rng.Float64()*2 - 1) * 10
		if v.speedKmh < minSpeedKmh {
			v.speedKmh = minSpeedKmh
		}
		if v.speedKmh > maxSpeedKmh {
			v.speedKmh = maxSpeedKmh
		}
	}

	meters := v.speedKmh / 3.6 * elapsed.Seconds()
	v.odometer += meters / 1000
	v.fuel -= meters / 1000 * 0.08
	if v.fuel < 5 {
		v.fuel = 100
	}

	// 按航向折算经纬度位移
	dLat := meters * math.Cos(v.heading) / 111320
	dLng := meters * math.Sin(v.heading) / (111320 * math.Cos(v.lat*math.Pi/180))
	v.lat += dLat
	v.lng += dLng
}

func (v *simVehicle) position(now time.Time) *models.VehiclePosition {
	speed := v.speedKmh
	fuel := v.fuel
	odo := v.odometer
	return &models.VehiclePosition{
		VehicleID: v.id,
		Latitude:  v.lat,
		Longitude: v.lng,
		Heading:   math.Mod(v.heading*180/math.Pi+360, 360),
		Speed:     speed,
		Timestamp: now,
		Ignition:  v.status == models.StatusActive,
		Odometer:  &odo,
		FuelLevel: &fuel,
	}
}

func (v *simVehicle) snapshot(now time.Time) *models.Vehicle {
	return &models.Vehicle{
		ID:              v.id,
		Name:            "sim-" + v.id[:8],
		Status:          v.status,
		CurrentPosition: v.position(now),
		LastUpdate:      now,
	}
}
