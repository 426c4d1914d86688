// Package geo 地理计算: haversine 距离、像素/米换算、geohash 编解码
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusMeters 地球平均半径 (m)
const EarthRadiusMeters = 6371000

// geohash base32 字符集 (不含 a/i/l/o)
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

var base32Index = func() map[byte]int {
	m := make(map[byte]int, len(base32))
	for i := 0; i < len(base32); i++ {
		m[base32[i]] = i
	}
	return m
}()

// InvalidGeohashCharacterError geohash 解码遇到非法字符
type InvalidGeohashCharacterError struct {
	Char byte
	Hash string
}

func (e *InvalidGeohashCharacterError) Error() string {
	return fmt.Sprintf("invalid geohash character %q in %q", e.Char, e.Hash)
}

// Distance 计算两点间的 haversine 距离 (m)
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// PixelsToMeters 将屏幕像素换算为给定纬度上的米数 (Web-Mercator 近似)
// 经度一度的长度随 cos(latitude) 收缩。
func PixelsToMeters(pixels float64, zoom float64, latitude float64) float64 {
	degreesPerPixel := 360 / (256 * math.Pow(2, zoom))
	metersPerDegree := 111320 * math.Cos(toRadians(latitude))
	return pixels * degreesPerPixel * metersPerDegree
}

// Encode 将经纬度编码为指定精度的 geohash
// precision <= 0 返回空串。
func Encode(lat, lon float64, precision int) string {
	if precision <= 0 {
		return ""
	}

	latMin, latMax := -90.0, 90.0
	lonMin, lonMax := -180.0, 180.0

	var (
		hash    []byte
		bit     int
		ch      int
		evenBit = true // 偶数位编码经度，奇数位编码纬度
	)

	for len(hash) < precision {
		if evenBit {
			mid := (lonMin + lonMax) / 2
			if lon >= mid {
				ch = ch*2 + 1
				lonMin = mid
			} else {
				ch = ch * 2
				lonMax = mid
			}
		} else {
			mid := (latMin + latMax) / 2
			if lat >= mid {
				ch = ch*2 + 1
				latMin = mid
			} else {
				ch = ch * 2
				latMax = mid
			}
		}
		evenBit = !evenBit

		bit++
		if bit == 5 {
			hash = append(hash, base32[ch])
			bit = 0
			ch = 0
		}
	}

	return string(hash)
}

// Decode 将 geohash 解码为单元格中点
// 有损: Decode(Encode(p)) 只保证落在精度对应的单元格内。
func Decode(hash string) (lat, lon float64, err error) {
	latMin, latMax := -90.0, 90.0
	lonMin, lonMax := -180.0, 180.0

	evenBit := true
	for i := 0; i < len(hash); i++ {
		idx, ok := base32Index[hash[i]]
		if !ok {
			return 0, 0, &InvalidGeohashCharacterError{Char: hash[i], Hash: hash}
		}

		for bit := 4; bit >= 0; bit-- {
			set := idx>>uint(bit)&1 == 1
			if evenBit {
				mid := (lonMin + lonMax) / 2
				if set {
					lonMin = mid
				} else {
					lonMax = mid
				}
			} else {
				mid := (latMin + latMax) / 2
				if set {
					latMin = mid
				} else {
					latMax = mid
				}
			}
			evenBit = !evenBit
		}
	}

	return (latMin + latMax) / 2, (lonMin + lonMax) / 2, nil
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
