package cluster

// SizeCategory 簇大小分档
type SizeCategory string

const (
	SizeSmall  SizeCategory = "small"
	SizeMedium SizeCategory = "medium"
	SizeLarge  SizeCategory = "large"
	SizeXLarge SizeCategory = "xlarge"
)

// RGBA 渲染颜色
type RGBA [4]uint8

// 固定配色, 与前端图例保持一致
var palette = map[SizeCategory]RGBA{
	SizeSmall:  {66, 135, 245, 255},
	SizeMedium: {52, 168, 83, 255},
	SizeLarge:  {251, 188, 5, 255},
	SizeXLarge: {234, 67, 53, 255},
}

var basePixelSize = map[SizeCategory]float64{
	SizeSmall:  28,
	SizeMedium: 36,
	SizeLarge:  44,
	SizeXLarge: 54,
}

// CategoryForCount 按车辆数分档
func CategoryForCount(count int) SizeCategory {
	switch {
	case count < 5:
		return SizeSmall
	case count < 10:
		return SizeMedium
	case count < 20:
		return SizeLarge
	default:
		return SizeXLarge
	}
}

// Color 分档颜色
func Color(cat SizeCategory) RGBA { return palette[cat] }

// BaseSize 分档基础像素大小
func BaseSize(cat SizeCategory) float64 { return basePixelSize[cat] }
