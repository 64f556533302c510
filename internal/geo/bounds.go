package geo

import "math"

// 包围盒（南、西、北、东）
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Center：包围盒中心
func (b Bounds) Center() LatLng {
	return LatLng{Lat: (b.South + b.North) / 2, Lng: (b.West + b.East) / 2}
}

// 地图视口：中心、缩放级别与可选的适配包围盒
type Viewport struct {
	Center LatLng  `json:"center"`
	Zoom   int     `json:"zoom"`
	Bounds *Bounds `json:"bounds,omitempty"`
}

const (
	minZoom = 1
	maxZoom = 18
)

// DefaultViewport：无几何可适配时的固定视口（克拉斯诺戈尔斯克）
func DefaultViewport() Viewport {
	return Viewport{Center: LatLng{Lat: 55.8214, Lng: 37.3388}, Zoom: 12}
}

// BoundsOf：计算点集包围盒；空集返回 false
func BoundsOf(pts []LatLng) (Bounds, bool) {
	if len(pts) == 0 {
		return Bounds{}, false
	}
	b := Bounds{South: 90, West: math.MaxFloat64, North: -90, East: -math.MaxFloat64}
	for _, p := range pts {
		if p.Lat < b.South {
			b.South = p.Lat
		}
		if p.Lat > b.North {
			b.North = p.Lat
		}
		if p.Lng < b.West {
			b.West = p.Lng
		}
		if p.Lng > b.East {
			b.East = p.Lng
		}
	}
	return b, true
}

// 文档注释：按包围盒适配视口
// 背景：只读展示时将地图缩放到几何范围；无几何时回退到 fallback。
// 约束：缩放级别按最大跨度估算（每级跨度减半），单点按最大缩放处理。
func FitViewport(pts []LatLng, fallback Viewport) Viewport {
	b, ok := BoundsOf(pts)
	if !ok {
		return fallback
	}
	return Viewport{Center: b.Center(), Zoom: zoomFor(b), Bounds: &b}
}

func zoomFor(b Bounds) int {
	span := math.Max(b.North-b.South, b.East-b.West)
	if span <= 0 {
		return maxZoom
	}
	z := int(math.Floor(math.Log2(360 / span)))
	if z < minZoom {
		return minZoom
	}
	if z > maxZoom {
		return maxZoom
	}
	return z
}
