// 包 geo：地图坐标的最小数据结构与存储安全的文本编解码
package geo

import (
	"encoding/json"
	"errors"
)

var (
	// ErrMalformedGeometry：持久化文本无法解析为几何
	ErrMalformedGeometry = errors.New("malformed geometry")
	// ErrInvalidCoordinate：坐标无法归一化为 (lat, lng)
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrDegenerateRing：环少于 3 个点
	ErrDegenerateRing = errors.New("degenerate ring")
)

// 点坐标（WGS84）
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Tuple：存储形式 [lat, lng]
func (p LatLng) Tuple() [2]float64 { return [2]float64{p.Lat, p.Lng} }

// UnmarshalJSON：同时接受 [lat, lng] 与 {"lat":..,"lng":..} 两种形式
func (p *LatLng) UnmarshalJSON(b []byte) error {
	ll, err := NormalizeLatLng(json.RawMessage(b))
	if err != nil {
		return err
	}
	*p = ll
	return nil
}

// Ring：一个闭合边界的有序点列，首尾不重复
type Ring []LatLng

// PolygonSet：有序的环集合，顺序即绘制顺序
type PolygonSet []Ring

// Marker：带标注文本的点标记
type Marker struct {
	Position LatLng `json:"position"`
	Label    string `json:"label"`
}

// MarkerSet：按放置顺序排列的点标记
type MarkerSet []Marker

// Positions：返回所有标记的坐标
func (m MarkerSet) Positions() []LatLng {
	out := make([]LatLng, 0, len(m))
	for _, mk := range m {
		out = append(out, mk.Position)
	}
	return out
}
