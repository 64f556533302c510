package geo

import (
	"encoding/json"
	"fmt"
	"strings"
)

// 文档注释：多边形与点标记的文本编解码
// 背景：文档库只保存文本字段，几何以 JSON 数组编码；环顺序与点顺序严格保持，保证 decode(encode(x)) == x。
// 约束：编码始终输出 [lat, lng] 元组；解码兼容元组与 {lat, lng} 对象。
// 空串与 "null" 解码为“缺省”（ok=false），与已保存的空集合区分。

// storedMarker：点标记的存储形态，content 字段沿用历史数据中的标注键名
type storedMarker struct {
	Position json.RawMessage `json:"position"`
	Content  string          `json:"content"`
}

type encodedMarker struct {
	Position [2]float64 `json:"position"`
	Content  string     `json:"content"`
}

// EncodePolygons：编码环集合
func EncodePolygons(set PolygonSet) (string, error) {
	raw := make([][][2]float64, 0, len(set))
	for i, ring := range set {
		if len(ring) < 3 {
			return "", fmt.Errorf("%w: ring %d has %d points", ErrDegenerateRing, i, len(ring))
		}
		rr := make([][2]float64, 0, len(ring))
		for _, p := range ring {
			ll, err := NormalizeLatLng(p)
			if err != nil {
				return "", fmt.Errorf("ring %d: %w", i, err)
			}
			rr = append(rr, ll.Tuple())
		}
		raw = append(raw, rr)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCoordinate, err)
	}
	return string(b), nil
}

// DecodePolygons：解码环集合；任何一环不合法则整体失败，不返回部分结果
func DecodePolygons(text string) (PolygonSet, bool, error) {
	s := strings.TrimSpace(text)
	if s == "" || s == "null" {
		return nil, false, nil
	}
	var raw [][]json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformedGeometry, err)
	}
	out := make(PolygonSet, 0, len(raw))
	for i, pts := range raw {
		if len(pts) < 3 {
			return nil, false, fmt.Errorf("%w: ring %d has %d points", ErrMalformedGeometry, i, len(pts))
		}
		ring := make(Ring, 0, len(pts))
		for j, p := range pts {
			ll, err := NormalizeLatLng(p)
			if err != nil {
				return nil, false, fmt.Errorf("%w: ring %d point %d: %v", ErrMalformedGeometry, i, j, err)
			}
			ring = append(ring, ll)
		}
		out = append(out, ring)
	}
	return out, true, nil
}

// EncodeMarkers：编码点标记
func EncodeMarkers(set MarkerSet) (string, error) {
	raw := make([]encodedMarker, 0, len(set))
	for i, m := range set {
		ll, err := NormalizeLatLng(m.Position)
		if err != nil {
			return "", fmt.Errorf("marker %d: %w", i, err)
		}
		raw = append(raw, encodedMarker{Position: ll.Tuple(), Content: m.Label})
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCoordinate, err)
	}
	return string(b), nil
}

// DecodeMarkers：解码点标记
func DecodeMarkers(text string) (MarkerSet, bool, error) {
	s := strings.TrimSpace(text)
	if s == "" || s == "null" {
		return nil, false, nil
	}
	var raw []storedMarker
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformedGeometry, err)
	}
	out := make(MarkerSet, 0, len(raw))
	for i, m := range raw {
		if len(m.Position) == 0 {
			return nil, false, fmt.Errorf("%w: marker %d has no position", ErrMalformedGeometry, i)
		}
		ll, err := NormalizeLatLng(m.Position)
		if err != nil {
			return nil, false, fmt.Errorf("%w: marker %d: %v", ErrMalformedGeometry, i, err)
		}
		out = append(out, Marker{Position: ll, Label: m.Content})
	}
	return out, true, nil
}
