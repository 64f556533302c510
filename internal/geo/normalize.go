package geo

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// 文档注释：坐标归一化
// 背景：地图组件上报的坐标可能是数组对 [lat, lng]（可带第三位高程），也可能是 {lat, lng} 对象；
// 统一在进入编解码器之前转换为 LatLng，保证存储格式稳定。
// 约束：非有限值与纬度越界视为数据缺陷，返回 ErrInvalidCoordinate；经度不做范围检查（跨越反子午线时地图会给出未回绕的经度）。
func NormalizeLatLng(v any) (LatLng, error) {
	switch x := v.(type) {
	case LatLng:
		return checked(x.Lat, x.Lng)
	case *LatLng:
		if x == nil {
			return LatLng{}, fmt.Errorf("%w: nil", ErrInvalidCoordinate)
		}
		return checked(x.Lat, x.Lng)
	case [2]float64:
		return checked(x[0], x[1])
	case []float64:
		if len(x) < 2 || len(x) > 3 {
			return LatLng{}, fmt.Errorf("%w: tuple of %d values", ErrInvalidCoordinate, len(x))
		}
		return checked(x[0], x[1])
	case []any:
		if len(x) < 2 || len(x) > 3 {
			return LatLng{}, fmt.Errorf("%w: tuple of %d values", ErrInvalidCoordinate, len(x))
		}
		lat, ok1 := toFloat(x[0])
		lng, ok2 := toFloat(x[1])
		if !ok1 || !ok2 {
			return LatLng{}, fmt.Errorf("%w: non-numeric tuple", ErrInvalidCoordinate)
		}
		return checked(lat, lng)
	case map[string]any:
		lat, ok1 := toFloat(x["lat"])
		lngV, has := x["lng"]
		if !has {
			lngV = x["lon"]
		}
		lng, ok2 := toFloat(lngV)
		if !ok1 || !ok2 {
			return LatLng{}, fmt.Errorf("%w: object without numeric lat/lng", ErrInvalidCoordinate)
		}
		return checked(lat, lng)
	case json.RawMessage:
		return normalizeJSON(x)
	case []byte:
		return normalizeJSON(x)
	default:
		return LatLng{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidCoordinate, v)
	}
}

func normalizeJSON(b []byte) (LatLng, error) {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return LatLng{}, fmt.Errorf("%w: empty", ErrInvalidCoordinate)
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return LatLng{}, fmt.Errorf("%w: %v", ErrInvalidCoordinate, err)
	}
	switch v.(type) {
	case []any, map[string]any:
		return NormalizeLatLng(v)
	}
	return LatLng{}, fmt.Errorf("%w: unsupported json %s", ErrInvalidCoordinate, s)
}

func checked(lat, lng float64) (LatLng, error) {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return LatLng{}, fmt.Errorf("%w: non-finite", ErrInvalidCoordinate)
	}
	if lat < -90 || lat > 90 {
		return LatLng{}, fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinate, lat)
	}
	return LatLng{Lat: lat, Lng: lng}, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
