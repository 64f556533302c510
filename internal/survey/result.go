// 包 survey：会话与任务结果的数据模型；结果负载为两分支的标签联合（多边形 / 点标记）
package survey

import (
	"errors"
	"fmt"
	"time"

	"geo-survey/internal/geo"
)

// Kind：任务类型，同时决定交互模式与结果负载形态
type Kind string

const (
	KindPolygon Kind = "polygon"
	KindMarker  Kind = "popup"
)

// ErrKindMismatch：结果类型与任务定义不一致
var ErrKindMismatch = errors.New("result kind does not match task kind")

// Valid：是否为已知任务类型
func (k Kind) Valid() bool { return k == KindPolygon || k == KindMarker }

// Payload：结果负载，只有 PolygonPayload 与 MarkerPayload 两种实现
type Payload interface {
	Kind() Kind
	Empty() bool
	sealed()
}

// PolygonPayload：多边形任务的结果
type PolygonPayload struct {
	Rings geo.PolygonSet `json:"rings"`
}

func (PolygonPayload) Kind() Kind    { return KindPolygon }
func (p PolygonPayload) Empty() bool { return len(p.Rings) == 0 }
func (PolygonPayload) sealed()       {}

// MarkerPayload：点标记任务的结果
type MarkerPayload struct {
	Markers geo.MarkerSet `json:"markers"`
}

func (MarkerPayload) Kind() Kind    { return KindMarker }
func (p MarkerPayload) Empty() bool { return len(p.Markers) == 0 }
func (MarkerPayload) sealed()       {}

// Points：用于视口适配的坐标；多边形只取第一环
func Points(p Payload) []geo.LatLng {
	switch v := p.(type) {
	case PolygonPayload:
		if len(v.Rings) == 0 {
			return nil
		}
		return v.Rings[0]
	case MarkerPayload:
		return v.Markers.Positions()
	}
	return nil
}

// TaskResult：一次任务提交的解码结果
type TaskResult struct {
	TaskID  int     `json:"taskId"`
	Kind    Kind    `json:"kind"`
	Payload Payload `json:"payload"`
}

// StoredResult：结果的存储形态；polygons 与 popups 按 kind 二选一，为编码后的文本
type StoredResult struct {
	TaskID   int    `json:"taskId"`
	Kind     Kind   `json:"kind"`
	Polygons string `json:"polygons,omitempty"`
	Popups   string `json:"popups,omitempty"`
}

// Session：一次参与者会话；results 以 taskId 为键，至多一条
type Session struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	Results   []StoredResult `json:"results"`
}

// EncodeResult：将负载编码为存储形态
func EncodeResult(taskID int, p Payload) (StoredResult, error) {
	r := StoredResult{TaskID: taskID}
	switch v := p.(type) {
	case PolygonPayload:
		s, err := geo.EncodePolygons(v.Rings)
		if err != nil {
			return StoredResult{}, err
		}
		r.Kind, r.Polygons = KindPolygon, s
	case MarkerPayload:
		s, err := geo.EncodeMarkers(v.Markers)
		if err != nil {
			return StoredResult{}, err
		}
		r.Kind, r.Popups = KindMarker, s
	default:
		return StoredResult{}, fmt.Errorf("unsupported payload %T", p)
	}
	return r, nil
}

// Decode：按 kind 解码负载
// 约束：对应字段缺省或为空时返回 ok=false；文本损坏时返回 geo.ErrMalformedGeometry，不返回部分结果
func (r StoredResult) Decode() (TaskResult, bool, error) {
	switch r.Kind {
	case KindPolygon:
		rings, ok, err := geo.DecodePolygons(r.Polygons)
		if err != nil || !ok {
			return TaskResult{}, false, err
		}
		return TaskResult{TaskID: r.TaskID, Kind: r.Kind, Payload: PolygonPayload{Rings: rings}}, true, nil
	case KindMarker:
		markers, ok, err := geo.DecodeMarkers(r.Popups)
		if err != nil || !ok {
			return TaskResult{}, false, err
		}
		return TaskResult{TaskID: r.TaskID, Kind: r.Kind, Payload: MarkerPayload{Markers: markers}}, true, nil
	}
	return TaskResult{}, false, fmt.Errorf("%w: unknown kind %q", geo.ErrMalformedGeometry, r.Kind)
}

// UpsertInto：同 taskId 的旧结果被原位替换，否则追加；不修改入参切片
func UpsertInto(results []StoredResult, r StoredResult) []StoredResult {
	out := make([]StoredResult, 0, len(results)+1)
	replaced := false
	for _, x := range results {
		if x.TaskID == r.TaskID {
			if !replaced {
				out = append(out, r)
				replaced = true
			}
			continue
		}
		out = append(out, x)
	}
	if !replaced {
		out = append(out, r)
	}
	return out
}

// FindResult：查找并解码指定任务的结果
// 返回：ok=false 表示无可用结果；解码失败时同时返回 error，调用方应按“无先前结果”处理
func FindResult(results []StoredResult, taskID int) (TaskResult, bool, error) {
	for _, r := range results {
		if r.TaskID != taskID {
			continue
		}
		tr, ok, err := r.Decode()
		if err != nil {
			return TaskResult{}, false, fmt.Errorf("task %d: %w", taskID, err)
		}
		return tr, ok, nil
	}
	return TaskResult{}, false, nil
}
