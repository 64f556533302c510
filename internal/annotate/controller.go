// 包 annotate：地图标注交互状态机；绘制模式、放置标记模式与只读模式互斥，工作集由控制器实例持有
package annotate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"geo-survey/internal/geo"
	"geo-survey/internal/logger"
	"geo-survey/internal/metrics"
	"geo-survey/internal/survey"
	"geo-survey/internal/tasks"
)

var (
	// ErrEmptyAnnotation：提交时工作集为空
	ErrEmptyAnnotation = errors.New("empty annotation")
	// ErrReadOnly：只读展示不接受输入
	ErrReadOnly = errors.New("read-only view")
	// ErrWrongMode：事件与当前任务类型或模式不符
	ErrWrongMode = errors.New("event not valid in current mode")
	// ErrSubmitted：任务已提交
	ErrSubmitted = errors.New("task already submitted")
)

// State：控制器状态
type State int

const (
	Idle State = iota
	Drawing
	PlacingMarker
	ReadOnly
	Submitted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Drawing:
		return "drawing"
	case PlacingMarker:
		return "placing_marker"
	case ReadOnly:
		return "read_only"
	case Submitted:
		return "submitted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ResultSink：结果写入端（结果存储层）
type ResultSink interface {
	UpsertResult(ctx context.Context, sessionID string, taskID int, p survey.Payload) error
}

// Outcome：提交成功后的导航信号
type Outcome struct {
	Next int  `json:"next,omitempty"`
	Done bool `json:"done"`
}

// 文档注释：标注控制器
// 背景：每个（会话，任务）一份实例，工作集只在实例内部可变；渲染层只拿到快照。
// 约束：多边形为“提交时保存”，点标记为“放置即保存”，两者差异是有意保留的行为。
// 并发：事件可能来自并发请求，方法内部加锁；持久化调用在锁内完成，同一实例的提交天然串行。
type Controller struct {
	mu        sync.Mutex
	sessionID string
	task      tasks.Definition
	catalog   *tasks.Catalog
	sink      ResultSink

	state    State
	rings    geo.PolygonSet
	markers  geo.MarkerSet
	viewport geo.Viewport
}

// 文档注释：创建可编辑控制器
// 背景：初始为 Idle，并立即给出任务类型对应的模式：多边形任务直接进入 Drawing；点标记任务停留在 Idle 等待切换。
// 参数：prior 为先前保存的结果（可为 nil）；点标记任务以其标记作为工作集起点，多边形任务从空白开始重新绘制。
func New(sessionID string, catalog *tasks.Catalog, taskID int, sink ResultSink, prior survey.Payload, fallback geo.Viewport) (*Controller, error) {
	def, err := catalog.Get(taskID)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		sessionID: sessionID,
		task:      def,
		catalog:   catalog,
		sink:      sink,
		state:     Idle,
		viewport:  fallback,
	}
	switch def.Kind {
	case survey.KindPolygon:
		c.state = Drawing
	case survey.KindMarker:
		if mp, ok := prior.(survey.MarkerPayload); ok {
			c.markers = append(geo.MarkerSet(nil), mp.Markers...)
		}
	}
	logger.L().Debug("controller_new", "session", sessionID, "task", taskID, "state", c.state)
	return c, nil
}

// 文档注释：创建只读控制器
// 背景：回看已提交结果；视口适配多边形第一环或全部标记的包围盒，无几何时使用 fallback。
func NewReadOnly(def tasks.Definition, p survey.Payload, fallback geo.Viewport) *Controller {
	c := &Controller{task: def, state: ReadOnly}
	switch v := p.(type) {
	case survey.PolygonPayload:
		c.rings = v.Rings
	case survey.MarkerPayload:
		c.markers = v.Markers
	}
	c.viewport = geo.FitViewport(survey.Points(p), fallback)
	return c
}

// State：当前状态
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Task：控制器对应的任务定义
func (c *Controller) Task() tasks.Definition { return c.task }

// Viewport：当前视口
func (c *Controller) Viewport() geo.Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewport
}

// WorkingSet：工作集快照，按任务类型返回对应负载
func (c *Controller) WorkingSet() survey.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Controller) snapshot() survey.Payload {
	if c.task.Kind == survey.KindMarker {
		return survey.MarkerPayload{Markers: append(geo.MarkerSet(nil), c.markers...)}
	}
	rings := make(geo.PolygonSet, 0, len(c.rings))
	for _, r := range c.rings {
		rings = append(rings, append(geo.Ring(nil), r...))
	}
	return survey.PolygonPayload{Rings: rings}
}

func (c *Controller) guard() error {
	switch c.state {
	case ReadOnly:
		return ErrReadOnly
	case Submitted:
		return ErrSubmitted
	}
	return nil
}

// AddRing：绘制完成一个闭合环，追加到工作集（不立即保存）
func (c *Controller) AddRing(ring geo.Ring) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guard(); err != nil {
		return err
	}
	if c.state != Drawing {
		return fmt.Errorf("%w: add ring in %s", ErrWrongMode, c.state)
	}
	if len(ring) < 3 {
		return fmt.Errorf("%w: %d points", geo.ErrDegenerateRing, len(ring))
	}
	r := make(geo.Ring, 0, len(ring))
	for _, p := range ring {
		ll, err := geo.NormalizeLatLng(p)
		if err != nil {
			return err
		}
		r = append(r, ll)
	}
	c.rings = append(c.rings, r)
	metrics.RingsDrawnTotal.Inc()
	logger.L().Debug("ring_added", "session", c.sessionID, "task", c.task.Index, "points", len(r), "rings", len(c.rings))
	return nil
}

// TogglePlacing：切换放置标记模式；关闭时保留已放置（且已保存）的标记
// 返回：切换后是否处于放置模式
func (c *Controller) TogglePlacing() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guard(); err != nil {
		return false, err
	}
	switch c.state {
	case Idle:
		if c.task.Kind != survey.KindMarker {
			return false, fmt.Errorf("%w: toggle placing on %s task", ErrWrongMode, c.task.Kind)
		}
		c.state = PlacingMarker
	case PlacingMarker:
		c.state = Idle
	default:
		return false, fmt.Errorf("%w: toggle placing in %s", ErrWrongMode, c.state)
	}
	logger.L().Debug("placing_toggled", "session", c.sessionID, "task", c.task.Index, "state", c.state)
	return c.state == PlacingMarker, nil
}

// 文档注释：放置标记（地图点击 + 标注文本）
// 背景：标注文本为空视为取消本次放置，不改变工作集；非空时追加并立即保存整个工作集。
// 约束：保存失败时撤回本次追加并返回错误，工作集与已持久化内容保持一致；状态不变。
// 返回：是否放置了标记
func (c *Controller) PlaceMarker(ctx context.Context, pos geo.LatLng, label string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guard(); err != nil {
		return false, err
	}
	if c.state != PlacingMarker {
		return false, fmt.Errorf("%w: place marker in %s", ErrWrongMode, c.state)
	}
	if label == "" {
		return false, nil
	}
	ll, err := geo.NormalizeLatLng(pos)
	if err != nil {
		return false, err
	}
	prev := c.markers
	c.markers = append(append(geo.MarkerSet(nil), prev...), geo.Marker{Position: ll, Label: label})
	if err := c.sink.UpsertResult(ctx, c.sessionID, c.task.Index, c.snapshot()); err != nil {
		c.markers = prev
		logger.L().Error("marker_save_error", "session", c.sessionID, "task", c.task.Index, "err", err)
		return false, err
	}
	metrics.MarkersPlacedTotal.Inc()
	logger.L().Debug("marker_placed", "session", c.sessionID, "task", c.task.Index, "markers", len(c.markers))
	return true, nil
}

// 文档注释：提交任务
// 背景：校验工作集非空后写入结果存储，成功则进入终态 Submitted，并给出下一任务序号或完成信号。
// 约束：工作集为空返回 ErrEmptyAnnotation 且不调用存储；存储失败时状态与工作集保持不变，可再次提交。
// 点标记任务在关闭放置模式（Idle）后同样允许提交。
func (c *Controller) Submit(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guard(); err != nil {
		return Outcome{}, err
	}
	kind := string(c.task.Kind)
	p := c.snapshot()
	if p.Empty() {
		metrics.SubmissionsTotal.WithLabelValues(kind, "empty").Inc()
		return Outcome{}, ErrEmptyAnnotation
	}
	if err := c.sink.UpsertResult(ctx, c.sessionID, c.task.Index, p); err != nil {
		metrics.SubmissionsTotal.WithLabelValues(kind, "error").Inc()
		logger.L().Error("submit_error", "session", c.sessionID, "task", c.task.Index, "err", err)
		return Outcome{}, err
	}
	c.state = Submitted
	metrics.SubmissionsTotal.WithLabelValues(kind, "ok").Inc()
	logger.L().Info("task_submitted", "session", c.sessionID, "task", c.task.Index, "kind", kind)
	if next, ok := c.catalog.Next(c.task.Index); ok {
		return Outcome{Next: next}, nil
	}
	return Outcome{Done: true}, nil
}
