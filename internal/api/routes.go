// 包 api：集中注册问卷与画廊的 HTTP 路由；主入口挂载到 API_BASE 前缀下
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"geo-survey/internal/annotate"
	"geo-survey/internal/gallery"
	"geo-survey/internal/geo"
	"geo-survey/internal/identity"
	"geo-survey/internal/logger"
	"geo-survey/internal/store"
	"geo-survey/internal/survey"
	"geo-survey/internal/tasks"
)

// Backend：路由依赖的结果存储能力（store.Store 与测试替身均满足）
type Backend interface {
	annotate.ResultSink
	EnsureSession(ctx context.Context, sessionID string) error
	GetSession(ctx context.Context, sessionID string) (survey.Session, bool, error)
	GetResult(ctx context.Context, sessionID string, taskID int) (survey.TaskResult, bool, error)
	ListSessions(ctx context.Context) ([]survey.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Subscribe(ctx context.Context) (<-chan string, error)
}

// Deps：路由构建所需依赖
type Deps struct {
	Backend      Backend
	Catalog      *tasks.Catalog
	Registry     *annotate.Registry
	Identity     *identity.Provider
	Fallback     geo.Viewport
	SecureCookie bool
	// Reviewer 包装画廊与只读回看接口（评审端白名单）；为 nil 时不限制
	Reviewer func(http.Handler) http.Handler
}

type server struct {
	Deps
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 /api 前缀
func BuildRoutes(d Deps) *http.ServeMux {
	if d.Registry == nil {
		d.Registry = annotate.NewRegistry(0, 0)
	}
	if d.Identity == nil {
		d.Identity = identity.NewProvider("", d.Backend.EnsureSession)
	}
	if d.Reviewer == nil {
		d.Reviewer = func(h http.Handler) http.Handler { return h }
	}
	s := &server{Deps: d}
	reviewer := func(h http.HandlerFunc) http.Handler { return d.Reviewer(h) }
	mux := http.NewServeMux()
	mux.HandleFunc("GET /session", s.handleSession)
	mux.HandleFunc("GET /tasks", s.handleTasks)
	mux.HandleFunc("GET /tasks/{id}", s.handleTask)
	mux.HandleFunc("POST /tasks/{id}/rings", s.handleRing)
	mux.HandleFunc("POST /tasks/{id}/placing", s.handlePlacing)
	mux.HandleFunc("POST /tasks/{id}/markers", s.handleMarker)
	mux.HandleFunc("POST /tasks/{id}/submit", s.handleSubmit)
	mux.Handle("GET /sessions/{sid}/tasks/{id}/view", reviewer(s.handleView))
	mux.Handle("GET /gallery", reviewer(s.handleGallery))
	mux.Handle("DELETE /gallery/{sid}", reviewer(s.handleDelete))
	mux.Handle("GET /gallery/export", reviewer(s.handleExport))
	mux.Handle("GET /gallery/events", reviewer(s.handleEvents))
	return mux
}

// sessionID：读取或生成当前浏览器的会话标识
// 约束：会话文档建立失败不阻断请求，首次保存结果时会再次确保会话存在
func (s *server) sessionID(w http.ResponseWriter, r *http.Request) (string, error) {
	scope := &identity.CookieScope{R: r, W: w, Secure: s.SecureCookie}
	return s.Identity.GetOrCreate(r.Context(), scope)
}

func taskIndex(r *http.Request) (int, error) {
	n, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		return 0, tasks.ErrUnknownTask
	}
	return n, nil
}

// priorResult：读取先前结果；持久化文本损坏时按“无先前结果”处理
func (s *server) priorResult(ctx context.Context, sid string, taskID int) (survey.Payload, error) {
	tr, ok, err := s.Backend.GetResult(ctx, sid, taskID)
	if err != nil {
		if errors.Is(err, store.ErrStoreUnavailable) {
			return nil, err
		}
		logger.L().Warn("prior_result_ignored", "session", sid, "task", taskID, "err", err)
		return nil, nil
	}
	if !ok {
		return nil, nil
	}
	return tr.Payload, nil
}

// controller：取出（或按需创建）当前会话在该任务上的编辑控制器
// fresh 为 true 时丢弃已提交的旧实例，用于参与者重新进入任务页
func (s *server) controller(ctx context.Context, sid string, taskID int, fresh bool) (*annotate.Controller, error) {
	if c, ok := s.Registry.Get(sid, taskID); ok {
		if !fresh || c.State() != annotate.Submitted {
			return c, nil
		}
	}
	if _, err := s.Catalog.Get(taskID); err != nil {
		return nil, err
	}
	prior, err := s.priorResult(ctx, sid, taskID)
	if err != nil {
		return nil, err
	}
	c, err := annotate.New(sid, s.Catalog, taskID, s.Backend, prior, s.Fallback)
	if err != nil {
		return nil, err
	}
	// 并发构建时以先登记者为准
	return s.Registry.GetOrPut(sid, taskID, c, func(old *annotate.Controller) bool {
		return fresh && old.State() == annotate.Submitted
	}), nil
}

type editorView struct {
	Task       tasks.Definition `json:"task"`
	Total      int              `json:"total"`
	State      annotate.State   `json:"state"`
	WorkingSet survey.Payload   `json:"workingSet"`
	Viewport   geo.Viewport     `json:"viewport"`
}

func (s *server) editorView(c *annotate.Controller) editorView {
	return editorView{
		Task:       c.Task(),
		Total:      s.Catalog.Len(),
		State:      c.State(),
		WorkingSet: c.WorkingSet(),
		Viewport:   c.Viewport(),
	}
}

func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	sid, err := s.sessionID(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, _, err := s.Backend.GetSession(r.Context(), sid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":    sid,
		"stats": gallery.ComputeStats(sess.Results, s.Catalog.Len()),
	})
}

func (s *server) handleTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tasks": s.Catalog.All(), "total": s.Catalog.Len()})
}

// 进入任务页：给出任务定义、初始模式与工作集
func (s *server) handleTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := taskIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sid, _ := s.sessionID(w, r)
	c, err := s.controller(r.Context(), sid, taskID, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.editorView(c))
}

func (s *server) handleRing(w http.ResponseWriter, r *http.Request) {
	taskID, err := taskIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		Ring geo.Ring `json:"ring"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, asInput(err))
		return
	}
	sid, _ := s.sessionID(w, r)
	c, err := s.controller(r.Context(), sid, taskID, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := c.AddRing(body.Ring); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.editorView(c))
}

func (s *server) handlePlacing(w http.ResponseWriter, r *http.Request) {
	taskID, err := taskIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sid, _ := s.sessionID(w, r)
	c, err := s.controller(r.Context(), sid, taskID, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := c.TogglePlacing(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.editorView(c))
}

// 放置标记：标注文本为空视为取消，返回 placed=false
func (s *server) handleMarker(w http.ResponseWriter, r *http.Request) {
	taskID, err := taskIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		Position geo.LatLng `json:"position"`
		Label    string     `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, asInput(err))
		return
	}
	sid, _ := s.sessionID(w, r)
	c, err := s.controller(r.Context(), sid, taskID, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	placed, err := c.PlaceMarker(r.Context(), body.Position, body.Label)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"placed": placed, "editor": s.editorView(c)})
}

func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	taskID, err := taskIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sid, _ := s.sessionID(w, r)
	c, err := s.controller(r.Context(), sid, taskID, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := c.Submit(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type readOnlyView struct {
	Task     tasks.Definition `json:"task"`
	State    annotate.State   `json:"state"`
	Payload  survey.Payload   `json:"payload,omitempty"`
	Viewport geo.Viewport     `json:"viewport"`
	Error    string           `json:"error,omitempty"`
}

// 只读回看：任意会话的已提交结果；无结果或解码失败时使用固定视口
func (s *server) handleView(w http.ResponseWriter, r *http.Request) {
	taskID, err := taskIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	def, err := s.Catalog.Get(taskID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sid := r.PathValue("sid")
	v := readOnlyView{Task: def}
	tr, ok, err := s.Backend.GetResult(r.Context(), sid, taskID)
	if err != nil {
		if errors.Is(err, store.ErrStoreUnavailable) {
			writeError(w, r, err)
			return
		}
		v.Error = err.Error()
	}
	var p survey.Payload
	if ok {
		p = tr.Payload
	}
	c := annotate.NewReadOnly(def, p, s.Fallback)
	v.State = c.State()
	v.Payload = p
	v.Viewport = c.Viewport()
	writeJSON(w, http.StatusOK, v)
}

func (s *server) handleGallery(w http.ResponseWriter, r *http.Request) {
	all, err := s.Backend.ListSessions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	list := gallery.Filter(all, r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": gallery.BuildCards(list, s.Catalog, s.Fallback),
		"total":    len(all),
	})
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	if err := s.Backend.DeleteSession(r.Context(), sid); err != nil {
		writeError(w, r, err)
		return
	}
	s.Registry.DropSession(sid)
	w.WriteHeader(http.StatusNoContent)
}
