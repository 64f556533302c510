// 包 testutil: 测试辅助，提供内存版结果存储
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"geo-survey/internal/store"
	"geo-survey/internal/survey"
	"geo-survey/internal/tasks"
)

// 文档注释：内存结果存储
// 背景：控制器、画廊与 HTTP 测试共用，替换/查找/删除规则与 store.Store 一致。
// 约束：各 *Err 字段非空时对应操作直接返回该错误，用于注入存储故障。
type FakeStore struct {
	mu       sync.Mutex
	sessions map[string]*survey.Session
	catalog  *tasks.Catalog
	now      func() time.Time

	// Calls：UpsertResult 调用次数（含失败）
	Calls int
	// Changes：每次成功写入或删除后投递会话标识；为 nil 时 Subscribe 返回 ErrNotifyDisabled
	Changes chan string

	// 故障注入
	UpsertErr error
	EnsureErr error
	GetErr    error
	ListErr   error
	DeleteErr error
}

// NewFakeStore：空存储；catalog 非空时写入前校验任务类型
func NewFakeStore(catalog *tasks.Catalog) *FakeStore {
	return &FakeStore{
		sessions: make(map[string]*survey.Session),
		catalog:  catalog,
		now:      time.Now,
	}
}

// SetClock：替换 createdAt 的时间来源
func (f *FakeStore) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// Seed：原样放入会话（results 可为损坏文本）
func (f *FakeStore) Seed(s survey.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := s
	cp.Results = append([]survey.StoredResult(nil), s.Results...)
	f.sessions[s.ID] = &cp
}

func (f *FakeStore) notify(id string) {
	if f.Changes == nil {
		return
	}
	select {
	case f.Changes <- id:
	default:
	}
}

func (f *FakeStore) ensure(id string) *survey.Session {
	s, ok := f.sessions[id]
	if !ok {
		s = &survey.Session{ID: id, CreatedAt: f.now().UTC()}
		f.sessions[id] = s
	}
	return s
}

func (f *FakeStore) EnsureSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EnsureErr != nil {
		return f.EnsureErr
	}
	f.ensure(sessionID)
	return nil
}

func (f *FakeStore) UpsertResult(ctx context.Context, sessionID string, taskID int, p survey.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.UpsertErr != nil {
		return f.UpsertErr
	}
	if f.catalog != nil {
		if err := f.catalog.CheckKind(taskID, p.Kind()); err != nil {
			return err
		}
	}
	rec, err := survey.EncodeResult(taskID, p)
	if err != nil {
		return err
	}
	s := f.ensure(sessionID)
	s.Results = survey.UpsertInto(s.Results, rec)
	f.notify(sessionID)
	return nil
}

func (f *FakeStore) GetSession(ctx context.Context, sessionID string) (survey.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetErr != nil {
		return survey.Session{}, false, f.GetErr
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return survey.Session{}, false, nil
	}
	cp := *s
	cp.Results = append([]survey.StoredResult(nil), s.Results...)
	return cp, true, nil
}

func (f *FakeStore) GetResult(ctx context.Context, sessionID string, taskID int) (survey.TaskResult, bool, error) {
	s, ok, err := f.GetSession(ctx, sessionID)
	if err != nil || !ok {
		return survey.TaskResult{}, false, err
	}
	return survey.FindResult(s.Results, taskID)
}

func (f *FakeStore) ListSessions(ctx context.Context) ([]survey.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := make([]survey.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		cp := *s
		cp.Results = append([]survey.StoredResult(nil), s.Results...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (f *FakeStore) DeleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	if _, ok := f.sessions[sessionID]; ok {
		delete(f.sessions, sessionID)
		f.notify(sessionID)
	}
	return nil
}

// Subscribe：返回 Changes 通道
func (f *FakeStore) Subscribe(ctx context.Context) (<-chan string, error) {
	if f.Changes == nil {
		return nil, store.ErrNotifyDisabled
	}
	return f.Changes, nil
}

// Len：当前会话数量
func (f *FakeStore) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}
