package annotate

import (
	"container/list"
	"sync"
	"time"

	"geo-survey/internal/metrics"
)

// 文档注释：活动控制器注册表（LRU + TTL）
// 背景：HTTP 请求之间需要保留未提交的工作集；以（会话，任务）为键常驻内存，长期无操作或超出容量时淘汰。
// 约束：淘汰即放弃未提交的多边形（与参与者离开页面等价）；点标记已逐个保存，不受影响。
type Registry struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration
	lst  *list.List
	dict map[registryKey]*list.Element
	now  func() time.Time
}

// registryKey：会话标识来自 Cookie，可含任意字符，按字段比较而非拼接字符串
type registryKey struct {
	sid  string
	task int
}

type entry struct {
	k   registryKey
	c   *Controller
	exp time.Time
}

func NewRegistry(capacity int, ttl time.Duration) *Registry {
	if capacity <= 0 {
		capacity = 4096
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Registry{cap: capacity, ttl: ttl, lst: list.New(), dict: make(map[registryKey]*list.Element), now: time.Now}
}

// Get：取出未过期的控制器并刷新过期时间
func (r *Registry) Get(sessionID string, taskID int) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := registryKey{sid: sessionID, task: taskID}
	e, ok := r.dict[k]
	if !ok {
		return nil, false
	}
	it := e.Value.(*entry)
	if r.now().After(it.exp) {
		r.remove(e)
		return nil, false
	}
	it.exp = r.now().Add(r.ttl)
	r.lst.MoveToFront(e)
	return it.c, true
}

// Put：放入控制器，替换同键旧实例
func (r *Registry) Put(sessionID string, taskID int, c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := registryKey{sid: sessionID, task: taskID}
	if e, ok := r.dict[k]; ok {
		e.Value = &entry{k: k, c: c, exp: r.now().Add(r.ttl)}
		r.lst.MoveToFront(e)
		return
	}
	r.dict[k] = r.lst.PushFront(&entry{k: k, c: c, exp: r.now().Add(r.ttl)})
	for r.lst.Len() > r.cap {
		if back := r.lst.Back(); back != nil {
			r.remove(back)
		}
	}
	metrics.LiveControllers.Set(float64(r.lst.Len()))
}

// 文档注释：放入控制器，已有存活实例时保留旧实例
// 背景：同一（会话，任务）的并发首个请求各自构建控制器，只能有一个生效，否则后放入者会丢掉另一方已加入的多边形。
// 约束：replace 非空且对现有实例返回 true 时才替换（用于重新进入已提交的任务）；返回最终登记的实例。
// replace 在注册表锁内调用，不得回调注册表。
func (r *Registry) GetOrPut(sessionID string, taskID int, c *Controller, replace func(*Controller) bool) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := registryKey{sid: sessionID, task: taskID}
	if e, ok := r.dict[k]; ok {
		it := e.Value.(*entry)
		if !r.now().After(it.exp) && (replace == nil || !replace(it.c)) {
			it.exp = r.now().Add(r.ttl)
			r.lst.MoveToFront(e)
			return it.c
		}
		e.Value = &entry{k: k, c: c, exp: r.now().Add(r.ttl)}
		r.lst.MoveToFront(e)
		return c
	}
	r.dict[k] = r.lst.PushFront(&entry{k: k, c: c, exp: r.now().Add(r.ttl)})
	for r.lst.Len() > r.cap {
		if back := r.lst.Back(); back != nil {
			r.remove(back)
		}
	}
	metrics.LiveControllers.Set(float64(r.lst.Len()))
	return c
}

// Drop：移除控制器
func (r *Registry) Drop(sessionID string, taskID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.dict[registryKey{sid: sessionID, task: taskID}]; ok {
		r.remove(e)
	}
}

// DropSession：移除会话下全部控制器（会话被删除时调用）
func (r *Registry) DropSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.dict {
		if k.sid == sessionID {
			r.remove(e)
		}
	}
}

// Len：当前持有数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lst.Len()
}

func (r *Registry) remove(e *list.Element) {
	it := e.Value.(*entry)
	delete(r.dict, it.k)
	r.lst.Remove(e)
	metrics.LiveControllers.Set(float64(r.lst.Len()))
}
