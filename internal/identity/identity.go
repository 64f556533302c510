// 包 identity：获取或生成稳定的会话标识；标识保存在调用方提供的键值作用域（浏览器 Cookie）中
package identity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"geo-survey/internal/logger"

	"github.com/google/uuid"
)

// DefaultKey：作用域中保存会话标识的键
const DefaultKey = "sessionId"

// Scope：持久键值作用域；按需读取，缺省时写入一次
type Scope interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// EnsureFunc：确保会话文档存在（幂等）
type EnsureFunc func(ctx context.Context, sessionID string) error

// Provider：会话标识提供者
type Provider struct {
	Key    string
	Mint   func() string
	Ensure EnsureFunc
}

// NewProvider：使用 uuid 生成标识
func NewProvider(key string, ensure EnsureFunc) *Provider {
	if key == "" {
		key = DefaultKey
	}
	return &Provider{Key: key, Mint: uuid.NewString, Ensure: ensure}
}

// 文档注释：获取或创建会话标识
// 背景：首次访问时才生成（惰性），写入作用域后调用 Ensure 建立会话文档；与首次保存结果共用同一幂等操作。
// 约束：Ensure 失败不回滚已写入的标识；下次保存结果时会再次确保会话存在。
func (p *Provider) GetOrCreate(ctx context.Context, scope Scope) (string, error) {
	if id, ok := scope.Get(p.Key); ok && id != "" {
		return id, nil
	}
	id := p.Mint()
	scope.Set(p.Key, id)
	logger.L().Info("session_minted", "id", id)
	if p.Ensure != nil {
		if err := p.Ensure(ctx, id); err != nil {
			logger.L().Error("session_ensure_error", "id", id, "err", err)
			return id, err
		}
	}
	return id, nil
}

// MapScope：进程内作用域，供命令行与测试使用
type MapScope struct {
	mu sync.Mutex
	m  map[string]string
}

func NewMapScope() *MapScope { return &MapScope{m: map[string]string{}} }

func (s *MapScope) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *MapScope) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

// CookieScope：基于请求 Cookie 的作用域；写入通过响应 Set-Cookie 生效
// 约束：同一请求内 Set 之后的 Get 返回新值，避免一次请求内重复生成
type CookieScope struct {
	R      *http.Request
	W      http.ResponseWriter
	MaxAge time.Duration
	Secure bool

	written map[string]string
}

func (c *CookieScope) Get(key string) (string, bool) {
	if v, ok := c.written[key]; ok {
		return v, true
	}
	ck, err := c.R.Cookie(key)
	if err != nil || ck.Value == "" {
		return "", false
	}
	return ck.Value, true
}

func (c *CookieScope) Set(key, value string) {
	if c.written == nil {
		c.written = map[string]string{}
	}
	c.written[key] = value
	age := c.MaxAge
	if age <= 0 {
		age = 365 * 24 * time.Hour
	}
	http.SetCookie(c.W, &http.Cookie{
		Name:     key,
		Value:    value,
		Path:     "/",
		MaxAge:   int(age.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
