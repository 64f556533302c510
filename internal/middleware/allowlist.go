package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"geo-survey/internal/utils"
)

// 文档注释：评审端 IP/CIDR 白名单
// 背景：画廊可以浏览、导出并删除全部会话，只应对研究人员开放；参与者入口不受影响。
// 约束：
// 1) 白名单为空时不启用（原样放行），便于本地开发；
// 2) 支持 IPv4/IPv6 CIDR；
// 3) 来源 IP 以 RemoteAddr 为准；部署在反向代理后时通过 REAL_IP_HEADER 指定上游头，取首个有效 IP。
type Allowlist struct {
	l            *slog.Logger
	allowIPs     map[string]struct{}
	allowCIDRs   []*net.IPNet
	realIPHeader string
}

// NewAllowlist：ips 与 cidrs 中无法解析的项被忽略并记录日志
func NewAllowlist(l *slog.Logger, ips, cidrs []string, allowLocal bool, realIPHeader string) *Allowlist {
	m := &Allowlist{l: l, allowIPs: map[string]struct{}{}, realIPHeader: strings.TrimSpace(realIPHeader)}
	for _, p := range ips {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if ip := net.ParseIP(p); ip != nil {
			m.allowIPs[ip.String()] = struct{}{}
		} else {
			l.Warn("allowlist_bad_ip", "value", p)
		}
	}
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, n, err := net.ParseCIDR(c); err == nil {
			m.allowCIDRs = append(m.allowCIDRs, n)
		} else {
			l.Warn("allowlist_bad_cidr", "value", c)
		}
	}
	if allowLocal {
		m.allowIPs["127.0.0.1"] = struct{}{}
		m.allowIPs["::1"] = struct{}{}
	}
	return m
}

// NewAllowlistFromEnv：GALLERY_ALLOW_IPS / GALLERY_ALLOW_CIDRS（逗号分隔）、GALLERY_ALLOW_LOCAL、REAL_IP_HEADER
func NewAllowlistFromEnv(l *slog.Logger) *Allowlist {
	return NewAllowlist(l,
		splitList(utils.EnvOr("GALLERY_ALLOW_IPS", "")),
		splitList(utils.EnvOr("GALLERY_ALLOW_CIDRS", "")),
		utils.EnvBool("GALLERY_ALLOW_LOCAL", false),
		utils.EnvOr("REAL_IP_HEADER", ""),
	)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// Enabled：是否配置了任何允许项
func (m *Allowlist) Enabled() bool {
	return len(m.allowIPs) > 0 || len(m.allowCIDRs) > 0
}

// Wrap：生成 http.Handler 中间件；未启用时原样返回
func (m *Allowlist) Wrap(next http.Handler) http.Handler {
	if !m.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := m.extractIP(r)
		if ip != nil && m.allowed(ip) {
			next.ServeHTTP(w, r)
			return
		}
		m.l.Debug("allowlist_block", "ip", r.RemoteAddr, "path", r.URL.Path)
		w.Header().Set("content-type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"forbidden","message":"reviewer access only"}` + "\n"))
	})
}

func (m *Allowlist) allowed(ip net.IP) bool {
	if _, ok := m.allowIPs[ip.String()]; ok {
		return true
	}
	for _, n := range m.allowCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// extractIP：解析请求来源 IP；优先指定头的首个有效 IP
func (m *Allowlist) extractIP(r *http.Request) net.IP {
	if m.realIPHeader != "" {
		if raw := r.Header.Get(m.realIPHeader); raw != "" {
			first := strings.TrimSpace(strings.Split(raw, ",")[0])
			if ip := net.ParseIP(first); ip != nil {
				return ip
			}
		}
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return net.ParseIP(host)
}
