package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serve(h http.Handler, remote string, header map[string]string) int {
	r := httptest.NewRequest(http.MethodGet, "/gallery", nil)
	r.RemoteAddr = remote
	for k, v := range header {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w.Code
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

func TestAllowlistDisabledWhenEmpty(t *testing.T) {
	a := NewAllowlist(quietLogger(), nil, nil, false, "")
	assert.False(t, a.Enabled())
	assert.Equal(t, http.StatusOK, serve(a.Wrap(okHandler), "203.0.113.9:5000", nil))
}

func TestAllowlistIPsAndCIDRs(t *testing.T) {
	a := NewAllowlist(quietLogger(), []string{"198.51.100.7", "junk"}, []string{"10.0.0.0/8", "2001:db8::/32", "bad/99"}, true, "")
	h := a.Wrap(okHandler)

	assert.Equal(t, http.StatusOK, serve(h, "198.51.100.7:1234", nil))
	assert.Equal(t, http.StatusOK, serve(h, "10.20.30.40:1234", nil))
	assert.Equal(t, http.StatusOK, serve(h, "[2001:db8::1]:443", nil))
	assert.Equal(t, http.StatusOK, serve(h, "127.0.0.1:80", nil))
	assert.Equal(t, http.StatusForbidden, serve(h, "203.0.113.9:5000", nil))
	assert.Equal(t, http.StatusForbidden, serve(h, "garbage", nil))
}

func TestAllowlistRealIPHeader(t *testing.T) {
	a := NewAllowlist(quietLogger(), []string{"198.51.100.7"}, nil, false, "X-Forwarded-For")
	h := a.Wrap(okHandler)

	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:80", map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.1"}))
	assert.Equal(t, http.StatusForbidden, serve(h, "198.51.100.7:80", map[string]string{"X-Forwarded-For": "203.0.113.9"}))
}
