package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucketRefillsEachSecond(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tb := NewTokenBucket(2)
	tb.now = func() time.Time { return now }
	tb.lastSec = now.Unix()

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	now = now.Add(time.Second)
	assert.True(t, tb.Allow())
}

func TestLimitReturns429(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tb := NewTokenBucket(1)
	tb.now = func() time.Time { return now }
	tb.lastSec = now.Unix()
	h := Limit(tb, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestWrapDisabledByDefault(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "")
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := Wrap(inner)
	w := httptest.NewRecorder()
	for i := 0; i < 500; i++ {
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	}
	assert.Equal(t, http.StatusOK, w.Code)
}
