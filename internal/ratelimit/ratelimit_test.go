package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestLimiter(t *testing.T, rpm, burst int) (*Limiter, *fakeClock) {
	t.Helper()
	l := New(Config{RequestsPerMinute: rpm, BurstSize: burst, IdleTTL: time.Minute})
	t.Cleanup(l.Stop)
	clock := &fakeClock{t: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}
	l.now = clock.now
	return l, clock
}

func TestTake_BurstThenRefill(t *testing.T) {
	l, clock := newTestLimiter(t, 60, 5)

	for i := 0; i < 5; i++ {
		ok, _ := l.Take("acct:a")
		require.True(t, ok, "request %d is within burst", i)
	}
	ok, wait := l.Take("acct:a")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	clock.advance(500 * time.Millisecond)
	ok, wait = l.Take("acct:a")
	assert.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, wait)

	clock.advance(500 * time.Millisecond)
	ok, _ = l.Take("acct:a")
	assert.True(t, ok, "one token per second at 60 rpm")
}

func TestTake_RefillIsCappedAtBurst(t *testing.T) {
	l, clock := newTestLimiter(t, 60, 3)

	l.Allow("k")
	clock.advance(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("k"))
	}
	assert.False(t, l.Allow("k"))
}

func TestTake_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 1)

	assert.True(t, l.Allow("acct:a"))
	assert.False(t, l.Allow("acct:a"))
	assert.True(t, l.Allow("acct:b"))
}

func TestEvictIdle(t *testing.T) {
	l, clock := newTestLimiter(t, 60, 2)

	l.Allow("old")
	clock.advance(2 * time.Minute)
	l.Allow("fresh")
	l.evictIdle()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.buckets, "old")
	assert.Contains(t, l.buckets, "fresh")
}

func TestStop_Idempotent(t *testing.T) {
	l := New(FromRPM(60))
	l.Stop()
	assert.NotPanics(t, l.Stop)
}

func TestMiddleware_KeysByAccount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(t, 30, 2)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if acct := c.GetHeader("X-Test-Account"); acct != "" {
			c.Set("authAccountID", acct)
		}
		c.Next()
	})
	r.Use(l.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(acct string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		if acct != "" {
			req.Header.Set("X-Test-Account", acct)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do("acct_a").Code)
	assert.Equal(t, http.StatusOK, do("acct_a").Code)
	w := do("acct_a")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do("acct_b").Code, "accounts have separate buckets")
	assert.Equal(t, http.StatusOK, do("").Code, "anonymous callers are keyed by IP")
}

func TestFromRPM(t *testing.T) {
	assert.Equal(t, Config{RequestsPerMinute: 120, BurstSize: 20, IdleTTL: 2 * time.Minute}, FromRPM(120))
	assert.Equal(t, 5, FromRPM(10).BurstSize)
}
