// Package ratelimit throttles API callers with a token bucket per account,
// falling back to the client IP for unauthenticated requests.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var rejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "jobads",
	Subsystem: "ratelimit",
	Name:      "rejected_total",
	Help:      "Requests rejected by the rate limiter, by caller kind.",
}, []string{"caller"})

func init() {
	prometheus.MustRegister(rejectedTotal)
}

// Config sets the sustained rate and burst of each caller's bucket.
type Config struct {
	RequestsPerMinute int
	BurstSize         int
	// IdleTTL is how long an untouched bucket is kept. It is also the
	// sweep period.
	IdleTTL time.Duration
}

// FromRPM returns a config allowing rpm requests per minute with a burst
// of a sixth of that, at least 5.
func FromRPM(rpm int) Config {
	burst := rpm / 6
	if burst < 5 {
		burst = 5
	}
	return Config{RequestsPerMinute: rpm, BurstSize: burst, IdleTTL: 2 * time.Minute}
}

// Limiter holds one token bucket per caller key.
type Limiter struct {
	cfg     Config
	rate    float64 // tokens per second
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// New creates a limiter and starts its idle-bucket sweeper. Call Stop to
// release it.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerMinute < 1 {
		cfg.RequestsPerMinute = 1
	}
	if cfg.BurstSize < 1 {
		cfg.BurstSize = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 2 * time.Minute
	}
	l := &Limiter{
		cfg:     cfg,
		rate:    float64(cfg.RequestsPerMinute) / 60,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.cfg.IdleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.cfg.IdleTTL)
	for key, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Stop ends the sweeper. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Take spends one token from key's bucket. When the bucket is empty it
// returns false and how long until a token is available.
func (l *Limiter) Take(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.BurstSize), seen: now}
		l.buckets[key] = b
	}

	b.tokens = math.Min(float64(l.cfg.BurstSize), b.tokens+now.Sub(b.seen).Seconds()*l.rate)
	b.seen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
	return false, wait
}

// Allow reports whether key may make a request now.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.Take(key)
	return ok
}

// Middleware rate limits per account when the request is authenticated
// and per client IP otherwise. Mount it after auth.Middleware.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, kind := "ip:"+c.ClientIP(), "anonymous"
		if acct := c.GetString("authAccountID"); acct != "" {
			key, kind = "acct:"+acct, "account"
		}

		ok, wait := l.Take(key)
		if !ok {
			rejectedTotal.WithLabelValues(kind).Inc()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests. Please slow down.",
			})
			return
		}

		c.Next()
	}
}
