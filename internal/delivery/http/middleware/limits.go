package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const rateWindow = time.Minute

// BodySizeLimit rejects request bodies larger than maxBytes with 413.
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "Request body too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

type client struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// limiter keeps one token bucket per client. Buckets refill at max tokens
// per minute and hold at most max, so a quiet client may burst up to max.
type limiter struct {
	mu       sync.Mutex
	interval time.Duration
	burst    int
	now      func() time.Time
	clients  map[string]*client
}

func newLimiter(maxPerMinute int, now func() time.Time) *limiter {
	return &limiter{
		interval: rateWindow / time.Duration(maxPerMinute),
		burst:    maxPerMinute,
		now:      now,
		clients:  make(map[string]*client),
	}
}

func (l *limiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.clients[ip]
	if !ok {
		l.sweep(now)
		c = &client{bucket: rate.NewLimiter(rate.Every(l.interval), l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.bucket.AllowN(now, 1)
}

// sweep drops clients idle long enough for their bucket to be full again.
// Called with mu held.
func (l *limiter) sweep(now time.Time) {
	for ip, c := range l.clients {
		if now.Sub(c.lastSeen) > 2*rateWindow {
			delete(l.clients, ip)
		}
	}
}

// retryAfter is the time until one token is back, in whole seconds.
func (l *limiter) retryAfter() int {
	secs := int(math.Ceil(l.interval.Seconds()))
	return max(secs, 1)
}

// RateLimiter allows at most maxRequests per minute per client IP. A
// non-positive maxRequests disables limiting.
func RateLimiter(maxRequests int) gin.HandlerFunc {
	if maxRequests <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	l := newLimiter(maxRequests, time.Now)
	msg := "Rate limit exceeded. Maximum " + strconv.Itoa(maxRequests) + " requests per minute."
	retry := strconv.Itoa(l.retryAfter())

	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.Header("Retry-After", retry)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": msg})
			return
		}
		c.Next()
	}
}
