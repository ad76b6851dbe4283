package mw

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"groupchat/internal/metrics"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc 决定令牌桶的归属。
type KeyFunc func(c *gin.Context) string

// ByIPRoute 按客户端 IP + 路由模板分桶。
func ByIPRoute(c *gin.Context) string {
	return clientIP(c.Request.RemoteAddr) + "|" + routeOf(c)
}

// ByUser 按已认证用户分桶，未认证时退回 IP；必须挂在鉴权中间件之后。
// 换 IP 也绕不过邀请码加入的限速。
func ByUser(c *gin.Context) string {
	if uid := c.GetUint("userID"); uid != 0 {
		return "u" + strconv.FormatUint(uint64(uid), 10) + "|" + routeOf(c)
	}
	return ByIPRoute(c)
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter 按 key 维护令牌桶，空闲超过 ttl 的桶会被回收。
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	r       rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

func NewLimiter(r rate.Limit, burst int, ttl time.Duration) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		r:       r,
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

// Allow 消耗 key 对应桶的一个令牌。
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.r, l.burst)}
		l.buckets[key] = b
	}
	now := l.now()
	b.lastSeen = now
	l.mu.Unlock()
	return b.lim.AllowN(now, 1)
}

// sweep 删除空闲的桶，返回剩余数量。
func (l *Limiter) sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.buckets, k)
		}
	}
	return len(l.buckets)
}

func (l *Limiter) gc(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// Stop 停止回收 goroutine，可重复调用。
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// RateLimit 返回令牌桶限速中间件，超限时返回 429 并计数。
func RateLimit(r rate.Limit, burst int, key KeyFunc) gin.HandlerFunc {
	l := NewLimiter(r, burst, 2*time.Minute)
	go l.gc(30 * time.Second)
	return LimitWith(l, key)
}

// LimitWith 使用已有的 Limiter，便于测试或多路由共享。
func LimitWith(l *Limiter, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(key(c)) {
			metrics.RateLimited.WithLabelValues(routeOf(c)).Inc()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
