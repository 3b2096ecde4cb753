package middleware

import (
	"net/http"
	"sync"
	"time"

	"finpro-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimiter 按用户（未认证时按客户端 IP）限制请求速率。
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters *cache.Cache
}

// NewRateLimiter 创建限流器。rps 小于等于 0 时不限流。
// 长时间不活跃的用户的限流器会被回收。
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: cache.New(10*time.Minute, 5*time.Minute),
	}
}

func (l *RateLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.limiters.Get(key); ok {
		lim := v.(*rate.Limiter)
		l.limiters.SetDefault(key, lim)
		return lim
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	l.limiters.SetDefault(key, lim)
	return lim
}

// Middleware 返回 gin 中间件，超出速率时返回 429。
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.rps <= 0 {
			c.Next()
			return
		}
		key := "ip:" + c.ClientIP()
		if claims, ok := ClaimsFrom(c); ok {
			key = "user:" + claims.Username
		}
		if !l.limiter(key).Allow() {
			log.Warnf("[RateLimit] 请求过于频繁, key: %s, path: %s", key, c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "Too many requests",
				"data":    nil,
			})
			return
		}
		c.Next()
	}
}
