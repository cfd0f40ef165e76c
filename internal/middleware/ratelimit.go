package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/avtotest/exam-backend/internal/response"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RateLimiter is a fixed-window limiter shared by all API instances through
// Redis. Requests are keyed by user when authenticated, by client IP otherwise.
type RateLimiter struct {
	rdb      *redis.Client
	name     string
	rate     int
	interval time.Duration
	log      zerolog.Logger
}

// NewRateLimiter creates a RateLimiter allowing rate requests per interval
// (e.g., 10 exam starts per minute).
func NewRateLimiter(rdb *redis.Client, name string, rate int, interval time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:      rdb,
		name:     name,
		rate:     rate,
		interval: interval,
		log:      log.With().Str("component", "ratelimit").Str("limiter", name).Logger(),
	}
}

// Middleware returns a Gin middleware enforcing the limit. If Redis is
// unreachable the request is let through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.key(c, time.Now())

		pipe := rl.rdb.TxPipeline()
		incr := pipe.Incr(c.Request.Context(), key)
		pipe.Expire(c.Request.Context(), key, rl.interval)
		if _, err := pipe.Exec(c.Request.Context()); err != nil {
			rl.log.Warn().Err(err).Msg("Rate limit check failed")
			c.Next()
			return
		}

		count := incr.Val()
		remaining := int64(rl.rate) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.rate))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(rl.rate) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) key(c *gin.Context, now time.Time) string {
	subject := "ip:" + c.ClientIP()
	if claims := GetClaims(c); claims != nil {
		subject = "user:" + strconv.FormatInt(claims.UserID, 10)
	}
	window := now.UnixNano() / int64(rl.interval)
	return fmt.Sprintf("ratelimit:%s:%s:%d", rl.name, subject, window)
}
