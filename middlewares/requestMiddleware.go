package middlewares

import (
	"fmt"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const correlationHeader = "x-correlation-id"

// CorrelationMiddleware reuses the caller's correlation id or generates one.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(correlationHeader)
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header(correlationHeader, cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	}
}

// ErrorLogger logs only requests that collected gin errors.
func ErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"path":           c.FullPath(),
				"status":         c.Writer.Status(),
				"correlation_id": cid,
			}).Error(c.Errors.String())
		}
	}
}

type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware counts requests per client IP in a fixed redis window.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil || rl.client == nil {
			c.Next()
			return
		}
		key := "ratelimit:" + c.ClientIP()

		count, err := rl.client.Incr(c.Request.Context(), key).Result()
		if err != nil {
			_ = c.Error(err)
			c.Next()
			return
		}
		if count == 1 {
			rl.client.Expire(c.Request.Context(), key, rl.window)
		}
		if count > rl.limit {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"reason":  "rate_limited",
				"message": fmt.Sprintf("rate limit exceeded, try again in %d seconds", int(rl.window.Seconds())),
			})
			return
		}
		c.Next()
	}
}
