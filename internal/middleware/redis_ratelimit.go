package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/victoralfred/varlab/internal/domain/ratelimit"
)

// AnalysisQuota limits how many analysis runs each client IP may start per window.
// Requests pass through when the limiter itself fails.
func AnalysisQuota(limiter ratelimit.Limiter, quota ratelimit.Quota, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()

		result, err := limiter.Allow(c.Request.Context(), key, quota)
		if err != nil {
			logger.Warn("analysis quota check failed", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "analysis quota exceeded",
					"details": gin.H{
						"limit":       result.Limit,
						"reset_at":    result.ResetTime.Unix(),
						"retry_after": int(result.RetryAfter.Seconds()),
					},
				},
			})
			return
		}

		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, result *ratelimit.Result) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))

	if result.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
	}
}
