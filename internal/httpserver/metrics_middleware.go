package httpserver

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"homework-reminder/pkg/metrics"
)

// MetricsMiddleware 记录每个请求的耗时，path 使用路由模板避免高基数
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
