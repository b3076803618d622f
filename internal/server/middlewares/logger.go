package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"

	"shopsync/pkg/logger"
)

// RequestLogger 请求日志中间件
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		log.Infof(c.Request.Context(), "[HTTP] %s %s status=%d duration=%v",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(startTime))
	}
}
