// internal/middleware/logging_middleware.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"micropython-service/internal/utils"
)

// LoggingMiddleware logs every request once it has been served. Successful
// requests to quietPaths, such as liveness probes, are not logged.
func LoggingMiddleware(logger *utils.ServiceLogger, quietPaths ...string) gin.HandlerFunc {
	quiet := make(map[string]struct{}, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if _, ok := quiet[c.Request.URL.Path]; ok && status < 400 {
			return
		}
		logger.LogAPIRequest(utils.APIRequest{
			Method:    c.Request.Method,
			Path:      c.Request.URL.Path,
			RequestID: utils.GetRequestID(c),
			ClientIP:  c.ClientIP(),
			Status:    status,
			Duration:  time.Since(start),
		})
	}
}
