// internal/middleware/recovery_middleware.go
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"micropython-service/internal/utils"
)

// RecoveryMiddleware turns a handler panic into a 500 envelope. A response
// that has already started streaming is only aborted.
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("Panic recovered",
			zap.Any("panic", recovered),
			zap.String("request_id", utils.GetRequestID(c)),
			zap.String("route", c.FullPath()),
			zap.Stack("stacktrace"),
		)

		if c.Writer.Written() {
			c.Abort()
			return
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, "Internal server error", nil)
		c.Abort()
	})
}
