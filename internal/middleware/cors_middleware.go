// internal/middleware/cors_middleware.go
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"micropython-service/internal/config"
)

// CORSMiddleware lets browser tools drive the board API. An empty or "*"
// origin list allows any origin without credentials.
func CORSMiddleware(security *config.SecurityConfig) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Content-Length", "Accept", RequestIDHeader},
		// File downloads are raw bodies; clients need the type and size.
		ExposeHeaders: []string{"Content-Type", "Content-Length", RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}

	if allowsAnyOrigin(security.AllowedOrigins) {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = security.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	return cors.New(corsConfig)
}

func allowsAnyOrigin(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
