package middleware

import (
	"time"

	"github.com/bhandras/codetutor/shared/logger"
	"github.com/gin-gonic/gin"
)

// quietPaths are logged at debug level; they are polled.
var quietPaths = map[string]bool{
	"/health": true,
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// Process request
		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		// Log format: [http] method path?query - status (latency)
		if raw != "" {
			path = path + "?" + raw
		}

		switch {
		case statusCode >= 500:
			logger.Errorf("[http] %s %s - %d (%v)", c.Request.Method, path, statusCode, latency)
		case quietPaths[c.Request.URL.Path]:
			logger.Debugf("[http] %s %s - %d (%v)", c.Request.Method, path, statusCode, latency)
		default:
			logger.Infof("[http] %s %s - %d (%v)", c.Request.Method, path, statusCode, latency)
		}
	}
}
