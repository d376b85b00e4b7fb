package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"sfucore/pkg/logger"
)

// RequestLogMiddleware writes one line per request, carrying the request,
// trace, room and user ids placed in the context by earlier middleware.
func RequestLogMiddleware(log *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		log.LogRequest(c.Request.Context(), c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
