package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/televine/broadcast-api/internal/handler"
	"github.com/televine/broadcast-api/pkg/logger"
)

// ErrorHandler logs errors that handlers attached via c.Error and, when no
// response was written yet, renders the last one through the error taxonomy.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		requestID := c.GetString(ContextRequestID)
		for _, e := range c.Errors {
			log.Error(e.Err, "request error",
				"request_id", requestID,
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP())
		}

		if c.Writer.Written() {
			return
		}
		handler.RespondError(c, c.Errors.Last().Err)
	}
}
