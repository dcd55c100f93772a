package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/televine/broadcast-api/internal/handler"
)

type TimeoutConfig struct {
	Duration time.Duration
}

// Timeout bounds request handling. The handler keeps running in its
// goroutine after the deadline; it sees the cancelled context and its
// late write is dropped by the aborted gin writer.
func Timeout(config TimeoutConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), config.Duration)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)

		done := make(chan struct{})
		go func() {
			c.Next()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				c.AbortWithStatusJSON(http.StatusGatewayTimeout,
					handler.NewErrorResponse("request timed out"))
			}
		}
	}
}
