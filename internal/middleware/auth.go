package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/televine/broadcast-api/internal/handler"
	"github.com/televine/broadcast-api/pkg/auth"
)

// ContextUserID is the gin context key the authenticated user id is stored
// under.
const ContextUserID = "user_id"

// Auth verifies the bearer token and stores the user id for handlers.
func Auth(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("missing authorization header"))
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("authorization header must be a bearer token"))
			return
		}

		userID, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid or expired token"))
			return
		}

		c.Set(ContextUserID, userID)
		c.Next()
	}
}
