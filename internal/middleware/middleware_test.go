package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/televine/broadcast-api/pkg/errors"
	"github.com/televine/broadcast-api/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ErrorLevel,
		TimeFormat: time.RFC3339,
		Output:     io.Discard,
	})
}

func perform(engine *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestErrorHandlerMapsAttachedErrors(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestID(), ErrorHandler(testLogger()))
	engine.GET("/bad", func(c *gin.Context) {
		_ = c.Error(apperrors.NewValidation("title is required"))
	})
	engine.GET("/missing", func(c *gin.Context) {
		_ = c.Error(apperrors.NewNotFound("campaign", nil))
	})

	rec := perform(engine, httptest.NewRequest(http.MethodGet, "/bad", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "title is required")

	rec = perform(engine, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorHandlerKeepsWrittenResponse(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestID(), ErrorHandler(testLogger()))
	engine.GET("/half", func(c *gin.Context) {
		c.JSON(http.StatusConflict, gin.H{"status": "error"})
		_ = c.Error(apperrors.NewValidation("logged, not rendered"))
	})

	rec := perform(engine, httptest.NewRequest(http.MethodGet, "/half", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NotContains(t, rec.Body.String(), "logged, not rendered")
}

func TestTimeoutRespondsGatewayTimeout(t *testing.T) {
	engine := gin.New()
	engine.Use(Timeout(TimeoutConfig{Duration: 20 * time.Millisecond}))
	engine.GET("/slow", func(c *gin.Context) {
		<-c.Request.Context().Done()
	})

	rec := perform(engine, httptest.NewRequest(http.MethodGet, "/slow", nil))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Contains(t, rec.Body.String(), "request timed out")
}

func TestSecurityHeadersStamped(t *testing.T) {
	engine := gin.New()
	engine.Use(SecurityHeaders(DefaultSecurityConfig()))
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := perform(engine, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	headers := rec.Header()
	assert.Equal(t, "max-age=31536000; includeSubDomains", headers.Get("Strict-Transport-Security"))
	assert.Equal(t, "DENY", headers.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", headers.Get("X-Content-Type-Options"))
	assert.Contains(t, headers.Get("Content-Security-Policy"), "default-src 'none'")
}

func TestSizeLimitRejectsOversizedBody(t *testing.T) {
	engine := gin.New()
	engine.Use(SizeLimit(SizeLimitConfig{MaxBodySize: 16, MaxHeaderSize: 1 << 14}))
	engine.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
	rec := perform(engine, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("tiny"))
	rec = perform(engine, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSizeLimitRejectsOversizedHeaders(t *testing.T) {
	engine := gin.New()
	engine.Use(SizeLimit(SizeLimitConfig{MaxBodySize: 1 << 20, MaxHeaderSize: 32}))
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Padding", strings.Repeat("p", 64))
	rec := perform(engine, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSizeLimitSkipsConfiguredPaths(t *testing.T) {
	engine := gin.New()
	engine.Use(SizeLimit(SizeLimitConfig{MaxBodySize: 4, MaxHeaderSize: 1 << 14, SkipPaths: []string{"/bulk"}}))
	engine.POST("/bulk", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/bulk", strings.NewReader(strings.Repeat("x", 64)))
	rec := perform(engine, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
