package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/televine/broadcast-api/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Quota   interface{} `json:"quota,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// RespondError maps the error taxonomy onto HTTP statuses. Quota details ride
// along on rate-limit rejections so clients can show remaining capacity.
func RespondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		c.JSON(http.StatusInternalServerError, NewErrorResponse("internal server error"))
		return
	}

	resp := NewErrorResponse(appErr.Message)
	status := http.StatusInternalServerError

	switch appErr.Code {
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrValidation:
		status = http.StatusBadRequest
	case apperrors.ErrUnauthorized:
		status = http.StatusUnauthorized
	case apperrors.ErrRateLimit:
		status = http.StatusTooManyRequests
		resp.Quota = appErr.Quota
	case apperrors.ErrUnavailable:
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, resp)
}
