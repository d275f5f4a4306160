package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chapel/internal/apperr"
)

// statusFor maps an error kind to an HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindParse:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindDB:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	code := string(kind)
	if code == "" {
		code = "INTERNAL"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code, "retryable": apperr.IsRetryable(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": string(apperr.KindValidation), "retryable": false})
}
