package handler

import (
	"net/http"

	"chat-pdf-go/internal/apperr"
	"chat-pdf-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// statusFor 把错误类别映射为 HTTP 状态码。
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage 返回可以展示给用户的错误信息；5xx 一律使用 fallback，细节只进日志。
func publicMessage(err error, fallback string) string {
	if statusFor(err) >= http.StatusInternalServerError {
		return fallback
	}
	return apperr.MessageOf(err, fallback)
}

// respondError 记录错误并以 {"error": "..."} 返回。
func respondError(c *gin.Context, component string, err error, fallback string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("[%s] 请求处理失败, path: %s, error: %v", component, c.Request.URL.Path, err)
	} else {
		log.Warnf("[%s] 请求被拒绝, path: %s, status: %d, error: %v", component, c.Request.URL.Path, status, err)
	}
	c.JSON(status, gin.H{"error": publicMessage(err, fallback)})
}
