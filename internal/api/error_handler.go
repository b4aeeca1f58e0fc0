package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/batch-approval/internal/approval"
	"github.com/mautops/batch-approval/internal/service"
)

// APIError API 错误
type APIError struct {
	Code    int
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	return e.Message
}

// ErrorHandlerMiddleware 错误处理中间件,处理通过 c.Error 记录的错误
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			HandleError(c, c.Errors.Last().Err)
		}
	}
}

// WrapError 包装错误
func WrapError(err error, code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Detail:  err.Error(),
	}
}

// StatusOf 将领域错误映射为 HTTP 状态码
func StatusOf(err error) int {
	switch approval.KindOf(err) {
	case approval.KindNotFound:
		return http.StatusNotFound
	case approval.KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case approval.KindConflict:
		return http.StatusConflict
	case approval.KindValidationFailed:
		return http.StatusBadRequest
	}
	if errors.Is(err, service.ErrUnauthenticated) {
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// HandleError 写出错误响应
func HandleError(c *gin.Context, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		Error(c, apiErr.Code, apiErr.Message, apiErr.Detail)
		return
	}

	status := StatusOf(err)
	resp := ErrorResponse{
		Code:    status,
		Message: http.StatusText(status),
		Detail:  err.Error(),
	}
	var domainErr *approval.Error
	if errors.As(err, &domainErr) {
		resp.Message = string(domainErr.Kind)
		resp.BlockingRecordID = domainErr.BlockingRecordID
	}
	if status == http.StatusInternalServerError {
		GetLogger().WithError(err).WithField("request_id", c.GetString(RequestIDKey)).Error("request failed")
		resp.Detail = ""
	}
	c.JSON(status, resp)
}
