package api

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mautops/batch-approval/internal/auth"
	"github.com/mautops/batch-approval/internal/service"
)

// RequestIDKey 请求 ID 在 gin.Context 中的键
const RequestIDKey = "request_id"

// RequestIDMiddleware 为每个请求分配请求 ID,优先使用 X-Request-ID 请求头
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.New().String()
		}
		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// RequestContextMiddleware 将认证用户和请求信息写入请求 context,需放在认证中间件之后
func RequestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := service.WithRequestInfo(c.Request.Context(), service.RequestInfo{
			UserID:    c.GetString(auth.ContextUserID),
			RequestID: c.GetString(RequestIDKey),
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
