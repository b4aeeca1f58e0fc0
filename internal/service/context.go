package service

import "context"

type contextKey string

const (
	ctxUserID    contextKey = "user_id"
	ctxRequestID contextKey = "request_id"
	ctxIP        contextKey = "ip"
	ctxUserAgent contextKey = "user_agent"
)

// RequestInfo 请求相关信息,由 API 层写入 context
type RequestInfo struct {
	UserID    string
	RequestID string
	IP        string
	UserAgent string
}

// WithRequestInfo 将请求信息写入 context
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, info.UserID)
	ctx = context.WithValue(ctx, ctxRequestID, info.RequestID)
	ctx = context.WithValue(ctx, ctxIP, info.IP)
	return context.WithValue(ctx, ctxUserAgent, info.UserAgent)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// UserIDFromContext 从 context 获取用户 ID
func UserIDFromContext(ctx context.Context) string {
	return stringValue(ctx, ctxUserID)
}

// RequestIDFromContext 从 context 获取请求 ID
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, ctxRequestID)
}

// GetClientIP 从 context 获取客户端 IP
func GetClientIP(ctx context.Context) string {
	return stringValue(ctx, ctxIP)
}

// GetUserAgent 从 context 获取 User Agent
func GetUserAgent(ctx context.Context) string {
	return stringValue(ctx, ctxUserAgent)
}
