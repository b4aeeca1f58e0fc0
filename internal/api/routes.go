package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/batch-approval/internal/auth"
	"github.com/mautops/batch-approval/internal/config"
	"github.com/mautops/batch-approval/internal/service"
	"github.com/mautops/batch-approval/internal/websocket"
	"gorm.io/gorm"
)

// RouterOptions 路由依赖,可选依赖为 nil 时对应功能不启用
type RouterOptions struct {
	Config       *config.Config
	DB           *gorm.DB
	Hub          *websocket.Hub
	Validator    *auth.KeycloakTokenValidator // nil 时使用 X-User-ID 请求头认证
	Permissions  auth.PermissionChecker
	FGAHealth    HealthChecker
	Snapshots    SnapshotHealth
	BatchService service.BatchService
	QueryService service.BatchQueryService
}

// SetupRoutes 配置路由
func SetupRoutes(opts RouterOptions) *gin.Engine {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	router := gin.New()

	// 中间件
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(RequestLogMiddleware())
	router.Use(SecurityHeadersMiddleware())
	router.Use(CORSMiddleware(cfg.CORS))
	if cfg.Tracing.Endpoint != "" {
		router.Use(TracingMiddleware(cfg.Tracing.ServiceName, "/health", "/metrics"))
	}
	if cfg.RateLimit.Enabled {
		router.Use(RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}
	router.Use(ErrorHandlerMiddleware())

	// 健康检查
	healthController := NewHealthController(opts.DB, opts.FGAHealth, opts.Snapshots)
	router.GET("/health", healthController.Check)

	// Prometheus 指标端点
	router.GET("/metrics", MetricsHandler)

	// WebSocket 路由
	if opts.Hub != nil {
		router.GET("/ws/batches", websocket.WebSocketHandler(opts.Hub, opts.Validator))
	}

	authMiddleware := auth.DevAuthMiddleware()
	if opts.Validator != nil {
		authMiddleware = auth.KeycloakAuthMiddleware(opts.Validator)
	}

	// API v1 路由组
	v1 := router.Group("/api/v1")
	v1.Use(authMiddleware, RequestContextMiddleware())
	{
		batchController := NewBatchController(opts.BatchService, opts.QueryService)
		viewer := auth.PermissionMiddleware(opts.Permissions, auth.ObjectBatch, auth.RelationViewer)
		commenter := auth.PermissionMiddleware(opts.Permissions, auth.ObjectBatch, auth.RelationCommenter)

		batches := v1.Group("/batches")
		{
			batches.POST("", batchController.Create)
			batches.GET("", batchController.List)
			batches.GET("/:id", viewer, batchController.Get)
			batches.POST("/:id/approve", batchController.Approve)
			batches.POST("/:id/reject", batchController.Reject)
			batches.GET("/:id/approvers", viewer, batchController.Approvers)
			batches.GET("/:id/history", viewer, batchController.History)
			batches.GET("/:id/audit-logs", viewer, batchController.AuditLogs)
			batches.POST("/:id/comments", commenter, batchController.AddComment)
			batches.GET("/:id/comments", viewer, batchController.ListComments)
			batches.POST("/:id/attachments", commenter, batchController.AddAttachment)
			batches.GET("/:id/attachments", viewer, batchController.ListAttachments)
		}
	}

	// 未匹配的路由返回 JSON 格式的 404
	router.NoRoute(func(c *gin.Context) {
		Error(c, http.StatusNotFound, "route not found", "the requested route does not exist")
	})

	return router
}
