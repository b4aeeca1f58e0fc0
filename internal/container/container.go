package container

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/batch-approval/internal/api"
	"github.com/mautops/batch-approval/internal/auth"
	"github.com/mautops/batch-approval/internal/config"
	"github.com/mautops/batch-approval/internal/database"
	"github.com/mautops/batch-approval/internal/integration"
	"github.com/mautops/batch-approval/internal/metrics"
	"github.com/mautops/batch-approval/internal/repository"
	"github.com/mautops/batch-approval/internal/service"
	"github.com/mautops/batch-approval/internal/storage"
	"github.com/mautops/batch-approval/internal/submission"
	"github.com/mautops/batch-approval/internal/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// permissionCacheTTL OpenFGA 检查结果缓存时间
const permissionCacheTTL = 30 * time.Second

// Container 依赖注入容器
// 管理所有应用依赖,包括数据库、服务、客户端等
type Container struct {
	cfg               *config.Config
	logger            *logrus.Logger
	db                *gorm.DB
	snapshots         *storage.SnapshotStore
	promoter          *submission.Promoter
	hub               *websocket.Hub
	dispatcher        *integration.EventDispatcher
	batchManager      *integration.BatchManager
	fgaClient         *auth.OpenFGAClient
	permissions       auth.PermissionChecker
	keycloakValidator *auth.KeycloakTokenValidator
	batchService      service.BatchService
	queryService      service.BatchQueryService
	repairScheduler   *service.RepairScheduler
	collector         *metrics.Collector
	started           bool
}

// NewContainer 创建依赖注入容器
// 根据配置初始化所有依赖组件,后台组件由 Start 启动
func NewContainer(cfg *config.Config, logger *logrus.Logger) (*Container, error) {
	if logger == nil {
		logger = api.GetLogger()
	}

	// 1. 初始化数据库(带重试机制)
	db, err := database.ConnectWithRetry(cfg.Database, 3, time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// 执行数据库迁移
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	// 2. 快照存储和聚合刷新
	snapshots, err := storage.OpenSnapshotStore(cfg.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}
	refresher, err := storage.NewViewRefresher(db, cfg.Refresh.Views, logger)
	if err != nil {
		_ = snapshots.Close()
		return nil, fmt.Errorf("failed to initialize view refresher: %w", err)
	}

	// 3. 提交数据转正、事件分发和批次管理
	promoter := submission.NewPromoter(db, snapshots, refresher, logger)
	hub := websocket.NewHub()
	dispatcher := integration.NewEventDispatcher(db, cfg.Events, promoter, hub, logger)
	batchManager := integration.NewBatchManager(db, promoter, dispatcher, logger)

	// 4. 初始化 OpenFGA 客户端(未配置时跳过权限检查)
	var fgaClient *auth.OpenFGAClient
	var permissions auth.PermissionChecker
	if cfg.OpenFGA.APIURL != "" {
		fgaClient, err = auth.NewOpenFGAClientWithRetry(cfg.OpenFGA.APIURL, cfg.OpenFGA.StoreID, cfg.OpenFGA.ModelID, 3, time.Second)
		if err != nil {
			_ = snapshots.Close()
			return nil, fmt.Errorf("failed to initialize OpenFGA client: %w", err)
		}
		permissions = auth.NewCachedOpenFGAClient(fgaClient, auth.NewPermissionCache(permissionCacheTTL))
	} else {
		logger.Warn("openfga not configured, permission checks disabled")
	}

	// 5. 初始化 Keycloak Token 验证器(未配置时使用 X-User-ID 请求头)
	var keycloakValidator *auth.KeycloakTokenValidator
	if cfg.Keycloak.Issuer != "" {
		keycloakValidator = auth.NewKeycloakTokenValidator(cfg.Keycloak.Issuer, cfg.Keycloak.JWKSURL)
	} else {
		logger.Warn("keycloak not configured, trusting X-User-ID header")
	}

	// 6. 服务
	auditLogSvc := service.NewAuditLogService(repository.NewAuditLogRepository(db))
	batchService := service.NewBatchService(batchManager, auditLogSvc, permissions, logger)
	queryService := service.NewBatchQueryService(batchManager)
	repairScheduler := service.NewRepairScheduler(dispatcher, cfg.Repair, logger)

	return &Container{
		cfg:               cfg,
		logger:            logger,
		db:                db,
		snapshots:         snapshots,
		promoter:          promoter,
		hub:               hub,
		dispatcher:        dispatcher,
		batchManager:      batchManager,
		fgaClient:         fgaClient,
		permissions:       permissions,
		keycloakValidator: keycloakValidator,
		batchService:      batchService,
		queryService:      queryService,
		repairScheduler:   repairScheduler,
		collector:         metrics.NewCollector(db, 30*time.Second, logger),
	}, nil
}

// Start 启动后台组件
func (c *Container) Start() error {
	c.started = true
	go c.hub.Run()
	c.dispatcher.Start()
	c.collector.Start()
	if err := c.repairScheduler.Start(); err != nil {
		return err
	}
	return nil
}

// Router 创建 HTTP 路由
func (c *Container) Router() *gin.Engine {
	opts := api.RouterOptions{
		Config:       c.cfg,
		DB:           c.db,
		Hub:          c.hub,
		Validator:    c.keycloakValidator,
		Permissions:  c.permissions,
		Snapshots:    c.snapshots,
		BatchService: c.batchService,
		QueryService: c.queryService,
	}
	if c.fgaClient != nil {
		opts.FGAHealth = c.fgaClient
	}
	return api.SetupRoutes(opts)
}

// DB 获取数据库连接
func (c *Container) DB() *gorm.DB {
	return c.db
}

// BatchManager 获取批次管理器
func (c *Container) BatchManager() *integration.BatchManager {
	return c.batchManager
}

// EventDispatcher 获取事件分发器
func (c *Container) EventDispatcher() *integration.EventDispatcher {
	return c.dispatcher
}

// Close 关闭容器,清理资源
func (c *Container) Close() error {
	if c.started {
		c.repairScheduler.Stop()
		c.collector.Stop()
		c.dispatcher.Stop()
		c.hub.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := api.ShutdownTracing(ctx); err != nil {
		c.logger.WithError(err).Warn("failed to shutdown tracing")
	}

	if err := c.snapshots.Close(); err != nil {
		c.logger.WithError(err).Warn("failed to close snapshot store")
	}
	if c.db != nil {
		sqlDB, err := c.db.DB()
		if err == nil {
			return sqlDB.Close()
		}
	}
	return nil
}
