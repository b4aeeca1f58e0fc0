package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/batch-approval/internal/database"
	"gorm.io/gorm"
)

const probeTimeout = 5 * time.Second

// HealthChecker 外部依赖的健康检查
type HealthChecker interface {
	CheckHealth(ctx context.Context) bool
}

// SnapshotHealth 快照存储的健康检查
type SnapshotHealth interface {
	Healthy() bool
}

// probe 单个依赖的检查,check 为 nil 表示未配置
type probe struct {
	name  string
	check func(ctx context.Context) error
}

// HealthController 健康检查控制器
type HealthController struct {
	probes []probe
}

// NewHealthController 创建健康检查控制器,db、fgaClient 和 snapshots 都可以为 nil
func NewHealthController(db *gorm.DB, fgaClient HealthChecker, snapshots SnapshotHealth) *HealthController {
	probes := []probe{{name: "database"}, {name: "openfga"}, {name: "snapshots"}}
	if db != nil {
		probes[0].check = func(ctx context.Context) error {
			return database.CheckHealth(ctx, db)
		}
	}
	if fgaClient != nil {
		probes[1].check = func(ctx context.Context) error {
			if !fgaClient.CheckHealth(ctx) {
				return errors.New("store not reachable")
			}
			return nil
		}
	}
	if snapshots != nil {
		probes[2].check = func(context.Context) error {
			if !snapshots.Healthy() {
				return errors.New("store closed")
			}
			return nil
		}
	}
	return &HealthController{probes: probes}
}

// Check 健康检查,任一已配置依赖异常时返回 503
func (c *HealthController) Check(ctx *gin.Context) {
	healthy := true
	checks := make(map[string]string, len(c.probes))
	for _, p := range c.probes {
		if p.check == nil {
			checks[p.name] = "not configured"
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx.Request.Context(), probeTimeout)
		err := p.check(probeCtx)
		cancel()
		if err != nil {
			healthy = false
			checks[p.name] = "unhealthy: " + err.Error()
			continue
		}
		checks[p.name] = "healthy"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	ctx.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().Unix(),
		"checks":    checks,
	})
}
