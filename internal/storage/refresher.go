package storage

import (
	"context"
	"fmt"

	"github.com/mautops/batch-approval/internal/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Refresher 刷新依赖已通过数据的聚合视图
type Refresher interface {
	Refresh(ctx context.Context) error
}

// viewRefresher 通过 REFRESH MATERIALIZED VIEW 刷新 PostgreSQL 物化视图
type viewRefresher struct {
	db     *gorm.DB
	views  []string
	logger logrus.FieldLogger
}

// NewViewRefresher 创建物化视图刷新器,视图名在创建时校验
func NewViewRefresher(db *gorm.DB, views []string, logger logrus.FieldLogger) (Refresher, error) {
	for _, v := range views {
		if err := utils.ValidateIdentifier(v); err != nil {
			return nil, fmt.Errorf("invalid view name: %w", err)
		}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &viewRefresher{
		db:     db,
		views:  views,
		logger: logger.WithField("component", "refresher"),
	}, nil
}

// Refresh 依次刷新所有视图,非 PostgreSQL 数据库直接跳过
func (r *viewRefresher) Refresh(ctx context.Context) error {
	if len(r.views) == 0 || r.db.Dialector.Name() != "postgres" {
		return nil
	}
	for _, view := range r.views {
		if err := r.db.WithContext(ctx).Exec("REFRESH MATERIALIZED VIEW " + view).Error; err != nil {
			return fmt.Errorf("failed to refresh view %s: %w", view, err)
		}
		r.logger.WithField("view", view).Debug("materialized view refreshed")
	}
	return nil
}

// RefreshFunc 将函数适配为 Refresher
type RefreshFunc func(ctx context.Context) error

// Refresh 调用函数本身
func (f RefreshFunc) Refresh(ctx context.Context) error {
	return f(ctx)
}
