package repository_test

import (
	"context"
	"testing"

	"github.com/mautops/batch-approval/internal/database"
	"github.com/mautops/batch-approval/internal/model"
	"github.com/mautops/batch-approval/internal/repository"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// setupTestDB 创建迁移好的内存数据库
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

// seedHierarchy 创建 国家(0) > 省(1) > 区(2) 三级行政区划,返回三者
func seedHierarchy(t *testing.T, db *gorm.DB) (*model.AdministrationModel, *model.AdministrationModel, *model.AdministrationModel) {
	ctx := context.Background()
	repo := repository.NewAdministrationRepository(db)

	country := &model.AdministrationModel{Name: "Country"}
	require.NoError(t, repo.Save(ctx, country))
	province := &model.AdministrationModel{Name: "Province", ParentID: &country.ID}
	require.NoError(t, repo.Save(ctx, province))
	district := &model.AdministrationModel{Name: "District", ParentID: &province.ID}
	require.NoError(t, repo.Save(ctx, district))
	return country, province, district
}

func strPtr(s string) *string { return &s }
