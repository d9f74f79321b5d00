package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/mykobo/anchor-solana/migrations"
	"github.com/mykobo/anchor-solana/pkg/logger"
	"github.com/mykobo/anchor-solana/pkg/migrate"
)

// AutoMigrate 执行内嵌的数据库迁移脚本
func AutoMigrate(db *gorm.DB, serviceName string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}

	m := migrate.NewMigrator(sqlDB, serviceName, logger.L())
	return m.AutoMigrate(migrations.FS, migrations.Path)
}
