package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suteetoe/tenantgate/internal/model"
	"github.com/suteetoe/tenantgate/pkg/config"
)

// Open connects to PostgreSQL and configures the shared pool. The returned
// handle is meant to be injected, never stored globally.
func Open(dbConfig *config.DBConfig, log *zap.Logger) (*gorm.DB, error) {
	pgConfig := postgres.Config{
		DSN:                  dbConfig.GetDSN(),
		PreferSimpleProtocol: true, // Disables implicit prepared statement usage
	}

	db, err := gorm.Open(postgres.New(pgConfig), &gorm.Config{
		Logger:         logger.Default.LogMode(dbConfig.LogLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get database handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConns)
	sqlDB.SetMaxOpenConns(dbConfig.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	log.Info("Database connection established",
		zap.String("host", dbConfig.Host),
		zap.String("db_name", dbConfig.DBName))
	return db, nil
}

// platformEmailIndex keeps super admin emails unique. The composite
// (tenant_id, email) index cannot, because NULL tenant ids never collide.
const platformEmailIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_users_platform_email
	ON users (email) WHERE tenant_id IS NULL`

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Tenant{},
		&model.User{},
		&model.Project{},
		&model.Task{},
		&model.AuditLog{},
	); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	if err := db.Exec(platformEmailIndex).Error; err != nil {
		return fmt.Errorf("failed to create platform email index: %w", err)
	}
	return nil
}
