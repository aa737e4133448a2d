package database

import (
	"fuzzrig/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDBConnection opens the bug database and migrates the bugs table. It
// returns nil when DATABASE_URL is not set; crash recording is then skipped.
func NewDBConnection(lc fx.Lifecycle, appConfig *config.AppConfig, log *zap.Logger) (*gorm.DB, error) {
	if appConfig.DatabaseURL == "" {
		log.Debug("no database configured")
		return nil, nil
	}
	db, err := gorm.Open(postgres.Open(appConfig.DatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Bug{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(sqlDB.Close))
	log.Debug("connected to bug database")
	return db, nil
}
