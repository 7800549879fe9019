package config

import (
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"estatesettle/internal/models"
)

var DB *gorm.DB

// InitDB opens the postgres connection and migrates the models.
func InitDB(s Settings) {
	db, err := gorm.Open(postgres.Open(s.DSN()), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		logrus.Fatalf("> failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		logrus.Fatalf("> failed to get database instance: %v", err)
	}
	sqlDB.SetMaxIdleConns(20)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	DB = db

	if err := DB.AutoMigrate(models.All()...); err != nil {
		logrus.Fatalf("> failed to migrate database: %v", err)
	}
}
