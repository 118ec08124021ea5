package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"hoa-nexus-rag/pkg/log"
)

// OpenPostgres opens the pgvector-enabled database used by the pgvector chunk store.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := configurePool(db); err != nil {
		return nil, err
	}
	log.Info("PostgreSQL database connected successfully")
	return db, nil
}
