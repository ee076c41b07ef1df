package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewTest opens an isolated in-memory SQLite database for tests.
func NewTest() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	// A single connection keeps the shared in-memory database alive and
	// serializes writers.
	sqlDB.SetMaxOpenConns(1)
	return conn, nil
}
