package db

import (
	"time"

	"github.com/smallbiznis/entrance/internal/config"
)

// Config holds connection pool settings for the primary database.
type Config struct {
	Type            string
	Name            string
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func configFrom(cfg config.Config) Config {
	return Config{
		Type:            cfg.DBType,
		Name:            cfg.DBName,
		MaxIdleConn:     cfg.DBMaxIdleConn,
		MaxOpenConn:     cfg.DBMaxOpenConn,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTime) * time.Second,
	}
}
