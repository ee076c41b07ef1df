package db

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/entrance/internal/config"
	obslogger "github.com/smallbiznis/entrance/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprometheus "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db",
	fx.Provide(New),
)

// New opens the primary database, applies pool settings and registers the
// tracing and metrics plugins.
func New(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	logCfg := obslogger.DefaultGormLoggerConfig()
	logCfg.ExpectedError = IsDuplicateKeyErr
	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:  obslogger.NewGormLogger(log, logCfg),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	poolCfg := configFrom(cfg)
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if poolCfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(poolCfg.MaxIdleConn)
	}
	if poolCfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(poolCfg.MaxOpenConn)
	}
	if poolCfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(poolCfg.ConnMaxLifetime)
	}
	if poolCfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(poolCfg.ConnMaxIdleTime)
	}

	if err := conn.Use(otelgorm.NewPlugin(otelgorm.WithDBName(poolCfg.Name))); err != nil {
		return nil, fmt.Errorf("register tracing plugin: %w", err)
	}
	if err := conn.Use(gormprometheus.New(gormprometheus.Config{
		DBName:          poolCfg.Name,
		RefreshInterval: 15,
		StartServer:     false,
	})); err != nil {
		return nil, fmt.Errorf("register metrics plugin: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("closing database connections")
			return sqlDB.Close()
		},
	})

	log.Info("database connected", zap.String("type", poolCfg.Type), zap.String("name", poolCfg.Name))
	return conn, nil
}
