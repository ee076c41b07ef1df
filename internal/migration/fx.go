package migration

import (
	"strings"

	"github.com/smallbiznis/entrance/internal/config"
	"github.com/smallbiznis/entrance/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Apply brings the schema up to date for the configured database.
func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	dbType := strings.ToLower(strings.TrimSpace(cfg.DBType))
	if dbType != db.TypePostgres {
		log.Named("migration").Info("applying model schema", zap.String("type", dbType))
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	log.Named("migration").Info("applying sql migrations")
	return RunMigrations(sqlDB)
}
