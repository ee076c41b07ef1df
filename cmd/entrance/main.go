package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entrance/internal/auth"
	"github.com/smallbiznis/entrance/internal/billing"
	"github.com/smallbiznis/entrance/internal/billingprovisioning"
	"github.com/smallbiznis/entrance/internal/cache"
	"github.com/smallbiznis/entrance/internal/clock"
	"github.com/smallbiznis/entrance/internal/config"
	"github.com/smallbiznis/entrance/internal/migration"
	"github.com/smallbiznis/entrance/internal/observability"
	"github.com/smallbiznis/entrance/internal/providers"
	"github.com/smallbiznis/entrance/internal/ratelimit"
	"github.com/smallbiznis/entrance/internal/realtime"
	"github.com/smallbiznis/entrance/internal/server"
	"github.com/smallbiznis/entrance/internal/signup"
	"github.com/smallbiznis/entrance/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,

		// Collaborators
		auth.Module,
		billing.Module,
		billingprovisioning.Module,
		providers.Module,
		realtime.Module,
		ratelimit.Module,

		signup.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
