package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/studiobook/internal/booking"
	"github.com/smallbiznis/studiobook/internal/classes"
	"github.com/smallbiznis/studiobook/internal/clock"
	"github.com/smallbiznis/studiobook/internal/config"
	"github.com/smallbiznis/studiobook/internal/credits"
	"github.com/smallbiznis/studiobook/internal/logger"
	"github.com/smallbiznis/studiobook/internal/migration"
	"github.com/smallbiznis/studiobook/internal/notification"
	"github.com/smallbiznis/studiobook/internal/observability/metrics"
	"github.com/smallbiznis/studiobook/internal/outbox"
	"github.com/smallbiznis/studiobook/internal/providers/email"
	"github.com/smallbiznis/studiobook/internal/ratelimit"
	"github.com/smallbiznis/studiobook/internal/sweeper"
	"github.com/smallbiznis/studiobook/internal/waitlist"
	"github.com/smallbiznis/studiobook/pkg/db"
	"go.uber.org/fx"
)

// Standalone sweeper for deployments that run the offer and outbox jobs
// separately from the API. No server module.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		metrics.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		migration.Module,

		classes.Module,
		credits.Module,
		booking.Module,
		waitlist.Module,
		outbox.Module,
		email.Module,
		notification.Module,
		ratelimit.Module,

		sweeper.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
