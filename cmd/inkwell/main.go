package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/inkwellhq/inkwell/internal/clock"
	"github.com/inkwellhq/inkwell/internal/config"
	"github.com/inkwellhq/inkwell/internal/logger"
	"github.com/inkwellhq/inkwell/internal/migration"
	obsmetrics "github.com/inkwellhq/inkwell/internal/observability/metrics"
	"github.com/inkwellhq/inkwell/internal/server"
	"github.com/inkwellhq/inkwell/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		obsmetrics.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
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
