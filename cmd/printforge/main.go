package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/printforge/internal/billing"
	"github.com/smallbiznis/printforge/internal/clock"
	"github.com/smallbiznis/printforge/internal/collaborators"
	"github.com/smallbiznis/printforge/internal/config"
	"github.com/smallbiznis/printforge/internal/fulfillment"
	"github.com/smallbiznis/printforge/internal/ingest"
	"github.com/smallbiznis/printforge/internal/ledger"
	"github.com/smallbiznis/printforge/internal/migration"
	"github.com/smallbiznis/printforge/internal/observability"
	"github.com/smallbiznis/printforge/internal/orderline"
	"github.com/smallbiznis/printforge/internal/platform"
	"github.com/smallbiznis/printforge/internal/provider"
	"github.com/smallbiznis/printforge/internal/reconciler"
	"github.com/smallbiznis/printforge/internal/server"
	"github.com/smallbiznis/printforge/internal/shop"
	"github.com/smallbiznis/printforge/internal/worker"
	"github.com/smallbiznis/printforge/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		shop.Module,
		ledger.Module,
		billing.Module,
		orderline.Module,
		platform.Module,
		provider.Module,
		collaborators.Module,
		fulfillment.Module,
		worker.Module,
		ingest.Module,
		reconciler.Module,
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
