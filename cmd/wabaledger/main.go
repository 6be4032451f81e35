package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wabaledger/internal/audit"
	"github.com/smallbiznis/wabaledger/internal/clock"
	"github.com/smallbiznis/wabaledger/internal/config"
	"github.com/smallbiznis/wabaledger/internal/ledger"
	"github.com/smallbiznis/wabaledger/internal/migration"
	"github.com/smallbiznis/wabaledger/internal/observability"
	"github.com/smallbiznis/wabaledger/internal/plan"
	"github.com/smallbiznis/wabaledger/internal/quota"
	"github.com/smallbiznis/wabaledger/internal/ratelimit"
	"github.com/smallbiznis/wabaledger/internal/scheduler"
	"github.com/smallbiznis/wabaledger/internal/server"
	"github.com/smallbiznis/wabaledger/internal/spendguard"
	"github.com/smallbiznis/wabaledger/pkg/db"
	"github.com/smallbiznis/wabaledger/pkg/rdb"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		rdb.Module,
		clock.Module,
		migration.Module,

		// Functional Domains
		audit.Module,
		plan.Module,
		ledger.Module,
		quota.Module,
		spendguard.Module,
		ratelimit.Module,
		scheduler.Module,

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
