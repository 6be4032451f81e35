// Command auditor runs the ledger integrity audit as its own process,
// without the HTTP surface.
package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wabaledger/internal/audit"
	"github.com/smallbiznis/wabaledger/internal/clock"
	"github.com/smallbiznis/wabaledger/internal/config"
	"github.com/smallbiznis/wabaledger/internal/ledger"
	"github.com/smallbiznis/wabaledger/internal/observability"
	"github.com/smallbiznis/wabaledger/internal/scheduler"
	"github.com/smallbiznis/wabaledger/pkg/db"
	"github.com/smallbiznis/wabaledger/pkg/rdb"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		rdb.Module,
		clock.Module,

		// Domain services required by the auditor
		audit.Module,
		ledger.Module,
		scheduler.ProviderModule,

		// No server module!
		fx.Invoke(scheduler.Start),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
