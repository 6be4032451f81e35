package ledger

import (
	"github.com/smallbiznis/wabaledger/internal/ledger/lock"
	"github.com/smallbiznis/wabaledger/internal/ledger/repository"
	"github.com/smallbiznis/wabaledger/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.Provide),
	fx.Provide(lock.New),
	fx.Provide(service.NewService),
)
