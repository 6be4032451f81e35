package spendguard

import (
	"github.com/smallbiznis/wabaledger/internal/spendguard/repository"
	"github.com/smallbiznis/wabaledger/internal/spendguard/service"
	"go.uber.org/fx"
)

var Module = fx.Module("spendguard.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
