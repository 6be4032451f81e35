package scheduler

import (
	"context"

	"go.uber.org/fx"
)

// ProviderModule supplies the scheduler without starting it.
var ProviderModule = fx.Module("scheduler.provider",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
)

// Module runs the auditor inside the host process when it is enabled.
var Module = fx.Module("scheduler",
	ProviderModule,
	fx.Invoke(NewScheduler),
)

func NewScheduler(lc fx.Lifecycle, cfg Config, sched *Scheduler) {
	if !cfg.Enabled {
		return
	}
	Start(lc, sched)
}

// Start runs the scheduler loop for the lifetime of the fx app.
func Start(lc fx.Lifecycle, sched *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go sched.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
