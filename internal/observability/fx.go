package observability

import (
	"github.com/smallbiznis/wabaledger/internal/observability/logger"
	"github.com/smallbiznis/wabaledger/internal/observability/metrics"
	"github.com/smallbiznis/wabaledger/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module wires the logger, the otel providers and the prometheus collectors
// used by the ledger, guard, scheduler and HTTP layers.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		Config.Logger,
		Config.Tracing,
		Config.Metrics,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.DefaultRegisterer,
		metrics.NewHTTPMetrics,
		metrics.JobsWithConfig,
	),
	// Nothing else depends on the tracer provider; force its construction so
	// the global propagator and exporter are installed.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)
