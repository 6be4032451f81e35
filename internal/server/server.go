package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/wabaledger/internal/audit/domain"
	"github.com/smallbiznis/wabaledger/internal/config"
	ledgerdomain "github.com/smallbiznis/wabaledger/internal/ledger/domain"
	"github.com/smallbiznis/wabaledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/wabaledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/wabaledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/wabaledger/internal/observability/tracing"
	plandomain "github.com/smallbiznis/wabaledger/internal/plan/domain"
	"github.com/smallbiznis/wabaledger/internal/ratelimit"
	spendguarddomain "github.com/smallbiznis/wabaledger/internal/spendguard/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	port := strings.TrimSpace(cfg.HTTPPort)
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	ledgerSvc     ledgerdomain.Service
	spendGuardSvc spendguarddomain.Service
	planSvc       plandomain.Service
	auditSvc      auditdomain.Service
	chargeLimiter *ratelimit.ChargeLimiter
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	LedgerSvc     ledgerdomain.Service
	SpendGuardSvc spendguarddomain.Service
	PlanSvc       plandomain.Service
	AuditSvc      auditdomain.Service
	ChargeLimiter *ratelimit.ChargeLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		ledgerSvc:     p.LedgerSvc,
		spendGuardSvc: p.SpendGuardSvc,
		planSvc:       p.PlanSvc,
		auditSvc:      p.AuditSvc,
		chargeLimiter: p.ChargeLimiter,
		obsMetrics:    p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	api.GET("/plans", s.ListPlans)
	api.GET("/estimate", s.EstimateCost)

	// -------- Accounts --------
	api.POST("/accounts", s.OpenAccount)
	api.GET("/accounts/:id", s.GetAccount)
	api.GET("/accounts/:id/balance", s.GetBalance)
	api.GET("/accounts/:id/entries", s.ListEntries)
	api.GET("/accounts/:id/integrity", s.ValidateIntegrity)
	api.GET("/accounts/:id/audit-logs", s.ListAuditLogs)

	// -------- Money movement --------
	api.POST("/accounts/:id/topups", s.RecordTopup)
	api.POST("/accounts/:id/refunds", s.RecordRefund)
	api.POST("/accounts/:id/adjustments", s.RecordAdjustment)

	// -------- Spend guard --------
	api.GET("/accounts/:id/usage", s.UsageSummary)
	api.POST("/accounts/:id/send-checks", s.PreSendCheck)
	api.POST("/accounts/:id/charges", s.ChargeRateLimit(), s.ChargeOne)
	api.POST("/accounts/:id/charges/batch", s.ChargeRateLimit(), s.ChargeBatch)
	api.POST("/accounts/:id/rejections", s.LogRejection)
	api.POST("/accounts/:id/failures", s.LogFailure)
	api.GET("/accounts/:id/messages/:message_id/logs", s.ListMessageLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
