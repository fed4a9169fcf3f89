// Package server exposes the generation tracking API over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/inkwellhq/inkwell/internal/alert"
	alertdomain "github.com/inkwellhq/inkwell/internal/alert/domain"
	"github.com/inkwellhq/inkwell/internal/config"
	"github.com/inkwellhq/inkwell/internal/generation"
	generationdomain "github.com/inkwellhq/inkwell/internal/generation/domain"
	"github.com/inkwellhq/inkwell/internal/observability"
	obsmiddleware "github.com/inkwellhq/inkwell/internal/observability/logger"
	obsmetrics "github.com/inkwellhq/inkwell/internal/observability/metrics"
	obstracing "github.com/inkwellhq/inkwell/internal/observability/tracing"
	"github.com/inkwellhq/inkwell/internal/quota"
	"github.com/inkwellhq/inkwell/internal/tenant"
)

var Module = fx.Module("http.server",
	tenant.Module,
	quota.Module,
	alert.Module,
	generation.Module,
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
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
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

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	genID      *snowflake.Node
	checker    *quota.Checker
	tracker    generationdomain.Tracker
	alertSvc   alertdomain.Emitter
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	GenID      *snowflake.Node
	Checker    *quota.Checker
	Tracker    generationdomain.Tracker
	AlertSvc   alertdomain.Emitter
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		genID:      p.GenID,
		checker:    p.Checker,
		tracker:    p.Tracker,
		alertSvc:   p.AlertSvc,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.TenantContext())

	// -------- Generations --------
	api.POST("/generations/check", s.CheckGenerationLimit)
	api.POST("/generations", s.StartGeneration)
	api.POST("/generations/:id/complete", s.CompleteGeneration)
	api.POST("/generations/:id/fail", s.FailGeneration)
	api.GET("/generations", s.ListGenerations)

	// -------- Usage --------
	api.GET("/usage", s.GetUsage)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	admin.GET("/alerts", s.ListAdminAlerts)
}
