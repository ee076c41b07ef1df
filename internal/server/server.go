package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	authdomain "github.com/smallbiznis/entrance/internal/auth/domain"
	"github.com/smallbiznis/entrance/internal/auth/session"
	"github.com/smallbiznis/entrance/internal/config"
	"github.com/smallbiznis/entrance/internal/observability"
	obsmiddleware "github.com/smallbiznis/entrance/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/entrance/internal/observability/metrics"
	obstracing "github.com/smallbiznis/entrance/internal/observability/tracing"
	"github.com/smallbiznis/entrance/internal/ratelimit"
	"github.com/smallbiznis/entrance/internal/realtime"
	signupdomain "github.com/smallbiznis/entrance/internal/signup/domain"
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
	r.Use(obstracing.GinMiddleware(classifyErrorForLog))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	signupsvc  signupdomain.Service
	authsvc    authdomain.Service
	sessions   *session.Manager
	hub        *realtime.Hub
	limiter    *ratelimit.SignupLimiter
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	SignupSvc  signupdomain.Service
	Authsvc    authdomain.Service
	Sessions   *session.Manager
	Hub        *realtime.Hub            `optional:"true"`
	Limiter    *ratelimit.SignupLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		signupsvc:  p.SignupSvc,
		authsvc:    p.Authsvc,
		sessions:   p.Sessions,
		hub:        p.Hub,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1/entrance")

	api.POST("/signup", s.SignupRateLimit(), s.Signup)
	api.GET("/session/events", s.StreamSessionEvents)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
