package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/printforge/internal/config"
	"github.com/smallbiznis/printforge/internal/ingest"
	"github.com/smallbiznis/printforge/internal/observability"
	obsmiddleware "github.com/smallbiznis/printforge/internal/observability/logger"
	"github.com/smallbiznis/printforge/internal/reconciler"
	shopdomain "github.com/smallbiznis/printforge/internal/shop/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
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

// Server owns the webhook routes.
type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	ingestSvc  *ingest.Service
	reconciler *reconciler.Service
	shops      shopdomain.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	IngestSvc  *ingest.Service
	Reconciler *reconciler.Service
	Shops      shopdomain.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("server"),
		ingestSvc:  p.IngestSvc,
		reconciler: p.Reconciler,
		shops:      p.Shops,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	webhooks := s.engine.Group("/webhooks")
	webhooks.POST("/platform/orders/paid", s.handleOrderPaid)
	webhooks.POST("/provider/:shop_domain", s.handleProviderCallback)
}
