package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/upimatch/internal/config"
	"github.com/smallbiznis/upimatch/internal/observability"
	obsmiddleware "github.com/smallbiznis/upimatch/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/upimatch/internal/observability/metrics"
	obstracing "github.com/smallbiznis/upimatch/internal/observability/tracing"
	"github.com/smallbiznis/upimatch/internal/ratelimit"
	"github.com/smallbiznis/upimatch/internal/receipt"
	"github.com/smallbiznis/upimatch/internal/reconcile/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
		QuietRoutes:     quietRoutes,
		WebhookRoutes:   webhookRoutes,
		Fields:          requestLogFields,
	}))
	r.Use(obstracing.GinMiddleware(obstracing.MiddlewareConfig{Attributes: spanAttributes}))
	r.Use(httpMetrics.GinMiddleware())
	r.Use(corsMiddleware(cfg.CORSAllowedOrigins))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(cfg, obsCfg, httpMetrics)
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	corsCfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-Request-Id"},
		ExposeHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	allowAll := len(origins) == 0
	for _, origin := range origins {
		if strings.TrimSpace(origin) == "*" {
			allowAll = true
		}
	}
	if allowAll {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
	}
	return cors.New(corsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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
	log        *zap.Logger
	reconciler domain.Service
	journal    domain.Journal
	receipts   *receipt.Renderer
	smsLimiter *ratelimit.SMSLimiter
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	Reconciler domain.Service
	Receipts   *receipt.Renderer
	Journal    domain.Journal        `optional:"true"`
	SMSLimiter *ratelimit.SMSLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics   `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http"),
		reconciler: p.Reconciler,
		journal:    p.Journal,
		receipts:   p.Receipts,
		smsLimiter: p.SMSLimiter,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerLegacyRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Payments --------
	api.POST("/payments", s.CreatePayment)
	api.GET("/payments/:id", s.GetPayment)
	api.GET("/payments/:id/receipt", s.GetPaymentReceipt)
	api.GET("/payments/:id/notifications", s.ListPaymentNotifications)

	// -------- Notifications --------
	s.engine.POST(routeSMS, s.SMSRateLimit(), s.IngestSMS)
}

// registerLegacyRoutes keeps the paths existing SMS forwarders and checkout pages call.
func (s *Server) registerLegacyRoutes() {
	s.engine.POST("/create-payment", s.CreatePayment)
	s.engine.POST(routeLegacySMS, s.SMSRateLimit(), s.IngestSMS)
	s.engine.GET("/check-payment", s.CheckPayment)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
