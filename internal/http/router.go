package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/price-summarizer/internal/http/handlers"
	httpMW "github.com/yungbote/price-summarizer/internal/http/middleware"
	"github.com/yungbote/price-summarizer/internal/observability"
	"github.com/yungbote/price-summarizer/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string
	MaxBodySize int64

	// AuthMiddleware guards the push and API routes when set.
	AuthMiddleware *httpMW.AuthMiddleware
	Metrics        *observability.Metrics

	EventHandler  *httpH.EventHandler
	RunHandler    *httpH.RunHandler
	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "price-summarizer"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))
	r.Use(httpMW.LimitBody(cfg.MaxBodySize))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	protected := r.Group("/")
	if cfg.AuthMiddleware != nil {
		protected.Use(cfg.AuthMiddleware.RequireAuth())
	}

	// Storage notifications (push)
	if cfg.EventHandler != nil {
		protected.POST("/events", cfg.EventHandler.Convert)
	}

	api := protected.Group("/api")
	{
		if cfg.EventHandler != nil {
			api.POST("/convert", cfg.EventHandler.Convert)
		}
		if cfg.RunHandler != nil {
			api.GET("/runs", cfg.RunHandler.ListRuns)
			api.GET("/runs/:id", cfg.RunHandler.GetRun)
		}
	}

	return r
}
