package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timmy/tendersync/internal/api/handler"
	"github.com/timmy/tendersync/internal/api/middleware"
	"github.com/timmy/tendersync/internal/logger"
	"github.com/timmy/tendersync/internal/metrics"
	"github.com/timmy/tendersync/internal/service"
)

// RouterConfig holds what the router needs beyond its services.
type RouterConfig struct {
	Mode            string
	ServiceName     string
	CORS            middleware.CORSConfig
	FreshnessWindow time.Duration
	ExposeMetrics   bool
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	catalog *service.Catalog,
	history handler.RunHistory,
	log *logger.Logger,
	cfg RouterConfig,
) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(cfg.ServiceName)
	tenderHandler := handler.NewTenderHandler(catalog)
	systemHandler := handler.NewSystemHandler(history, cfg.FreshnessWindow)

	r.GET("/health", healthHandler.Health)
	if cfg.ExposeMetrics {
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/tenders", tenderHandler.ListTenders)
		v1.GET("/tenders/:type/:number", tenderHandler.GetTender)

		system := v1.Group("/system")
		system.GET("/update-logs", systemHandler.UpdateLogs)
		system.GET("/health", systemHandler.Health)
	}

	return r
}
