// Package api assembles the HTTP API of the print service.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/orrn/netprint/internal/api/handlers"
	"github.com/orrn/netprint/internal/api/middleware"
	"github.com/orrn/netprint/internal/config"
	"github.com/orrn/netprint/internal/metrics"
)

// PrintService is everything the handlers need from the print service.
type PrintService interface {
	handlers.PrinterService
	handlers.DiscoveryService
	handlers.JobService
	handlers.ServiceRegistry
}

// SettingsStore backs both authentication and runtime settings.
type SettingsStore interface {
	middleware.SettingsStore
	handlers.SettingsStore
}

type Deps struct {
	Config   *config.Config
	Service  PrintService
	Settings SettingsStore
	Events   *handlers.EventHub
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

func NewRouter(ctx context.Context, deps Deps, logger *zap.Logger) (*gin.Engine, error) {
	cfg := deps.Config

	auth, err := middleware.NewAuthMiddleware(ctx, deps.Settings, cfg.Auth.Enabled, logger)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logging(logger.Named("http"), deps.Metrics, "/health", "/metrics"))

	r.GET("/health", func(c *gin.Context) {
		pending, running := deps.Service.QueueState()
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"printers": len(deps.Service.Printers()),
			"pending":  pending,
			"running":  running,
		})
	})
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	middleware.RegisterAuthRoutes(v1, auth)

	protected := v1.Group("")
	protected.Use(auth.RequireAuth())
	protected.PUT("/auth/password", auth.ChangePassword)

	handlers.RegisterPrinterRoutes(protected, handlers.NewPrinterHandler(deps.Service))
	handlers.RegisterDiscoveryRoutes(protected, handlers.NewDiscoveryHandler(deps.Service))
	handlers.RegisterJobRoutes(protected,
		handlers.NewJobHandler(deps.Service, cfg.Server.SpoolDir, cfg.Server.MaxUploadMB, logger),
		middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst))
	handlers.RegisterServicesRoutes(protected, handlers.NewServicesHandler(deps.Service))
	handlers.RegisterWebhookRoutes(protected, handlers.NewWebhookHandler(cfg.Webhooks))
	handlers.RegisterSettingsRoutes(protected, handlers.NewSettingsHandler(cfg, deps.Settings))
	if deps.Events != nil {
		handlers.RegisterEventRoutes(protected, deps.Events)
	}

	return r, nil
}
