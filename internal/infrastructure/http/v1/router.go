// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"fiscalcore/internal/domain/auth"
	"fiscalcore/internal/infrastructure/http/v1/handlers"
	"fiscalcore/internal/infrastructure/http/v1/middleware"
	"fiscalcore/pkg/logger"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	Logger *logger.Logger

	// JWTValidator authenticates callers. When nil, the tenant is taken from
	// X-Tenant-ID and every caller is treated as a billing admin.
	JWTValidator middleware.JWTValidator

	Documents handlers.DocumentService
	Failures  handlers.FailureService
	Series    handlers.SeriesService

	// HealthChecks are pinged by /health/ready.
	HealthChecks map[string]handlers.Pinger
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()

	// Global middleware (order matters!). Recovery sits inside ErrorHandler
	// so a recovered panic is rendered like any other error.
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Recovery())

	healthHandler := handlers.NewHealthHandler(cfg.HealthChecks)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}

	v1 := router.Group("/api/v1")
	if cfg.JWTValidator != nil {
		v1.Use(middleware.Auth(cfg.JWTValidator))
	} else {
		v1.Use(middleware.HeaderTenant(auth.RoleBillingAdmin))
	}

	base := handlers.NewBaseHandler()
	billingGroup := v1.Group("/billing")
	registerDocumentRoutes(billingGroup.Group("/documents"), handlers.NewDocumentHandler(base, cfg.Documents))
	registerFailureRoutes(billingGroup.Group("/imprenta-failures"), handlers.NewFailureHandler(base, cfg.Failures))
	registerSequenceRoutes(billingGroup.Group("/sequences"), handlers.NewSequenceHandler(base, cfg.Series))

	return router
}

func registerDocumentRoutes(group *gin.RouterGroup, h *handlers.DocumentHandler) {
	group.GET("", h.List)
	group.POST("", h.Create)
	group.GET("/:id", h.Get)
	group.POST("/:id/issue", h.Issue)
	group.GET("/:id/status", h.Status)
	group.POST("/:id/advance", h.Advance)
	group.POST("/:id/cancel", middleware.RequireRole(auth.RoleBillingAdmin), h.Cancel)
	group.GET("/:id/audit", h.Audit)
	group.GET("/:id/evidence", h.Evidence)
}

func registerFailureRoutes(group *gin.RouterGroup, h *handlers.FailureHandler) {
	group.GET("", h.List)
	group.POST("/retry", h.Retry)
	group.DELETE("/:id", middleware.RequireRole(auth.RoleBillingAdmin), h.Delete)
}

func registerSequenceRoutes(group *gin.RouterGroup, h *handlers.SequenceHandler) {
	group.GET("", h.List)
	group.POST("", middleware.RequireRole(auth.RoleBillingAdmin), h.Create)
	group.POST("/:id/status", middleware.RequireRole(auth.RoleBillingAdmin), h.SetStatus)
}
