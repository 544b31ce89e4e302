// Package router assembles the HTTP surface.
package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/class-seat-booking/api/swagger"
	"github.com/noah-isme/class-seat-booking/internal/handler"
	"github.com/noah-isme/class-seat-booking/internal/middleware"
	"github.com/noah-isme/class-seat-booking/internal/service"
	"github.com/noah-isme/class-seat-booking/pkg/config"
	"github.com/noah-isme/class-seat-booking/pkg/logger"
	corsmiddleware "github.com/noah-isme/class-seat-booking/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/class-seat-booking/pkg/middleware/requestid"
)

// Dependencies are the services the routes dispatch to.
type Dependencies struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *service.MetricsService
	Tokens    middleware.TokenValidator
	Store     handler.Pinger
	Registry  *service.ClassRegistry
	Allocator *service.SeatAllocator
	Canceller *service.CancellationCoordinator
	Queries   *service.QueryService
}

// New builds the gin engine with every route registered.
func New(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(cfg.CORS))
	if cfg.Metrics.Enabled {
		r.Use(middleware.Metrics(deps.Metrics))
	}

	health := handler.NewHealthHandler(deps.Metrics, deps.Store)
	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	if cfg.Metrics.Enabled {
		r.GET("/metrics", health.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	classes := handler.NewClassHandler(deps.Registry, deps.Queries)
	bookings := handler.NewBookingHandler(deps.Allocator, deps.Canceller, deps.Queries)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(deps.Tokens))

	classGroup := api.Group("/classes")
	classGroup.GET("", classes.List)
	classGroup.GET("/:id", classes.Get)
	classGroup.POST("", middleware.Staff(), classes.Create)
	classGroup.DELETE("/:id", middleware.Staff(), classes.Delete)
	classGroup.GET("/:id/bookings", middleware.Staff(), classes.Bookings)
	classGroup.GET("/:id/roster", middleware.Staff(), classes.Roster)

	bookingGroup := api.Group("/bookings", middleware.Students())
	bookingGroup.POST("", bookings.Create)
	bookingGroup.GET("", bookings.List)
	bookingGroup.DELETE("/:id", bookings.Cancel)

	return r
}
