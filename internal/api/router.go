package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/pma-hub-go/internal/api/handlers"
	"github.com/frostdev-ops/pma-hub-go/internal/api/middleware"
	"github.com/frostdev-ops/pma-hub-go/internal/config"
	"github.com/frostdev-ops/pma-hub-go/internal/core/state"
)

// NewRouter creates and configures the main HTTP router
func NewRouter(cfg *config.Config, stateService *state.Service, logger *logrus.Logger) *gin.Engine {
	// Set gin mode based on config
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.ErrorHandlingMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.CORSMiddleware())

	h := handlers.NewHandlers(stateService, logger)

	// Liveness and metrics, outside the API group
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		entities := api.Group("/entities")
		{
			entities.GET("", h.GetAllEntities)
			entities.GET("/:entity_id", h.GetEntityState)
		}

		areas := api.Group("/areas")
		{
			areas.GET("", h.GetAllAreas)
			areas.GET("/:area_id/entities", h.GetEntitiesByArea)
			areas.GET("/:area_id/devices", h.GetAreaDevices)
		}

		sensorsGroup := api.Group("/sensors")
		{
			sensorsGroup.GET("", h.GetAllSensors)
			sensorsGroup.GET("/:category", h.GetSensorsByCategory)
		}

		api.POST("/services/:domain/:service", h.CallService)

		cacheGroup := api.Group("/cache")
		{
			cacheGroup.GET("/stats", h.GetCacheStats)
			cacheGroup.POST("/clear", h.ClearCache)
		}

		api.GET("/hub/config", h.GetHubConfig)
	}

	return router
}
