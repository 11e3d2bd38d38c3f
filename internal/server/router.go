package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/coilworks/hvac-backend/internal/handlers"
	"github.com/coilworks/hvac-backend/internal/logger"
	"github.com/coilworks/hvac-backend/internal/middleware"
)

type RouterConfig struct {
	Log            *logger.Logger
	PatternHandler *handlers.PatternHandler
	AllowOrigins   []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLog(cfg.Log))

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	patterns := router.Group("/patterns")
	{
		patterns.POST("/analyze", cfg.PatternHandler.AnalyzeHistoricalData)
		patterns.POST("/related", cfg.PatternHandler.FindRelatedPatterns)
		patterns.POST("/symptom-outcome", cfg.PatternHandler.CreateSymptomOutcome)
		patterns.POST("/measurement-anomaly", cfg.PatternHandler.CreateMeasurementAnomaly)
		patterns.POST("/enhanced-troubleshoot", cfg.PatternHandler.EnhancedTroubleshoot)
		patterns.PUT("/:patternId/feedback", cfg.PatternHandler.UpdatePatternFeedback)
	}

	router.GET("/companies/:companyId/patterns/:type", cfg.PatternHandler.ListPatternsByType)

	return router
}
