package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/coilworks/hvac-backend/internal/clients/redis"
	"github.com/coilworks/hvac-backend/internal/db"
	"github.com/coilworks/hvac-backend/internal/handlers"
	"github.com/coilworks/hvac-backend/internal/logger"
	"github.com/coilworks/hvac-backend/internal/repos"
	"github.com/coilworks/hvac-backend/internal/server"
	"github.com/coilworks/hvac-backend/internal/services"
	"github.com/coilworks/hvac-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Redis cache, optional. A nil cache disables caching and nothing
	// else changes.
	var cache services.PatternCache
	if os.Getenv("REDIS_ADDR") != "" {
		redisCache, err := redis.NewPatternCache(log)
		if err != nil {
			log.Warn("Redis init failed, running without pattern cache", "error", err)
		} else {
			defer redisCache.Close()
			cache = redisCache
		}
	}

	// Repos
	log.Info("Setting up Repos from main...")
	patternRepo := repos.NewPatternRepo(thePG, log)
	outcomeRepo := repos.NewOutcomeRepo(thePG, log)

	// Services
	log.Info("Setting up Services from main...")
	scorer := services.NewConfidenceScorer()
	writer := services.NewPatternWriter(thePG, log, patternRepo, cache)
	ranker := services.NewRanker(log, patternRepo, cache, scorer)
	analysisService := services.NewAnalysisService(log, patternRepo)
	feedbackService := services.NewFeedbackService(thePG, log, patternRepo, outcomeRepo, writer, cache)

	// Handlers
	patternHandler := handlers.NewPatternHandler(analysisService, ranker, writer, feedbackService, patternRepo)

	// Router
	var origins []string
	if raw := utils.GetEnv("CORS_ALLOW_ORIGINS", "", log); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}
	router := server.NewRouter(server.RouterConfig{
		Log:            log,
		PatternHandler: patternHandler,
		AllowOrigins:   origins,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Starting server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server exited", "error", err)
		os.Exit(1)
	}
}
