package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coilworks/hvac-backend/internal/db"
	"github.com/coilworks/hvac-backend/internal/logger"
	"github.com/coilworks/hvac-backend/internal/repos"
	"github.com/coilworks/hvac-backend/internal/services"
	"github.com/coilworks/hvac-backend/internal/utils"
)

func main() {
	var dryRun bool
	flag.BoolVar(&dryRun, "dry-run", false, "estimate what a full run would produce without writing")
	flag.Parse()

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

	patternRepo := repos.NewPatternRepo(thePG, log)
	outcomeRepo := repos.NewOutcomeRepo(thePG, log)
	calculationRepo := repos.NewCalculationRepo(thePG, log)
	userRoleRepo := repos.NewUserRoleRepo(thePG, log)

	extractor := services.NewExtractor(log)
	detector := services.NewAnomalyDetector(log)
	writer := services.NewPatternWriter(thePG, log, patternRepo, nil)

	batchSize := utils.GetEnvAsInt("MIGRATION_BATCH_SIZE", 100, log)
	workers := utils.GetEnvAsInt("MIGRATION_WORKERS", 4, log)
	pipeline := services.NewMigrationPipeline(log, calculationRepo, userRoleRepo, outcomeRepo, extractor, detector, writer, batchSize, workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if dryRun {
		estimate, err := pipeline.DryRun(ctx)
		if err != nil {
			log.Error("Dry run failed", "error", err)
			os.Exit(1)
		}
		log.Info("Dry run estimate",
			"total_records", estimate.TotalRecords,
			"estimated_patterns", estimate.EstimatedPatterns,
			"estimated_anomalies", estimate.EstimatedAnomalies,
			"estimated_outcomes", estimate.EstimatedOutcomes,
		)
		return
	}

	report, err := pipeline.Run(ctx)
	if err != nil {
		log.Error("Migration failed",
			"error", err,
			"processed", report.Processed,
			"errors", report.Errors,
		)
		os.Exit(1)
	}
	log.Info("Migration report",
		"processed", report.Processed,
		"errors", report.Errors,
		"patterns", report.Patterns,
		"anomalies", report.Anomalies,
		"outcomes", report.Outcomes,
		"users_reconciled", report.UsersReconciled,
	)
}
