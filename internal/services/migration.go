package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/coilworks/hvac-backend/internal/logger"
	"github.com/coilworks/hvac-backend/internal/repos"
	"github.com/coilworks/hvac-backend/internal/types"
)

type MigrationState string

const (
	MigrationStateIdle        MigrationState = "idle"
	MigrationStateFetching    MigrationState = "fetching"
	MigrationStateProcessing  MigrationState = "processing_batch"
	MigrationStateReconciling MigrationState = "reconciling_tenants"
	MigrationStateDone        MigrationState = "done"
	MigrationStateFailed      MigrationState = "failed"
)

const (
	defaultMigrationBatchSize = 100
	defaultMigrationWorkers   = 4
	dryRunSampleSize          = 10
)

// MigrationReport accumulates what one run did. A record-level failure
// raises Errors and never aborts the run; only store-level failures do.
type MigrationReport struct {
	Processed       int64 `json:"processed_count"`
	Errors          int64 `json:"error_count"`
	Patterns        int64 `json:"patterns_created"`
	Anomalies       int64 `json:"anomalies_created"`
	Outcomes        int64 `json:"outcomes_stored"`
	UsersReconciled int64 `json:"users_reconciled"`
}

// MigrationEstimate is the dry-run projection; nothing is written.
type MigrationEstimate struct {
	TotalRecords       int64 `json:"total_records"`
	EstimatedPatterns  int64 `json:"estimated_patterns"`
	EstimatedAnomalies int64 `json:"estimated_anomalies"`
	EstimatedOutcomes  int64 `json:"estimated_outcomes"`
}

// MigrationPipeline drives the batch backfill of patterns from
// historical diagnostic records:
//
//	Idle -> Fetching -> ProcessingBatch -> (loop) -> ReconcilingTenants -> Done
//
// with Failed reachable from any step on a store-level error. Batches
// are fetched sequentially; records inside a batch are processed with
// bounded concurrency. Writes dedupe by content signature, so an
// interrupted run can simply be re-run.
type MigrationPipeline struct {
	log         *logger.Logger
	calcRepo    repos.CalculationRepo
	roleRepo    repos.UserRoleRepo
	outcomeRepo repos.OutcomeRepo
	extractor   *Extractor
	detector    *AnomalyDetector
	writer      PatternWriter

	batchSize int
	workers   int

	mu    sync.Mutex
	state MigrationState

	companyCache sync.Map // uuid.UUID -> uuid.UUID
}

func NewMigrationPipeline(
	baseLog *logger.Logger,
	calcRepo repos.CalculationRepo,
	roleRepo repos.UserRoleRepo,
	outcomeRepo repos.OutcomeRepo,
	extractor *Extractor,
	detector *AnomalyDetector,
	writer PatternWriter,
	batchSize, workers int,
) *MigrationPipeline {
	if batchSize <= 0 {
		batchSize = defaultMigrationBatchSize
	}
	if workers <= 0 {
		workers = defaultMigrationWorkers
	}
	return &MigrationPipeline{
		log:         baseLog.With("service", "MigrationPipeline"),
		calcRepo:    calcRepo,
		roleRepo:    roleRepo,
		outcomeRepo: outcomeRepo,
		extractor:   extractor,
		detector:    detector,
		writer:      writer,
		batchSize:   batchSize,
		workers:     workers,
		state:       MigrationStateIdle,
	}
}

func (m *MigrationPipeline) State() MigrationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *MigrationPipeline) setState(s MigrationState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Run executes the full migration. The returned report is valid even
// when err != nil; it covers everything done before the failure.
func (m *MigrationPipeline) Run(ctx context.Context) (*MigrationReport, error) {
	report := &MigrationReport{}
	m.log.Info("Starting historical data migration", "batch_size", m.batchSize, "workers", m.workers)

	offset := 0
	batchNum := 0
	for {
		if err := ctx.Err(); err != nil {
			m.setState(MigrationStateFailed)
			return report, fmt.Errorf("migration interrupted: %w", err)
		}

		m.setState(MigrationStateFetching)
		batch, err := m.calcRepo.ListDiagnostic(ctx, nil, m.batchSize, offset)
		if err != nil {
			m.setState(MigrationStateFailed)
			return report, fmt.Errorf("fetch batch at offset %d: %w", offset, err)
		}
		if len(batch) == 0 {
			break
		}
		batchNum++

		m.setState(MigrationStateProcessing)
		m.processBatch(ctx, batch, report)
		m.log.Info("Processed batch",
			"batch", batchNum,
			"processed", atomic.LoadInt64(&report.Processed),
			"errors", atomic.LoadInt64(&report.Errors),
		)

		offset += len(batch)
		if len(batch) < m.batchSize {
			break
		}
	}

	m.setState(MigrationStateReconciling)
	if err := m.reconcileTenants(ctx, report); err != nil {
		m.setState(MigrationStateFailed)
		return report, err
	}

	m.setState(MigrationStateDone)
	m.log.Info("Migration completed",
		"processed", report.Processed,
		"errors", report.Errors,
		"patterns", report.Patterns,
		"anomalies", report.Anomalies,
		"outcomes", report.Outcomes,
	)
	return report, nil
}

func (m *MigrationPipeline) processBatch(ctx context.Context, batch []*types.Calculation, report *MigrationReport) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)

	for _, calc := range batch {
		calc := calc
		g.Go(func() error {
			if err := m.processRecord(gctx, calc, report); err != nil {
				m.log.Error("Error processing calculation", "calculation_id", calc.ID, "error", err)
				atomic.AddInt64(&report.Errors, 1)
				return nil // a bad record never fails the batch
			}
			atomic.AddInt64(&report.Processed, 1)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *MigrationPipeline) processRecord(ctx context.Context, calc *types.Calculation, report *MigrationReport) error {
	session := m.extractor.Extract(calc)
	if session == nil {
		return nil
	}

	companyID, err := m.companyForUser(ctx, calc.UserID)
	if err != nil {
		return fmt.Errorf("resolve company for user %s: %w", calc.UserID, err)
	}
	if companyID == uuid.Nil {
		m.log.Warn("No company found for user, skipping record", "user_id", calc.UserID, "calculation_id", calc.ID)
		return nil
	}

	if len(session.Symptoms) > 0 && session.Diagnosis != "" && session.Outcome != "" && session.Outcome != OutcomeUnknown {
		if _, err := m.writer.WriteSymptomOutcome(ctx, companyID, session.Symptoms, session.Diagnosis, session.Outcome, session.EquipmentModel); err != nil {
			return fmt.Errorf("write symptom outcome: %w", err)
		}
		atomic.AddInt64(&report.Patterns, 1)
	}

	diagnosis := session.Diagnosis
	if diagnosis == "" {
		diagnosis = "Unknown"
	}
	for _, candidate := range m.detector.Detect(session.Measurements, diagnosis) {
		written, err := m.writer.WriteMeasurementAnomaly(ctx, companyID, candidate.Parameter, candidate.MeasuredValue, candidate.ExpectedRange, candidate.Diagnosis)
		if err != nil {
			// One bad anomaly write should not sink the whole record.
			m.log.Error("Failed to write measurement anomaly", "parameter", candidate.Parameter, "calculation_id", calc.ID, "error", err)
			continue
		}
		if written != nil {
			atomic.AddInt64(&report.Anomalies, 1)
		}
	}

	if session.HasSessionContext {
		if err := m.storeOutcome(ctx, calc, session, companyID); err != nil {
			m.log.Error("Failed to store diagnostic outcome", "calculation_id", calc.ID, "error", err)
		} else {
			atomic.AddInt64(&report.Outcomes, 1)
		}
	}
	return nil
}

func (m *MigrationPipeline) storeOutcome(ctx context.Context, calc *types.Calculation, session *TroubleshootingSession, companyID uuid.UUID) error {
	confidence := 50.0
	if session.SuccessRate != nil {
		confidence = *session.SuccessRate * 100
	}
	recommendations, err := json.Marshal(map[string]interface{}{
		"diagnosis":       session.Diagnosis,
		"symptoms":        session.Symptoms,
		"measurements":    session.Measurements,
		"equipment_model": session.EquipmentModel,
		"confidence":      confidence,
	})
	if err != nil {
		return err
	}
	actions, err := json.Marshal(map[string]interface{}{
		"actions_taken": []string{},
		"notes":         session.Diagnosis,
	})
	if err != nil {
		return err
	}

	normalized := NormalizeOutcome(session.Outcome)
	rating := outcomeToRating(session.Outcome)
	resolution, err := json.Marshal(map[string]interface{}{
		"outcome":            session.Outcome,
		"success_rating":     rating,
		"parts_replaced":     []string{},
		"follow_up_required": normalized != OutcomeSuccess,
	})
	if err != nil {
		return err
	}

	return m.outcomeRepo.Create(ctx, nil, &types.DiagnosticOutcome{
		TroubleshootingSessionID: calc.ID.String(),
		CompanyID:                companyID,
		UserID:                   calc.UserID,
		AIRecommendations:        recommendations,
		TechnicianActions:        actions,
		FinalResolution:          resolution,
		SuccessRating:            rating,
		FollowupRequired:         normalized != OutcomeSuccess,
		Notes:                    session.Diagnosis,
	})
}

func outcomeToRating(outcome string) int {
	if outcome == "" || outcome == OutcomeUnknown {
		return 3
	}
	switch NormalizeOutcome(outcome) {
	case OutcomeSuccess:
		return 5
	case OutcomeFailed:
		return 1
	default:
		return 3
	}
}

func (m *MigrationPipeline) companyForUser(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	if cached, ok := m.companyCache.Load(userID); ok {
		return cached.(uuid.UUID), nil
	}
	companyID, err := m.roleRepo.CompanyIDForUser(ctx, nil, userID)
	if err != nil {
		return uuid.Nil, err
	}
	m.companyCache.Store(userID, companyID)
	return companyID, nil
}

// reconcileTenants backfills an admin role for users who own a company
// but carry no tenant mapping. Per-user failures are logged and
// counted, never escalated.
func (m *MigrationPipeline) reconcileTenants(ctx context.Context, report *MigrationReport) error {
	users, err := m.roleRepo.ListUsersWithoutRole(ctx, nil)
	if err != nil {
		return fmt.Errorf("list users without role: %w", err)
	}

	for _, user := range users {
		companyID, err := m.roleRepo.CompanyIDForUser(ctx, nil, user.ID)
		if err != nil {
			m.log.Warn("Could not resolve company for user", "user_id", user.ID, "error", err)
			continue
		}
		if companyID == uuid.Nil {
			continue
		}
		if err := m.roleRepo.CreateAdminRole(ctx, nil, user.ID, companyID); err != nil {
			m.log.Warn("Could not backfill admin role", "user_id", user.ID, "error", err)
			continue
		}
		atomic.AddInt64(&report.UsersReconciled, 1)
	}
	m.log.Info("Tenant reconciliation finished", "users_reconciled", report.UsersReconciled)
	return nil
}

// DryRun samples a prefix of the history and extrapolates how many
// patterns, anomalies, and outcomes a full run would produce. No writes.
func (m *MigrationPipeline) DryRun(ctx context.Context) (*MigrationEstimate, error) {
	total, err := m.calcRepo.CountDiagnostic(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("count diagnostic records: %w", err)
	}
	sample, err := m.calcRepo.ListDiagnostic(ctx, nil, dryRunSampleSize, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch dry-run sample: %w", err)
	}

	estimate := &MigrationEstimate{TotalRecords: total}
	if len(sample) == 0 {
		return estimate, nil
	}

	var patterns, anomalies, outcomes int
	for _, calc := range sample {
		session := m.extractor.Extract(calc)
		if session == nil {
			continue
		}
		if len(session.Symptoms) > 0 && session.Diagnosis != "" && session.Outcome != "" && session.Outcome != OutcomeUnknown {
			patterns++
		}
		diagnosis := session.Diagnosis
		if diagnosis == "" {
			diagnosis = "Unknown"
		}
		anomalies += len(m.detector.Detect(session.Measurements, diagnosis))
		if session.HasSessionContext {
			outcomes++
		}
	}

	scale := float64(total) / float64(len(sample))
	estimate.EstimatedPatterns = int64(math.Round(float64(patterns) * scale))
	estimate.EstimatedAnomalies = int64(math.Round(float64(anomalies) * scale))
	estimate.EstimatedOutcomes = int64(math.Round(float64(outcomes) * scale))
	return estimate, nil
}
