package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coilworks/hvac-backend/internal/types"
)

type fakeCalculationRepo struct {
	records []*types.Calculation
}

func (f *fakeCalculationRepo) ListDiagnostic(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*types.Calculation, error) {
	if offset >= len(f.records) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.records) {
		end = len(f.records)
	}
	return f.records[offset:end], nil
}

func (f *fakeCalculationRepo) CountDiagnostic(ctx context.Context, tx *gorm.DB) (int64, error) {
	return int64(len(f.records)), nil
}

type fakeUserRoleRepo struct {
	companies    map[uuid.UUID]uuid.UUID
	roleless     []*types.User
	rolesCreated int
	lookups      int
}

func (f *fakeUserRoleRepo) CompanyIDForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (uuid.UUID, error) {
	f.lookups++
	return f.companies[userID], nil
}

func (f *fakeUserRoleRepo) ListUsersWithoutRole(ctx context.Context, tx *gorm.DB) ([]*types.User, error) {
	return f.roleless, nil
}

func (f *fakeUserRoleRepo) CreateAdminRole(ctx context.Context, tx *gorm.DB, userID, companyID uuid.UUID) error {
	f.rolesCreated++
	return nil
}

func newMigrationFixture(t *testing.T, calcs []*types.Calculation, roles *fakeUserRoleRepo, batchSize int) (*MigrationPipeline, *fakePatternRepo, *fakeOutcomeRepo) {
	t.Helper()
	log := testLogger(t)
	patternRepo := &fakePatternRepo{}
	outcomeRepo := &fakeOutcomeRepo{}
	pipeline := NewMigrationPipeline(
		log,
		&fakeCalculationRepo{records: calcs},
		roles,
		outcomeRepo,
		NewExtractor(log),
		NewAnomalyDetector(log),
		NewPatternWriter(nil, log, patternRepo, nil),
		batchSize,
		1,
	)
	return pipeline, patternRepo, outcomeRepo
}

func diagnosticRecord(userID uuid.UUID, params, results string) *types.Calculation {
	c := calcWith(params, results)
	c.UserID = userID
	return c
}

func TestRun_DeduplicatesIdenticalRecords(t *testing.T) {
	userID := uuid.New()
	companyID := uuid.New()
	params := `{"symptoms":["no cooling","ice on coil"],"diagnosis":"Low refrigerant charge"}`
	results := `{"outcome":"success"}`
	calcs := []*types.Calculation{
		diagnosticRecord(userID, params, results),
		diagnosticRecord(userID, params, results),
	}
	roles := &fakeUserRoleRepo{companies: map[uuid.UUID]uuid.UUID{userID: companyID}}
	pipeline, patternRepo, _ := newMigrationFixture(t, calcs, roles, 100)

	report, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Processed != 2 {
		t.Fatalf("expected 2 processed, got %d", report.Processed)
	}
	if report.Errors != 0 {
		t.Fatalf("expected no errors, got %d", report.Errors)
	}
	if len(patternRepo.patterns) != 1 {
		t.Fatalf("expected identical records to collapse to one pattern, got %d", len(patternRepo.patterns))
	}
	if patternRepo.patterns[0].OccurrenceCount != 2 {
		t.Fatalf("expected occurrence 2, got %d", patternRepo.patterns[0].OccurrenceCount)
	}
	if pipeline.State() != MigrationStateDone {
		t.Fatalf("expected done state, got %q", pipeline.State())
	}
}

func TestRun_CreatesAnomalyPatterns(t *testing.T) {
	userID := uuid.New()
	companyID := uuid.New()
	calcs := []*types.Calculation{
		diagnosticRecord(userID,
			`{"symptoms":["no cooling"],"diagnosis":"Low refrigerant","measurements":{"suction_pressure":95,"superheat":10}}`,
			`{"outcome":"success"}`),
	}
	roles := &fakeUserRoleRepo{companies: map[uuid.UUID]uuid.UUID{userID: companyID}}
	pipeline, patternRepo, _ := newMigrationFixture(t, calcs, roles, 100)

	report, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Patterns != 1 {
		t.Fatalf("expected 1 symptom pattern, got %d", report.Patterns)
	}
	if report.Anomalies != 1 {
		t.Fatalf("expected 1 anomaly (superheat in range), got %d", report.Anomalies)
	}
	if len(patternRepo.patterns) != 2 {
		t.Fatalf("expected 2 stored patterns, got %d", len(patternRepo.patterns))
	}
}

func TestRun_SkipsUnattributableAndEmptyRecords(t *testing.T) {
	knownUser := uuid.New()
	orphanUser := uuid.New()
	companyID := uuid.New()
	calcs := []*types.Calculation{
		diagnosticRecord(knownUser, `{"symptoms":["s"],"diagnosis":"d"}`, `{"outcome":"success"}`),
		diagnosticRecord(orphanUser, `{"symptoms":["s"],"diagnosis":"d"}`, `{"outcome":"success"}`),
		diagnosticRecord(knownUser, `{"note":"nothing usable"}`, `{}`),
	}
	roles := &fakeUserRoleRepo{companies: map[uuid.UUID]uuid.UUID{knownUser: companyID}}
	pipeline, patternRepo, _ := newMigrationFixture(t, calcs, roles, 100)

	report, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Skips are not errors; the run keeps going.
	if report.Processed != 3 || report.Errors != 0 {
		t.Fatalf("expected 3 processed, 0 errors, got %d/%d", report.Processed, report.Errors)
	}
	if len(patternRepo.patterns) != 1 {
		t.Fatalf("expected only the attributable record stored, got %d", len(patternRepo.patterns))
	}
}

func TestRun_UnknownOutcomeExcludedFromPatterns(t *testing.T) {
	userID := uuid.New()
	companyID := uuid.New()
	calcs := []*types.Calculation{
		diagnosticRecord(userID, `{"symptoms":["s"],"diagnosis":"d"}`, `{}`),
	}
	roles := &fakeUserRoleRepo{companies: map[uuid.UUID]uuid.UUID{userID: companyID}}
	pipeline, patternRepo, _ := newMigrationFixture(t, calcs, roles, 100)

	report, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Patterns != 0 || len(patternRepo.patterns) != 0 {
		t.Fatalf("expected no patterns for unknown outcome, got %d", len(patternRepo.patterns))
	}
}

func TestRun_StoresOutcomesWithSessionContext(t *testing.T) {
	userID := uuid.New()
	companyID := uuid.New()
	calcs := []*types.Calculation{
		diagnosticRecord(userID,
			`{"symptoms":["s"],"diagnosis":"d","session_context":{"job":"j1"}}`,
			`{"outcome":"success","success_rate":0.9}`),
	}
	roles := &fakeUserRoleRepo{companies: map[uuid.UUID]uuid.UUID{userID: companyID}}
	pipeline, _, outcomeRepo := newMigrationFixture(t, calcs, roles, 100)

	report, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Outcomes != 1 || len(outcomeRepo.created) != 1 {
		t.Fatalf("expected one stored outcome, got %d", len(outcomeRepo.created))
	}
	stored := outcomeRepo.created[0]
	if stored.SuccessRating != 5 {
		t.Fatalf("expected rating 5 for success, got %d", stored.SuccessRating)
	}
	if stored.FollowupRequired {
		t.Fatalf("expected no followup for success outcome")
	}
	if stored.TroubleshootingSessionID != calcs[0].ID.String() {
		t.Fatalf("expected session keyed by calculation id")
	}
}

func TestRun_BatchesAndCachesCompanyLookups(t *testing.T) {
	userID := uuid.New()
	companyID := uuid.New()
	var calcs []*types.Calculation
	for i := 0; i < 5; i++ {
		calcs = append(calcs, diagnosticRecord(userID, `{"symptoms":["s"],"diagnosis":"d"}`, `{"outcome":"success"}`))
	}
	roles := &fakeUserRoleRepo{companies: map[uuid.UUID]uuid.UUID{userID: companyID}}
	pipeline, _, _ := newMigrationFixture(t, calcs, roles, 2) // 3 batches

	report, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Processed != 5 {
		t.Fatalf("expected 5 processed, got %d", report.Processed)
	}
	if roles.lookups != 1 {
		t.Fatalf("expected one company lookup for the cached user, got %d", roles.lookups)
	}
}

func TestRun_ReconcilesRolelessUsers(t *testing.T) {
	owner := uuid.New()
	companyID := uuid.New()
	roles := &fakeUserRoleRepo{
		companies: map[uuid.UUID]uuid.UUID{owner: companyID},
		roleless:  []*types.User{{ID: owner}, {ID: uuid.New()}},
	}
	pipeline, _, _ := newMigrationFixture(t, nil, roles, 100)

	report, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Only the user who owns a company gets a backfilled role.
	if report.UsersReconciled != 1 || roles.rolesCreated != 1 {
		t.Fatalf("expected one reconciled user, got %d (%d created)", report.UsersReconciled, roles.rolesCreated)
	}
}

func TestRun_CancelledContextStopsBetweenBatches(t *testing.T) {
	userID := uuid.New()
	roles := &fakeUserRoleRepo{companies: map[uuid.UUID]uuid.UUID{}}
	calcs := []*types.Calculation{
		diagnosticRecord(userID, `{"symptoms":["s"],"diagnosis":"d"}`, `{"outcome":"success"}`),
	}
	pipeline, _, _ := newMigrationFixture(t, calcs, roles, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pipeline.Run(ctx)
	if err == nil {
		t.Fatalf("expected interruption error")
	}
	if pipeline.State() != MigrationStateFailed {
		t.Fatalf("expected failed state, got %q", pipeline.State())
	}
}

func TestDryRun_EstimatesWithoutWriting(t *testing.T) {
	userID := uuid.New()
	companyID := uuid.New()
	var calcs []*types.Calculation
	for i := 0; i < 20; i++ {
		calcs = append(calcs, diagnosticRecord(userID, `{"symptoms":["s"],"diagnosis":"d"}`, `{"outcome":"success"}`))
	}
	roles := &fakeUserRoleRepo{companies: map[uuid.UUID]uuid.UUID{userID: companyID}}
	pipeline, patternRepo, outcomeRepo := newMigrationFixture(t, calcs, roles, 100)

	estimate, err := pipeline.DryRun(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if estimate.TotalRecords != 20 {
		t.Fatalf("expected 20 total, got %d", estimate.TotalRecords)
	}
	// 10-record sample, every record yields a pattern, scaled to 20.
	if estimate.EstimatedPatterns != 20 {
		t.Fatalf("expected estimate 20, got %d", estimate.EstimatedPatterns)
	}
	if len(patternRepo.patterns) != 0 || len(outcomeRepo.created) != 0 {
		t.Fatalf("dry run must not write")
	}
}
