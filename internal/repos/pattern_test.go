package repos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/coilworks/hvac-backend/internal/logger"
	errs "github.com/coilworks/hvac-backend/internal/pkg/errors"
	"github.com/coilworks/hvac-backend/internal/types"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&types.Company{},
		&types.User{},
		&types.UserRole{},
		&types.Calculation{},
		&types.Pattern{},
		&types.DiagnosticOutcome{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

func newTestPattern(companyID uuid.UUID, patternType, signature string) *types.Pattern {
	return &types.Pattern{
		CompanyID:        companyID,
		PatternType:      patternType,
		ContentSignature: signature,
		PatternData:      []byte(`{"symptoms":["no cooling"],"diagnosis":"d","outcome":"success"}`),
		ConfidenceScore:  50,
		RelevanceScore:   70,
		OccurrenceCount:  1,
		LastSeen:         time.Now().UTC(),
	}
}

func TestUpsertBySignature_InsertThenReinforce(t *testing.T) {
	repo := NewPatternRepo(testDB(t), testLog(t))
	ctx := context.Background()
	companyID := uuid.New()

	first, err := repo.UpsertBySignature(ctx, nil, newTestPattern(companyID, types.PatternTypeSymptomOutcome, "sig-1"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if first.OccurrenceCount != 1 {
		t.Fatalf("expected occurrence 1, got %d", first.OccurrenceCount)
	}

	later := newTestPattern(companyID, types.PatternTypeSymptomOutcome, "sig-1")
	later.LastSeen = first.LastSeen.Add(time.Hour)
	later.ConfidenceScore = 99 // must NOT win over the stored score

	second, err := repo.UpsertBySignature(ctx, nil, later)
	if err != nil {
		t.Fatalf("reinforce: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the same row, got a new id")
	}
	if second.OccurrenceCount != 2 {
		t.Fatalf("expected occurrence 2, got %d", second.OccurrenceCount)
	}
	if second.ConfidenceScore != 50 {
		t.Fatalf("expected confidence untouched at 50, got %v", second.ConfidenceScore)
	}
	if !second.LastSeen.After(first.LastSeen) {
		t.Fatalf("expected last_seen refreshed")
	}
}

func TestUpsertBySignature_TenantAndTypeIsolation(t *testing.T) {
	repo := NewPatternRepo(testDB(t), testLog(t))
	ctx := context.Background()
	companyA := uuid.New()
	companyB := uuid.New()

	if _, err := repo.UpsertBySignature(ctx, nil, newTestPattern(companyA, types.PatternTypeSymptomOutcome, "shared-sig")); err != nil {
		t.Fatalf("insert A: %v", err)
	}
	other, err := repo.UpsertBySignature(ctx, nil, newTestPattern(companyB, types.PatternTypeSymptomOutcome, "shared-sig"))
	if err != nil {
		t.Fatalf("insert B: %v", err)
	}
	if other.OccurrenceCount != 1 {
		t.Fatalf("expected a distinct row per tenant, got occurrence %d", other.OccurrenceCount)
	}

	seasonal, err := repo.UpsertBySignature(ctx, nil, newTestPattern(companyA, types.PatternTypeSeasonal, "shared-sig"))
	if err != nil {
		t.Fatalf("insert different type: %v", err)
	}
	if seasonal.OccurrenceCount != 1 {
		t.Fatalf("expected a distinct row per type, got occurrence %d", seasonal.OccurrenceCount)
	}
}

func TestUpsertBySignature_Validation(t *testing.T) {
	repo := NewPatternRepo(testDB(t), testLog(t))
	ctx := context.Background()

	p := newTestPattern(uuid.Nil, types.PatternTypeSymptomOutcome, "sig")
	if _, err := repo.UpsertBySignature(ctx, nil, p); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for nil company, got %v", err)
	}
	p = newTestPattern(uuid.New(), types.PatternTypeSymptomOutcome, "")
	if _, err := repo.UpsertBySignature(ctx, nil, p); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty signature, got %v", err)
	}
}

func TestGetByID_TenantScoped(t *testing.T) {
	repo := NewPatternRepo(testDB(t), testLog(t))
	ctx := context.Background()
	companyID := uuid.New()

	stored, err := repo.UpsertBySignature(ctx, nil, newTestPattern(companyID, types.PatternTypeSymptomOutcome, "sig"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := repo.GetByID(ctx, nil, companyID, stored.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != stored.ID {
		t.Fatalf("unexpected row")
	}

	if _, err := repo.GetByID(ctx, nil, uuid.New(), stored.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound across tenants, got %v", err)
	}
}

func TestListByType_PagesNewestFirst(t *testing.T) {
	repo := NewPatternRepo(testDB(t), testLog(t))
	ctx := context.Background()
	companyID := uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		p := newTestPattern(companyID, types.PatternTypeSymptomOutcome, uuid.NewString())
		p.LastSeen = base.AddDate(0, 0, i)
		if _, err := repo.UpsertBySignature(ctx, nil, p); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	page, err := repo.ListByType(ctx, nil, companyID, types.PatternTypeSymptomOutcome, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(page))
	}
	if !page[0].LastSeen.After(page[1].LastSeen) {
		t.Fatalf("expected newest first")
	}

	rest, err := repo.ListByType(ctx, nil, companyID, types.PatternTypeSymptomOutcome, 2, 2)
	if err != nil {
		t.Fatalf("list offset: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected 1 remaining row, got %d", len(rest))
	}
}

func TestFindCandidates_EquipmentFilterKeepsGenericPatterns(t *testing.T) {
	repo := NewPatternRepo(testDB(t), testLog(t))
	ctx := context.Background()
	companyID := uuid.New()

	generic := newTestPattern(companyID, types.PatternTypeSymptomOutcome, "generic")
	matching := newTestPattern(companyID, types.PatternTypeSymptomOutcome, "match")
	matching.EquipmentModel = "TRANE-X15"
	other := newTestPattern(companyID, types.PatternTypeSymptomOutcome, "other")
	other.EquipmentModel = "CARRIER-22"
	for _, p := range []*types.Pattern{generic, matching, other} {
		if _, err := repo.UpsertBySignature(ctx, nil, p); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := repo.FindCandidates(ctx, nil, companyID, "TRANE-X15", 10)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected generic + matching, got %d", len(got))
	}
	for _, p := range got {
		if p.EquipmentModel == "CARRIER-22" {
			t.Fatalf("mismatched equipment leaked through")
		}
	}

	all, err := repo.FindCandidates(ctx, nil, companyID, "", 10)
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected all rows without filter, got %d", len(all))
	}
}

func TestUpdateConfidence(t *testing.T) {
	repo := NewPatternRepo(testDB(t), testLog(t))
	ctx := context.Background()
	companyID := uuid.New()

	stored, err := repo.UpsertBySignature(ctx, nil, newTestPattern(companyID, types.PatternTypeSymptomOutcome, "sig"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	seen := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if err := repo.UpdateConfidence(ctx, nil, stored.ID, 72.5, seen); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := repo.GetByID(ctx, nil, companyID, stored.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ConfidenceScore != 72.5 {
		t.Fatalf("expected 72.5, got %v", got.ConfidenceScore)
	}

	if err := repo.UpdateConfidence(ctx, nil, uuid.New(), 10, seen); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing row, got %v", err)
	}
}
