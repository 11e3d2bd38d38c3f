package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	errs "github.com/coilworks/hvac-backend/internal/pkg/errors"
	"github.com/coilworks/hvac-backend/internal/types"
)

func errNotFoundForTest(patternID uuid.UUID) error {
	return fmt.Errorf("pattern %s: %w", patternID, errs.ErrNotFound)
}

type fakePatternRepo struct {
	mu          sync.Mutex
	patterns    []*types.Pattern
	findCalls   int
	lastUpdated uuid.UUID
	lastScore   float64
}

func (f *fakePatternRepo) UpsertBySignature(ctx context.Context, tx *gorm.DB, pattern *types.Pattern) (*types.Pattern, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.patterns {
		if p.CompanyID == pattern.CompanyID && p.PatternType == pattern.PatternType && p.ContentSignature == pattern.ContentSignature {
			p.OccurrenceCount++
			p.LastSeen = pattern.LastSeen
			return p, nil
		}
	}
	stored := *pattern
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.OccurrenceCount == 0 {
		stored.OccurrenceCount = 1
	}
	f.patterns = append(f.patterns, &stored)
	return &stored, nil
}

func (f *fakePatternRepo) GetByID(ctx context.Context, tx *gorm.DB, companyID, patternID uuid.UUID) (*types.Pattern, error) {
	for _, p := range f.patterns {
		if p.ID == patternID && p.CompanyID == companyID {
			return p, nil
		}
	}
	return nil, errNotFoundForTest(patternID)
}

func (f *fakePatternRepo) ListByType(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, patternType string, limit, offset int) ([]*types.Pattern, error) {
	var out []*types.Pattern
	for _, p := range f.patterns {
		if p.CompanyID == companyID && p.PatternType == patternType {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePatternRepo) ListByCompany(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, limit int) ([]*types.Pattern, error) {
	var out []*types.Pattern
	for _, p := range f.patterns {
		if p.CompanyID == companyID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePatternRepo) FindCandidates(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, equipmentModel string, limit int) ([]*types.Pattern, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	var out []*types.Pattern
	for _, p := range f.patterns {
		if p.CompanyID != companyID {
			continue
		}
		if equipmentModel != "" && p.EquipmentModel != "" && p.EquipmentModel != equipmentModel {
			continue
		}
		out = append(out, p)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakePatternRepo) UpdateConfidence(ctx context.Context, tx *gorm.DB, patternID uuid.UUID, score float64, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.patterns {
		if p.ID == patternID {
			p.ConfidenceScore = score
			p.LastSeen = lastSeen
			f.lastUpdated = patternID
			f.lastScore = score
			return nil
		}
	}
	return errNotFoundForTest(patternID)
}

type fakeCache struct {
	store       map[string][]*types.Pattern
	invalidated []uuid.UUID
	getCalls    int
	setCalls    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{store: make(map[string][]*types.Pattern)}
}

func (f *fakeCache) key(companyID uuid.UUID, equipmentModel string) string {
	return companyID.String() + "|" + equipmentModel
}

func (f *fakeCache) GetCandidates(ctx context.Context, companyID uuid.UUID, equipmentModel string) ([]*types.Pattern, bool) {
	f.getCalls++
	patterns, ok := f.store[f.key(companyID, equipmentModel)]
	return patterns, ok
}

func (f *fakeCache) SetCandidates(ctx context.Context, companyID uuid.UUID, equipmentModel string, patterns []*types.Pattern) {
	f.setCalls++
	f.store[f.key(companyID, equipmentModel)] = patterns
}

func (f *fakeCache) InvalidateCompany(ctx context.Context, companyID uuid.UUID) {
	f.invalidated = append(f.invalidated, companyID)
	for k := range f.store {
		if len(k) >= 36 && k[:36] == companyID.String() {
			delete(f.store, k)
		}
	}
}

func storedSymptomPattern(t *testing.T, companyID uuid.UUID, confidence, relevance float64, symptoms []string, lastSeen time.Time) *types.Pattern {
	t.Helper()
	raw, err := json.Marshal(types.SymptomOutcomeData{
		Symptoms:  symptoms,
		Diagnosis: "Low refrigerant charge",
		Outcome:   OutcomeSuccess,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &types.Pattern{
		ID:               uuid.New(),
		CompanyID:        companyID,
		PatternType:      types.PatternTypeSymptomOutcome,
		ContentSignature: uuid.NewString(),
		PatternData:      datatypes.JSON(raw),
		ConfidenceScore:  confidence,
		RelevanceScore:   relevance,
		OccurrenceCount:  1,
		LastSeen:         lastSeen,
	}
}

func fixedRanker(t *testing.T, repo *fakePatternRepo, cache PatternCache, at time.Time) *ranker {
	t.Helper()
	r := NewRanker(testLogger(t), repo, cache, fixedScorer(t, at)).(*ranker)
	r.now = func() time.Time { return at }
	return r
}

func TestTroubleshoot_EmptyStoreYieldsFallbackRecommendation(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	r := fixedRanker(t, &fakePatternRepo{}, nil, now)

	result, err := r.Troubleshoot(context.Background(), uuid.New(), DiagnosticContext{Symptoms: []string{"no cooling"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Patterns) != 0 {
		t.Fatalf("expected no patterns, got %d", len(result.Patterns))
	}
	if len(result.Recommendations) != 1 {
		t.Fatalf("expected exactly one fallback recommendation, got %d", len(result.Recommendations))
	}
	if result.Recommendations[0].Title != "General Diagnostic Approach" {
		t.Fatalf("unexpected fallback title %q", result.Recommendations[0].Title)
	}
	if result.ConfidenceSummary != (ConfidenceSummary{}) {
		t.Fatalf("expected zero summary, got %+v", result.ConfidenceSummary)
	}
}

func TestTroubleshoot_OrdersByCombinedScore(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	companyID := uuid.New()
	neutral := now.AddDate(0, 0, -60)

	// No symptom overlap and no equipment context, so the query-time
	// confidence equals the stored confidence.
	weak := storedSymptomPattern(t, companyID, 55, 50, nil, neutral)
	strong := storedSymptomPattern(t, companyID, 90, 80, nil, neutral)
	middle := storedSymptomPattern(t, companyID, 70, 70, nil, neutral)
	repo := &fakePatternRepo{patterns: []*types.Pattern{weak, strong, middle}}

	r := fixedRanker(t, repo, nil, now)
	result, err := r.Troubleshoot(context.Background(), companyID, DiagnosticContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Patterns) != 3 {
		t.Fatalf("expected 3 patterns, got %d", len(result.Patterns))
	}
	if result.Patterns[0].PatternID != strong.ID || result.Patterns[1].PatternID != middle.ID || result.Patterns[2].PatternID != weak.ID {
		t.Fatalf("unexpected order: %v %v %v", result.Patterns[0].PatternID, result.Patterns[1].PatternID, result.Patterns[2].PatternID)
	}
}

func TestTroubleshoot_ConfidenceSummaryBuckets(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	companyID := uuid.New()
	neutral := now.AddDate(0, 0, -60)
	repo := &fakePatternRepo{patterns: []*types.Pattern{
		storedSymptomPattern(t, companyID, 90, 50, nil, neutral),
		storedSymptomPattern(t, companyID, 80, 50, nil, neutral),
		storedSymptomPattern(t, companyID, 65, 50, nil, neutral),
		storedSymptomPattern(t, companyID, 30, 50, nil, neutral),
	}}

	r := fixedRanker(t, repo, nil, now)
	result, err := r.Troubleshoot(context.Background(), companyID, DiagnosticContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := ConfidenceSummary{High: 2, Medium: 1, Low: 1}
	if result.ConfidenceSummary != want {
		t.Fatalf("expected %+v got %+v", want, result.ConfidenceSummary)
	}
}

func TestTroubleshoot_RecommendationFloor(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	companyID := uuid.New()
	neutral := now.AddDate(0, 0, -60)
	repo := &fakePatternRepo{patterns: []*types.Pattern{
		storedSymptomPattern(t, companyID, 65, 50, nil, neutral),
		storedSymptomPattern(t, companyID, 60, 50, nil, neutral),
	}}

	r := fixedRanker(t, repo, nil, now)
	result, err := r.Troubleshoot(context.Background(), companyID, DiagnosticContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Both candidates sit below the recommendation floor, so only the
	// fallback remains.
	if len(result.Recommendations) != 1 || result.Recommendations[0].Title != "General Diagnostic Approach" {
		t.Fatalf("expected fallback only, got %+v", result.Recommendations)
	}
}

func TestTroubleshoot_HighConfidenceRecommendation(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	companyID := uuid.New()
	neutral := now.AddDate(0, 0, -60)
	pattern := storedSymptomPattern(t, companyID, 90, 80, nil, neutral)
	repo := &fakePatternRepo{patterns: []*types.Pattern{pattern}}

	r := fixedRanker(t, repo, nil, now)
	result, err := r.Troubleshoot(context.Background(), companyID, DiagnosticContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Recommendations) != 1 {
		t.Fatalf("expected 1 recommendation, got %d", len(result.Recommendations))
	}
	rec := result.Recommendations[0]
	if rec.Title != "Historical Success Pattern" {
		t.Fatalf("unexpected title %q", rec.Title)
	}
	if rec.Priority != "high" {
		t.Fatalf("expected high priority at confidence 90, got %q", rec.Priority)
	}
	if rec.PatternID != pattern.ID.String() {
		t.Fatalf("expected pattern id carried through")
	}
}

func TestRelatedPatterns_UsesStoredConfidence(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	companyID := uuid.New()
	// Recent last_seen would add +10 if rescoring happened.
	pattern := storedSymptomPattern(t, companyID, 75, 60, []string{"no cooling"}, now.AddDate(0, 0, -1))
	repo := &fakePatternRepo{patterns: []*types.Pattern{pattern}}

	r := fixedRanker(t, repo, nil, now)
	related, err := r.RelatedPatterns(context.Background(), companyID, DiagnosticContext{Symptoms: []string{"no cooling"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(related) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(related))
	}
	if related[0].ConfidenceScore != 75 {
		t.Fatalf("expected stored confidence 75, got %v", related[0].ConfidenceScore)
	}
	if len(related[0].MatchDetails.MatchedSymptoms) != 1 || related[0].MatchDetails.MatchedSymptoms[0] != "no cooling" {
		t.Fatalf("expected matched symptom, got %+v", related[0].MatchDetails)
	}
}

func TestCandidates_CacheAside(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	companyID := uuid.New()
	repo := &fakePatternRepo{patterns: []*types.Pattern{
		storedSymptomPattern(t, companyID, 70, 60, nil, now.AddDate(0, 0, -60)),
	}}
	cache := newFakeCache()

	r := fixedRanker(t, repo, cache, now)
	ctx := context.Background()

	if _, err := r.RelatedPatterns(ctx, companyID, DiagnosticContext{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.findCalls != 1 || cache.setCalls != 1 {
		t.Fatalf("expected one repo fetch and one cache fill, got %d/%d", repo.findCalls, cache.setCalls)
	}

	if _, err := r.RelatedPatterns(ctx, companyID, DiagnosticContext{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected cache hit on second call, repo fetched %d times", repo.findCalls)
	}
}

func TestMatchingMeasurements_TenPercentTolerance(t *testing.T) {
	raw, err := json.Marshal(types.MeasurementAnomalyData{
		Parameter:     "suction_pressure",
		MeasuredValue: 95,
		ExpectedRange: types.Range{Min: 50, Max: 85},
		Diagnosis:     "d - Abnormal suction pressure",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	pattern := &types.Pattern{
		PatternType: types.PatternTypeMeasurementAnomaly,
		PatternData: datatypes.JSON(raw),
	}

	within := matchingMeasurements(pattern, map[string]float64{"suction_pressure": 100})
	if len(within) != 1 || within[0] != "suction_pressure" {
		t.Fatalf("expected match within tolerance, got %v", within)
	}
	outside := matchingMeasurements(pattern, map[string]float64{"suction_pressure": 120})
	if len(outside) != 0 {
		t.Fatalf("expected no match outside tolerance, got %v", outside)
	}
	absent := matchingMeasurements(pattern, map[string]float64{"voltage": 120})
	if len(absent) != 0 {
		t.Fatalf("expected no match for absent parameter, got %v", absent)
	}
}
