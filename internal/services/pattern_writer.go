package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	errs "github.com/coilworks/hvac-backend/internal/pkg/errors"
	"github.com/coilworks/hvac-backend/internal/logger"
	"github.com/coilworks/hvac-backend/internal/repos"
	"github.com/coilworks/hvac-backend/internal/types"
)

// Initial confidence per pattern type. A measurement anomaly is
// inherently higher-signal evidence than a bare symptom/outcome pair.
const (
	initialConfidenceSymptomOutcome     = 50
	initialConfidenceMeasurementAnomaly = 60
	initialConfidenceEquipmentFailure   = 55
	initialConfidenceSeasonal           = 45
)

// PatternWriter creates or reinforces patterns. All writes dedupe by
// (company, type, content signature): reinforcement bumps the
// occurrence count and last_seen but never the confidence score, so
// popularity stays separate from correctness.
type PatternWriter interface {
	WriteSymptomOutcome(ctx context.Context, companyID uuid.UUID, symptoms []string, diagnosis, outcome, equipmentModel string) (*types.Pattern, error)
	// WriteMeasurementAnomaly returns (nil, nil) when the value actually
	// sits inside the expected band; there is nothing to learn then.
	WriteMeasurementAnomaly(ctx context.Context, companyID uuid.UUID, parameter string, value float64, band types.Range, diagnosis string) (*types.Pattern, error)
	WriteEquipmentFailure(ctx context.Context, companyID uuid.UUID, equipmentModel, failureSignature string, preventiveMeasures []string) (*types.Pattern, error)
	WriteSeasonalPattern(ctx context.Context, companyID uuid.UUID, season string, symptoms []string, diagnosis string) (*types.Pattern, error)
}

type patternWriter struct {
	db          *gorm.DB
	log         *logger.Logger
	patternRepo repos.PatternRepo
	cache       PatternCache
	now         func() time.Time
}

func NewPatternWriter(db *gorm.DB, baseLog *logger.Logger, patternRepo repos.PatternRepo, cache PatternCache) PatternWriter {
	return &patternWriter{
		db:          db,
		log:         baseLog.With("service", "PatternWriter"),
		patternRepo: patternRepo,
		cache:       cache,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (pw *patternWriter) WriteSymptomOutcome(ctx context.Context, companyID uuid.UUID, symptoms []string, diagnosis, outcome, equipmentModel string) (*types.Pattern, error) {
	if companyID == uuid.Nil {
		return nil, fmt.Errorf("company id required: %w", errs.ErrInvalidArgument)
	}
	if len(symptoms) == 0 {
		return nil, fmt.Errorf("symptoms required: %w", errs.ErrInvalidArgument)
	}
	if diagnosis == "" {
		return nil, fmt.Errorf("diagnosis required: %w", errs.ErrInvalidArgument)
	}
	normalized := NormalizeOutcome(outcome)
	if !IsCanonicalOutcome(normalized) {
		return nil, errs.ErrInvalidOutcome
	}

	observedAt := pw.now()
	payload := types.SymptomOutcomeData{
		Symptoms:       symptoms,
		Diagnosis:      diagnosis,
		Outcome:        normalized,
		EquipmentModel: equipmentModel,
		ObservedAt:     observedAt,
	}

	relevance := 70.0
	if equipmentModel != "" {
		relevance += 10
	}

	return pw.upsert(ctx, &types.Pattern{
		CompanyID:   companyID,
		PatternType: types.PatternTypeSymptomOutcome,
		ContentSignature: contentSignature(types.PatternTypeSymptomOutcome,
			canonicalSymptoms(symptoms),
			canonicalText(diagnosis),
			normalized,
		),
		EquipmentModel:  equipmentModel,
		ConfidenceScore: initialConfidenceSymptomOutcome,
		RelevanceScore:  relevance,
		LastSeen:        observedAt,
	}, payload)
}

func (pw *patternWriter) WriteMeasurementAnomaly(ctx context.Context, companyID uuid.UUID, parameter string, value float64, band types.Range, diagnosis string) (*types.Pattern, error) {
	if companyID == uuid.Nil {
		return nil, fmt.Errorf("company id required: %w", errs.ErrInvalidArgument)
	}
	if parameter == "" {
		return nil, fmt.Errorf("parameter required: %w", errs.ErrInvalidArgument)
	}
	if diagnosis == "" {
		return nil, fmt.Errorf("diagnosis required: %w", errs.ErrInvalidArgument)
	}
	if band.Min >= band.Max {
		return nil, errs.ErrInvalidRange
	}
	if band.Contains(value) {
		return nil, nil
	}
	deviation, ok := DeviationPercent(value, band)
	if !ok {
		return nil, nil
	}

	observedAt := pw.now()
	payload := types.MeasurementAnomalyData{
		Parameter:        parameter,
		MeasuredValue:    value,
		ExpectedRange:    band,
		DeviationPercent: deviation,
		Diagnosis:        diagnosis,
		ObservedAt:       observedAt,
	}

	// A wider deviation is more actionable evidence, up to a point.
	relevance := 75 + deviation/10
	if relevance > 90 {
		relevance = 90
	}

	return pw.upsert(ctx, &types.Pattern{
		CompanyID:   companyID,
		PatternType: types.PatternTypeMeasurementAnomaly,
		ContentSignature: contentSignature(types.PatternTypeMeasurementAnomaly,
			parameter,
			formatFloat(band.Min),
			formatFloat(band.Max),
			canonicalText(diagnosis),
		),
		ConfidenceScore: initialConfidenceMeasurementAnomaly,
		RelevanceScore:  relevance,
		LastSeen:        observedAt,
	}, payload)
}

func (pw *patternWriter) WriteEquipmentFailure(ctx context.Context, companyID uuid.UUID, equipmentModel, failureSignature string, preventiveMeasures []string) (*types.Pattern, error) {
	if companyID == uuid.Nil {
		return nil, fmt.Errorf("company id required: %w", errs.ErrInvalidArgument)
	}
	if failureSignature == "" {
		return nil, fmt.Errorf("failure signature required: %w", errs.ErrInvalidArgument)
	}

	payload := types.EquipmentFailureData{
		FailureSignature:   failureSignature,
		PreventiveMeasures: preventiveMeasures,
	}

	return pw.upsert(ctx, &types.Pattern{
		CompanyID:   companyID,
		PatternType: types.PatternTypeEquipmentFailure,
		ContentSignature: contentSignature(types.PatternTypeEquipmentFailure,
			equipmentModel,
			canonicalText(failureSignature),
		),
		EquipmentModel:  equipmentModel,
		ConfidenceScore: initialConfidenceEquipmentFailure,
		RelevanceScore:  65,
		LastSeen:        pw.now(),
	}, payload)
}

func (pw *patternWriter) WriteSeasonalPattern(ctx context.Context, companyID uuid.UUID, season string, symptoms []string, diagnosis string) (*types.Pattern, error) {
	if companyID == uuid.Nil {
		return nil, fmt.Errorf("company id required: %w", errs.ErrInvalidArgument)
	}
	if !isValidSeason(season) {
		return nil, fmt.Errorf("season must be spring, summer, fall, or winter: %w", errs.ErrInvalidArgument)
	}
	if len(symptoms) == 0 {
		return nil, fmt.Errorf("symptoms required: %w", errs.ErrInvalidArgument)
	}

	payload := types.SeasonalPatternData{
		Season:    season,
		Symptoms:  symptoms,
		Diagnosis: diagnosis,
	}

	return pw.upsert(ctx, &types.Pattern{
		CompanyID:   companyID,
		PatternType: types.PatternTypeSeasonal,
		ContentSignature: contentSignature(types.PatternTypeSeasonal,
			season,
			canonicalSymptoms(symptoms),
			canonicalText(diagnosis),
		),
		ConfidenceScore: initialConfidenceSeasonal,
		RelevanceScore:  55,
		LastSeen:        pw.now(),
	}, payload)
}

func (pw *patternWriter) upsert(ctx context.Context, pattern *types.Pattern, payload interface{}) (*types.Pattern, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode pattern payload: %w", err)
	}
	pattern.PatternData = raw
	pattern.OccurrenceCount = 1

	stored, err := pw.patternRepo.UpsertBySignature(ctx, nil, pattern)
	if err != nil {
		return nil, fmt.Errorf("upsert pattern: %w", err)
	}
	if pw.cache != nil {
		pw.cache.InvalidateCompany(ctx, pattern.CompanyID)
	}
	if stored.OccurrenceCount > 1 {
		pw.log.Debug("Reinforced existing pattern", "pattern_id", stored.ID, "occurrence_count", stored.OccurrenceCount)
	} else {
		pw.log.Debug("Created pattern", "pattern_id", stored.ID, "pattern_type", stored.PatternType)
	}
	return stored, nil
}

// contentSignature builds the deterministic dedup key: sha256 over the
// pattern type and its canonicalized content parts. Timestamps and
// measured values are deliberately excluded so re-observations collapse
// onto the same live pattern.
func contentSignature(patternType string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(patternType))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalSymptoms(symptoms []string) string {
	sorted := make([]string, len(symptoms))
	copy(sorted, symptoms)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func canonicalText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func isValidSeason(season string) bool {
	switch season {
	case "spring", "summer", "fall", "winter":
		return true
	}
	return false
}
