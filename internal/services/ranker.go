package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/coilworks/hvac-backend/internal/logger"
	"github.com/coilworks/hvac-backend/internal/repos"
	"github.com/coilworks/hvac-backend/internal/types"
)

const (
	// combinedConfidenceWeight/combinedRelevanceWeight mix the per-query
	// confidence with the stored evidence-quality score.
	combinedConfidenceWeight = 0.6
	combinedRelevanceWeight  = 0.4

	highConfidenceFloor   = 80
	mediumConfidenceFloor = 60
	recommendationFloor   = 70
	recommendationLimit   = 3

	defaultCandidateLimit = 100
)

// MatchDetails explains why a pattern was considered for the live query.
type MatchDetails struct {
	MatchedSymptoms      []string `json:"matched_symptoms"`
	MatchingMeasurements []string `json:"matching_measurements"`
	EquipmentMatch       bool     `json:"equipment_match"`
	SeasonalRelevance    float64  `json:"seasonal_relevance"`
}

// RankedPattern is a stored pattern plus its per-query confidence and
// match explanation. ConfidenceScore here is query-scoped; the durable
// score stays on the stored row.
type RankedPattern struct {
	PatternID       uuid.UUID      `json:"pattern_id"`
	PatternType     string         `json:"pattern_type"`
	PatternData     datatypes.JSON `json:"pattern_data"`
	EquipmentModel  string         `json:"equipment_model,omitempty"`
	ConfidenceScore float64        `json:"confidence_score"`
	RelevanceScore  float64        `json:"relevance_score"`
	OccurrenceCount int            `json:"occurrence_count"`
	LastSeen        time.Time      `json:"last_seen"`
	MatchDetails    MatchDetails   `json:"match_details"`
}

// ConfidenceSummary buckets scored patterns for the response header.
type ConfidenceSummary struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Recommendation is one actionable suggestion assembled from a
// high-confidence pattern, or the standard-procedure fallback.
type Recommendation struct {
	Priority           string   `json:"priority"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Confidence         float64  `json:"confidence"`
	SuccessRate        string   `json:"success_rate,omitempty"`
	Parameter          string   `json:"parameter,omitempty"`
	Deviation          string   `json:"deviation,omitempty"`
	EquipmentModel     string   `json:"equipment_model,omitempty"`
	RecommendedActions []string `json:"recommended_actions"`
	PatternID          string   `json:"pattern_id,omitempty"`
}

// TroubleshootResult is the full enhanced-troubleshoot payload.
type TroubleshootResult struct {
	Patterns          []RankedPattern   `json:"patterns"`
	Recommendations   []Recommendation  `json:"recommendations"`
	ConfidenceSummary ConfidenceSummary `json:"confidence_summary"`
}

// Ranker serves query-time pattern retrieval, scoring, ordering, and
// recommendation assembly. It fetches a bounded candidate set per
// tenant rather than scanning the store.
type Ranker interface {
	RelatedPatterns(ctx context.Context, companyID uuid.UUID, dctx DiagnosticContext) ([]RankedPattern, error)
	Troubleshoot(ctx context.Context, companyID uuid.UUID, dctx DiagnosticContext) (*TroubleshootResult, error)
}

type ranker struct {
	log            *logger.Logger
	patternRepo    repos.PatternRepo
	cache          PatternCache
	scorer         *ConfidenceScorer
	candidateLimit int
	now            func() time.Time
}

func NewRanker(baseLog *logger.Logger, patternRepo repos.PatternRepo, cache PatternCache, scorer *ConfidenceScorer) Ranker {
	return &ranker{
		log:            baseLog.With("service", "Ranker"),
		patternRepo:    patternRepo,
		cache:          cache,
		scorer:         scorer,
		candidateLimit: defaultCandidateLimit,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (r *ranker) candidates(ctx context.Context, companyID uuid.UUID, equipmentModel string) ([]*types.Pattern, error) {
	if r.cache != nil {
		if cached, ok := r.cache.GetCandidates(ctx, companyID, equipmentModel); ok {
			return cached, nil
		}
	}
	patterns, err := r.patternRepo.FindCandidates(ctx, nil, companyID, equipmentModel, r.candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch candidate patterns: %w", err)
	}
	if r.cache != nil {
		r.cache.SetCandidates(ctx, companyID, equipmentModel, patterns)
	}
	return patterns, nil
}

// RelatedPatterns returns the candidate set with match details, scored
// with each pattern's stored confidence. Ranking happens in
// Troubleshoot; this is the pre-ranking view.
func (r *ranker) RelatedPatterns(ctx context.Context, companyID uuid.UUID, dctx DiagnosticContext) ([]RankedPattern, error) {
	patterns, err := r.candidates(ctx, companyID, dctx.EquipmentModel)
	if err != nil {
		return nil, err
	}

	out := make([]RankedPattern, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, RankedPattern{
			PatternID:       p.ID,
			PatternType:     p.PatternType,
			PatternData:     p.PatternData,
			EquipmentModel:  p.EquipmentModel,
			ConfidenceScore: p.ConfidenceScore,
			RelevanceScore:  p.RelevanceScore,
			OccurrenceCount: p.OccurrenceCount,
			LastSeen:        p.LastSeen,
			MatchDetails:    r.matchDetails(p, dctx),
		})
	}
	return out, nil
}

// Troubleshoot re-scores every candidate against the live context,
// orders by the combined score, and assembles recommendations. The
// recommendation list is never empty.
func (r *ranker) Troubleshoot(ctx context.Context, companyID uuid.UUID, dctx DiagnosticContext) (*TroubleshootResult, error) {
	patterns, err := r.candidates(ctx, companyID, dctx.EquipmentModel)
	if err != nil {
		return nil, err
	}

	scored := make([]RankedPattern, 0, len(patterns))
	for _, p := range patterns {
		scored = append(scored, RankedPattern{
			PatternID:       p.ID,
			PatternType:     p.PatternType,
			PatternData:     p.PatternData,
			EquipmentModel:  p.EquipmentModel,
			ConfidenceScore: r.scorer.Score(p, dctx),
			RelevanceScore:  p.RelevanceScore,
			OccurrenceCount: p.OccurrenceCount,
			LastSeen:        p.LastSeen,
			MatchDetails:    r.matchDetails(p, dctx),
		})
	}

	RankPatterns(scored)

	return &TroubleshootResult{
		Patterns:          scored,
		Recommendations:   buildRecommendations(scored),
		ConfidenceSummary: summarize(scored),
	}, nil
}

func (r *ranker) matchDetails(p *types.Pattern, dctx DiagnosticContext) MatchDetails {
	patternSymptoms := p.Symptoms()
	inPattern := make(map[string]struct{}, len(patternSymptoms))
	for _, s := range patternSymptoms {
		inPattern[s] = struct{}{}
	}
	matched := make([]string, 0, len(dctx.Symptoms))
	for _, s := range dctx.Symptoms {
		if _, ok := inPattern[s]; ok {
			matched = append(matched, s)
		}
	}

	season := dctx.Season
	if season == "" {
		season = seasonOf(r.now())
	}

	return MatchDetails{
		MatchedSymptoms:      matched,
		MatchingMeasurements: matchingMeasurements(p, dctx.Measurements),
		EquipmentMatch:       p.EquipmentModel != "" && p.EquipmentModel == dctx.EquipmentModel,
		SeasonalRelevance:    seasonalRelevance(dctx.Symptoms, season),
	}
}

// matchingMeasurements reports live parameters that sit within 10% of
// the value a measurement_anomaly pattern recorded.
func matchingMeasurements(p *types.Pattern, live map[string]float64) []string {
	if len(live) == 0 {
		return []string{}
	}
	payload, err := p.DecodePayload()
	if err != nil || payload.MeasurementAnomaly == nil {
		return []string{}
	}
	anomaly := payload.MeasurementAnomaly
	current, ok := live[anomaly.Parameter]
	if !ok {
		return []string{}
	}
	reference := anomaly.MeasuredValue
	if reference == 0 {
		reference = current
	}
	if math.Abs(anomaly.MeasuredValue-current) <= math.Abs(reference)*0.1 {
		return []string{anomaly.Parameter}
	}
	return []string{}
}

// RankPatterns orders in place by combined score descending, breaking
// ties by occurrence count then last_seen, both descending. The sort is
// deterministic for fixed input.
func RankPatterns(patterns []RankedPattern) {
	sort.SliceStable(patterns, func(i, j int) bool {
		si := CombinedScore(patterns[i])
		sj := CombinedScore(patterns[j])
		if si != sj {
			return si > sj
		}
		if patterns[i].OccurrenceCount != patterns[j].OccurrenceCount {
			return patterns[i].OccurrenceCount > patterns[j].OccurrenceCount
		}
		return patterns[i].LastSeen.After(patterns[j].LastSeen)
	})
}

// CombinedScore mixes per-query confidence with stored relevance.
func CombinedScore(p RankedPattern) float64 {
	return p.ConfidenceScore*combinedConfidenceWeight + p.RelevanceScore*combinedRelevanceWeight
}

func summarize(patterns []RankedPattern) ConfidenceSummary {
	var s ConfidenceSummary
	for _, p := range patterns {
		switch {
		case p.ConfidenceScore >= highConfidenceFloor:
			s.High++
		case p.ConfidenceScore >= mediumConfidenceFloor:
			s.Medium++
		default:
			s.Low++
		}
	}
	return s
}

func buildRecommendations(ranked []RankedPattern) []Recommendation {
	var recs []Recommendation

	top := ranked
	if len(top) > recommendationLimit {
		top = top[:recommendationLimit]
	}

	for _, p := range top {
		if p.ConfidenceScore < recommendationFloor {
			continue
		}
		if rec, ok := recommendationFor(p); ok {
			recs = append(recs, rec)
		}
	}

	if len(recs) == 0 {
		recs = append(recs, Recommendation{
			Priority:    "medium",
			Title:       "General Diagnostic Approach",
			Description: "No strong patterns found. Follow standard troubleshooting procedure.",
			Confidence:  50,
			RecommendedActions: []string{
				"Verify system operation parameters",
				"Check electrical connections and voltages",
				"Inspect for visible damage or leaks",
				"Review maintenance records",
			},
		})
	}
	return recs
}

func recommendationFor(p RankedPattern) (Recommendation, bool) {
	stored := types.Pattern{PatternType: p.PatternType, PatternData: p.PatternData}
	payload, err := stored.DecodePayload()
	if err != nil {
		return Recommendation{}, false
	}

	switch {
	case payload.SymptomOutcome != nil:
		priority := "medium"
		if p.ConfidenceScore >= 85 {
			priority = "high"
		}
		successRate := "Moderate"
		if payload.SymptomOutcome.Outcome == OutcomeSuccess {
			successRate = "High"
		}
		return Recommendation{
			Priority:    priority,
			Title:       "Historical Success Pattern",
			Description: fmt.Sprintf("Similar symptoms resolved successfully with: %s", payload.SymptomOutcome.Diagnosis),
			Confidence:  p.ConfidenceScore,
			SuccessRate: successRate,
			RecommendedActions: []string{
				"Verify system pressures",
				"Check for proper airflow",
				"Review maintenance history",
			},
			PatternID: p.PatternID.String(),
		}, true

	case payload.MeasurementAnomaly != nil:
		a := payload.MeasurementAnomaly
		return Recommendation{
			Priority:    "high",
			Title:       "Measurement Anomaly Detected",
			Description: fmt.Sprintf("%s shows abnormal pattern: %s", a.Parameter, a.Diagnosis),
			Confidence:  p.ConfidenceScore,
			Parameter:   a.Parameter,
			Deviation:   fmt.Sprintf("%.1f%%", a.DeviationPercent),
			RecommendedActions: []string{
				fmt.Sprintf("Verify %s sensor calibration", a.Parameter),
				"Check for system restrictions",
				"Review recent service history",
			},
			PatternID: p.PatternID.String(),
		}, true

	case payload.EquipmentFailure != nil:
		actions := payload.EquipmentFailure.PreventiveMeasures
		if len(actions) == 0 {
			actions = []string{
				"Schedule comprehensive inspection",
				"Review manufacturer service bulletins",
				"Check for common failure points",
			}
		}
		return Recommendation{
			Priority:           "high",
			Title:              "Equipment-Specific Pattern",
			Description:        fmt.Sprintf("%s shows known failure mode", p.EquipmentModel),
			Confidence:         p.ConfidenceScore,
			EquipmentModel:     p.EquipmentModel,
			RecommendedActions: actions,
			PatternID:          p.PatternID.String(),
		}, true
	}

	// seasonal_pattern carries no direct action; it informs analysis.
	return Recommendation{}, false
}
