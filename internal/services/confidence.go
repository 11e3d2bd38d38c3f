package services

import (
	"time"

	"github.com/coilworks/hvac-backend/internal/types"
)

// AmbientConditions is optional live-environment context for a query.
type AmbientConditions struct {
	Temperature float64  `json:"temperature"`
	Humidity    *float64 `json:"humidity,omitempty"`
}

// DiagnosticContext is the technician's live situation a stored pattern
// is scored against.
type DiagnosticContext struct {
	Symptoms          []string           `json:"symptoms"`
	Measurements      map[string]float64 `json:"measurements,omitempty"`
	EquipmentModel    string             `json:"equipment_model,omitempty"`
	AmbientConditions *AmbientConditions `json:"ambient_conditions,omitempty"`
	Season            string             `json:"season,omitempty"`
}

// ConfidenceScorer computes the per-query confidence of a pattern. The
// result is deterministic for fixed inputs and clock, and monotonic in
// symptom overlap, equipment agreement, and recency.
type ConfidenceScorer struct {
	now func() time.Time
}

func NewConfidenceScorer() *ConfidenceScorer {
	return &ConfidenceScorer{now: func() time.Time { return time.Now().UTC() }}
}

const (
	equipmentMatchBoost      = 15
	equipmentMismatchPenalty = 10
	symptomOverlapMaxBoost   = 20
	recencyBoost             = 10
	recencyPenalty           = 10
	recentWindowDays         = 30
	staleThresholdDays       = 180
)

// Score starts from the pattern's durable confidence and adjusts for
// equipment agreement (+15 exact match, -10 when both sides name a
// different model, neutral when either is blank), symptom overlap (up
// to +20, scaled by overlap over the larger set), and recency (+10
// under 30 days since last seen, -10 past 180). Clamped to [0,100].
func (s *ConfidenceScorer) Score(pattern *types.Pattern, dctx DiagnosticContext) float64 {
	score := pattern.ConfidenceScore
	if score == 0 {
		score = 50
	}

	if pattern.EquipmentModel != "" && dctx.EquipmentModel != "" {
		if pattern.EquipmentModel == dctx.EquipmentModel {
			score += equipmentMatchBoost
		} else {
			score -= equipmentMismatchPenalty
		}
	}

	if patternSymptoms := pattern.Symptoms(); len(patternSymptoms) > 0 && len(dctx.Symptoms) > 0 {
		score += symptomOverlapBoost(patternSymptoms, dctx.Symptoms)
	}

	days := s.daysSinceLastSeen(pattern)
	if days < recentWindowDays {
		score += recencyBoost
	} else if days > staleThresholdDays {
		score -= recencyPenalty
	}

	return ClampScore(score)
}

func (s *ConfidenceScorer) daysSinceLastSeen(pattern *types.Pattern) int {
	if pattern.LastSeen.IsZero() {
		return 365
	}
	return int(s.now().Sub(pattern.LastSeen).Hours() / 24)
}

// symptomOverlapBoost scales the overlap count by the larger of the two
// set sizes, so adding a matching symptom never lowers the boost.
func symptomOverlapBoost(patternSymptoms, liveSymptoms []string) float64 {
	live := make(map[string]struct{}, len(liveSymptoms))
	for _, s := range liveSymptoms {
		live[s] = struct{}{}
	}
	overlap := 0
	for _, s := range patternSymptoms {
		if _, ok := live[s]; ok {
			overlap++
		}
	}
	larger := len(patternSymptoms)
	if len(liveSymptoms) > larger {
		larger = len(liveSymptoms)
	}
	if larger == 0 {
		return 0
	}
	return float64(overlap) / float64(larger) * symptomOverlapMaxBoost
}

// ClampScore bounds any confidence or relevance value to [0,100].
func ClampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
