package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/coilworks/hvac-backend/internal/logger"
	"github.com/coilworks/hvac-backend/internal/repos"
	"github.com/coilworks/hvac-backend/internal/types"
)

// analysisWindow caps how many recent patterns one tenant analysis
// reads; patterns beyond it are old enough to not move the aggregates.
const analysisWindow = 100

// SymptomCorrelation groups symptom_outcome patterns sharing a symptom
// set and reports how they tend to resolve.
type SymptomCorrelation struct {
	Symptoms []string         `json:"symptoms"`
	Outcomes []OutcomeSummary `json:"outcomes"`
	// EquipmentTypes are the distinct models the group was observed on.
	EquipmentTypes []string `json:"equipment_types"`
	// SeasonalCorrelation in [0,1]: 0 uniform across seasons, 1 fully
	// concentrated in one.
	SeasonalCorrelation float64 `json:"seasonal_correlation"`
}

type OutcomeSummary struct {
	Diagnosis          string   `json:"diagnosis"`
	SuccessRate        float64  `json:"success_rate"`
	Confidence         float64  `json:"confidence"`
	RecommendedActions []string `json:"recommended_actions"`
}

// FailureMode is one recurring failure for an equipment model with
// planning estimates attached.
type FailureMode struct {
	Symptom                string             `json:"symptom"`
	Frequency              float64            `json:"frequency"`
	MeanTimeToFailureDays  int                `json:"mean_time_to_failure"`
	RecommendedReplacement string             `json:"recommended_replacement"`
	RepairCostEstimate     RepairCostEstimate `json:"repair_cost_estimate"`
}

type RepairCostEstimate struct {
	Parts int `json:"parts"`
	Labor int `json:"labor"`
	Total int `json:"total"`
}

type EquipmentFailureSummary struct {
	EquipmentModel     string        `json:"equipment_model"`
	FailureModes       []FailureMode `json:"failure_modes"`
	CommonCauses       []string      `json:"common_causes"`
	PreventiveMeasures []string      `json:"preventive_measures"`
}

// MeasurementSummary aggregates measurement_anomaly patterns for one
// parameter.
type MeasurementSummary struct {
	Parameter            string               `json:"parameter"`
	AnomalyType          string               `json:"anomaly_type"`
	ThresholdViolations  []ThresholdViolation `json:"threshold_violations"`
	CorrelatedParameters []string             `json:"correlated_parameters"`
	DiagnosticClues      []string             `json:"diagnostic_clues"`
}

type ThresholdViolation struct {
	Condition    string   `json:"condition"`
	Severity     string   `json:"severity"`
	LikelyCauses []string `json:"likely_causes"`
	Confidence   float64  `json:"confidence"`
}

type SeasonalSummary struct {
	Season                string            `json:"season"`
	SymptomIncrease       []SymptomIncrease `json:"symptom_increase"`
	PreventiveMaintenance []MaintenanceTask `json:"preventive_maintenance"`
}

type SymptomIncrease struct {
	Symptom             string   `json:"symptom"`
	IncreasePercentage  float64  `json:"increase_percentage"`
	ContributingFactors []string `json:"contributing_factors"`
}

type MaintenanceTask struct {
	Task     string `json:"task"`
	Timing   string `json:"timing"`
	Priority string `json:"priority"`
}

// PatternAnalysis is the tenant-wide aggregation over stored patterns.
type PatternAnalysis struct {
	SymptomCorrelations  []SymptomCorrelation      `json:"symptom_correlations"`
	EquipmentFailures    []EquipmentFailureSummary `json:"equipment_failures"`
	MeasurementAnomalies []MeasurementSummary      `json:"measurement_anomalies"`
	SeasonalPatterns     []SeasonalSummary         `json:"seasonal_patterns"`
}

type AnalysisService interface {
	AnalyzeHistoricalData(ctx context.Context, companyID uuid.UUID) (*PatternAnalysis, error)
}

type analysisService struct {
	log         *logger.Logger
	patternRepo repos.PatternRepo
}

func NewAnalysisService(baseLog *logger.Logger, patternRepo repos.PatternRepo) AnalysisService {
	return &analysisService{
		log:         baseLog.With("service", "AnalysisService"),
		patternRepo: patternRepo,
	}
}

func (as *analysisService) AnalyzeHistoricalData(ctx context.Context, companyID uuid.UUID) (*PatternAnalysis, error) {
	patterns, err := as.patternRepo.ListByCompany(ctx, nil, companyID, analysisWindow)
	if err != nil {
		return nil, fmt.Errorf("load patterns for analysis: %w", err)
	}

	return &PatternAnalysis{
		SymptomCorrelations:  as.symptomCorrelations(patterns),
		EquipmentFailures:    as.equipmentFailures(patterns),
		MeasurementAnomalies: as.measurementAnomalies(patterns),
		SeasonalPatterns:     seasonalSummaries(patterns),
	}, nil
}

func (as *analysisService) symptomCorrelations(patterns []*types.Pattern) []SymptomCorrelation {
	groups := make(map[string][]*types.Pattern)
	payloads := make(map[*types.Pattern]*types.SymptomOutcomeData)
	var keys []string

	for _, p := range patterns {
		if p.PatternType != types.PatternTypeSymptomOutcome {
			continue
		}
		payload, err := p.DecodePayload()
		if err != nil || payload.SymptomOutcome == nil {
			as.log.Warn("Skipping undecodable symptom_outcome pattern", "pattern_id", p.ID, "error", err)
			continue
		}
		key := canonicalSymptoms(payload.SymptomOutcome.Symptoms)
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], p)
		payloads[p] = payload.SymptomOutcome
	}

	out := make([]SymptomCorrelation, 0, len(keys))
	for _, key := range keys {
		group := groups[key]
		first := payloads[group[0]]

		successes := 0
		confidenceSum := 0.0
		equipmentSet := make(map[string]struct{})
		var equipment []string
		for _, p := range group {
			d := payloads[p]
			if d.Outcome == OutcomeSuccess {
				successes++
			}
			confidenceSum += p.ConfidenceScore
			if d.EquipmentModel != "" {
				if _, dup := equipmentSet[d.EquipmentModel]; !dup {
					equipmentSet[d.EquipmentModel] = struct{}{}
					equipment = append(equipment, d.EquipmentModel)
				}
			}
		}

		symptoms := make([]string, len(first.Symptoms))
		copy(symptoms, first.Symptoms)
		sort.Strings(symptoms)

		out = append(out, SymptomCorrelation{
			Symptoms: symptoms,
			Outcomes: []OutcomeSummary{{
				Diagnosis:          first.Diagnosis,
				SuccessRate:        float64(successes) / float64(len(group)),
				Confidence:         confidenceSum / float64(len(group)),
				RecommendedActions: recommendedActionsFor(group, payloads),
			}},
			EquipmentTypes:      equipment,
			SeasonalCorrelation: seasonalCorrelation(group),
		})
	}
	return out
}

// recommendedActionsFor returns the most frequent diagnoses among the
// group's successful resolutions, capped at five.
func recommendedActionsFor(group []*types.Pattern, payloads map[*types.Pattern]*types.SymptomOutcomeData) []string {
	counts := make(map[string]int)
	var order []string
	for _, p := range group {
		d := payloads[p]
		if d.Outcome != OutcomeSuccess || d.Diagnosis == "" {
			continue
		}
		if counts[d.Diagnosis] == 0 {
			order = append(order, d.Diagnosis)
		}
		counts[d.Diagnosis] += p.OccurrenceCount
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > 5 {
		order = order[:5]
	}
	return order
}

// seasonalCorrelation measures how far the group's sightings deviate
// from a uniform spread across the four seasons, normalized to [0,1].
func seasonalCorrelation(group []*types.Pattern) float64 {
	if len(group) < 2 {
		return 0.5
	}
	counts := map[string]int{}
	for _, p := range group {
		ts := p.CreatedAt
		if ts.IsZero() {
			ts = p.LastSeen
		}
		counts[seasonOf(ts)]++
	}
	total := float64(len(group))
	expected := total / 4
	variance := 0.0
	for _, season := range []string{"spring", "summer", "fall", "winter"} {
		diff := float64(counts[season]) - expected
		variance += diff * diff
	}
	variance /= 4
	maxVariance := expected * expected * 4
	if maxVariance == 0 {
		return 0.5
	}
	return math.Min(1, variance/maxVariance)
}

func (as *analysisService) equipmentFailures(patterns []*types.Pattern) []EquipmentFailureSummary {
	groups := make(map[string][]*types.Pattern)
	var models []string
	for _, p := range patterns {
		if p.PatternType != types.PatternTypeEquipmentFailure {
			continue
		}
		model := p.EquipmentModel
		if model == "" {
			model = "unknown"
		}
		if _, seen := groups[model]; !seen {
			models = append(models, model)
		}
		groups[model] = append(groups[model], p)
	}

	out := make([]EquipmentFailureSummary, 0, len(models))
	for _, model := range models {
		out = append(out, EquipmentFailureSummary{
			EquipmentModel: model,
			FailureModes:   failureModes(groups[model]),
			CommonCauses: []string{
				"Lack of maintenance",
				"Age of equipment",
				"Environmental factors",
			},
			PreventiveMeasures: preventiveMeasuresFor(groups[model]),
		})
	}
	return out
}

func preventiveMeasuresFor(group []*types.Pattern) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range group {
		payload, err := p.DecodePayload()
		if err != nil || payload.EquipmentFailure == nil {
			continue
		}
		for _, m := range payload.EquipmentFailure.PreventiveMeasures {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		out = []string{
			"Regular filter changes",
			"Annual maintenance",
			"Monitor performance",
		}
	}
	return out
}

func failureModes(group []*types.Pattern) []FailureMode {
	type modeAgg struct {
		signature   string
		occurrences int
	}
	aggs := make(map[string]*modeAgg)
	var order []string

	totalOccurrences := 0
	for _, p := range group {
		payload, err := p.DecodePayload()
		if err != nil || payload.EquipmentFailure == nil {
			continue
		}
		sig := payload.EquipmentFailure.FailureSignature
		if sig == "" {
			sig = "General failure"
		}
		if _, seen := aggs[sig]; !seen {
			aggs[sig] = &modeAgg{signature: sig}
			order = append(order, sig)
		}
		aggs[sig].occurrences += p.OccurrenceCount
		totalOccurrences += p.OccurrenceCount
	}
	if totalOccurrences == 0 {
		return nil
	}

	var out []FailureMode
	for _, sig := range order {
		agg := aggs[sig]
		frequency := float64(agg.occurrences) / float64(totalOccurrences)
		if frequency <= 0.05 {
			continue
		}
		out = append(out, FailureMode{
			Symptom:                agg.signature,
			Frequency:              frequency,
			MeanTimeToFailureDays:  estimateMTBFDays(agg.signature),
			RecommendedReplacement: recommendedReplacement(agg.signature),
			RepairCostEstimate:     estimateRepairCost(agg.signature),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Frequency > out[j].Frequency })
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

func (as *analysisService) measurementAnomalies(patterns []*types.Pattern) []MeasurementSummary {
	groups := make(map[string][]*types.MeasurementAnomalyData)
	diagnoses := make(map[string][]string)
	var params []string

	for _, p := range patterns {
		if p.PatternType != types.PatternTypeMeasurementAnomaly {
			continue
		}
		payload, err := p.DecodePayload()
		if err != nil || payload.MeasurementAnomaly == nil {
			as.log.Warn("Skipping undecodable measurement_anomaly pattern", "pattern_id", p.ID, "error", err)
			continue
		}
		a := payload.MeasurementAnomaly
		if _, seen := groups[a.Parameter]; !seen {
			params = append(params, a.Parameter)
		}
		groups[a.Parameter] = append(groups[a.Parameter], a)
		diagnoses[a.Parameter] = append(diagnoses[a.Parameter], a.Diagnosis)
	}

	out := make([]MeasurementSummary, 0, len(params))
	for _, parameter := range params {
		group := groups[parameter]
		out = append(out, MeasurementSummary{
			Parameter:            parameter,
			AnomalyType:          anomalyType(group),
			ThresholdViolations:  thresholdViolations(group),
			CorrelatedParameters: correlatedParameters(parameter, diagnoses, groups),
			DiagnosticClues: []string{
				"Check for ice formation",
				"Listen for unusual noises",
			},
		})
	}
	return out
}

// anomalyType classifies a parameter's anomaly history: unstable when
// readings vary widely (coefficient of variation > 0.3), high/low when
// violations skew one way at least 2:1, correlated otherwise.
func anomalyType(group []*types.MeasurementAnomalyData) string {
	if len(group) == 0 {
		return "high"
	}
	sum := 0.0
	highCount, lowCount := 0, 0
	for _, a := range group {
		sum += a.MeasuredValue
		if a.MeasuredValue > a.ExpectedRange.Max {
			highCount++
		}
		if a.MeasuredValue < a.ExpectedRange.Min {
			lowCount++
		}
	}
	mean := sum / float64(len(group))

	variance := 0.0
	for _, a := range group {
		variance += (a.MeasuredValue - mean) * (a.MeasuredValue - mean)
	}
	variance /= float64(len(group))
	if mean != 0 && math.Sqrt(variance)/math.Abs(mean) > 0.3 {
		return "unstable"
	}

	switch {
	case highCount > lowCount*2:
		return "high"
	case lowCount > highCount*2:
		return "low"
	default:
		return "correlated"
	}
}

func thresholdViolations(group []*types.MeasurementAnomalyData) []ThresholdViolation {
	var out []ThresholdViolation
	seen := make(map[string]struct{})
	for _, a := range group {
		condition := "Reading too low"
		if a.MeasuredValue > a.ExpectedRange.Max {
			condition = "Reading too high"
		}
		if _, dup := seen[condition]; dup {
			continue
		}
		seen[condition] = struct{}{}

		severity := "minor"
		switch {
		case a.DeviationPercent >= 50:
			severity = "critical"
		case a.DeviationPercent >= 20:
			severity = "major"
		}
		out = append(out, ThresholdViolation{
			Condition:    condition,
			Severity:     severity,
			LikelyCauses: likelyCauses(a),
			Confidence:   75,
		})
	}
	return out
}

func likelyCauses(a *types.MeasurementAnomalyData) []string {
	if a.MeasuredValue > a.ExpectedRange.Max {
		return []string{"Overcharged system", "Restriction"}
	}
	return []string{"Undercharged system", "Metering device issue"}
}

// correlatedParameters finds other parameters whose anomalies share a
// diagnosis context with the target at least 30% of the time.
func correlatedParameters(target string, diagnoses map[string][]string, groups map[string][]*types.MeasurementAnomalyData) []string {
	targetDiagnoses := make(map[string]struct{})
	for _, d := range diagnoses[target] {
		targetDiagnoses[diagnosisContext(d)] = struct{}{}
	}
	targetCount := len(groups[target])
	if targetCount == 0 || len(targetDiagnoses) == 0 {
		return nil
	}

	type corr struct {
		parameter string
		strength  float64
	}
	var correlations []corr
	var params []string
	for p := range groups {
		if p != target {
			params = append(params, p)
		}
	}
	sort.Strings(params)

	for _, p := range params {
		co := 0
		for _, d := range diagnoses[p] {
			if _, shared := targetDiagnoses[diagnosisContext(d)]; shared {
				co++
			}
		}
		strength := float64(co) / float64(targetCount)
		if strength >= 0.3 {
			correlations = append(correlations, corr{parameter: p, strength: strength})
		}
	}

	sort.SliceStable(correlations, func(i, j int) bool { return correlations[i].strength > correlations[j].strength })
	if len(correlations) > 5 {
		correlations = correlations[:5]
	}
	out := make([]string, 0, len(correlations))
	for _, c := range correlations {
		out = append(out, c.parameter)
	}
	return out
}

// diagnosisContext strips the " - Abnormal <parameter>" suffix the
// anomaly detector appends, leaving the shared session diagnosis.
func diagnosisContext(diagnosis string) string {
	if idx := strings.Index(diagnosis, " - Abnormal "); idx >= 0 {
		return diagnosis[:idx]
	}
	return diagnosis
}

func seasonalSummaries(patterns []*types.Pattern) []SeasonalSummary {
	seasons := []string{"spring", "summer", "fall", "winter"}
	counts := make(map[string]map[string]int)
	totals := make(map[string]int)
	for _, season := range seasons {
		counts[season] = make(map[string]int)
	}

	for _, p := range patterns {
		ts := p.CreatedAt
		if ts.IsZero() {
			ts = p.LastSeen
		}
		season := seasonOf(ts)
		for _, s := range p.Symptoms() {
			counts[season][s] += p.OccurrenceCount
			totals[s] += p.OccurrenceCount
		}
	}

	out := make([]SeasonalSummary, 0, len(seasons))
	for _, season := range seasons {
		out = append(out, SeasonalSummary{
			Season:                season,
			SymptomIncrease:       symptomIncreases(season, counts[season], totals),
			PreventiveMaintenance: seasonalMaintenance(season),
		})
	}
	return out
}

// symptomIncreases reports symptoms over-represented in a season
// relative to an even quarter of their yearly occurrences.
func symptomIncreases(season string, seasonCounts map[string]int, totals map[string]int) []SymptomIncrease {
	var symptoms []string
	for s := range seasonCounts {
		symptoms = append(symptoms, s)
	}
	sort.Strings(symptoms)

	var out []SymptomIncrease
	for _, s := range symptoms {
		total := totals[s]
		if total < 2 {
			continue
		}
		expected := float64(total) / 4
		observed := float64(seasonCounts[s])
		if observed <= expected {
			continue
		}
		out = append(out, SymptomIncrease{
			Symptom:             s,
			IncreasePercentage:  math.Round((observed - expected) / expected * 100),
			ContributingFactors: contributingFactors(season),
		})
	}
	return out
}

func contributingFactors(season string) []string {
	switch season {
	case "summer":
		return []string{"High ambient temperature", "Dirty condenser"}
	case "winter":
		return []string{"Low ambient temperature", "Restricted airflow"}
	default:
		return []string{"Seasonal load change"}
	}
}

func seasonalMaintenance(season string) []MaintenanceTask {
	timing := "As needed"
	if season == "spring" {
		timing = "Before cooling season"
	}
	return []MaintenanceTask{{
		Task:     "Clean condenser coils",
		Timing:   timing,
		Priority: "high",
	}}
}

// estimateMTBFDays is the planning estimate for mean time between
// failures, in days, keyed by failure description keywords.
func estimateMTBFDays(failureType string) int {
	estimates := []struct {
		keyword string
		days    int
	}{
		{"compressor failure", 3650},
		{"capacitor failure", 1095},
		{"refrigerant leak", 730},
		{"fan motor failure", 1825},
		{"thermostat failure", 1460},
		{"condenser coil leak", 2190},
		{"expansion valve failure", 1095},
		{"electrical failure", 1825},
		{"sensor failure", 730},
	}
	lower := strings.ToLower(failureType)
	for _, e := range estimates {
		if strings.Contains(lower, e.keyword) {
			return e.days
		}
	}
	return 1825
}

func recommendedReplacement(failureType string) string {
	replacements := []struct {
		keyword     string
		replacement string
	}{
		{"compressor failure", "Compressor replacement"},
		{"capacitor failure", "Capacitor replacement"},
		{"refrigerant leak", "Refrigerant recharge and leak repair"},
		{"fan motor failure", "Fan motor replacement"},
		{"thermostat failure", "Thermostat replacement"},
		{"condenser coil leak", "Coil replacement or repair"},
		{"expansion valve failure", "Expansion valve replacement"},
		{"electrical failure", "Electrical component repair/replacement"},
		{"sensor failure", "Sensor replacement"},
	}
	lower := strings.ToLower(failureType)
	for _, r := range replacements {
		if strings.Contains(lower, r.keyword) {
			return r.replacement
		}
	}
	return "System inspection and repair"
}

func estimateRepairCost(failureType string) RepairCostEstimate {
	costs := []struct {
		keyword string
		parts   int
		labor   int
	}{
		{"compressor failure", 2000, 800},
		{"capacitor failure", 50, 150},
		{"refrigerant leak", 200, 300},
		{"fan motor failure", 400, 200},
		{"thermostat failure", 150, 100},
		{"condenser coil leak", 1200, 500},
		{"expansion valve failure", 300, 250},
		{"electrical failure", 200, 300},
		{"sensor failure", 100, 150},
	}
	parts, labor := 500, 400
	lower := strings.ToLower(failureType)
	for _, c := range costs {
		if strings.Contains(lower, c.keyword) {
			parts, labor = c.parts, c.labor
			break
		}
	}
	return RepairCostEstimate{Parts: parts, Labor: labor, Total: parts + labor}
}
