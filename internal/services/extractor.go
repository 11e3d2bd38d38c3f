package services

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/coilworks/hvac-backend/internal/logger"
	"github.com/coilworks/hvac-backend/internal/types"
)

const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
	OutcomeUnknown = "unknown"
)

// TroubleshootingSession is the normalized view of one diagnostic
// episode, historical or live. It is transient and never persisted.
type TroubleshootingSession struct {
	Symptoms          []string
	Measurements      map[string]float64
	Diagnosis         string
	Outcome           string
	EquipmentModel    string
	SuccessRate       *float64
	HasSessionContext bool
}

// measurementVocabulary is the fixed set of HVAC parameters the
// extractor recognizes. Pressures are psi, temperatures and
// superheat/subcooling degrees F, voltage volts, current amps,
// airflow CFM. Keys outside this list are ignored.
var measurementVocabulary = []string{
	"suction_pressure",
	"head_pressure",
	"discharge_pressure",
	"low_side_pressure",
	"high_side_pressure",
	"evaporator_pressure",
	"condenser_pressure",
	"suction_temp",
	"discharge_temp",
	"liquid_line_temp",
	"evaporator_temp",
	"condenser_temp",
	"ambient_temp",
	"indoor_temp",
	"outdoor_temp",
	"superheat",
	"subcooling",
	"voltage",
	"current",
	"frequency",
	"airflow_cfm",
	"static_pressure",
	"delta_t",
	"pressure_drop",
}

// stringList tolerates both a JSON array of strings and a bare string.
// Non-string entries are dropped.
type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	var arr []interface{}
	if err := json.Unmarshal(b, &arr); err == nil {
		out := make([]string, 0, len(arr))
		for _, v := range arr {
			if str, ok := v.(string); ok && str != "" {
				out = append(out, str)
			}
		}
		*s = out
		return nil
	}
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		if single != "" {
			*s = []string{single}
		}
		return nil
	}
	*s = nil
	return nil
}

// numberMap keeps only finite numeric values from a JSON object.
type numberMap map[string]float64

func (m *numberMap) UnmarshalJSON(b []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		*m = nil
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		if f, ok := v.(float64); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
			out[k] = f
		}
	}
	*m = out
	return nil
}

// rawDiagnosticFields is the explicit optional-field view of a raw
// record's parameters or results blob. Extraction precedence over these
// fields is documented on Extract.
type rawDiagnosticFields struct {
	Symptom        string     `json:"symptom"`
	Symptoms       stringList `json:"symptoms"`
	Measurements   numberMap  `json:"measurements"`
	Diagnosis      string     `json:"diagnosis"`
	Outcome        string     `json:"outcome"`
	EquipmentModel string     `json:"equipment_model"`
	SuccessRate    *float64   `json:"success_rate"`
	Confidence     *float64   `json:"confidence"`
	AIAnalysis     struct {
		Symptoms stringList `json:"symptoms"`
	} `json:"ai_analysis"`
	SessionContext json.RawMessage `json:"session_context"`
}

type Extractor struct {
	log *logger.Logger
}

func NewExtractor(baseLog *logger.Logger) *Extractor {
	return &Extractor{log: baseLog.With("service", "Extractor")}
}

// Extract normalizes one historical record into a session.
//
// Symptoms come from, in order: parameters.symptom, parameters.symptoms,
// results.symptoms, results.ai_analysis.symptoms, case-sensitively
// deduplicated. Measurements are restricted to measurementVocabulary,
// read from parameters.measurements, flat parameters keys, then
// results.measurements. Diagnosis prefers results over parameters.
// Outcome is the explicit field, else inferred from success_rate
// (>=0.8 success, >=0.5 partial) or confidence (>=85 success, >=60
// partial), else "unknown".
//
// Returns nil when the record yields neither symptoms nor measurements.
func (e *Extractor) Extract(calc *types.Calculation) *TroubleshootingSession {
	if calc == nil {
		return nil
	}

	var params, results rawDiagnosticFields
	if len(calc.Parameters) > 0 {
		if err := json.Unmarshal(calc.Parameters, &params); err != nil {
			e.log.Debug("Unreadable calculation parameters", "calculation_id", calc.ID, "error", err)
		}
	}
	if len(calc.Results) > 0 {
		if err := json.Unmarshal(calc.Results, &results); err != nil {
			e.log.Debug("Unreadable calculation results", "calculation_id", calc.ID, "error", err)
		}
	}

	symptoms := e.extractSymptoms(params, results)
	measurements := e.extractMeasurements(calc, params, results)

	if len(symptoms) == 0 && len(measurements) == 0 {
		return nil
	}

	diagnosis := results.Diagnosis
	if diagnosis == "" {
		diagnosis = params.Diagnosis
	}
	equipmentModel := params.EquipmentModel
	if equipmentModel == "" {
		equipmentModel = results.EquipmentModel
	}

	return &TroubleshootingSession{
		Symptoms:          symptoms,
		Measurements:      measurements,
		Diagnosis:         diagnosis,
		Outcome:           inferOutcome(params, results),
		EquipmentModel:    equipmentModel,
		SuccessRate:       results.SuccessRate,
		HasSessionContext: len(params.SessionContext) > 0 && string(params.SessionContext) != "null",
	}
}

func (e *Extractor) extractSymptoms(params, results rawDiagnosticFields) []string {
	var collected []string
	if params.Symptom != "" {
		collected = append(collected, params.Symptom)
	}
	collected = append(collected, params.Symptoms...)
	collected = append(collected, results.Symptoms...)
	collected = append(collected, results.AIAnalysis.Symptoms...)

	seen := make(map[string]struct{}, len(collected))
	out := make([]string, 0, len(collected))
	for _, s := range collected {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (e *Extractor) extractMeasurements(calc *types.Calculation, params, results rawDiagnosticFields) map[string]float64 {
	// Flat keys on the parameters blob are the fallback for records that
	// predate the nested measurements object.
	var flat numberMap
	if len(calc.Parameters) > 0 {
		_ = json.Unmarshal(calc.Parameters, &flat)
	}

	out := make(map[string]float64)
	for _, field := range measurementVocabulary {
		if v, ok := params.Measurements[field]; ok {
			out[field] = v
			continue
		}
		if v, ok := flat[field]; ok {
			out[field] = v
		}
	}
	for _, field := range measurementVocabulary {
		if _, have := out[field]; have {
			continue
		}
		if v, ok := results.Measurements[field]; ok {
			out[field] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func inferOutcome(params, results rawDiagnosticFields) string {
	if results.Outcome != "" {
		return results.Outcome
	}
	if params.Outcome != "" {
		return params.Outcome
	}
	if results.SuccessRate != nil {
		switch {
		case *results.SuccessRate >= 0.8:
			return OutcomeSuccess
		case *results.SuccessRate >= 0.5:
			return OutcomePartial
		default:
			return OutcomeFailed
		}
	}
	if results.Confidence != nil {
		switch {
		case *results.Confidence >= 85:
			return OutcomeSuccess
		case *results.Confidence >= 60:
			return OutcomePartial
		default:
			return OutcomeFailed
		}
	}
	return OutcomeUnknown
}

// NormalizeOutcome maps free-text outcome descriptions onto the three
// canonical values by keyword containment. Anything unrecognized maps
// to "partial", the deliberate conservative middle ground.
func NormalizeOutcome(outcome string) string {
	normalized := strings.ToLower(outcome)

	switch {
	case strings.Contains(normalized, "success"),
		strings.Contains(normalized, "resolved"),
		strings.Contains(normalized, "fixed"):
		return OutcomeSuccess
	case strings.Contains(normalized, "partial"),
		strings.Contains(normalized, "improved"),
		strings.Contains(normalized, "better"):
		return OutcomePartial
	case strings.Contains(normalized, "failed"),
		strings.Contains(normalized, "unresolved"),
		strings.Contains(normalized, "no improvement"):
		return OutcomeFailed
	}
	return OutcomePartial
}

// IsCanonicalOutcome reports whether s is one of success/partial/failed.
func IsCanonicalOutcome(s string) bool {
	return s == OutcomeSuccess || s == OutcomePartial || s == OutcomeFailed
}
