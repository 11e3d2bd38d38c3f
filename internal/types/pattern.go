package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PatternTypeSymptomOutcome     = "symptom_outcome"
	PatternTypeEquipmentFailure   = "equipment_failure"
	PatternTypeMeasurementAnomaly = "measurement_anomaly"
	PatternTypeSeasonal           = "seasonal_pattern"
)

// ValidPatternTypes lists every pattern type the store accepts, in the
// order the API documents them.
var ValidPatternTypes = []string{
	PatternTypeSymptomOutcome,
	PatternTypeEquipmentFailure,
	PatternTypeMeasurementAnomaly,
	PatternTypeSeasonal,
}

func IsValidPatternType(t string) bool {
	for _, v := range ValidPatternTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Pattern is one learned diagnostic signature, scoped to a company.
// (company_id, pattern_type, content_signature) uniquely identifies a
// live pattern; re-observing the same content bumps occurrence_count
// instead of inserting a second row.
type Pattern struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID        uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:idx_pattern_signature;column:company_id" json:"company_id"`
	PatternType      string         `gorm:"not null;uniqueIndex:idx_pattern_signature;column:pattern_type" json:"pattern_type"`
	ContentSignature string         `gorm:"not null;uniqueIndex:idx_pattern_signature;column:content_signature" json:"-"`
	PatternData      datatypes.JSON `gorm:"not null;column:pattern_data" json:"pattern_data"`
	EquipmentModel   string         `gorm:"column:equipment_model" json:"equipment_model,omitempty"`
	ConfidenceScore  float64        `gorm:"not null;column:confidence_score" json:"confidence_score"`
	RelevanceScore   float64        `gorm:"not null;column:relevance_score" json:"relevance_score"`
	OccurrenceCount  int            `gorm:"not null;default:1;column:occurrence_count" json:"occurrence_count"`
	LastSeen         time.Time      `gorm:"not null;index;column:last_seen" json:"last_seen"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}

func (Pattern) TableName() string {
	return "patterns"
}

func (p *Pattern) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Range is an inclusive expected band for one measured parameter.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Midpoint returns the center of the range.
func (r Range) Midpoint() float64 {
	return (r.Min + r.Max) / 2
}

// Contains reports whether v falls inside the band.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// SymptomOutcomeData is the payload for symptom_outcome patterns.
type SymptomOutcomeData struct {
	Symptoms       []string  `json:"symptoms"`
	Diagnosis      string    `json:"diagnosis"`
	Outcome        string    `json:"outcome"`
	EquipmentModel string    `json:"equipment_model,omitempty"`
	ObservedAt     time.Time `json:"observed_at"`
}

// EquipmentFailureData is the payload for equipment_failure patterns.
type EquipmentFailureData struct {
	FailureSignature   string   `json:"failure_signature"`
	PreventiveMeasures []string `json:"preventive_measures"`
}

// MeasurementAnomalyData is the payload for measurement_anomaly patterns.
type MeasurementAnomalyData struct {
	Parameter        string    `json:"parameter"`
	MeasuredValue    float64   `json:"measured_value"`
	ExpectedRange    Range     `json:"expected_range"`
	DeviationPercent float64   `json:"deviation_percent"`
	Diagnosis        string    `json:"diagnosis"`
	ObservedAt       time.Time `json:"observed_at"`
}

// SeasonalPatternData is the payload for seasonal_pattern patterns.
type SeasonalPatternData struct {
	Season    string   `json:"season"`
	Symptoms  []string `json:"symptoms"`
	Diagnosis string   `json:"diagnosis"`
}

// PatternPayload is the decoded tagged union behind Pattern.PatternData.
// Exactly one field is non-nil, selected by Pattern.PatternType.
type PatternPayload struct {
	SymptomOutcome     *SymptomOutcomeData
	EquipmentFailure   *EquipmentFailureData
	MeasurementAnomaly *MeasurementAnomalyData
	Seasonal           *SeasonalPatternData
}

// DecodePayload unmarshals PatternData into the variant named by
// PatternType. Unknown types are an error so consumers can handle the
// four variants exhaustively.
func (p *Pattern) DecodePayload() (PatternPayload, error) {
	var out PatternPayload
	switch p.PatternType {
	case PatternTypeSymptomOutcome:
		var d SymptomOutcomeData
		if err := json.Unmarshal(p.PatternData, &d); err != nil {
			return out, fmt.Errorf("decode symptom_outcome payload: %w", err)
		}
		out.SymptomOutcome = &d
	case PatternTypeEquipmentFailure:
		var d EquipmentFailureData
		if err := json.Unmarshal(p.PatternData, &d); err != nil {
			return out, fmt.Errorf("decode equipment_failure payload: %w", err)
		}
		out.EquipmentFailure = &d
	case PatternTypeMeasurementAnomaly:
		var d MeasurementAnomalyData
		if err := json.Unmarshal(p.PatternData, &d); err != nil {
			return out, fmt.Errorf("decode measurement_anomaly payload: %w", err)
		}
		out.MeasurementAnomaly = &d
	case PatternTypeSeasonal:
		var d SeasonalPatternData
		if err := json.Unmarshal(p.PatternData, &d); err != nil {
			return out, fmt.Errorf("decode seasonal_pattern payload: %w", err)
		}
		out.Seasonal = &d
	default:
		return out, fmt.Errorf("unknown pattern type %q", p.PatternType)
	}
	return out, nil
}

// Symptoms returns the symptom list carried by the payload, or nil for
// variants that have none.
func (p *Pattern) Symptoms() []string {
	payload, err := p.DecodePayload()
	if err != nil {
		return nil
	}
	switch {
	case payload.SymptomOutcome != nil:
		return payload.SymptomOutcome.Symptoms
	case payload.Seasonal != nil:
		return payload.Seasonal.Symptoms
	}
	return nil
}
