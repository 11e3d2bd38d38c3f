package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	CalculationTypeTroubleshooting   = "Troubleshooting"
	CalculationTypeAITroubleshooting = "AI Troubleshooting"
	CalculationTypeDiagnostic        = "Diagnostic"
)

// DiagnosticCalculationTypes are the historical record categories the
// migration pipeline mines for patterns.
var DiagnosticCalculationTypes = []string{
	CalculationTypeTroubleshooting,
	CalculationTypeAITroubleshooting,
	CalculationTypeDiagnostic,
}

// Calculation is one raw historical diagnostic record. Parameters and
// Results are heterogeneous JSON blobs whose shape varies by Type; the
// extractor owns the rules for reading them.
type Calculation struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID      `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	Type       string         `gorm:"not null;index;column:type" json:"type"`
	Parameters datatypes.JSON `gorm:"column:parameters" json:"parameters"`
	Results    datatypes.JSON `gorm:"column:results" json:"results"`
	CreatedAt  time.Time      `gorm:"not null;index" json:"created_at"`
}

func (Calculation) TableName() string {
	return "calculations"
}
