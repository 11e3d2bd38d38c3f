package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DiagnosticOutcome is the audit record for one troubleshooting session:
// what was recommended, what the technician did, and how it ended.
// Created once per session and read-mostly afterwards; only
// followup_required may change.
type DiagnosticOutcome struct {
	ID                       uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TroubleshootingSessionID string         `gorm:"not null;uniqueIndex;column:troubleshooting_session_id" json:"troubleshooting_session_id"`
	CompanyID                uuid.UUID      `gorm:"type:uuid;not null;index;column:company_id" json:"company_id"`
	UserID                   uuid.UUID      `gorm:"type:uuid;column:user_id" json:"user_id"`
	AIRecommendations        datatypes.JSON `gorm:"column:ai_recommendations" json:"ai_recommendations"`
	TechnicianActions        datatypes.JSON `gorm:"column:technician_actions" json:"technician_actions"`
	FinalResolution          datatypes.JSON `gorm:"column:final_resolution" json:"final_resolution"`
	SuccessRating            int            `gorm:"not null;column:success_rating" json:"success_rating"`
	FollowupRequired         bool           `gorm:"not null;column:followup_required" json:"followup_required"`
	Notes                    string         `gorm:"column:notes" json:"notes"`
	CreatedAt                time.Time      `gorm:"not null" json:"created_at"`
}

func (DiagnosticOutcome) TableName() string {
	return "diagnostic_outcomes"
}

func (o *DiagnosticOutcome) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
