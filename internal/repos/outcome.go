package repos

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	errs "github.com/coilworks/hvac-backend/internal/pkg/errors"
	"github.com/coilworks/hvac-backend/internal/logger"
	"github.com/coilworks/hvac-backend/internal/types"
)

type OutcomeRepo interface {
	// Create stores the outcome; a second write for the same session id
	// is a no-op so re-running a migration cannot duplicate audit rows.
	Create(ctx context.Context, tx *gorm.DB, outcome *types.DiagnosticOutcome) error
	GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID string) (*types.DiagnosticOutcome, error)
	SetFollowupRequired(ctx context.Context, tx *gorm.DB, outcomeID uuid.UUID, required bool) error
}

type outcomeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOutcomeRepo(db *gorm.DB, baseLog *logger.Logger) OutcomeRepo {
	return &outcomeRepo{db: db, log: baseLog.With("repo", "OutcomeRepo")}
}

func (or *outcomeRepo) Create(ctx context.Context, tx *gorm.DB, outcome *types.DiagnosticOutcome) error {
	transaction := tx
	if transaction == nil {
		transaction = or.db
	}

	if outcome.TroubleshootingSessionID == "" {
		return fmt.Errorf("troubleshooting session id required: %w", errs.ErrInvalidArgument)
	}

	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "troubleshooting_session_id"}},
			DoNothing: true,
		}).
		Create(outcome).Error
}

func (or *outcomeRepo) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID string) (*types.DiagnosticOutcome, error) {
	transaction := tx
	if transaction == nil {
		transaction = or.db
	}

	var result types.DiagnosticOutcome
	if err := transaction.WithContext(ctx).
		Where("troubleshooting_session_id = ?", sessionID).
		First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("diagnostic outcome for session %s: %w", sessionID, errs.ErrNotFound)
		}
		return nil, err
	}
	return &result, nil
}

func (or *outcomeRepo) SetFollowupRequired(ctx context.Context, tx *gorm.DB, outcomeID uuid.UUID, required bool) error {
	transaction := tx
	if transaction == nil {
		transaction = or.db
	}

	res := transaction.WithContext(ctx).
		Model(&types.DiagnosticOutcome{}).
		Where("id = ?", outcomeID).
		Update("followup_required", required)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("diagnostic outcome %s: %w", outcomeID, errs.ErrNotFound)
	}
	return nil
}
