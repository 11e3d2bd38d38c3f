package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	errs "github.com/coilworks/hvac-backend/internal/pkg/errors"
	"github.com/coilworks/hvac-backend/internal/logger"
	"github.com/coilworks/hvac-backend/internal/types"
)

type PatternRepo interface {
	// UpsertBySignature inserts the pattern or, when a live pattern with
	// the same (company, type, signature) already exists, increments its
	// occurrence count and refreshes last_seen. Confidence and relevance
	// of an existing pattern are never touched here. Returns the stored
	// row either way.
	UpsertBySignature(ctx context.Context, tx *gorm.DB, pattern *types.Pattern) (*types.Pattern, error)
	GetByID(ctx context.Context, tx *gorm.DB, companyID, patternID uuid.UUID) (*types.Pattern, error)
	ListByType(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, patternType string, limit, offset int) ([]*types.Pattern, error)
	ListByCompany(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, limit int) ([]*types.Pattern, error)
	FindCandidates(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, equipmentModel string, limit int) ([]*types.Pattern, error)
	UpdateConfidence(ctx context.Context, tx *gorm.DB, patternID uuid.UUID, score float64, lastSeen time.Time) error
}

type patternRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPatternRepo(db *gorm.DB, baseLog *logger.Logger) PatternRepo {
	return &patternRepo{db: db, log: baseLog.With("repo", "PatternRepo")}
}

func (pr *patternRepo) UpsertBySignature(ctx context.Context, tx *gorm.DB, pattern *types.Pattern) (*types.Pattern, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}

	if pattern.CompanyID == uuid.Nil {
		return nil, fmt.Errorf("company id required: %w", errs.ErrInvalidArgument)
	}
	if pattern.ContentSignature == "" {
		return nil, fmt.Errorf("content signature required: %w", errs.ErrInvalidArgument)
	}

	if err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "company_id"},
				{Name: "pattern_type"},
				{Name: "content_signature"},
			},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"occurrence_count": gorm.Expr("patterns.occurrence_count + 1"),
				"last_seen":        pattern.LastSeen,
				"updated_at":       time.Now().UTC(),
			}),
		}).
		Create(pattern).Error; err != nil {
		return nil, err
	}

	// The conflict path does not report the surviving row's id, so read
	// it back by signature.
	var stored types.Pattern
	if err := transaction.WithContext(ctx).
		Where("company_id = ? AND pattern_type = ? AND content_signature = ?",
			pattern.CompanyID, pattern.PatternType, pattern.ContentSignature).
		First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (pr *patternRepo) GetByID(ctx context.Context, tx *gorm.DB, companyID, patternID uuid.UUID) (*types.Pattern, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}

	var result types.Pattern
	if err := transaction.WithContext(ctx).
		Where("id = ? AND company_id = ?", patternID, companyID).
		First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("pattern %s: %w", patternID, errs.ErrNotFound)
		}
		return nil, err
	}
	return &result, nil
}

func (pr *patternRepo) ListByType(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, patternType string, limit, offset int) ([]*types.Pattern, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}

	var results []*types.Pattern
	if err := transaction.WithContext(ctx).
		Where("company_id = ? AND pattern_type = ?", companyID, patternType).
		Order("last_seen DESC").
		Limit(limit).
		Offset(offset).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (pr *patternRepo) ListByCompany(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, limit int) ([]*types.Pattern, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}

	var results []*types.Pattern
	if err := transaction.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("last_seen DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (pr *patternRepo) FindCandidates(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, equipmentModel string, limit int) ([]*types.Pattern, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}

	q := transaction.WithContext(ctx).Where("company_id = ?", companyID)
	if equipmentModel != "" {
		// Patterns without an equipment hint stay eligible.
		q = q.Where("equipment_model = ? OR equipment_model = ''", equipmentModel)
	}

	var results []*types.Pattern
	if err := q.Order("last_seen DESC").Limit(limit).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (pr *patternRepo) UpdateConfidence(ctx context.Context, tx *gorm.DB, patternID uuid.UUID, score float64, lastSeen time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}

	res := transaction.WithContext(ctx).
		Model(&types.Pattern{}).
		Where("id = ?", patternID).
		Updates(map[string]interface{}{
			"confidence_score": score,
			"last_seen":        lastSeen,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("pattern %s: %w", patternID, errs.ErrNotFound)
	}
	return nil
}
