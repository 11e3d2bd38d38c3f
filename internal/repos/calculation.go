package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/coilworks/hvac-backend/internal/logger"
	"github.com/coilworks/hvac-backend/internal/types"
)

type CalculationRepo interface {
	// ListDiagnostic pages through historical diagnostic records,
	// newest first.
	ListDiagnostic(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*types.Calculation, error)
	CountDiagnostic(ctx context.Context, tx *gorm.DB) (int64, error)
}

type calculationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCalculationRepo(db *gorm.DB, baseLog *logger.Logger) CalculationRepo {
	return &calculationRepo{db: db, log: baseLog.With("repo", "CalculationRepo")}
}

func (cr *calculationRepo) ListDiagnostic(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*types.Calculation, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}

	var results []*types.Calculation
	if err := transaction.WithContext(ctx).
		Where("type IN ?", types.DiagnosticCalculationTypes).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (cr *calculationRepo) CountDiagnostic(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}

	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.Calculation{}).
		Where("type IN ?", types.DiagnosticCalculationTypes).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
