package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coilworks/hvac-backend/internal/logger"
	"github.com/coilworks/hvac-backend/internal/types"
)

type UserRoleRepo interface {
	// CompanyIDForUser resolves a user's tenant: role mapping first,
	// then ownership of a company record. uuid.Nil means no tenant.
	CompanyIDForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (uuid.UUID, error)
	ListUsersWithoutRole(ctx context.Context, tx *gorm.DB) ([]*types.User, error)
	CreateAdminRole(ctx context.Context, tx *gorm.DB, userID, companyID uuid.UUID) error
}

type userRoleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRoleRepo(db *gorm.DB, baseLog *logger.Logger) UserRoleRepo {
	return &userRoleRepo{db: db, log: baseLog.With("repo", "UserRoleRepo")}
}

func (rr *userRoleRepo) CompanyIDForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = rr.db
	}

	var role types.UserRole
	err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&role).Error
	if err == nil {
		return role.CompanyID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, err
	}

	var company types.Company
	err = transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&company).Error
	if err == nil {
		return company.ID, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, nil
	}
	return uuid.Nil, err
}

func (rr *userRoleRepo) ListUsersWithoutRole(ctx context.Context, tx *gorm.DB) ([]*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = rr.db
	}

	var results []*types.User
	if err := transaction.WithContext(ctx).
		Where("id NOT IN (?)", transaction.Model(&types.UserRole{}).Select("user_id")).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (rr *userRoleRepo) CreateAdminRole(ctx context.Context, tx *gorm.DB, userID, companyID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = rr.db
	}

	role := &types.UserRole{
		UserID:    userID,
		CompanyID: companyID,
		Role:      "admin",
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(role).Error
}
