package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/you/course-marketplace/services/marketplace/internal/domain"
)

type AccountRepo struct{ db *gorm.DB }

func NewAccountRepo(db *gorm.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

func (r *AccountRepo) Create(ctx context.Context, a *domain.Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *AccountRepo) ByEmail(ctx context.Context, email string) (*domain.Account, error) {
	var a domain.Account
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) ByID(ctx context.Context, id string) (*domain.Account, error) {
	var a domain.Account
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) ByIDs(ctx context.Context, ids []string) ([]domain.Account, error) {
	var out []domain.Account
	if len(ids) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error
	return out, err
}

func (r *AccountRepo) Exists(ctx context.Context, id string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

func (r *AccountRepo) UpdateRole(ctx context.Context, id string, role domain.Role) error {
	res := r.db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", id).Update("role", role)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *AccountRepo) TouchLogin(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", id).Update("last_login", at).Error
}

// AddCourse inserts courseID into the account's enrolled set if absent and
// reports whether a row was written.
func (r *AccountRepo) AddCourse(ctx context.Context, accountID, courseID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.AccountCourse{AccountID: accountID, CourseID: courseID})
	return res.RowsAffected > 0, res.Error
}

func (r *AccountRepo) IsEnrolled(ctx context.Context, accountID, courseID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.AccountCourse{}).
		Where("account_id = ? AND course_id = ?", accountID, courseID).
		Count(&n).Error
	return n > 0, err
}

func (r *AccountRepo) EnrolledCourseIDs(ctx context.Context, accountID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&domain.AccountCourse{}).
		Where("account_id = ?", accountID).
		Order("created_at ASC").
		Pluck("course_id", &ids).Error
	return ids, err
}
