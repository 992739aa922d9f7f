package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/you/course-marketplace/services/marketplace/internal/domain"
)

type CourseRepo struct{ db *gorm.DB }

func NewCourseRepo(db *gorm.DB) *CourseRepo {
	return &CourseRepo{db: db}
}

func (r *CourseRepo) Create(ctx context.Context, c *domain.Course) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *CourseRepo) ByID(ctx context.Context, id string) (*domain.Course, error) {
	var c domain.Course
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CourseRepo) ByIDs(ctx context.Context, ids []string) ([]domain.Course, error) {
	var out []domain.Course
	if len(ids) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error
	return out, err
}

func (r *CourseRepo) Exists(ctx context.Context, id string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Course{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

// Update writes content fields only. The enrolled-student set is untouched.
func (r *CourseRepo) Update(ctx context.Context, c *domain.Course) error {
	return r.db.WithContext(ctx).Model(c).
		Select("title", "description", "thumbnail", "price", "discount", "published", "chapters").
		Updates(c).Error
}

func (r *CourseRepo) ListPublished(ctx context.Context) ([]domain.Course, error) {
	var out []domain.Course
	err := r.db.WithContext(ctx).Where("published = ?", true).Order("created_at DESC").Find(&out).Error
	return out, err
}

// ListByEducator returns the educator's courses; an empty educatorID lists all.
func (r *CourseRepo) ListByEducator(ctx context.Context, educatorID string) ([]domain.Course, error) {
	qb := r.db.WithContext(ctx).Model(&domain.Course{})
	if educatorID != "" {
		qb = qb.Where("educator_id = ?", educatorID)
	}
	var out []domain.Course
	err := qb.Order("created_at DESC").Find(&out).Error
	return out, err
}

// PurchasedBy returns the distinct courses backed by a completed purchase.
func (r *CourseRepo) PurchasedBy(ctx context.Context, accountID string) ([]domain.Course, error) {
	paid := r.db.Model(&domain.Purchase{}).
		Select("course_id").
		Where("account_id = ? AND status = ?", accountID, domain.PurchaseCompleted)
	var out []domain.Course
	err := r.db.WithContext(ctx).Where("id IN (?)", paid).Order("title ASC").Find(&out).Error
	return out, err
}

// AddStudent inserts accountID into the course's enrolled set if absent and
// reports whether a row was written.
func (r *CourseRepo) AddStudent(ctx context.Context, courseID, accountID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.CourseStudent{CourseID: courseID, AccountID: accountID})
	return res.RowsAffected > 0, res.Error
}

func (r *CourseRepo) StudentIDs(ctx context.Context, courseID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&domain.CourseStudent{}).
		Where("course_id = ?", courseID).
		Order("created_at ASC").
		Pluck("account_id", &ids).Error
	return ids, err
}
