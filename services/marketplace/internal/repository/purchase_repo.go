package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/you/course-marketplace/services/marketplace/internal/domain"
)

type PurchaseRepo struct{ db *gorm.DB }

func NewPurchaseRepo(db *gorm.DB) *PurchaseRepo {
	return &PurchaseRepo{db: db}
}

func (r *PurchaseRepo) Create(ctx context.Context, p *domain.Purchase) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = domain.PurchasePending
	}
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PurchaseRepo) ByID(ctx context.Context, id string) (*domain.Purchase, error) {
	var p domain.Purchase
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ByIDForUpdate locks the row until the surrounding transaction ends.
func (r *PurchaseRepo) ByIDForUpdate(ctx context.Context, id string) (*domain.Purchase, error) {
	var p domain.Purchase
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&p, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PurchaseRepo) BySessionID(ctx context.Context, sessionID string) (*domain.Purchase, error) {
	var p domain.Purchase
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PurchaseRepo) SetSessionID(ctx context.Context, id, sessionID string) error {
	return r.db.WithContext(ctx).Model(&domain.Purchase{}).Where("id = ?", id).Update("session_id", sessionID).Error
}

// Transition moves a purchase from one status to another only if it is
// still in the expected status. It reports whether the row changed.
func (r *PurchaseRepo) Transition(ctx context.Context, id string, from, to domain.PurchaseStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Purchase{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return res.RowsAffected > 0, res.Error
}

func (r *PurchaseRepo) PendingOlderThan(ctx context.Context, cutoff time.Time) ([]domain.Purchase, error) {
	var out []domain.Purchase
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", domain.PurchasePending, cutoff).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (r *PurchaseRepo) CompletedForCourses(ctx context.Context, courseIDs []string) ([]domain.Purchase, error) {
	var out []domain.Purchase
	if len(courseIDs) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).
		Where("course_id IN ? AND status = ?", courseIDs, domain.PurchaseCompleted).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (r *PurchaseRepo) CountByAccountCourse(ctx context.Context, accountID, courseID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Purchase{}).
		Where("account_id = ? AND course_id = ?", accountID, courseID).
		Count(&n).Error
	return n, err
}

func (r *PurchaseRepo) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.ProcessedEvent{}).Where("id = ?", eventID).Count(&n).Error
	return n > 0, err
}

func (r *PurchaseRepo) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	rec := domain.ProcessedEvent{ID: eventID, Type: eventType, ProcessedAt: time.Now().UTC()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
}
