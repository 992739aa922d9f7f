package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/you/course-marketplace/services/marketplace/internal/domain"
)

// Store groups the repositories over one handle, either the pool or a
// transaction opened by InTx.
type Store struct {
	db        *gorm.DB
	Accounts  *AccountRepo
	Courses   *CourseRepo
	Purchases *PurchaseRepo
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:        db,
		Accounts:  NewAccountRepo(db),
		Courses:   NewCourseRepo(db),
		Purchases: NewPurchaseRepo(db),
	}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.Account{},
		&domain.AccountCourse{},
		&domain.Course{},
		&domain.CourseStudent{},
		&domain.Purchase{},
		&domain.ProcessedEvent{},
	)
}

// InTx runs fn inside one database transaction. Every read and write in fn
// must go through the tx store it receives.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
