package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseFailed    PurchaseStatus = "failed"
)

func (s PurchaseStatus) Terminal() bool {
	return s == PurchaseCompleted || s == PurchaseFailed
}

type Purchase struct {
	ID        string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AccountID string          `gorm:"index;type:varchar(36);not null" json:"userId"`
	CourseID  string          `gorm:"index;type:varchar(36);not null" json:"courseId"`
	Amount    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency  string          `gorm:"type:varchar(8);not null" json:"currency"`
	Status    PurchaseStatus  `gorm:"index;type:varchar(16);not null" json:"status"`
	Provider  string          `gorm:"type:varchar(16)" json:"provider"`
	SessionID string          `gorm:"index" json:"sessionId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// ProcessedEvent records a provider event id whose effects were applied.
type ProcessedEvent struct {
	ID          string `gorm:"primaryKey"`
	Type        string `gorm:"index"`
	ProcessedAt time.Time
}
