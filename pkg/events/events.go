package events

import (
	"encoding/json"
	"fmt"
)

const (
	RKEnrollmentCompleted = "enrollment.completed"
	RKPurchaseFailed      = "purchase.failed"
)

type EnrollmentCompleted struct {
	PurchaseID string `json:"purchase_id"`
	AccountID  string `json:"account_id"`
	CourseID   string `json:"course_id"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Source     string `json:"source"` // redirect|webhook
	Enrolled   bool   `json:"enrolled"`
}

type PurchaseFailed struct {
	PurchaseID string `json:"purchase_id"`
	AccountID  string `json:"account_id"`
	CourseID   string `json:"course_id"`
	EventID    string `json:"event_id,omitempty"`
}

func Unmarshal[T any](b []byte) (T, error) {
	var t T
	if err := json.Unmarshal(b, &t); err != nil {
		var zero T
		return zero, fmt.Errorf("decode payload failed: %w", err)
	}
	return t, nil
}
