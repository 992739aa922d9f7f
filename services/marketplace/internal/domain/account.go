package domain

import "time"

type Role string

const (
	RoleStudent  Role = "student"
	RoleEducator Role = "educator"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleEducator, RoleAdmin:
		return true
	}
	return false
}

type Account struct {
	ID           string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Email        string     `gorm:"uniqueIndex;not null" json:"email"`
	Name         string     `json:"name"`
	ImageURL     string     `json:"imageUrl,omitempty"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Role         Role       `gorm:"type:varchar(16);not null;default:student" json:"role"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// AccountCourse is one entry of an account's enrolled-course set.
type AccountCourse struct {
	AccountID string `gorm:"primaryKey;type:varchar(36)"`
	CourseID  string `gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time
}
