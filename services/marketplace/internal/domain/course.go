package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Lecture struct {
	ID          string `json:"lectureId"`
	Title       string `json:"lectureTitle"`
	DurationMin int    `json:"lectureDuration"`
	URL         string `json:"lectureUrl"`
	IsPreview   bool   `json:"isPreviewFree"`
	Order       int    `json:"lectureOrder"`
}

type Chapter struct {
	ID       string    `json:"chapterId"`
	Title    string    `json:"chapterTitle"`
	Order    int       `json:"chapterOrder"`
	Lectures []Lecture `json:"chapterContent"`
}

type Course struct {
	ID          string                       `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title       string                       `gorm:"not null" json:"courseTitle"`
	Description string                       `json:"courseDescription"`
	Thumbnail   string                       `json:"courseThumbnail,omitempty"`
	Price       decimal.Decimal              `gorm:"type:numeric(12,2);not null" json:"coursePrice"`
	Discount    int                          `gorm:"not null;default:0" json:"discount"`
	Published   bool                         `gorm:"index;not null" json:"isPublished"`
	EducatorID  string                       `gorm:"index;type:varchar(36)" json:"educator"`
	Chapters    datatypes.JSONSlice[Chapter] `json:"courseContent"`
	CreatedAt   time.Time                    `json:"createdAt"`
	UpdatedAt   time.Time                    `json:"updatedAt"`
}

// CourseStudent is one entry of a course's enrolled-student set.
type CourseStudent struct {
	CourseID  string `gorm:"primaryKey;type:varchar(36)"`
	AccountID string `gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time
}

// DiscountedPrice returns price minus discount percent, rounded half-up to
// the given number of decimal places.
func DiscountedPrice(price decimal.Decimal, discount int, places int32) decimal.Decimal {
	off := price.Mul(decimal.NewFromInt(int64(discount))).Div(decimal.NewFromInt(100))
	return price.Sub(off).Round(places)
}

// MinorUnits converts an amount to the provider's integer minor unit.
func MinorUnits(amount decimal.Decimal, places int32) int64 {
	return amount.Shift(places).Round(0).IntPart()
}

// RedactLockedLectures blanks media URLs of lectures that are not free previews.
func (c *Course) RedactLockedLectures() {
	for i := range c.Chapters {
		for j := range c.Chapters[i].Lectures {
			if !c.Chapters[i].Lectures[j].IsPreview {
				c.Chapters[i].Lectures[j].URL = ""
			}
		}
	}
}
