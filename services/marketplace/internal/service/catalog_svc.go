package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/you/course-marketplace/services/marketplace/internal/domain"
	"github.com/you/course-marketplace/services/marketplace/internal/repository"
)

type CatalogSvc struct {
	store    *repository.Store
	decimals int32
	log      *slog.Logger
}

// NewCatalogSvc stores prices rounded to currencyDecimals, the same minor
// unit the checkout amount uses.
func NewCatalogSvc(store *repository.Store, currencyDecimals int32, log *slog.Logger) *CatalogSvc {
	return &CatalogSvc{store: store, decimals: currencyDecimals, log: log}
}

type CourseInput struct {
	Title       string
	Description string
	Thumbnail   string
	Price       decimal.Decimal
	Discount    int
	Published   bool
	Chapters    []domain.Chapter
}

func (in CourseInput) validate() error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return fmt.Errorf("%w: title required", ErrInvalidInput)
	case in.Price.IsNegative():
		return fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	case in.Discount < 0 || in.Discount > 100:
		return fmt.Errorf("%w: discount must be within 0-100", ErrInvalidInput)
	}
	return nil
}

func (in CourseInput) apply(c *domain.Course, decimals int32) {
	c.Title = strings.TrimSpace(in.Title)
	c.Description = in.Description
	c.Thumbnail = in.Thumbnail
	c.Price = in.Price.Round(decimals)
	c.Discount = in.Discount
	c.Published = in.Published
	c.Chapters = normalizeChapters(in.Chapters)
}

// normalizeChapters assigns missing ids and positional order.
func normalizeChapters(chs []domain.Chapter) []domain.Chapter {
	out := make([]domain.Chapter, len(chs))
	for i, ch := range chs {
		if ch.ID == "" {
			ch.ID = uuid.NewString()
		}
		ch.Order = i + 1
		lectures := make([]domain.Lecture, len(ch.Lectures))
		for j, l := range ch.Lectures {
			if l.ID == "" {
				l.ID = uuid.NewString()
			}
			l.Order = j + 1
			lectures[j] = l
		}
		ch.Lectures = lectures
		out[i] = ch
	}
	return out
}

func (s *CatalogSvc) ListPublished(ctx context.Context) ([]domain.Course, error) {
	list, err := s.store.Courses.ListPublished(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].RedactLockedLectures()
	}
	return list, nil
}

// Course returns a published course with locked lecture URLs blanked.
func (s *CatalogSvc) Course(ctx context.Context, id string) (*domain.Course, error) {
	c, err := s.store.Courses.ByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	if !c.Published {
		return nil, ErrNotFound
	}
	c.RedactLockedLectures()
	return c, nil
}

func (s *CatalogSvc) CreateCourse(ctx context.Context, educatorID string, in CourseInput) (*domain.Course, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	c := &domain.Course{EducatorID: educatorID}
	in.apply(c, s.decimals)
	if err := s.store.Courses.Create(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info("course created", slog.String("course_id", c.ID), slog.String("educator_id", educatorID))
	return c, nil
}

// UpdateCourse edits content of a course the actor owns. Admins may edit any
// course; other actors get ErrNotFound.
func (s *CatalogSvc) UpdateCourse(ctx context.Context, actor *domain.Account, id string, in CourseInput) (*domain.Course, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	c, err := s.store.Courses.ByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	if actor.Role != domain.RoleAdmin && c.EducatorID != actor.ID {
		return nil, ErrNotFound
	}
	in.apply(c, s.decimals)
	if err := s.store.Courses.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// EducatorCourses lists the actor's own courses, or every course for admins.
func (s *CatalogSvc) EducatorCourses(ctx context.Context, actor *domain.Account) ([]domain.Course, error) {
	owner := actor.ID
	if actor.Role == domain.RoleAdmin {
		owner = ""
	}
	return s.store.Courses.ListByEducator(ctx, owner)
}

type StudentRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type EnrolledStudent struct {
	Student      StudentRef `json:"student"`
	CourseID     string     `json:"courseId"`
	CourseTitle  string     `json:"courseTitle"`
	PurchaseDate time.Time  `json:"purchaseDate"`
}

// EnrolledStudents lists completed purchases of the actor's courses.
func (s *CatalogSvc) EnrolledStudents(ctx context.Context, actor *domain.Account) ([]EnrolledStudent, error) {
	courses, err := s.EducatorCourses(ctx, actor)
	if err != nil {
		return nil, err
	}
	titles := make(map[string]string, len(courses))
	ids := make([]string, 0, len(courses))
	for _, c := range courses {
		titles[c.ID] = c.Title
		ids = append(ids, c.ID)
	}

	purchases, err := s.store.Purchases.CompletedForCourses(ctx, ids)
	if err != nil {
		return nil, err
	}
	accountIDs := make([]string, 0, len(purchases))
	for _, p := range purchases {
		accountIDs = append(accountIDs, p.AccountID)
	}
	accounts, err := s.store.Accounts.ByIDs(ctx, accountIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}

	out := make([]EnrolledStudent, 0, len(purchases))
	for _, p := range purchases {
		a, ok := byID[p.AccountID]
		if !ok {
			continue
		}
		out = append(out, EnrolledStudent{
			Student:      StudentRef{ID: a.ID, Name: a.Name, ImageURL: a.ImageURL},
			CourseID:     p.CourseID,
			CourseTitle:  titles[p.CourseID],
			PurchaseDate: p.CreatedAt,
		})
	}
	return out, nil
}
