package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/you/course-marketplace/services/marketplace/internal/domain"
	"github.com/you/course-marketplace/services/marketplace/internal/middlewares"
	"github.com/you/course-marketplace/services/marketplace/internal/service"
)

type CourseHandler struct {
	svc *service.CatalogSvc
}

func NewCourseHandler(svc *service.CatalogSvc) *CourseHandler {
	return &CourseHandler{svc: svc}
}

type courseReq struct {
	Title       string           `json:"courseTitle" binding:"required"`
	Description string           `json:"courseDescription"`
	Thumbnail   string           `json:"courseThumbnail"`
	Price       decimal.Decimal  `json:"coursePrice"`
	Discount    int              `json:"discount"`
	Published   *bool            `json:"isPublished"`
	Chapters    []domain.Chapter `json:"courseContent"`
}

func (r courseReq) input() service.CourseInput {
	published := true
	if r.Published != nil {
		published = *r.Published
	}
	return service.CourseInput{
		Title:       r.Title,
		Description: r.Description,
		Thumbnail:   r.Thumbnail,
		Price:       r.Price,
		Discount:    r.Discount,
		Published:   published,
		Chapters:    r.Chapters,
	}
}

// GET /courses
func (h *CourseHandler) List(c *gin.Context) {
	list, err := h.svc.ListPublished(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "courses": list})
}

// GET /courses/:id
func (h *CourseHandler) Get(c *gin.Context) {
	course, err := h.svc.Course(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "courseData": course})
}

// POST /educator/courses (educator|admin)
func (h *CourseHandler) Create(c *gin.Context) {
	var in courseReq
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	course, err := h.svc.CreateCourse(c.Request.Context(), middlewares.Account(c).ID, in.input())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "course": course})
}

// PUT /educator/courses/:id (owner or admin)
func (h *CourseHandler) Update(c *gin.Context) {
	var in courseReq
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	course, err := h.svc.UpdateCourse(c.Request.Context(), middlewares.Account(c), c.Param("id"), in.input())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "course": course})
}

// GET /educator/courses
func (h *CourseHandler) Mine(c *gin.Context) {
	list, err := h.svc.EducatorCourses(c.Request.Context(), middlewares.Account(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "courses": list})
}

// GET /educator/enrolled-students
func (h *CourseHandler) EnrolledStudents(c *gin.Context) {
	list, err := h.svc.EnrolledStudents(c.Request.Context(), middlewares.Account(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "enrolledStudents": list})
}
