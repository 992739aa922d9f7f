package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/you/course-marketplace/pkg/metrics"
	"github.com/you/course-marketplace/services/marketplace/internal/domain"
	"github.com/you/course-marketplace/services/marketplace/internal/middlewares"
	"github.com/you/course-marketplace/services/marketplace/internal/service"
)

type Deps struct {
	Guard           *middlewares.Guard
	Auth            *service.AuthSvc
	Catalog         *service.CatalogSvc
	Enrollment      *service.EnrollmentSvc
	SignatureHeader string
	FrontendURL     string
	Log             *slog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.RequestLogger(d.Log), middlewares.Metrics())

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	ah := NewAuthHandler(d.Auth)
	r.POST("/auth/register", ah.Register)
	r.POST("/auth/login", ah.Login)

	ch := NewCourseHandler(d.Catalog)
	r.GET("/courses", ch.List)
	r.GET("/courses/:id", ch.Get)

	wh := NewWebhookHandler(d.Enrollment, d.SignatureHeader, d.Log)
	r.POST("/webhooks/payment-provider", wh.Handle)

	ph := NewPurchaseHandler(d.Enrollment, d.FrontendURL, d.Log)
	secured := r.Group("")
	secured.Use(d.Guard.JWTAuth())
	{
		secured.GET("/user/profile", ah.Profile)
		secured.POST("/purchase", ph.Purchase)
		secured.GET("/payment-success", ph.PaymentSuccess)
		secured.POST("/confirm-payment", ph.Confirm)
		secured.GET("/enrolled-courses", ph.EnrolledCourses)
		secured.POST("/educator/role", ah.BecomeEducator)

		edu := secured.Group("/educator")
		edu.Use(d.Guard.RequireRole(domain.RoleEducator, domain.RoleAdmin))
		edu.POST("/courses", ch.Create)
		edu.PUT("/courses/:id", ch.Update)
		edu.GET("/courses", ch.Mine)
		edu.GET("/enrolled-students", ch.EnrolledStudents)

		admin := secured.Group("/admin")
		admin.Use(d.Guard.RequireRole(domain.RoleAdmin))
		admin.GET("/purchases/orphaned", ph.Orphaned)
	}
	return r
}
