package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/you/course-marketplace/services/marketplace/internal/middlewares"
	"github.com/you/course-marketplace/services/marketplace/internal/service"
)

const confirmationNotice = "payment-confirmation-issue"

type PurchaseHandler struct {
	svc         *service.EnrollmentSvc
	frontendURL string
	log         *slog.Logger
}

func NewPurchaseHandler(svc *service.EnrollmentSvc, frontendURL string, log *slog.Logger) *PurchaseHandler {
	return &PurchaseHandler{svc: svc, frontendURL: strings.TrimRight(frontendURL, "/"), log: log}
}

// POST /purchase
func (h *PurchaseHandler) Purchase(c *gin.Context) {
	var in struct {
		CourseID string `json:"courseId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	co, err := h.svc.Initiate(c.Request.Context(), middlewares.Account(c).ID, in.CourseID)
	if errors.Is(err, service.ErrAlreadyEnrolled) {
		c.JSON(http.StatusOK, gin.H{
			"success":         false,
			"alreadyEnrolled": true,
			"message":         "You are already enrolled in this course",
		})
		return
	}
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"checkoutUrl": co.URL,
		"purchaseId":  co.PurchaseID,
		"sessionId":   co.SessionID,
	})
}

// GET /payment-success?purchaseId=&courseId=
// Always redirects to the enrollments view; failures add a notice. The
// webhook remains the backstop for completing the purchase.
func (h *PurchaseHandler) PaymentSuccess(c *gin.Context) {
	acc := middlewares.Account(c)
	_, err := h.svc.Finalize(c.Request.Context(), service.ConfirmedByRedirect{
		PurchaseID: c.Query("purchaseId"),
		CourseID:   c.Query("courseId"),
		AccountID:  acc.ID,
	})
	target := h.frontendURL + "/my-enrollments"
	if err != nil {
		h.log.Warn("redirect confirmation failed",
			slog.String("purchase_id", c.Query("purchaseId")), slog.String("account_id", acc.ID), slog.Any("error", err))
		target += "?" + url.Values{"notice": {confirmationNotice}}.Encode()
	}
	c.Redirect(http.StatusSeeOther, target)
}

// POST /confirm-payment
func (h *PurchaseHandler) Confirm(c *gin.Context) {
	var in struct {
		PurchaseID string `json:"purchaseId" binding:"required"`
		CourseID   string `json:"courseId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	res, err := h.svc.Finalize(c.Request.Context(), service.ConfirmedByRedirect{
		PurchaseID: in.PurchaseID,
		CourseID:   in.CourseID,
		AccountID:  middlewares.Account(c).ID,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	if res.Outcome == service.OutcomeAlreadyFailed {
		c.JSON(http.StatusOK, gin.H{"success": false, "outcome": res.Outcome, "message": "Payment failed for this purchase"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "outcome": res.Outcome, "message": "Payment confirmed and enrollment completed"})
}

// GET /enrolled-courses
func (h *PurchaseHandler) EnrolledCourses(c *gin.Context) {
	list, err := h.svc.EnrolledCourses(c.Request.Context(), middlewares.Account(c).ID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "enrolledCourses": list})
}

// GET /admin/purchases/orphaned?older_than=24h
func (h *PurchaseHandler) Orphaned(c *gin.Context) {
	olderThan, err := time.ParseDuration(c.DefaultQuery("older_than", "24h"))
	if err != nil || olderThan < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "older_than must be a positive duration"})
		return
	}
	list, err := h.svc.OrphanedPurchases(c.Request.Context(), olderThan)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "purchases": list})
}
