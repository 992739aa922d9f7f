package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/you/course-marketplace/services/marketplace/internal/middlewares"
	"github.com/you/course-marketplace/services/marketplace/internal/service"
)

// errToHTTP maps service errors to a status and a message safe to show users.
func errToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, "invalid input"
	case errors.Is(err, service.ErrInvalidSignature):
		return http.StatusBadRequest, "invalid signature"
	case errors.Is(err, service.ErrAlreadyEnrolled):
		return http.StatusConflict, "already enrolled"
	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, "email already registered"
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, middlewares.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, middlewares.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrPaymentNotConfirmed):
		return http.StatusPaymentRequired, "payment not confirmed yet"
	case errors.Is(err, service.ErrPaymentServiceUnavailable):
		return http.StatusServiceUnavailable, "payment service unavailable, please try again later"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeErr(c *gin.Context, err error) {
	code, msg := errToHTTP(err)
	c.JSON(code, gin.H{"success": false, "error": msg})
}
