package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/you/course-marketplace/services/marketplace/internal/service"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	svc    *service.EnrollmentSvc
	header string
	log    *slog.Logger
}

func NewWebhookHandler(svc *service.EnrollmentSvc, signatureHeader string, log *slog.Logger) *WebhookHandler {
	return &WebhookHandler{svc: svc, header: signatureHeader, log: log}
}

// POST /webhooks/payment-provider
// The body is read raw; the signature covers the exact bytes.
func (h *WebhookHandler) Handle(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	var sig string
	if h.header != "" {
		sig = c.GetHeader(h.header)
	}

	err = h.svc.HandleProviderEvent(c.Request.Context(), payload, sig)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, service.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
	default:
		h.log.Error("webhook processing failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
