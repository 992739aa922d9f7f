package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/you/course-marketplace/pkg/config"
)

var (
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrNotConfigured       = errors.New("payment_provider_not_configured")
	// ErrProviderUnavailable means an event could not be checked against the
	// provider. The delivery should be retried, not rejected.
	ErrProviderUnavailable = errors.New("payment_provider_unavailable")
)

// Correlation metadata keys attached to every session.
const (
	MetaPurchaseID = "purchase_id"
	MetaAccountID  = "account_id"
	MetaCourseID   = "course_id"
)

type EventKind string

const (
	EventPaymentSucceeded EventKind = "payment_succeeded"
	EventPaymentFailed    EventKind = "payment_failed"
	EventIgnored          EventKind = "ignored"
)

type SessionRequest struct {
	Amount      int64 // minor units
	Currency    string
	Name        string
	Description string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

type Session struct {
	ID  string
	URL string
}

// Event is a verified provider notification reduced to what enrollment needs.
type Event struct {
	ID         string
	Kind       EventKind
	Type       string
	PurchaseID string
	AccountID  string
	CourseID   string
	SessionID  string
}

// Gateway is a protocol adapter over one hosted-checkout provider.
type Gateway interface {
	Name() string
	SignatureHeader() string
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	SessionPaid(ctx context.Context, sessionID string) (bool, error)
	ParseEvent(ctx context.Context, payload []byte, signature string) (*Event, error)
}

func New(cfg config.App) (Gateway, error) {
	switch strings.ToLower(cfg.PaymentProvider) {
	case "", "stripe":
		return NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.PaymentTimeout), nil
	case "omise":
		return NewOmise(cfg.OmisePublicKey, cfg.OmiseSecretKey, cfg.OmiseSourceType, cfg.PaymentTimeout)
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.PaymentProvider)
	}
}

func metaEvent(m map[string]string) Event {
	return Event{
		PurchaseID: m[MetaPurchaseID],
		AccountID:  m[MetaAccountID],
		CourseID:   m[MetaCourseID],
	}
}
