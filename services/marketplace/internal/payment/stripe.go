package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
)

type Stripe struct {
	sessions      *session.Client
	secretKey     string
	webhookSecret string
	timeout       time.Duration
}

func NewStripe(secretKey, webhookSecret string, timeout time.Duration) *Stripe {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
	})
	return &Stripe{
		sessions:      &session.Client{B: backend, Key: secretKey},
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		timeout:       timeout,
	}
}

func (s *Stripe) Name() string            { return "stripe" }
func (s *Stripe) SignatureHeader() string { return "Stripe-Signature" }

func (s *Stripe) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if s.secretKey == "" {
		return nil, ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(req.Name)}
	if req.Description != "" {
		product.Description = stripe.String(req.Description)
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.Metadata[MetaPurchaseID]),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(req.Currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(req.Amount),
			},
			Quantity: stripe.Int64(1),
		}},
		Metadata:          req.Metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: req.Metadata},
	}
	params.Context = ctx

	cs, err := s.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create session: %w", err)
	}
	return &Session{ID: cs.ID, URL: cs.URL}, nil
}

func (s *Stripe) SessionPaid(ctx context.Context, sessionID string) (bool, error) {
	if s.secretKey == "" {
		return false, ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	cs, err := s.sessions.Get(sessionID, params)
	if err != nil {
		return false, fmt.Errorf("stripe get session: %w", err)
	}
	return cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid, nil
}

func (s *Stripe) ParseEvent(_ context.Context, payload []byte, signature string) (*Event, error) {
	if s.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not set", ErrInvalidSignature)
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{Kind: EventIgnored}
	if ev.Data != nil {
		switch ev.Type {
		case stripe.EventTypeCheckoutSessionCompleted,
			stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
			stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
			stripe.EventTypeCheckoutSessionExpired:
			var cs stripe.CheckoutSession
			if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
				return nil, fmt.Errorf("decode checkout session: %w", err)
			}
			*out = metaEvent(cs.Metadata)
			out.SessionID = cs.ID
			if out.PurchaseID == "" {
				out.PurchaseID = cs.ClientReferenceID
			}
			out.Kind = checkoutKind(ev.Type, cs.PaymentStatus)

		case stripe.EventTypePaymentIntentSucceeded:
			var pi stripe.PaymentIntent
			if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
				return nil, fmt.Errorf("decode payment intent: %w", err)
			}
			*out = metaEvent(pi.Metadata)
			out.Kind = EventPaymentSucceeded

		// A declined attempt leaves the checkout session open for another
		// payment method. Only an expired session or a failed async payment
		// ends the purchase.
		case stripe.EventTypePaymentIntentPaymentFailed:
		}
	}
	out.ID = ev.ID
	out.Type = string(ev.Type)
	return out, nil
}

func checkoutKind(t stripe.EventType, ps stripe.CheckoutSessionPaymentStatus) EventKind {
	switch t {
	case stripe.EventTypeCheckoutSessionCompleted:
		// Delayed payment methods complete the session before funds arrive.
		if ps == stripe.CheckoutSessionPaymentStatusPaid {
			return EventPaymentSucceeded
		}
		return EventIgnored
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return EventPaymentSucceeded
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed, stripe.EventTypeCheckoutSessionExpired:
		return EventPaymentFailed
	}
	return EventIgnored
}
