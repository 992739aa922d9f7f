package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/you/course-marketplace/pkg/events"
	"github.com/you/course-marketplace/pkg/metrics"
	"github.com/you/course-marketplace/services/marketplace/internal/domain"
	"github.com/you/course-marketplace/services/marketplace/internal/payment"
	"github.com/you/course-marketplace/services/marketplace/internal/repository"
)

var tracer = otel.Tracer("marketplace/enrollment")

// Publisher is satisfied by *mq.Publisher.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

type EnrollmentConfig struct {
	Currency         string
	CurrencyDecimals int32
	FrontendURL      string
}

type Checkout struct {
	PurchaseID string
	SessionID  string
	URL        string
	Amount     decimal.Decimal
	Currency   string
}

// Confirmation is either ConfirmedByRedirect or ConfirmedByWebhook.
type Confirmation interface {
	source() string
	ids() (purchaseID, courseID, accountID string)
}

// ConfirmedByRedirect carries client-supplied identifiers. They only locate
// the purchase; payment is checked with the provider before completing.
type ConfirmedByRedirect struct {
	PurchaseID string
	CourseID   string
	AccountID  string
}

func (c ConfirmedByRedirect) source() string { return "redirect" }
func (c ConfirmedByRedirect) ids() (string, string, string) {
	return c.PurchaseID, c.CourseID, c.AccountID
}

// ConfirmedByWebhook carries identifiers from a verified provider event.
// Empty account or course ids are not scope-checked.
type ConfirmedByWebhook struct {
	EventID    string
	PurchaseID string
	CourseID   string
	AccountID  string
}

func (c ConfirmedByWebhook) source() string { return "webhook" }
func (c ConfirmedByWebhook) ids() (string, string, string) {
	return c.PurchaseID, c.CourseID, c.AccountID
}

type FinalizeOutcome string

const (
	OutcomeCompleted        FinalizeOutcome = "completed"
	OutcomeAlreadyCompleted FinalizeOutcome = "already_completed"
	OutcomeAlreadyFailed    FinalizeOutcome = "already_failed"
)

type FinalizeResult struct {
	Outcome  FinalizeOutcome
	Purchase *domain.Purchase
	// Enrolled is false when the account or course vanished before completion.
	Enrolled bool
}

type EnrollmentSvc struct {
	store   *repository.Store
	gateway payment.Gateway
	pub     Publisher
	cfg     EnrollmentConfig
	log     *slog.Logger
}

func NewEnrollmentSvc(store *repository.Store, gw payment.Gateway, pub Publisher, cfg EnrollmentConfig, log *slog.Logger) *EnrollmentSvc {
	return &EnrollmentSvc{store: store, gateway: gw, pub: pub, cfg: cfg, log: log}
}

func spanErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *EnrollmentSvc) Initiate(ctx context.Context, accountID, courseID string) (_ *Checkout, err error) {
	ctx, span := tracer.Start(ctx, "enrollment.initiate", trace.WithAttributes(
		attribute.String("account_id", accountID),
		attribute.String("course_id", courseID),
	))
	defer func() {
		result := "ok"
		if err != nil {
			result = initiateResult(err)
		}
		metrics.PurchasesInitiated.WithLabelValues(result).Inc()
		spanErr(span, err)
		span.End()
	}()

	if _, err := s.store.Accounts.ByID(ctx, accountID); err != nil {
		return nil, notFound(err)
	}
	course, err := s.store.Courses.ByID(ctx, courseID)
	if err != nil {
		return nil, notFound(err)
	}
	if !course.Published {
		return nil, ErrNotFound
	}
	enrolled, err := s.store.Accounts.IsEnrolled(ctx, accountID, courseID)
	if err != nil {
		return nil, err
	}
	if enrolled {
		return nil, ErrAlreadyEnrolled
	}

	amount := domain.DiscountedPrice(course.Price, course.Discount, s.cfg.CurrencyDecimals)
	p := &domain.Purchase{
		AccountID: accountID,
		CourseID:  courseID,
		Amount:    amount,
		Currency:  s.cfg.Currency,
		Status:    domain.PurchasePending,
		Provider:  s.gateway.Name(),
	}
	if err := s.store.Purchases.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create purchase: %w", err)
	}
	span.SetAttributes(attribute.String("purchase_id", p.ID))

	sess, err := s.gateway.CreateSession(ctx, payment.SessionRequest{
		Amount:      domain.MinorUnits(amount, s.cfg.CurrencyDecimals),
		Currency:    s.cfg.Currency,
		Name:        course.Title,
		Description: truncate(course.Description, 200),
		SuccessURL:  s.successURL(p),
		CancelURL:   s.cancelURL(p),
		Metadata: map[string]string{
			payment.MetaPurchaseID: p.ID,
			payment.MetaAccountID:  accountID,
			payment.MetaCourseID:   courseID,
		},
	})
	if err != nil {
		s.log.Warn("checkout session failed, purchase left pending",
			slog.String("purchase_id", p.ID), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", ErrPaymentServiceUnavailable, err)
	}
	if err := s.store.Purchases.SetSessionID(ctx, p.ID, sess.ID); err != nil {
		s.log.Error("persist session id failed, purchase left pending",
			slog.String("purchase_id", p.ID), slog.String("session_id", sess.ID), slog.Any("error", err))
		return nil, fmt.Errorf("persist session id: %w", err)
	}

	s.log.Info("checkout started",
		slog.String("purchase_id", p.ID), slog.String("account_id", accountID),
		slog.String("course_id", courseID), slog.String("amount", amount.StringFixed(s.cfg.CurrencyDecimals)))
	return &Checkout{PurchaseID: p.ID, SessionID: sess.ID, URL: sess.URL, Amount: amount, Currency: s.cfg.Currency}, nil
}

// Finalize completes a pending purchase and records the enrollment in both
// sets. Replays and races are absorbed: terminal purchases are left as they
// are and the set inserts are no-ops when the entry already exists.
func (s *EnrollmentSvc) Finalize(ctx context.Context, c Confirmation) (res FinalizeResult, err error) {
	purchaseID, courseID, accountID := c.ids()
	ctx, span := tracer.Start(ctx, "enrollment.finalize", trace.WithAttributes(
		attribute.String("purchase_id", purchaseID),
		attribute.String("source", c.source()),
	))
	defer func() {
		if err == nil {
			metrics.PurchasesFinalized.WithLabelValues(c.source(), string(res.Outcome)).Inc()
		}
		spanErr(span, err)
		span.End()
	}()

	if purchaseID == "" {
		return res, ErrNotFound
	}

	if redirect, ok := c.(ConfirmedByRedirect); ok {
		done, err := s.verifyRedirect(ctx, redirect)
		if err != nil || done != nil {
			if done != nil {
				res = *done
			}
			return res, err
		}
	}

	err = s.store.InTx(ctx, func(tx *repository.Store) error {
		p, err := tx.Purchases.ByIDForUpdate(ctx, purchaseID)
		if err != nil {
			return notFound(err)
		}
		if !inScope(p, courseID, accountID, c) {
			return ErrNotFound
		}
		res.Purchase = p
		if p.Status.Terminal() {
			res.Outcome = absorbed(p.Status)
			return nil
		}

		moved, err := tx.Purchases.Transition(ctx, p.ID, domain.PurchasePending, domain.PurchaseCompleted)
		if err != nil {
			return err
		}
		if !moved {
			cur, err := tx.Purchases.ByID(ctx, p.ID)
			if err != nil {
				return err
			}
			res.Purchase = cur
			res.Outcome = absorbed(cur.Status)
			return nil
		}
		p.Status = domain.PurchaseCompleted
		res.Outcome = OutcomeCompleted

		accOK, err := tx.Accounts.Exists(ctx, p.AccountID)
		if err != nil {
			return err
		}
		courseOK, err := tx.Courses.Exists(ctx, p.CourseID)
		if err != nil {
			return err
		}
		if !accOK || !courseOK {
			s.log.Warn("purchase completed but enrollment skipped",
				slog.String("purchase_id", p.ID), slog.String("account_id", p.AccountID),
				slog.String("course_id", p.CourseID), slog.Bool("account_exists", accOK),
				slog.Bool("course_exists", courseOK))
			return nil
		}
		if _, err := tx.Accounts.AddCourse(ctx, p.AccountID, p.CourseID); err != nil {
			return err
		}
		if _, err := tx.Courses.AddStudent(ctx, p.CourseID, p.AccountID); err != nil {
			return err
		}
		res.Enrolled = true
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Error("finalize failed", slog.String("purchase_id", purchaseID), slog.Any("error", err))
		}
		return FinalizeResult{}, err
	}

	if res.Outcome == OutcomeCompleted {
		p := res.Purchase
		s.log.Info("purchase completed",
			slog.String("purchase_id", p.ID), slog.String("account_id", p.AccountID),
			slog.String("course_id", p.CourseID), slog.String("source", c.source()))
		s.publish(ctx, events.RKEnrollmentCompleted, events.EnrollmentCompleted{
			PurchaseID: p.ID,
			AccountID:  p.AccountID,
			CourseID:   p.CourseID,
			Amount:     p.Amount.StringFixed(s.cfg.CurrencyDecimals),
			Currency:   p.Currency,
			Source:     c.source(),
			Enrolled:   res.Enrolled,
		})
	}
	return res, nil
}

// verifyRedirect checks the client's claim against the provider. A non-nil
// result means the purchase is already terminal and nothing else is needed.
func (s *EnrollmentSvc) verifyRedirect(ctx context.Context, c ConfirmedByRedirect) (*FinalizeResult, error) {
	p, err := s.store.Purchases.ByID(ctx, c.PurchaseID)
	if err != nil {
		return nil, notFound(err)
	}
	if p.AccountID != c.AccountID || p.CourseID != c.CourseID {
		return nil, ErrNotFound
	}
	if p.Status.Terminal() {
		return &FinalizeResult{Outcome: absorbed(p.Status), Purchase: p}, nil
	}
	if p.SessionID == "" {
		return nil, ErrPaymentNotConfirmed
	}
	paid, err := s.gateway.SessionPaid(ctx, p.SessionID)
	if err != nil {
		s.log.Warn("provider session lookup failed",
			slog.String("purchase_id", p.ID), slog.String("session_id", p.SessionID), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", ErrPaymentServiceUnavailable, err)
	}
	if !paid {
		return nil, ErrPaymentNotConfirmed
	}
	return nil, nil
}

// HandleProviderEvent verifies a raw webhook body and applies it. It returns
// ErrInvalidSignature, ErrPaymentServiceUnavailable when the provider could
// not be asked, or a storage error. Events that cannot be matched to a
// purchase are logged and acknowledged.
func (s *EnrollmentSvc) HandleProviderEvent(ctx context.Context, payload []byte, signature string) (err error) {
	ctx, span := tracer.Start(ctx, "enrollment.provider_event")
	defer func() {
		spanErr(span, err)
		span.End()
	}()

	ev, err := s.gateway.ParseEvent(ctx, payload, signature)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
			s.log.Warn("webhook rejected", slog.Any("error", err))
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		if errors.Is(err, payment.ErrProviderUnavailable) {
			metrics.WebhookEvents.WithLabelValues("unknown", "provider_unavailable").Inc()
			s.log.Warn("webhook could not be verified, provider unavailable", slog.Any("error", err))
			return fmt.Errorf("%w: %v", ErrPaymentServiceUnavailable, err)
		}
		metrics.WebhookEvents.WithLabelValues("unknown", "undecodable").Inc()
		s.log.Error("verified webhook could not be decoded", slog.Any("error", err))
		return nil
	}
	span.SetAttributes(attribute.String("event_id", ev.ID), attribute.String("event_type", ev.Type))

	seen, err := s.store.Purchases.EventProcessed(ctx, ev.ID)
	if err != nil {
		return err
	}
	if seen {
		metrics.WebhookEvents.WithLabelValues(string(ev.Kind), "replayed").Inc()
		s.log.Info("webhook replay skipped", slog.String("event_id", ev.ID))
		return nil
	}

	switch ev.Kind {
	case payment.EventPaymentSucceeded:
		err = s.onSucceeded(ctx, ev)
	case payment.EventPaymentFailed:
		err = s.onFailed(ctx, ev)
	default:
		s.log.Debug("webhook ignored", slog.String("event_id", ev.ID), slog.String("event_type", ev.Type))
	}
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(string(ev.Kind), "error").Inc()
		return err
	}
	metrics.WebhookEvents.WithLabelValues(string(ev.Kind), "ok").Inc()

	if err := s.store.Purchases.MarkEventProcessed(ctx, ev.ID, ev.Type); err != nil {
		s.log.Warn("record processed event failed", slog.String("event_id", ev.ID), slog.Any("error", err))
	}
	return nil
}

func (s *EnrollmentSvc) onSucceeded(ctx context.Context, ev *payment.Event) error {
	p, err := s.locate(ctx, ev)
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	_, err = s.Finalize(ctx, ConfirmedByWebhook{
		EventID:    ev.ID,
		PurchaseID: p.ID,
		CourseID:   ev.CourseID,
		AccountID:  ev.AccountID,
	})
	if errors.Is(err, ErrNotFound) {
		s.log.Warn("webhook metadata does not match purchase",
			slog.String("event_id", ev.ID), slog.String("purchase_id", p.ID))
		return nil
	}
	return err
}

func (s *EnrollmentSvc) onFailed(ctx context.Context, ev *payment.Event) error {
	p, err := s.locate(ctx, ev)
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	moved, err := s.store.Purchases.Transition(ctx, p.ID, domain.PurchasePending, domain.PurchaseFailed)
	if err != nil {
		return err
	}
	if !moved {
		s.log.Info("failure event absorbed", slog.String("event_id", ev.ID), slog.String("purchase_id", p.ID))
		return nil
	}
	s.log.Info("purchase failed", slog.String("purchase_id", p.ID), slog.String("event_id", ev.ID))
	s.publish(ctx, events.RKPurchaseFailed, events.PurchaseFailed{
		PurchaseID: p.ID,
		AccountID:  p.AccountID,
		CourseID:   p.CourseID,
		EventID:    ev.ID,
	})
	return nil
}

// locate finds the purchase an event refers to, preferring the correlation
// metadata and falling back to the session id. A nil purchase means none.
func (s *EnrollmentSvc) locate(ctx context.Context, ev *payment.Event) (*domain.Purchase, error) {
	if ev.PurchaseID != "" {
		p, err := s.store.Purchases.ByID(ctx, ev.PurchaseID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if ev.SessionID != "" {
		p, err := s.store.Purchases.BySessionID(ctx, ev.SessionID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	s.log.Warn("webhook references unknown purchase",
		slog.String("event_id", ev.ID), slog.String("purchase_id", ev.PurchaseID),
		slog.String("session_id", ev.SessionID))
	return nil, nil
}

// EnrolledCourses derives the course list from completed purchases.
func (s *EnrollmentSvc) EnrolledCourses(ctx context.Context, accountID string) ([]domain.Course, error) {
	return s.store.Courses.PurchasedBy(ctx, accountID)
}

// OrphanedPurchases lists purchases still pending after olderThan. They are
// reported for manual reconciliation and never resolved here.
func (s *EnrollmentSvc) OrphanedPurchases(ctx context.Context, olderThan time.Duration) ([]domain.Purchase, error) {
	list, err := s.store.Purchases.PendingOlderThan(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return nil, err
	}
	if len(list) > 0 {
		s.log.Warn("orphaned purchases found", slog.Int("count", len(list)), slog.Duration("older_than", olderThan))
	}
	return list, nil
}

func (s *EnrollmentSvc) publish(ctx context.Context, key string, v any) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishJSON(ctx, key, v); err != nil {
		s.log.Warn("publish event failed", slog.String("routing_key", key), slog.Any("error", err))
	}
}

func (s *EnrollmentSvc) successURL(p *domain.Purchase) string {
	q := url.Values{}
	q.Set("purchaseId", p.ID)
	q.Set("courseId", p.CourseID)
	return strings.TrimRight(s.cfg.FrontendURL, "/") + "/payment-success?" + q.Encode()
}

func (s *EnrollmentSvc) cancelURL(p *domain.Purchase) string {
	return strings.TrimRight(s.cfg.FrontendURL, "/") + "/course/" + url.PathEscape(p.CourseID)
}

func inScope(p *domain.Purchase, courseID, accountID string, c Confirmation) bool {
	if _, strict := c.(ConfirmedByRedirect); strict {
		return p.CourseID == courseID && p.AccountID == accountID
	}
	if courseID != "" && p.CourseID != courseID {
		return false
	}
	if accountID != "" && p.AccountID != accountID {
		return false
	}
	return true
}

func absorbed(st domain.PurchaseStatus) FinalizeOutcome {
	if st == domain.PurchaseFailed {
		return OutcomeAlreadyFailed
	}
	return OutcomeAlreadyCompleted
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func initiateResult(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyEnrolled):
		return "already_enrolled"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPaymentServiceUnavailable):
		return "provider_unavailable"
	}
	return "error"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
