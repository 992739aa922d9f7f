package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/course-marketplace/pkg/db/dbtest"
	"github.com/you/course-marketplace/pkg/events"
	"github.com/you/course-marketplace/pkg/logging"
	"github.com/you/course-marketplace/services/marketplace/internal/domain"
	"github.com/you/course-marketplace/services/marketplace/internal/payment"
	"github.com/you/course-marketplace/services/marketplace/internal/repository"
)

const validSig = "valid"

type fakeGateway struct {
	mu        sync.Mutex
	createErr error
	paid      bool
	paidErr   error
	parseErr  error
	requests  []payment.SessionRequest
}

func (g *fakeGateway) Name() string            { return "fake" }
func (g *fakeGateway) SignatureHeader() string { return "X-Fake-Signature" }

func (g *fakeGateway) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.requests = append(g.requests, req)
	id := "cs_" + req.Metadata[payment.MetaPurchaseID]
	return &payment.Session{ID: id, URL: "https://pay.example/" + id}, nil
}

func (g *fakeGateway) SessionPaid(context.Context, string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paid, g.paidErr
}

// ParseEvent accepts a JSON-encoded payment.Event signed with validSig.
func (g *fakeGateway) ParseEvent(_ context.Context, payload []byte, signature string) (*payment.Event, error) {
	if g.parseErr != nil {
		return nil, g.parseErr
	}
	if signature != validSig {
		return nil, payment.ErrInvalidSignature
	}
	var ev payment.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

type published struct {
	key string
	v   any
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) PublishJSON(_ context.Context, key string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{key: key, v: v})
	return nil
}

func (p *fakePublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, m := range p.msgs {
		out = append(out, m.key)
	}
	return out
}

type fixture struct {
	svc     *EnrollmentSvc
	store   *repository.Store
	gw      *fakeGateway
	pub     *fakePublisher
	account *domain.Account
	course  *domain.Course
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := repository.NewStore(dbtest.Open(t))
	require.NoError(t, store.Migrate())

	acc := &domain.Account{Email: "student@example.com", Name: "Stu", PasswordHash: "x", Role: domain.RoleStudent}
	require.NoError(t, store.Accounts.Create(ctx, acc))
	course := &domain.Course{Title: "Go Concurrency", Price: decimal.NewFromInt(100), Discount: 20, Published: true}
	require.NoError(t, store.Courses.Create(ctx, course))

	gw := &fakeGateway{paid: true}
	pub := &fakePublisher{}
	svc := NewEnrollmentSvc(store, gw, pub, EnrollmentConfig{
		Currency:         "usd",
		CurrencyDecimals: 2,
		FrontendURL:      "https://app.example",
	}, logging.Discard())

	return &fixture{svc: svc, store: store, gw: gw, pub: pub, account: acc, course: course}
}

func (f *fixture) initiate(t *testing.T) *Checkout {
	t.Helper()
	co, err := f.svc.Initiate(context.Background(), f.account.ID, f.course.ID)
	require.NoError(t, err)
	return co
}

func (f *fixture) redirect(co *Checkout) ConfirmedByRedirect {
	return ConfirmedByRedirect{PurchaseID: co.PurchaseID, CourseID: f.course.ID, AccountID: f.account.ID}
}

func (f *fixture) webhook(co *Checkout) ConfirmedByWebhook {
	return ConfirmedByWebhook{EventID: "evt", PurchaseID: co.PurchaseID, CourseID: f.course.ID, AccountID: f.account.ID}
}

func (f *fixture) assertEnrollmentRows(t *testing.T, want int) {
	t.Helper()
	ctx := context.Background()
	courses, err := f.store.Accounts.EnrolledCourseIDs(ctx, f.account.ID)
	require.NoError(t, err)
	students, err := f.store.Courses.StudentIDs(ctx, f.course.ID)
	require.NoError(t, err)
	assert.Len(t, courses, want)
	assert.Len(t, students, want)
}

func (f *fixture) status(t *testing.T, purchaseID string) domain.PurchaseStatus {
	t.Helper()
	p, err := f.store.Purchases.ByID(context.Background(), purchaseID)
	require.NoError(t, err)
	return p.Status
}

func eventPayload(t *testing.T, ev payment.Event) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return b
}

func TestInitiate_DiscountedAmount(t *testing.T) {
	f := newFixture(t)

	co := f.initiate(t)

	assert.Equal(t, "80.00", co.Amount.StringFixed(2))
	require.Len(t, f.gw.requests, 1)
	req := f.gw.requests[0]
	assert.Equal(t, int64(8000), req.Amount)
	assert.Equal(t, "usd", req.Currency)
	assert.Equal(t, co.PurchaseID, req.Metadata[payment.MetaPurchaseID])
	assert.Contains(t, req.SuccessURL, "https://app.example/payment-success?")
	assert.Contains(t, req.SuccessURL, "purchaseId="+co.PurchaseID)
	assert.Equal(t, "https://app.example/course/"+f.course.ID, req.CancelURL)

	p, err := f.store.Purchases.ByID(context.Background(), co.PurchaseID)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchasePending, p.Status)
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("80.00")))
	assert.Equal(t, co.SessionID, p.SessionID)
	assert.Equal(t, "fake", p.Provider)
}

func TestInitiate_AlreadyEnrolledCreatesNoPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Accounts.AddCourse(ctx, f.account.ID, f.course.ID)
	require.NoError(t, err)

	_, err = f.svc.Initiate(ctx, f.account.ID, f.course.ID)
	require.ErrorIs(t, err, ErrAlreadyEnrolled)

	n, err := f.store.Purchases.CountByAccountCourse(ctx, f.account.ID, f.course.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.gw.requests)
}

func TestInitiate_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Initiate(ctx, f.account.ID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Initiate(ctx, "missing", f.course.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	draft := &domain.Course{Title: "Draft", Price: decimal.NewFromInt(10)}
	require.NoError(t, f.store.Courses.Create(ctx, draft))
	_, err = f.svc.Initiate(ctx, f.account.ID, draft.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInitiate_ProviderFailureLeavesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.createErr = errors.New("connection refused")

	_, err := f.svc.Initiate(ctx, f.account.ID, f.course.ID)
	require.ErrorIs(t, err, ErrPaymentServiceUnavailable)

	n, err := f.store.Purchases.CountByAccountCourse(ctx, f.account.ID, f.course.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOrphanedPurchases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := &domain.Purchase{AccountID: f.account.ID, CourseID: f.course.ID, Amount: decimal.NewFromInt(80),
		Currency: "usd", CreatedAt: time.Now().Add(-72 * time.Hour)}
	require.NoError(t, f.store.Purchases.Create(ctx, stale))
	f.initiate(t)

	list, err := f.svc.OrphanedPurchases(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, stale.ID, list[0].ID)
}

func TestFinalize_BeforeInitiateIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Finalize(ctx, ConfirmedByRedirect{PurchaseID: "nope", CourseID: f.course.ID, AccountID: f.account.ID})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Finalize(ctx, ConfirmedByWebhook{PurchaseID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)
	f.assertEnrollmentRows(t, 0)
}

func TestFinalize_IdempotentUnderReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co := f.initiate(t)

	res, err := f.svc.Finalize(ctx, f.redirect(co))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.True(t, res.Enrolled)

	for i := 0; i < 3; i++ {
		res, err = f.svc.Finalize(ctx, f.webhook(co))
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyCompleted, res.Outcome)

		res, err = f.svc.Finalize(ctx, f.redirect(co))
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyCompleted, res.Outcome)
	}

	assert.Equal(t, domain.PurchaseCompleted, f.status(t, co.PurchaseID))
	f.assertEnrollmentRows(t, 1)
	assert.Equal(t, []string{events.RKEnrollmentCompleted}, f.pub.keys())
}

func TestFinalize_ScopeMismatchIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co := f.initiate(t)

	_, err := f.svc.Finalize(ctx, ConfirmedByRedirect{PurchaseID: co.PurchaseID, CourseID: f.course.ID, AccountID: "someone-else"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Finalize(ctx, ConfirmedByWebhook{PurchaseID: co.PurchaseID, CourseID: "other-course"})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, domain.PurchasePending, f.status(t, co.PurchaseID))
	f.assertEnrollmentRows(t, 0)
}

func TestFinalize_RedirectRequiresProviderConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co := f.initiate(t)

	f.gw.paid = false
	_, err := f.svc.Finalize(ctx, f.redirect(co))
	assert.ErrorIs(t, err, ErrPaymentNotConfirmed)

	f.gw.paidErr = errors.New("timeout")
	_, err = f.svc.Finalize(ctx, f.redirect(co))
	assert.ErrorIs(t, err, ErrPaymentServiceUnavailable)

	assert.Equal(t, domain.PurchasePending, f.status(t, co.PurchaseID))
	f.assertEnrollmentRows(t, 0)
}

func TestFinalize_ConcurrentRedirectAndWebhook(t *testing.T) {
	f := newFixture(t)
	co := f.initiate(t)

	confirmations := []Confirmation{f.redirect(co), f.webhook(co)}
	results := make([]FinalizeResult, len(confirmations))
	errs := make([]error, len(confirmations))

	var wg sync.WaitGroup
	for i, c := range confirmations {
		wg.Add(1)
		go func(i int, c Confirmation) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Finalize(context.Background(), c)
		}(i, c)
	}
	wg.Wait()

	completed := 0
	for i := range confirmations {
		require.NoError(t, errs[i])
		if results[i].Outcome == OutcomeCompleted {
			completed++
		} else {
			assert.Equal(t, OutcomeAlreadyCompleted, results[i].Outcome)
		}
	}
	assert.Equal(t, 1, completed)
	f.assertEnrollmentRows(t, 1)
}

func TestFinalize_MissingAccountStillCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := &domain.Purchase{AccountID: "deleted-account", CourseID: f.course.ID, Amount: decimal.NewFromInt(80), Currency: "usd"}
	require.NoError(t, f.store.Purchases.Create(ctx, p))

	res, err := f.svc.Finalize(ctx, ConfirmedByWebhook{PurchaseID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.False(t, res.Enrolled)
	assert.Equal(t, domain.PurchaseCompleted, f.status(t, p.ID))

	students, err := f.store.Courses.StudentIDs(ctx, f.course.ID)
	require.NoError(t, err)
	assert.Empty(t, students)
}

func TestHandleProviderEvent_InvalidSignatureNeverMutates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co := f.initiate(t)

	body := eventPayload(t, payment.Event{ID: "evt_forged", Kind: payment.EventPaymentSucceeded, PurchaseID: co.PurchaseID})
	err := f.svc.HandleProviderEvent(ctx, body, "forged")
	require.ErrorIs(t, err, ErrInvalidSignature)

	assert.Equal(t, domain.PurchasePending, f.status(t, co.PurchaseID))
	f.assertEnrollmentRows(t, 0)
	seen, err := f.store.Purchases.EventProcessed(ctx, "evt_forged")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestHandleProviderEvent_SucceededCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co := f.initiate(t)

	body := eventPayload(t, payment.Event{ID: "evt_ok", Kind: payment.EventPaymentSucceeded,
		PurchaseID: co.PurchaseID, AccountID: f.account.ID, CourseID: f.course.ID})
	require.NoError(t, f.svc.HandleProviderEvent(ctx, body, validSig))
	require.NoError(t, f.svc.HandleProviderEvent(ctx, body, validSig))

	assert.Equal(t, domain.PurchaseCompleted, f.status(t, co.PurchaseID))
	f.assertEnrollmentRows(t, 1)

	courses, err := f.svc.EnrolledCourses(ctx, f.account.ID)
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, f.course.ID, courses[0].ID)
}

func TestHandleProviderEvent_FallsBackToSessionID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co := f.initiate(t)

	body := eventPayload(t, payment.Event{ID: "evt_sess", Kind: payment.EventPaymentSucceeded, SessionID: co.SessionID})
	require.NoError(t, f.svc.HandleProviderEvent(ctx, body, validSig))

	assert.Equal(t, domain.PurchaseCompleted, f.status(t, co.PurchaseID))
	f.assertEnrollmentRows(t, 1)
}

func TestHandleProviderEvent_FailedNeverEnrolls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co := f.initiate(t)

	failed := eventPayload(t, payment.Event{ID: "evt_fail", Kind: payment.EventPaymentFailed, PurchaseID: co.PurchaseID})
	require.NoError(t, f.svc.HandleProviderEvent(ctx, failed, validSig))
	require.NoError(t, f.svc.HandleProviderEvent(ctx, failed, validSig))
	assert.Equal(t, domain.PurchaseFailed, f.status(t, co.PurchaseID))

	late := eventPayload(t, payment.Event{ID: "evt_late", Kind: payment.EventPaymentSucceeded, PurchaseID: co.PurchaseID})
	require.NoError(t, f.svc.HandleProviderEvent(ctx, late, validSig))

	res, err := f.svc.Finalize(ctx, f.redirect(co))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyFailed, res.Outcome)

	assert.Equal(t, domain.PurchaseFailed, f.status(t, co.PurchaseID))
	f.assertEnrollmentRows(t, 0)
	assert.Equal(t, []string{events.RKPurchaseFailed}, f.pub.keys())
}

func TestHandleProviderEvent_UnknownPurchaseAcknowledged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	body := eventPayload(t, payment.Event{ID: "evt_orphan", Kind: payment.EventPaymentSucceeded, PurchaseID: "ghost"})
	assert.NoError(t, f.svc.HandleProviderEvent(ctx, body, validSig))

	ignored := eventPayload(t, payment.Event{ID: "evt_other", Kind: payment.EventIgnored, Type: "customer.created"})
	assert.NoError(t, f.svc.HandleProviderEvent(ctx, ignored, validSig))
}

func TestHandleProviderEvent_ProviderOutageIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co := f.initiate(t)
	f.gw.parseErr = fmt.Errorf("%w: retrieve event: timeout", payment.ErrProviderUnavailable)

	body := eventPayload(t, payment.Event{ID: "evt_later", Kind: payment.EventPaymentSucceeded, PurchaseID: co.PurchaseID})
	err := f.svc.HandleProviderEvent(ctx, body, validSig)
	require.ErrorIs(t, err, ErrPaymentServiceUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, domain.PurchasePending, f.status(t, co.PurchaseID))

	f.gw.parseErr = nil
	require.NoError(t, f.svc.HandleProviderEvent(ctx, body, validSig))
	assert.Equal(t, domain.PurchaseCompleted, f.status(t, co.PurchaseID))
	f.assertEnrollmentRows(t, 1)
}
