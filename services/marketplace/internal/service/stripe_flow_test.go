package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/you/course-marketplace/pkg/events"
	"github.com/you/course-marketplace/pkg/logging"
	"github.com/you/course-marketplace/services/marketplace/internal/domain"
	"github.com/you/course-marketplace/services/marketplace/internal/payment"
)

const stripeSecret = "whsec_flow"

func stripeEvent(id, typ, object string) ([]byte, string) {
	body := []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"api_version":"2020-08-27","data":{"object":%s}}`, id, typ, object))
	now := time.Now()
	sig := webhook.ComputeSignature(now, body, stripeSecret)
	return body, fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
}

// stripeSvc reuses the fixture's store with the real Stripe event parser.
func (f *fixture) stripeSvc() *EnrollmentSvc {
	return NewEnrollmentSvc(f.store, payment.NewStripe("sk_test", stripeSecret, time.Second), f.pub, EnrollmentConfig{
		Currency:         "usd",
		CurrencyDecimals: 2,
		FrontendURL:      "https://app.example",
	}, logging.Discard())
}

func TestStripe_DeclineThenRetryThenPaidEnrolls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co := f.initiate(t)
	svc := f.stripeSvc()
	meta := fmt.Sprintf(`{"purchase_id":%q,"account_id":%q,"course_id":%q}`, co.PurchaseID, f.account.ID, f.course.ID)

	declined, sig := stripeEvent("evt_decline", "payment_intent.payment_failed",
		fmt.Sprintf(`{"id":"pi_1","object":"payment_intent","status":"requires_payment_method","metadata":%s}`, meta))
	require.NoError(t, svc.HandleProviderEvent(ctx, declined, sig))
	assert.Equal(t, domain.PurchasePending, f.status(t, co.PurchaseID))

	paid, sig := stripeEvent("evt_paid", "checkout.session.completed",
		fmt.Sprintf(`{"id":%q,"object":"checkout.session","payment_status":"paid","metadata":%s}`, co.SessionID, meta))
	require.NoError(t, svc.HandleProviderEvent(ctx, paid, sig))

	succeeded, sig := stripeEvent("evt_pi_ok", "payment_intent.succeeded",
		fmt.Sprintf(`{"id":"pi_1","object":"payment_intent","status":"succeeded","metadata":%s}`, meta))
	require.NoError(t, svc.HandleProviderEvent(ctx, succeeded, sig))

	assert.Equal(t, domain.PurchaseCompleted, f.status(t, co.PurchaseID))
	f.assertEnrollmentRows(t, 1)
	assert.Equal(t, []string{events.RKEnrollmentCompleted}, f.pub.keys())
}

func TestStripe_ExpiredSessionFailsPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co := f.initiate(t)
	svc := f.stripeSvc()

	expired, sig := stripeEvent("evt_expired", "checkout.session.expired",
		fmt.Sprintf(`{"id":%q,"object":"checkout.session","payment_status":"unpaid","metadata":{"purchase_id":%q}}`, co.SessionID, co.PurchaseID))
	require.NoError(t, svc.HandleProviderEvent(ctx, expired, sig))

	assert.Equal(t, domain.PurchaseFailed, f.status(t, co.PurchaseID))
	f.assertEnrollmentRows(t, 0)
	assert.Equal(t, []string{events.RKPurchaseFailed}, f.pub.keys())
}
