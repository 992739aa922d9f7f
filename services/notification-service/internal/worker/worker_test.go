package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/course-marketplace/pkg/events"
	"github.com/you/course-marketplace/pkg/logging"
)

type sent struct{ subject, message string }

type fakeNotifier struct {
	got []sent
	err error
}

func (f *fakeNotifier) Notify(_ context.Context, subject, message string) error {
	f.got = append(f.got, sent{subject, message})
	return f.err
}

func TestHandleEnrollmentCompleted(t *testing.T) {
	n := &fakeNotifier{}
	w := New(n, logging.Discard())

	body := []byte(`{"purchase_id":"p1","account_id":"a1","course_id":"c1","amount":"80.00","currency":"usd","source":"webhook","enrolled":true}`)
	require.NoError(t, w.Handle(context.Background(), events.RKEnrollmentCompleted, body))

	require.Len(t, n.got, 1)
	assert.Equal(t, "Enrollment completed", n.got[0].subject)
	assert.Contains(t, n.got[0].message, "course c1")
	assert.Contains(t, n.got[0].message, "80.00 USD")
}

func TestHandleEnrollmentSkipped(t *testing.T) {
	n := &fakeNotifier{}
	w := New(n, logging.Discard())

	body := []byte(`{"purchase_id":"p1","account_id":"a1","course_id":"c1","enrolled":false}`)
	require.NoError(t, w.Handle(context.Background(), events.RKEnrollmentCompleted, body))
	require.Len(t, n.got, 1)
	assert.Contains(t, n.got[0].message, "enrollment was skipped")
}

func TestHandlePurchaseFailed(t *testing.T) {
	n := &fakeNotifier{}
	w := New(n, logging.Discard())

	body := []byte(`{"purchase_id":"p2","account_id":"a1","course_id":"c9","event_id":"evt_1"}`)
	require.NoError(t, w.Handle(context.Background(), events.RKPurchaseFailed, body))
	require.Len(t, n.got, 1)
	assert.Equal(t, "Payment failed", n.got[0].subject)
	assert.Contains(t, n.got[0].message, "evt_1")
}

func TestHandleMalformedPayload(t *testing.T) {
	n := &fakeNotifier{}
	w := New(n, logging.Discard())

	err := w.Handle(context.Background(), events.RKPurchaseFailed, []byte(`{not json`))
	require.Error(t, err)
	assert.True(t, isDecodeErr(err))
	assert.Empty(t, n.got)
}

func TestHandleNotifierError(t *testing.T) {
	n := &fakeNotifier{err: errors.New("smtp down")}
	w := New(n, logging.Discard())

	err := w.Handle(context.Background(), events.RKPurchaseFailed, []byte(`{"purchase_id":"p"}`))
	require.Error(t, err)
	assert.False(t, isDecodeErr(err))
}

func TestHandleUnknownKey(t *testing.T) {
	n := &fakeNotifier{}
	w := New(n, logging.Discard())

	require.NoError(t, w.Handle(context.Background(), "course.updated", []byte(`{}`)))
	assert.Empty(t, n.got)
}
