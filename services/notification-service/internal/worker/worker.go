package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/you/course-marketplace/pkg/events"
	"github.com/you/course-marketplace/services/notification-service/internal/notifier"
)

type Worker struct {
	notifier notifier.Notifier
	log      *slog.Logger
}

func New(n notifier.Notifier, log *slog.Logger) *Worker {
	return &Worker{notifier: n, log: log}
}

// Run acks handled deliveries. Malformed payloads are rejected without
// requeue so they land in the dead-letter queue; notifier failures are
// requeued once and dead-lettered on redelivery.
func (w *Worker) Run(ctx context.Context, msgs <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := w.Handle(ctx, d.RoutingKey, d.Body); err != nil {
				requeue := !d.Redelivered && !isDecodeErr(err)
				w.log.Warn("handle delivery failed",
					slog.String("routing_key", d.RoutingKey),
					slog.Bool("requeue", requeue),
					slog.Any("error", err))
				_ = d.Nack(false, requeue)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

type decodeErr struct{ err error }

func (e decodeErr) Error() string { return e.err.Error() }
func (e decodeErr) Unwrap() error { return e.err }

func isDecodeErr(err error) bool {
	_, ok := err.(decodeErr)
	return ok
}

func decode[T any](body []byte) (T, error) {
	v, err := events.Unmarshal[T](body)
	if err != nil {
		return v, decodeErr{err}
	}
	return v, nil
}

func (w *Worker) Handle(ctx context.Context, key string, body []byte) error {
	switch key {
	case events.RKEnrollmentCompleted:
		ev, err := decode[events.EnrollmentCompleted](body)
		if err != nil {
			return err
		}
		msg := fmt.Sprintf("Account %s is now enrolled in course %s (purchase=%s, %s %s, via %s).",
			ev.AccountID, ev.CourseID, ev.PurchaseID, ev.Amount, strings.ToUpper(ev.Currency), ev.Source)
		if !ev.Enrolled {
			msg = fmt.Sprintf("Purchase %s completed but enrollment was skipped: account or course no longer exists.", ev.PurchaseID)
		}
		return w.notifier.Notify(ctx, "Enrollment completed", msg)

	case events.RKPurchaseFailed:
		ev, err := decode[events.PurchaseFailed](body)
		if err != nil {
			return err
		}
		msg := fmt.Sprintf("Payment for course %s failed (purchase=%s).", ev.CourseID, ev.PurchaseID)
		if ev.EventID != "" {
			msg = fmt.Sprintf("%s Provider event: %s", msg, ev.EventID)
		}
		return w.notifier.Notify(ctx, "Payment failed", msg)

	default:
		w.log.Debug("skip unknown routing key", slog.String("routing_key", key))
	}
	return nil
}
