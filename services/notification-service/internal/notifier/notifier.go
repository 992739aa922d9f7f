package notifier

import (
	"context"
	"log/slog"
)

// Notifier delivers a human-readable message to a learner or an operator.
type Notifier interface {
	Notify(ctx context.Context, subject, message string) error
}

// ConsoleNotifier writes notifications to the structured log.
type ConsoleNotifier struct {
	log *slog.Logger
}

func NewConsole(log *slog.Logger) *ConsoleNotifier {
	return &ConsoleNotifier{log: log}
}

func (c *ConsoleNotifier) Notify(ctx context.Context, subject, message string) error {
	c.log.InfoContext(ctx, "notification", slog.String("subject", subject), slog.String("message", message))
	return nil
}
