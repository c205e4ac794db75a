package notify

import (
	"context"
	"log"
)

// Notifier delivers notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	// SendBulk delivers several notifications and returns one error slot per input
	SendBulk(ctx context.Context, ns []Notification) []error
}

// LogNotifier writes notifications to the log instead of sending them.
// It is used when no mail server is configured.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, n Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	subject, _ := Compose(n)
	log.Printf("Notification to %s: %s (%s on %s at %s)", n.Contact, subject, n.Status, n.Date, n.Time)
	return nil
}

func (l LogNotifier) SendBulk(ctx context.Context, ns []Notification) []error {
	errs := make([]error, len(ns))
	for i, n := range ns {
		errs[i] = l.Send(ctx, n)
	}
	return errs
}
