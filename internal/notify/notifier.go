package notify

import "context"

// Notifier delivers a short push notification.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// MultiNotifier fans a notification out to several notifiers, returning
// the first error after trying all of them.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) Send(ctx context.Context, title, body string) error {
	var firstErr error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, title, body); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NoOpNotifier swallows every notification.
type NoOpNotifier struct{}

func (NoOpNotifier) Send(context.Context, string, string) error { return nil }
