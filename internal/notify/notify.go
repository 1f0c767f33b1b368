package notify

import "context"

// Notification is a delivery request handed to a backend. ThumbnailPath
// may be empty when no frame was captured for the event.
type Notification struct {
	Title         string
	Body          string
	ThumbnailPath string
}

// Notifier delivers notifications. Implementations own transport
// details; callers only decide whether to deliver.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NopNotifier discards everything. Used when no backend is configured.
type NopNotifier struct{}

var _ Notifier = NopNotifier{}

func (NopNotifier) Send(context.Context, Notification) error { return nil }
