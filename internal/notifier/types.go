package notifier

import (
	"context"
	"time"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Notification is one message to deliver.
type Notification struct {
	Title string
	Text  string
}

// Sink delivers a notification somewhere a user will see it.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Notifier is what the snapshot runner depends on.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

type HistoryItem struct {
	At    time.Time
	Sink  string
	Title string
	Text  string
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type NotificationEvent struct {
	Sink  string    `json:"sink"`
	Key   string    `json:"key"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}

// Event types.
const (
	EventQueued  = "notifier.queued"
	EventDeduped = "notifier.deduped"
	EventDropped = "notifier.dropped"
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
)
