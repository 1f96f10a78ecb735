// Package notify carries user-visible notifications (toasts) from the code
// that raises them to the next page or JSON response the browser receives.
package notify

import (
	"context"
	"sync"
	"time"
)

// Level is the severity shown to the user
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one toast
type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier surfaces a message to the user
type Notifier interface {
	Notify(level Level, message string)
}

// DefaultQueueSize bounds a queue when no size is given.
const DefaultQueueSize = 16

// Queue buffers notifications for one client instance until they are
// rendered. When full, the oldest entry is dropped.
type Queue struct {
	mu      sync.Mutex
	items   []Notification
	maxSize int
	now     func() time.Time
}

// NewQueue creates a queue holding at most size notifications
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{maxSize: size, now: time.Now}
}

func (q *Queue) Notify(level Level, message string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == q.maxSize {
		q.items = q.items[1:]
	}
	q.items = append(q.items, Notification{Level: level, Message: message, At: q.now()})
}

// Drain returns the queued notifications in order and empties the queue
func (q *Queue) Drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Len returns the number of queued notifications
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type discard struct{}

func (discard) Notify(Level, string) {}

// Discard drops every notification
var Discard Notifier = discard{}

type ctxKey struct{}

// WithNotifier overrides the notifier for work done under ctx
func WithNotifier(ctx context.Context, n Notifier) context.Context {
	return context.WithValue(ctx, ctxKey{}, n)
}

// FromContext returns the notifier set on ctx, or fallback
func FromContext(ctx context.Context, fallback Notifier) Notifier {
	if n, ok := ctx.Value(ctxKey{}).(Notifier); ok && n != nil {
		return n
	}
	return fallback
}
