// Package events provides the advisory signal channel shared by the client
// core. The token monitor and the sync engine publish here; UI-facing code
// subscribes. Signals are advisory only: no component's correctness depends
// on a subscriber observing them.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type classifies the kind of signal.
type Type string

const (
	// Token lifecycle signals.
	TokenAcquired     Type = "token.acquired"
	TokenExpiringSoon Type = "token.expiring_soon"
	TokenExpired      Type = "token.expired"
	TokenCleared      Type = "token.cleared"

	// Sync indicator signals.
	SyncConfirmed      Type = "sync.confirmed"
	SyncRolledBack     Type = "sync.rolled_back"
	SyncRetryScheduled Type = "sync.retry_scheduled"
	SyncRetryFailed    Type = "sync.retry_failed"
	SyncReaped         Type = "sync.reaped"
	SyncLocalOnly      Type = "sync.local_only"

	// Session lifecycle signals.
	SessionCreated   Type = "session.created"
	SessionDestroyed Type = "session.destroyed"
)

// Severity indicates the importance of a signal.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one advisory signal.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	Subject string `json:"subject,omitempty"`

	Message  string            `json:"message,omitempty"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// String returns a human-readable representation.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// Handler processes signals as they occur.
type Handler func(Event)

// Filter decides whether a signal should be delivered to a handler.
type Filter func(Event) bool

// Bus is the interface signal publishers depend on.
type Bus interface {
	// Publish records a signal and notifies subscribers.
	Publish(event Event)

	// Subscribe registers a handler for all signals.
	Subscribe(handler Handler) func()

	// SubscribeFiltered registers a handler with a filter.
	SubscribeFiltered(filter Filter, handler Handler) func()

	// Recent returns the most recent n signals, newest first.
	Recent(n int) []Event
}

// RingBuffer is a thread-safe circular buffer implementing Bus.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

// NewRingBuffer creates a signal buffer holding up to size entries.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 256
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Publish records a signal and notifies subscribers.
func (rb *RingBuffer) Publish(event Event) {
	rb.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	// Notify handlers outside the lock
	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// Subscribe registers a handler for all signals.
func (rb *RingBuffer) Subscribe(handler Handler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler with a filter and returns an
// unsubscribe function.
func (rb *RingBuffer) SubscribeFiltered(filter Filter, handler Handler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{id: id, filter: filter, handler: handler})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent n signals, newest first.
func (rb *RingBuffer) Recent(n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}
	if n > rb.count {
		n = rb.count
	}

	result := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		result[i] = rb.events[idx]
	}
	return result
}

// Count returns the number of buffered signals.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Clear removes all buffered signals. Subscriptions remain.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.events = make([]Event, rb.size)
	rb.head = 0
	rb.count = 0
}

// NoOpBus discards all signals. Useful as a default when callers pass nil.
type NoOpBus struct{}

func (NoOpBus) Publish(Event)                            {}
func (NoOpBus) Subscribe(Handler) func()                 { return func() {} }
func (NoOpBus) SubscribeFiltered(Filter, Handler) func() { return func() {} }
func (NoOpBus) Recent(int) []Event                       { return nil }
