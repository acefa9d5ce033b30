// Package session guards the single live configuration instance of an
// execution context. Concurrent Acquire calls coalesce onto one construction
// attempt; callers arriving during construction subscribe to the in-progress
// attempt instead of triggering a duplicate.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/promptlift/clientcore/internal/errors"
	"github.com/promptlift/clientcore/internal/events"
	"github.com/promptlift/clientcore/internal/metrics"
	"github.com/promptlift/clientcore/pkg/logger"
)

// RequiredCapabilities are the capability entries every payload must carry.
var RequiredCapabilities = []string{"enhance", "track_usage"}

// Payload is the configuration a session instance guards.
type Payload struct {
	RemoteBaseURL string
	AuthBaseURL   string
	Capabilities  map[string]bool
}

// Validate checks structural integrity: required fields and required
// capability entries must be present. Fails fast and loudly when they are not.
func (p *Payload) Validate() error {
	if p == nil {
		return fmt.Errorf("payload is nil")
	}
	if p.RemoteBaseURL == "" {
		return fmt.Errorf("payload missing remote base URL")
	}
	if p.AuthBaseURL == "" {
		return fmt.Errorf("payload missing auth base URL")
	}
	for _, capability := range RequiredCapabilities {
		if _, ok := p.Capabilities[capability]; !ok {
			return fmt.Errorf("payload missing capability entry %q", capability)
		}
	}
	return nil
}

// Builder constructs a fresh payload. Injected so tests can fail or delay
// construction deterministically.
type Builder func(ctx context.Context) (*Payload, error)

// Handle represents one live session instance.
type Handle struct {
	InstanceID int64
	CreatedAt  time.Time

	mu        sync.RWMutex
	destroyed bool
	payload   *Payload
}

// Payload returns the guarded configuration, or nil after destruction.
func (h *Handle) Payload() *Payload {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.payload
}

// Destroyed reports whether the handle has been torn down.
func (h *Handle) Destroyed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.destroyed
}

// destroy marks the handle dead and nulls the payload. Idempotent.
func (h *Handle) destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyed = true
	h.payload = nil
}

// valid reports whether the handle can be returned as-is from Acquire.
func (h *Handle) valid() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.destroyed && h.payload != nil && h.payload.Validate() == nil
}

// construction is one in-flight build attempt shared by all waiters.
type construction struct {
	done   chan struct{}
	handle *Handle
	err    error
}

// Manager produces and guards exactly one live Handle.
type Manager struct {
	builder Builder
	log     *logger.Logger
	bus     events.Bus

	mu       sync.Mutex
	nextID   int64
	current  *Handle
	inflight *construction
}

// NewManager creates a manager around the given builder.
func NewManager(builder Builder, log *logger.Logger, bus events.Bus) *Manager {
	if log == nil {
		log = logger.NewDefault("session")
	}
	if bus == nil {
		bus = events.NoOpBus{}
	}
	return &Manager{
		builder: builder,
		log:     log,
		bus:     bus,
		nextID:  1,
	}
}

// Acquire returns the live handle, constructing one if needed. Callable
// concurrently: at most one construction runs at a time and every caller
// issued before it resolves receives the same handle or the same error.
// A failed construction does not poison later calls; the next Acquire starts
// a fresh attempt.
func (m *Manager) Acquire(ctx context.Context) (*Handle, error) {
	m.mu.Lock()

	if m.current != nil && m.current.valid() {
		handle := m.current
		m.mu.Unlock()
		metrics.RecordAcquisition("cached")
		return handle, nil
	}

	if m.inflight != nil {
		attempt := m.inflight
		m.mu.Unlock()
		metrics.RecordAcquisition("coalesced")
		select {
		case <-attempt.done:
			return attempt.handle, attempt.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	attempt := &construction{done: make(chan struct{})}
	m.inflight = attempt
	stale := m.current
	m.current = nil
	m.mu.Unlock()

	handle, err := m.construct(ctx, stale)

	m.mu.Lock()
	if err == nil {
		m.current = handle
	}
	m.inflight = nil
	m.mu.Unlock()

	attempt.handle = handle
	attempt.err = err
	close(attempt.done)

	if err != nil {
		metrics.RecordAcquisition("failed")
		return nil, err
	}
	metrics.RecordAcquisition("constructed")
	return handle, nil
}

// construct tears down any stale instance, builds and validates a new one.
func (m *Manager) construct(ctx context.Context, stale *Handle) (*Handle, error) {
	if stale != nil {
		m.log.WithField("instance_id", stale.InstanceID).Info("replacing stale session instance")
		stale.destroy()
	}

	payload, err := m.builder(ctx)
	if err != nil {
		m.log.WithError(err).Error("session construction failed")
		return nil, errors.InitializationFailed("session construction failed", err)
	}
	if err := payload.Validate(); err != nil {
		m.log.WithError(err).Error("session payload failed validation")
		return nil, errors.InitializationFailed("session payload invalid", err)
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.mu.Unlock()

	handle := &Handle{
		InstanceID: id,
		CreatedAt:  time.Now().UTC(),
		payload:    payload,
	}

	m.log.WithField("instance_id", handle.InstanceID).Info("session instance created")
	m.bus.Publish(events.Event{
		Type:    events.SessionCreated,
		Message: fmt.Sprintf("session instance %d created", handle.InstanceID),
	})
	return handle, nil
}

// Current returns the live handle without constructing, or nil.
func (m *Manager) Current() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Destroy tears down the live handle if one exists. Idempotent; destroying
// with no live instance is a no-op.
func (m *Manager) Destroy() {
	m.mu.Lock()
	handle := m.current
	m.current = nil
	m.mu.Unlock()

	if handle == nil {
		return
	}
	handle.destroy()
	m.log.WithField("instance_id", handle.InstanceID).Info("session instance destroyed")
	m.bus.Publish(events.Event{
		Type:    events.SessionDestroyed,
		Message: fmt.Sprintf("session instance %d destroyed", handle.InstanceID),
	})
}
