// Package counter maintains the user-visible usage counter. Local updates
// apply immediately, reconcile against the remote authority, and roll back on
// failure; the cached counter in the durable store only ever holds confirmed
// or rolled-back-to values.
package counter

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptlift/clientcore/internal/events"
	"github.com/promptlift/clientcore/internal/metrics"
	"github.com/promptlift/clientcore/internal/store"
	"github.com/promptlift/clientcore/pkg/logger"
)

// DefaultPendingCeiling is the age past which a pending update is presumed
// lost and reaped.
const DefaultPendingCeiling = 30 * time.Second

// DefaultRetryBackoff is the fixed delay before the single automatic retry.
const DefaultRetryBackoff = 2 * time.Second

// CredentialSource supplies the bearer token for tracked increments.
// token.Manager satisfies this.
type CredentialSource interface {
	Bearer() (string, bool)
}

// PendingUpdate is one in-flight optimistic mutation, kept so a failure can
// compensate by restoring the pre-mutation value.
type PendingUpdate struct {
	UpdateID      string
	OriginalValue int64
	Subject       string
	CreatedAt     time.Time
}

// Receipt acknowledges an increment. Accepted is always true: the UI must
// always see an immediate, consistent value.
type Receipt struct {
	Accepted bool
	UpdateID string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRetryBackoff overrides the retry delay.
func WithRetryBackoff(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.backoff = d
		}
	}
}

// WithPendingCeiling overrides the reap age.
func WithPendingCeiling(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.ceiling = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine is the optimistic sync engine. It is the sole writer of the cached
// counter and owns the set of pending updates.
type Engine struct {
	remote  Authority
	store   store.Store
	creds   CredentialSource
	bus     events.Bus
	log     *logger.Logger
	backoff time.Duration
	ceiling time.Duration
	now     func() time.Time

	mu        sync.Mutex
	displayed map[string]int64
	pending   map[string]*PendingUpdate

	wg sync.WaitGroup
}

// NewEngine creates a sync engine.
func NewEngine(remote Authority, st store.Store, creds CredentialSource, log *logger.Logger, bus events.Bus, opts ...Option) *Engine {
	if log == nil {
		log = logger.NewDefault("counter")
	}
	if bus == nil {
		bus = events.NoOpBus{}
	}
	e := &Engine{
		remote:    remote,
		store:     st,
		creds:     creds,
		bus:       bus,
		log:       log,
		backoff:   DefaultRetryBackoff,
		ceiling:   DefaultPendingCeiling,
		now:       time.Now,
		displayed: make(map[string]int64),
		pending:   make(map[string]*PendingUpdate),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Displayed returns the value the UI currently shows for a subject.
func (e *Engine) Displayed(subject string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.displayed[subject]
}

// PendingCount returns the number of in-flight optimistic updates.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Increment applies one usage increment. The displayed value moves before any
// network I/O begins and the call never fails synchronously. Without a usable
// credential the network call is skipped entirely and the provisional
// local-only count stands; there is no tracked truth to reconcile against.
func (e *Engine) Increment(ctx context.Context, subject string) Receipt {
	update := &PendingUpdate{
		UpdateID:  uuid.NewString(),
		Subject:   subject,
		CreatedAt: e.now(),
	}

	e.mu.Lock()
	update.OriginalValue = e.displayed[subject]
	e.displayed[subject] = update.OriginalValue + 1
	e.pending[update.UpdateID] = update
	pendingCount := len(e.pending)
	e.mu.Unlock()
	metrics.SetPendingUpdates(pendingCount)

	bearer, ok := e.creds.Bearer()
	if !ok {
		e.discardPending(update.UpdateID)
		metrics.RecordIncrement("local_only", 0)
		e.bus.Publish(events.Event{
			Type:    events.SyncLocalOnly,
			Subject: subject,
			Message: "increment applied locally; no session token",
		})
		return Receipt{Accepted: true, UpdateID: update.UpdateID}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.reconcile(ctx, update, bearer)
	}()

	return Receipt{Accepted: true, UpdateID: update.UpdateID}
}

// reconcile confirms one tracked increment against the remote authority,
// rolling back and retrying once on failure.
func (e *Engine) reconcile(ctx context.Context, update *PendingUpdate, bearer string) {
	start := e.now()
	newCount, err := e.remote.IncrementCount(ctx, update.Subject, bearer)
	if err == nil {
		e.confirm(ctx, update, newCount, e.now().Sub(start))
		return
	}

	e.rollback(update, err)

	metrics.RecordRetry()
	e.bus.Publish(events.Event{
		Type:    events.SyncRetryScheduled,
		Subject: update.Subject,
		Message: "increment retry scheduled",
	})

	select {
	case <-time.After(e.backoff):
	case <-ctx.Done():
		return
	}

	retryStart := e.now()
	newCount, err = e.remote.IncrementCount(ctx, update.Subject, bearer)
	if err != nil {
		// Bounded retry exhausted. Surface the error state and stop; no
		// unbounded retry storms.
		e.log.WithError(err).WithField("subject", update.Subject).Warn("increment retry failed")
		e.bus.Publish(events.Event{
			Type:     events.SyncRetryFailed,
			Severity: events.SeverityError,
			Subject:  update.Subject,
			Message:  "increment failed after retry",
		})
		return
	}

	// The retry reconfirms the already rolled-back attempt; adopt the
	// authoritative total directly.
	e.adopt(ctx, update.Subject, newCount)
	metrics.RecordIncrement("confirmed", e.now().Sub(retryStart))
	e.bus.Publish(events.Event{
		Type:    events.SyncConfirmed,
		Subject: update.Subject,
		Message: "increment confirmed on retry",
	})
}

// confirm installs the authoritative value for a resolved pending update.
// The most recently arrived confirmation always wins: the backend's returned
// value is already the authoritative post-increment total.
func (e *Engine) confirm(ctx context.Context, update *PendingUpdate, newCount int64, took time.Duration) {
	e.mu.Lock()
	delete(e.pending, update.UpdateID)
	e.displayed[update.Subject] = newCount
	pendingCount := len(e.pending)
	e.mu.Unlock()
	metrics.SetPendingUpdates(pendingCount)

	e.persist(ctx, update.Subject, newCount)
	metrics.RecordIncrement("confirmed", took)
	e.bus.Publish(events.Event{
		Type:    events.SyncConfirmed,
		Subject: update.Subject,
		Message: "increment confirmed",
	})
}

// rollback restores the pre-mutation value for a failed pending update.
func (e *Engine) rollback(update *PendingUpdate, cause error) {
	e.mu.Lock()
	delete(e.pending, update.UpdateID)
	e.displayed[update.Subject] = update.OriginalValue
	pendingCount := len(e.pending)
	e.mu.Unlock()
	metrics.SetPendingUpdates(pendingCount)

	e.log.WithError(cause).WithField("subject", update.Subject).Info("increment rolled back")
	metrics.RecordIncrement("rolled_back", 0)
	e.bus.Publish(events.Event{
		Type:     events.SyncRolledBack,
		Severity: events.SeverityWarning,
		Subject:  update.Subject,
		Message:  "increment rolled back",
	})
}

// adopt overwrites the displayed value with an authoritative total and
// persists it.
func (e *Engine) adopt(ctx context.Context, subject string, value int64) {
	e.mu.Lock()
	e.displayed[subject] = value
	e.mu.Unlock()
	e.persist(ctx, subject, value)
}

// discardPending removes a pending update that has nothing to reconcile.
func (e *Engine) discardPending(updateID string) {
	e.mu.Lock()
	delete(e.pending, updateID)
	pendingCount := len(e.pending)
	e.mu.Unlock()
	metrics.SetPendingUpdates(pendingCount)
}

// persist writes the cached counter. Only confirmed or rolled-back-to values
// ever reach the store.
func (e *Engine) persist(ctx context.Context, subject string, value int64) {
	if err := e.store.Set(ctx, store.CounterKey(subject), []byte(strconv.FormatInt(value, 10))); err != nil {
		e.log.WithError(err).WithField("subject", subject).Warn("persist cached counter")
	}
}

// Load returns the current counter for a subject: a cheap liveness probe
// first, the real fetch only when the backend looks up, and the cached
// counter as the fallback. A successful fetch always wins over whatever is
// currently displayed.
func (e *Engine) Load(ctx context.Context, subject string) (int64, error) {
	if err := e.remote.Health(ctx); err != nil {
		metrics.RecordProbeFailure()
		e.log.WithError(err).Debug("liveness probe failed; serving cached counter")
		return e.loadCached(ctx, subject), nil
	}

	bearer, _ := e.creds.Bearer()
	value, err := e.remote.Count(ctx, subject, bearer)
	if err != nil {
		e.log.WithError(err).Debug("counter fetch failed; serving cached counter")
		return e.loadCached(ctx, subject), nil
	}

	e.adopt(ctx, subject, value)
	return value, nil
}

// loadCached reads the cached counter and seeds the displayed value when none
// exists yet. Mutation-free with respect to the store.
func (e *Engine) loadCached(ctx context.Context, subject string) int64 {
	raw, err := e.store.Get(ctx, store.CounterKey(subject))
	if err != nil {
		return e.Displayed(subject)
	}
	value, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return e.Displayed(subject)
	}

	e.mu.Lock()
	if _, ok := e.displayed[subject]; !ok {
		e.displayed[subject] = value
	}
	value = e.displayed[subject]
	e.mu.Unlock()
	return value
}

// Reap drops pending updates older than the ceiling without rollback. An
// entry that old is presumed lost: its call neither confirmed nor definitively
// failed, and rolling back now risks undoing a late-arriving confirmed
// increment. Favors not undercounting over strict rollback.
func (e *Engine) Reap() int {
	cutoff := e.now().Add(-e.ceiling)

	e.mu.Lock()
	var reaped []*PendingUpdate
	for id, update := range e.pending {
		if update.CreatedAt.Before(cutoff) {
			delete(e.pending, id)
			reaped = append(reaped, update)
		}
	}
	pendingCount := len(e.pending)
	e.mu.Unlock()
	metrics.SetPendingUpdates(pendingCount)

	for _, update := range reaped {
		metrics.RecordIncrement("reaped", 0)
		e.log.WithField("update_id", update.UpdateID).
			WithField("subject", update.Subject).
			Warn("pending update reaped without rollback")
		e.bus.Publish(events.Event{
			Type:    events.SyncReaped,
			Subject: update.Subject,
			Message: "stale pending update reaped",
		})
	}
	return len(reaped)
}

// Flush waits for in-flight reconciliations, including their bounded
// retries. Used on shutdown and in tests.
func (e *Engine) Flush() {
	e.wg.Wait()
}
