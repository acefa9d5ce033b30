// Package token owns the bearer credential lifecycle: acquisition, validity
// checking, proactive refresh and revocation. Validity is always recomputed
// by decoding the credential's embedded claims at check time; no cached
// boolean is ever trusted across time, and correctness never depends on a
// timer firing.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/promptlift/clientcore/internal/errors"
	"github.com/promptlift/clientcore/internal/events"
	"github.com/promptlift/clientcore/internal/metrics"
	"github.com/promptlift/clientcore/internal/store"
	"github.com/promptlift/clientcore/pkg/logger"
)

// DefaultRefreshThreshold is the lead time before expiry at which a token is
// considered expiring soon.
const DefaultRefreshThreshold = 5 * time.Minute

// ExpiryCheck is the result of one validity check. Valid follows the embedded
// claims alone: a token is valid while any time remains before expiry, even
// inside the refresh threshold.
type ExpiryCheck struct {
	Valid           bool
	Reason          string
	Status          Status
	TimeUntilExpiry time.Duration
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock injects the time source. Tests use this to pin the clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRefreshThreshold overrides the expiring-soon lead time.
func WithRefreshThreshold(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.threshold = d
		}
	}
}

// WithInteractiveFlow attaches the user-facing acquisition flow used when
// silent refresh is unavailable or fails.
func WithInteractiveFlow(flow InteractiveFlow) Option {
	return func(m *Manager) { m.flow = flow }
}

// stopper is what Logout needs from an attached background monitor.
type stopper interface {
	Stop(ctx context.Context) error
}

// Manager owns the current session token. At most one live token exists per
// subject; a refreshed token replaces the prior one atomically.
type Manager struct {
	provider  Provider
	flow      InteractiveFlow
	store     store.Store
	bus       events.Bus
	log       *logger.Logger
	threshold time.Duration
	now       func() time.Time

	mu      sync.RWMutex
	session *Session
	subject *Subject
	monitor stopper
}

// NewManager creates a token lifecycle manager.
func NewManager(provider Provider, st store.Store, log *logger.Logger, bus events.Bus, opts ...Option) *Manager {
	if log == nil {
		log = logger.NewDefault("token")
	}
	if bus == nil {
		bus = events.NoOpBus{}
	}
	m := &Manager{
		provider:  provider,
		store:     st,
		bus:       bus,
		log:       log,
		threshold: DefaultRefreshThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AttachMonitor registers the background monitor so Logout can stop it.
func (m *Manager) AttachMonitor(monitor stopper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monitor = monitor
}

// Restore loads persisted credential material from the durable store. Missing
// slots leave the manager in the no-token state without error.
func (m *Manager) Restore(ctx context.Context) error {
	raw, err := m.store.Get(ctx, store.KeyCredential)
	if store.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore credential: %w", err)
	}

	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		// Corrupt slot; treat as no token and let the next login rewrite it.
		m.log.WithError(err).Warn("persisted credential undecodable; ignoring")
		return nil
	}

	var subject *Subject
	if rawSubject, err := m.store.Get(ctx, store.KeySubjectClaims); err == nil {
		var s Subject
		if json.Unmarshal(rawSubject, &s) == nil {
			subject = &s
		}
	}

	m.mu.Lock()
	m.session = &session
	m.subject = subject
	m.mu.Unlock()
	return nil
}

// CheckExpiry reports current token validity. Pure read: it never mutates
// state and is safe to call at arbitrary frequency. The claims are re-decoded
// on every call so the answer tracks wall-clock time.
func (m *Manager) CheckExpiry() ExpiryCheck {
	m.mu.RLock()
	session := m.session
	m.mu.RUnlock()

	if session == nil || session.AccessToken == "" {
		return ExpiryCheck{Reason: "no_token", Status: StatusNoToken}
	}

	claims, err := DecodeClaims(session.AccessToken)
	if err != nil {
		// Undecodable claims are treated identically to having no token.
		return ExpiryCheck{Reason: "malformed", Status: StatusNoToken}
	}

	remaining := claims.Expiry().Sub(m.now())
	switch {
	case remaining <= 0:
		return ExpiryCheck{Reason: "expired", Status: StatusExpired}
	case remaining <= m.threshold:
		return ExpiryCheck{Valid: true, Reason: "expiring_soon", Status: StatusExpiringSoon, TimeUntilExpiry: remaining}
	default:
		return ExpiryCheck{Valid: true, Reason: "valid", Status: StatusValid, TimeUntilExpiry: remaining}
	}
}

// Bearer returns the access token for an authorized call, or false when no
// usable token exists. An invalid token is never handed out.
func (m *Manager) Bearer() (string, bool) {
	check := m.CheckExpiry()
	if !check.Status.Usable() {
		return "", false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return "", false
	}
	return m.session.AccessToken, true
}

// Subject returns the current user identity claims, or nil.
func (m *Manager) Subject() *Subject {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.subject == nil {
		return nil
	}
	s := *m.subject
	return &s
}

// Login establishes a session. Silent refresh runs first whenever refreshable
// material exists; the interactive flow is a fallback only, never the first
// choice. User dismissal surfaces as AuthCancelled and is not retried.
func (m *Manager) Login(ctx context.Context) error {
	m.mu.RLock()
	var refreshToken string
	if m.session != nil {
		refreshToken = m.session.RefreshToken
	}
	m.mu.RUnlock()

	if refreshToken != "" {
		session, err := m.provider.Refresh(ctx, refreshToken)
		if err == nil {
			metrics.RecordTokenRefresh(true)
			return m.adopt(ctx, session)
		}
		metrics.RecordTokenRefresh(false)
		m.log.WithError(err).Info("silent refresh failed; falling back to interactive flow")
	}

	if m.flow == nil {
		if refreshToken == "" {
			return errors.RefreshUnavailable("no refreshable session and no interactive flow configured")
		}
		return errors.AuthFailed("silent refresh failed and no interactive flow configured", nil)
	}

	session, err := m.flow.Acquire(ctx)
	if err != nil {
		if errors.HasCode(err, errors.CodeAuthCancelled) {
			return err
		}
		return errors.AuthFailed("interactive acquisition failed", err)
	}
	return m.adopt(ctx, session)
}

// Refresh silently renews the current session. The ExpiringSoon -> Valid
// transition.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.RLock()
	var refreshToken string
	if m.session != nil {
		refreshToken = m.session.RefreshToken
	}
	m.mu.RUnlock()

	session, err := m.provider.Refresh(ctx, refreshToken)
	if err != nil {
		metrics.RecordTokenRefresh(false)
		return err
	}
	metrics.RecordTokenRefresh(true)
	return m.adopt(ctx, session)
}

// adopt installs a freshly issued session: decodes its claims, fetches the
// subject, persists both, and announces the acquisition.
func (m *Manager) adopt(ctx context.Context, session *Session) error {
	claims, err := DecodeClaims(session.AccessToken)
	if err != nil {
		return err
	}

	subject, err := m.provider.UserInfo(ctx, session.AccessToken)
	if err != nil {
		// The claims already carry the identity; the user info call only
		// enriches it.
		m.log.WithError(err).Warn("user info fetch failed; using claims-derived subject")
		s := claims.Subject()
		subject = &s
	}

	if raw, err := json.Marshal(session); err == nil {
		if err := m.store.Set(ctx, store.KeyCredential, raw); err != nil {
			return fmt.Errorf("persist credential: %w", err)
		}
	}
	if raw, err := json.Marshal(subject); err == nil {
		if err := m.store.Set(ctx, store.KeySubjectClaims, raw); err != nil {
			return fmt.Errorf("persist subject claims: %w", err)
		}
	}
	if err := m.store.Set(ctx, store.KeySessionTimestamp, []byte(m.now().UTC().Format(time.RFC3339))); err != nil {
		return fmt.Errorf("persist session timestamp: %w", err)
	}

	m.mu.Lock()
	m.session = session
	m.subject = subject
	m.mu.Unlock()

	m.log.WithField("subject", subject.ID).Info("session token acquired")
	m.bus.Publish(events.Event{
		Type:    events.TokenAcquired,
		Subject: subject.ID,
		Message: "session token acquired",
	})
	return nil
}

// Logout stops background monitoring, revokes the session best-effort, and
// clears all persisted credential material. Unconditionally safe: calling it
// with no active session is a no-op, not an error.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	session := m.session
	subject := m.subject
	monitor := m.monitor
	m.session = nil
	m.subject = nil
	m.mu.Unlock()

	if monitor != nil {
		if err := monitor.Stop(ctx); err != nil {
			m.log.WithError(err).Warn("stop token monitor")
		}
	}

	if session == nil {
		return nil
	}

	if err := m.provider.Revoke(ctx, session.AccessToken); err != nil {
		m.log.WithError(err).Warn("server-side revocation failed; clearing local state anyway")
	}

	if err := m.clearPersisted(ctx); err != nil {
		return err
	}

	subjectID := ""
	if subject != nil {
		subjectID = subject.ID
	}
	m.log.WithField("subject", subjectID).Info("session cleared")
	m.bus.Publish(events.Event{
		Type:    events.TokenCleared,
		Subject: subjectID,
		Message: "session cleared",
	})
	return nil
}

// Invalidate clears credential material without server-side revocation.
// The Expired -> NoToken transition.
func (m *Manager) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	m.session = nil
	m.subject = nil
	m.mu.Unlock()
	return m.clearPersisted(ctx)
}

func (m *Manager) clearPersisted(ctx context.Context) error {
	for _, key := range []string{store.KeyCredential, store.KeySubjectClaims, store.KeySessionTimestamp} {
		if err := m.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("clear %s: %w", key, err)
		}
	}
	return nil
}

// AdvisoryTick emits advisory expiry signals for dependent components. It
// never mutates the session token; a missed tick costs a warning, never
// correctness.
func (m *Manager) AdvisoryTick() {
	check := m.CheckExpiry()
	metrics.SetTokenTimeToExpiry(check.TimeUntilExpiry)

	subjectID := ""
	if subject := m.Subject(); subject != nil {
		subjectID = subject.ID
	}

	switch check.Status {
	case StatusExpiringSoon:
		minutes := int(check.TimeUntilExpiry.Round(time.Minute) / time.Minute)
		m.bus.Publish(events.Event{
			Type:     events.TokenExpiringSoon,
			Severity: events.SeverityWarning,
			Subject:  subjectID,
			Message:  fmt.Sprintf("session token expires in %d minutes", minutes),
		})
	case StatusExpired:
		m.bus.Publish(events.Event{
			Type:     events.TokenExpired,
			Severity: events.SeverityWarning,
			Subject:  subjectID,
			Message:  "session token expired; re-authentication required",
		})
	}
}
