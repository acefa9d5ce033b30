package token

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/promptlift/clientcore/internal/errors"
	"github.com/promptlift/clientcore/internal/store"
)

func mintToken(t *testing.T, userID string, expiresAt time.Time) string {
	t.Helper()
	claims := &Claims{
		UserID: userID,
		Email:  "user@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

type fakeProvider struct {
	refreshCalls int32
	refreshFn    func(ctx context.Context, refreshToken string) (*Session, error)
	userInfoFn   func(ctx context.Context, accessToken string) (*Subject, error)
	revokeCalls  int32
}

func (f *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	atomic.AddInt32(&f.refreshCalls, 1)
	if f.refreshFn != nil {
		return f.refreshFn(ctx, refreshToken)
	}
	return nil, errors.RefreshUnavailable("no refresh configured")
}

func (f *fakeProvider) UserInfo(ctx context.Context, accessToken string) (*Subject, error) {
	if f.userInfoFn != nil {
		return f.userInfoFn(ctx, accessToken)
	}
	return &Subject{ID: "user-1", Email: "user@example.com"}, nil
}

func (f *fakeProvider) Revoke(ctx context.Context, accessToken string) error {
	atomic.AddInt32(&f.revokeCalls, 1)
	return nil
}

type fakeFlow struct {
	calls   int32
	acquire func(ctx context.Context) (*Session, error)
}

func (f *fakeFlow) Acquire(ctx context.Context) (*Session, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.acquire(ctx)
}

func seedSession(t *testing.T, st store.Store, session *Session) {
	t.Helper()
	raw, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	if err := st.Set(context.Background(), store.KeyCredential, raw); err != nil {
		t.Fatalf("seed credential: %v", err)
	}
}

func TestCheckExpiry_NoToken(t *testing.T) {
	m := NewManager(&fakeProvider{}, store.NewMemory(), nil, nil)
	check := m.CheckExpiry()
	if check.Valid || check.Reason != "no_token" || check.Status != StatusNoToken {
		t.Fatalf("unexpected check: %+v", check)
	}
}

func TestCheckExpiry_IsTimeDerived(t *testing.T) {
	now := time.Now()
	clock := now
	st := store.NewMemory()
	seedSession(t, st, &Session{AccessToken: mintToken(t, "user-1", now.Add(10*time.Minute))})

	m := NewManager(&fakeProvider{}, st, nil, nil, WithClock(func() time.Time { return clock }))
	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if check := m.CheckExpiry(); !check.Valid || check.Reason != "valid" {
		t.Fatalf("expected valid, got %+v", check)
	}

	// Same stored token, later clock: expiring soon.
	clock = now.Add(7 * time.Minute)
	if check := m.CheckExpiry(); !check.Valid || check.Reason != "expiring_soon" {
		t.Fatalf("expected expiring_soon, got %+v", check)
	}

	// Past expiry: invalid regardless of when the token was stored.
	clock = now.Add(11 * time.Minute)
	check := m.CheckExpiry()
	if check.Valid || check.Reason != "expired" || check.Status != StatusExpired {
		t.Fatalf("expected expired, got %+v", check)
	}
}

func TestCheckExpiry_ExpiringSoonAtSixtySeconds(t *testing.T) {
	now := time.Now()
	st := store.NewMemory()
	seedSession(t, st, &Session{AccessToken: mintToken(t, "user-1", now.Add(60*time.Second))})

	m := NewManager(&fakeProvider{}, st, nil, nil,
		WithClock(func() time.Time { return now }),
		WithRefreshThreshold(300*time.Second))
	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	check := m.CheckExpiry()
	if check.Reason != "expiring_soon" {
		t.Fatalf("expected reason expiring_soon, got %+v", check)
	}
	if !check.Valid {
		t.Fatalf("expiring-soon token must still be valid: %+v", check)
	}
}

func TestCheckExpiry_MalformedTreatedAsNoToken(t *testing.T) {
	st := store.NewMemory()
	seedSession(t, st, &Session{AccessToken: "not-a-jwt"})

	m := NewManager(&fakeProvider{}, st, nil, nil)
	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	check := m.CheckExpiry()
	if check.Valid || check.Status != StatusNoToken || check.Reason != "malformed" {
		t.Fatalf("unexpected check for malformed token: %+v", check)
	}
}

func TestBearer_NeverReturnsExpiredToken(t *testing.T) {
	now := time.Now()
	st := store.NewMemory()
	seedSession(t, st, &Session{AccessToken: mintToken(t, "user-1", now.Add(-time.Minute))})

	m := NewManager(&fakeProvider{}, st, nil, nil, WithClock(func() time.Time { return now }))
	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if bearer, ok := m.Bearer(); ok {
		t.Fatalf("expired token handed out: %q", bearer)
	}
}

func TestLogin_SilentRefreshPreferredOverInteractive(t *testing.T) {
	now := time.Now()
	st := store.NewMemory()
	seedSession(t, st, &Session{
		AccessToken:  mintToken(t, "user-1", now.Add(-time.Minute)),
		RefreshToken: "refresh-1",
	})

	provider := &fakeProvider{
		refreshFn: func(_ context.Context, refreshToken string) (*Session, error) {
			if refreshToken != "refresh-1" {
				t.Fatalf("unexpected refresh token %q", refreshToken)
			}
			return &Session{
				AccessToken:  mintToken(t, "user-1", now.Add(time.Hour)),
				RefreshToken: "refresh-2",
			}, nil
		},
	}
	flow := &fakeFlow{acquire: func(context.Context) (*Session, error) {
		t.Fatal("interactive flow must not run when silent refresh succeeds")
		return nil, nil
	}}

	m := NewManager(provider, st, nil, nil, WithInteractiveFlow(flow))
	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if err := m.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}

	if atomic.LoadInt32(&provider.refreshCalls) != 1 {
		t.Fatalf("expected one refresh call, got %d", provider.refreshCalls)
	}
	if atomic.LoadInt32(&flow.calls) != 0 {
		t.Fatalf("interactive flow ran %d times", flow.calls)
	}
	if bearer, ok := m.Bearer(); !ok || bearer == "" {
		t.Fatalf("expected usable bearer after login")
	}
}

func TestLogin_FallsBackToInteractiveWhenNoRefreshMaterial(t *testing.T) {
	now := time.Now()
	provider := &fakeProvider{}
	flow := &fakeFlow{acquire: func(context.Context) (*Session, error) {
		return &Session{
			AccessToken:  mintToken(t, "user-2", now.Add(time.Hour)),
			RefreshToken: "refresh-9",
		}, nil
	}}

	m := NewManager(provider, store.NewMemory(), nil, nil, WithInteractiveFlow(flow))
	if err := m.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}

	if atomic.LoadInt32(&provider.refreshCalls) != 0 {
		t.Fatalf("refresh attempted with no refresh material")
	}
	if atomic.LoadInt32(&flow.calls) != 1 {
		t.Fatalf("expected one interactive acquisition, got %d", flow.calls)
	}
}

func TestLogin_CancellationSurfacesAndIsNotRetried(t *testing.T) {
	flow := &fakeFlow{acquire: func(context.Context) (*Session, error) {
		return nil, errors.AuthCancelled("user dismissed the login window")
	}}

	m := NewManager(&fakeProvider{}, store.NewMemory(), nil, nil, WithInteractiveFlow(flow))
	err := m.Login(context.Background())
	if !errors.HasCode(err, errors.CodeAuthCancelled) {
		t.Fatalf("expected AuthCancelled, got %v", err)
	}
	if atomic.LoadInt32(&flow.calls) != 1 {
		t.Fatalf("cancelled flow retried: %d calls", flow.calls)
	}
}

func TestLogin_PersistsCredentialAndSubject(t *testing.T) {
	now := time.Now()
	st := store.NewMemory()
	flow := &fakeFlow{acquire: func(context.Context) (*Session, error) {
		return &Session{AccessToken: mintToken(t, "user-3", now.Add(time.Hour))}, nil
	}}

	m := NewManager(&fakeProvider{}, st, nil, nil, WithInteractiveFlow(flow))
	if err := m.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}

	for _, key := range []string{store.KeyCredential, store.KeySubjectClaims, store.KeySessionTimestamp} {
		if _, err := st.Get(context.Background(), key); err != nil {
			t.Fatalf("expected %s persisted: %v", key, err)
		}
	}
}

func TestLogout_NoSessionIsNoop(t *testing.T) {
	provider := &fakeProvider{}
	m := NewManager(provider, store.NewMemory(), nil, nil)
	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("logout without session: %v", err)
	}
	if atomic.LoadInt32(&provider.revokeCalls) != 0 {
		t.Fatalf("revoke called without a session")
	}
}

func TestLogout_ClearsAllPersistedMaterial(t *testing.T) {
	now := time.Now()
	st := store.NewMemory()
	provider := &fakeProvider{}
	flow := &fakeFlow{acquire: func(context.Context) (*Session, error) {
		return &Session{AccessToken: mintToken(t, "user-4", now.Add(time.Hour))}, nil
	}}

	m := NewManager(provider, st, nil, nil, WithInteractiveFlow(flow))
	if err := m.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if atomic.LoadInt32(&provider.revokeCalls) != 1 {
		t.Fatalf("expected one revocation, got %d", provider.revokeCalls)
	}
	for _, key := range []string{store.KeyCredential, store.KeySubjectClaims, store.KeySessionTimestamp} {
		if _, err := st.Get(context.Background(), key); !store.IsNotFound(err) {
			t.Fatalf("expected %s cleared, got %v", key, err)
		}
	}
	if check := m.CheckExpiry(); check.Status != StatusNoToken {
		t.Fatalf("expected no-token state after logout, got %+v", check)
	}
}
