package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/promptlift/clientcore/internal/errors"
	"github.com/promptlift/clientcore/pkg/logger"
)

// Session is one issued credential pair from the provider.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Provider is the credential provider contract. Refresh performs a silent
// renewal; UserInfo fetches subject claims; Revoke invalidates the session
// server-side.
type Provider interface {
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	UserInfo(ctx context.Context, accessToken string) (*Subject, error)
	Revoke(ctx context.Context, accessToken string) error
}

// InteractiveFlow runs the user-facing acquisition flow. Implementations
// surface user dismissal as an AuthCancelled error, which is never retried
// automatically.
type InteractiveFlow interface {
	Acquire(ctx context.Context) (*Session, error)
}

// HTTPProvider talks to the auth service over HTTP.
type HTTPProvider struct {
	client  *http.Client
	baseURL string
	log     *logger.Logger
}

// NewHTTPProvider constructs a provider for the given auth base URL.
func NewHTTPProvider(client *http.Client, baseURL string, log *logger.Logger) (*HTTPProvider, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("auth base URL required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("auth-provider")
	}
	return &HTTPProvider{client: client, baseURL: baseURL, log: log}, nil
}

// Refresh exchanges a refresh token for a new session.
func (p *HTTPProvider) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, errors.RefreshUnavailable("no refresh token present")
	}

	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, errors.AuthFailed("marshal refresh request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/token?grant_type=refresh_token", bytes.NewReader(body))
	if err != nil {
		return nil, errors.AuthFailed("build refresh request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.AuthFailed("refresh request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		// Refresh material rejected by the provider; silent renewal is off
		// the table until a fresh interactive login.
		return nil, errors.RefreshUnavailable(fmt.Sprintf("refresh rejected with status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, errors.AuthFailed(fmt.Sprintf("refresh failed with status %d", resp.StatusCode), nil)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, errors.AuthFailed("decode refresh response", err)
	}
	if session.AccessToken == "" {
		return nil, errors.AuthFailed("refresh response missing access token", nil)
	}
	return &session, nil
}

// UserInfo fetches the subject claims for an access token.
func (p *HTTPProvider) UserInfo(ctx context.Context, accessToken string) (*Subject, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/user", nil)
	if err != nil {
		return nil, errors.AuthFailed("build user info request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.AuthFailed("user info request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, errors.AuthFailed(fmt.Sprintf("user info failed with status %d", resp.StatusCode), nil)
	}

	var subject Subject
	if err := json.NewDecoder(resp.Body).Decode(&subject); err != nil {
		return nil, errors.AuthFailed("decode user info response", err)
	}
	return &subject, nil
}

// Revoke signs the session out server-side. Best effort: callers clear local
// state regardless of the outcome.
func (p *HTTPProvider) Revoke(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/logout", nil)
	if err != nil {
		return errors.AuthFailed("build revoke request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.AuthFailed("revoke request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errors.AuthFailed(fmt.Sprintf("revoke failed with status %d", resp.StatusCode), nil)
	}
	return nil
}
