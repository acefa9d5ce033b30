package counter

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/promptlift/clientcore/internal/errors"
	"github.com/promptlift/clientcore/pkg/logger"
)

// Authority is the remote backend owning the canonical counter.
type Authority interface {
	// Health is the cheap liveness probe. It runs under a short timeout and
	// only decides whether the more expensive calls are worth attempting.
	Health(ctx context.Context) error

	// Count fetches the authoritative counter for a subject.
	Count(ctx context.Context, subject, bearer string) (int64, error)

	// IncrementCount records one tracked usage and returns the new
	// authoritative total.
	IncrementCount(ctx context.Context, email, bearer string) (int64, error)
}

// HTTPAuthority talks to the remote authority over HTTP. Every call carries
// an explicit timeout: short for the probe, longer for data calls.
type HTTPAuthority struct {
	client         *http.Client
	baseURL        string
	healthTimeout  time.Duration
	requestTimeout time.Duration
	log            *logger.Logger
}

// NewHTTPAuthority constructs a client for the given base URL.
func NewHTTPAuthority(client *http.Client, baseURL string, healthTimeout, requestTimeout time.Duration, log *logger.Logger) (*HTTPAuthority, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("remote base URL required")
	}
	if client == nil {
		client = &http.Client{}
	}
	if healthTimeout <= 0 {
		healthTimeout = 2 * time.Second
	}
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("remote")
	}
	return &HTTPAuthority{
		client:         client,
		baseURL:        baseURL,
		healthTimeout:  healthTimeout,
		requestTimeout: requestTimeout,
		log:            log,
	}, nil
}

// Health probes GET /health under the short timeout.
func (a *HTTPAuthority) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		return errors.RemoteUnreachable(err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.RemoteRejected(resp.StatusCode)
	}
	return nil
}

// Count fetches GET /users/{subject} and returns its enhanced_prompts field.
func (a *HTTPAuthority) Count(ctx context.Context, subject, bearer string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/users/"+url.PathEscape(subject), nil)
	if err != nil {
		return 0, errors.RemoteUnreachable(err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, errors.RemoteRejected(resp.StatusCode)
	}

	var payload struct {
		EnhancedPrompts int64 `json:"enhanced_prompts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, errors.RemoteRejected(resp.StatusCode)
	}
	return payload.EnhancedPrompts, nil
}

// IncrementCount posts /increment-count and returns the authoritative total.
func (a *HTTPAuthority) IncrementCount(ctx context.Context, email, bearer string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"user_email": email})
	if err != nil {
		return 0, errors.Internal("marshal increment request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/increment-count", bytes.NewReader(body))
	if err != nil {
		return 0, errors.RemoteUnreachable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, errors.RemoteRejected(resp.StatusCode)
	}

	var payload struct {
		NewCount int64 `json:"new_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, errors.RemoteRejected(resp.StatusCode)
	}
	return payload.NewCount, nil
}

// classifyTransportError distinguishes deadline expiry from other transport
// failures. Both roll back identically; the distinction only feeds logs and
// metrics.
func classifyTransportError(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.RemoteTimeout(err)
	}
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) && urlErr.Timeout() {
		return errors.RemoteTimeout(err)
	}
	return errors.RemoteUnreachable(err)
}
