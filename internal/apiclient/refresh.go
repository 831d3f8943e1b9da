// internal/apiclient/refresh.go
package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/webtrail/api/schemas"
)

// TokenSource abstracts where the credential state lives. The storage
// gateway implements it for the agent; tests substitute in-memory fakes.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
	SetAccessToken(ctx context.Context, token string) error
	// ClearCredentials wipes the full credential set on terminal auth
	// failure.
	ClearCredentials(ctx context.Context) error
}

// Refresher coordinates token refresh. A single-flight group guarantees at
// most one refresh network call is outstanding; concurrent callers discover
// the shared outcome, so the logout side effects on terminal failure run
// exactly once.
type Refresher struct {
	client     *http.Client
	refreshURL string
	tokens     TokenSource
	log        *zap.Logger

	maxRetries int
	baseDelay  time.Duration

	group singleflight.Group

	// onAuthFailure runs after credentials are cleared, letting the router
	// flip logged-out state and clear the badge surfaces.
	onAuthFailure func()
}

// NewRefresher builds a refresh coordinator for the given endpoint.
func NewRefresher(client *http.Client, refreshURL string, tokens TokenSource, maxRetries int, baseDelay time.Duration, logger *zap.Logger) *Refresher {
	return &Refresher{
		client:     client,
		refreshURL: refreshURL,
		tokens:     tokens,
		log:        logger.Named("refresh"),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// OnAuthFailure registers the callback invoked once per terminal refresh
// failure.
func (r *Refresher) OnAuthFailure(fn func()) { r.onAuthFailure = fn }

// Refresh obtains a fresh access token, collapsing concurrent callers into
// one network call. All waiters receive the same token or the same error.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	token, err, shared := r.group.Do("refresh", func() (interface{}, error) {
		return r.refreshOnce(ctx)
	})
	if shared {
		r.log.Debug("Refresh result shared with concurrent callers")
	}
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (r *Refresher) refreshOnce(ctx context.Context) (string, error) {
	refreshToken, err := r.tokens.RefreshToken(ctx)
	if err != nil || refreshToken == "" {
		return "", r.fail(ctx, fmt.Errorf("no refresh token available: %w", err))
	}

	var access string
	err = WithRetry(ctx, r.log, r.maxRetries, r.baseDelay, func(ctx context.Context) error {
		access, err = r.post(ctx, refreshToken)
		return err
	})
	if err != nil {
		return "", r.fail(ctx, err)
	}

	if err := r.tokens.SetAccessToken(ctx, access); err != nil {
		return "", fmt.Errorf("failed to store refreshed token: %w", err)
	}
	r.log.Info("Access token refreshed")
	return access, nil
}

// post performs the actual refresh call: a form POST with the refresh token,
// answered by {"access": "..."}.
func (r *Refresher) post(ctx context.Context, refreshToken string) (string, error) {
	form := url.Values{"refresh": {refreshToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.refreshURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", &TimeoutError{URL: r.refreshURL, Err: err}
		}
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		// The refresh token itself is dead. Not retryable.
		return "", &AuthError{Err: fmt.Errorf("refresh rejected with status %d", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &ServerError{Status: resp.StatusCode, Body: body}
	}

	var parsed schemas.RefreshResponse
	if err := jsoniter.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("malformed refresh response: %w", err)
	}
	if parsed.Access == "" {
		return "", &AuthError{Err: fmt.Errorf("refresh response missing access token")}
	}
	return parsed.Access, nil
}

// fail applies the logout side effects and wraps err as an AuthError.
// Running inside the single flight makes the side effects effectively
// atomic with respect to concurrent requests discovering the same failure.
func (r *Refresher) fail(ctx context.Context, err error) error {
	r.log.Warn("Token refresh failed; clearing credentials", zap.Error(err))
	if clearErr := r.tokens.ClearCredentials(ctx); clearErr != nil {
		r.log.Error("Failed to clear credentials after refresh failure", zap.Error(clearErr))
	}
	if r.onAuthFailure != nil {
		r.onAuthFailure()
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return err
	}
	return &AuthError{Err: err}
}
