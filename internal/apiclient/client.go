// internal/apiclient/client.go
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/internal/config"
	"github.com/xkilldash9x/webtrail/internal/network"
)

// Endpoint paths on the collector. Login and refresh are exempt from the
// bearer header since they establish it.
const (
	PathLogin      = "/user/login/"
	PathCheck      = "/user/check/"
	PathRefresh    = "/user/refresh/"
	PathActiveTask = "/task/active_task/"
	PathTaskData   = "/task/data/"

	PathTaskInfo       = "/task/info/"
	PathJustifications = "/task/justifications/"
)

// SessionHeader carries the session-correlation ID on authenticated calls.
const SessionHeader = "X-Webtrail-Session"

// Client issues authenticated requests against the collector with timeout,
// automatic 401 recovery via the refresh coordinator, and bounded retry for
// transient failures.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	refresher  *Refresher
	log        *zap.Logger

	requestTimeout time.Duration
	maxRetries     int
	baseDelay      time.Duration

	// sessionID, when set, is attached to every authenticated request.
	sessionID string
}

// New assembles the client, its transport stack and the refresh coordinator
// from config.
func New(cfg *config.Config, tokens TokenSource, logger *zap.Logger) *Client {
	httpClient := network.NewClient(cfg.Network)
	base := strings.TrimRight(cfg.Auth.BaseURL, "/")

	return &Client{
		httpClient: httpClient,
		baseURL:    base,
		tokens:     tokens,
		refresher: NewRefresher(httpClient, base+PathRefresh, tokens,
			cfg.Auth.MaxRetries, cfg.Auth.BaseDelay, logger),
		log:            logger.Named("apiclient"),
		requestTimeout: cfg.Network.RequestTimeout,
		maxRetries:     cfg.Auth.MaxRetries,
		baseDelay:      cfg.Auth.BaseDelay,
	}
}

// Refresher exposes the coordinator so callers can hook auth-failure side
// effects.
func (c *Client) Refresher() *Refresher { return c.refresher }

// SetSessionID sets the session-correlation header value.
func (c *Client) SetSessionID(id string) { c.sessionID = id }

// Do issues one request against the collector. Transient failures are
// retried inside the budget; a 401 triggers a single refresh-and-retry
// before surfacing an AuthError.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, contentType string) ([]byte, error) {
	var out []byte
	err := WithRetry(ctx, c.log, c.maxRetries, c.baseDelay, func(ctx context.Context) error {
		var attemptErr error
		out, attemptErr = c.attempt(ctx, method, path, body, contentType)
		return attemptErr
	})
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, errUnauthorized) {
		return nil, err
	}

	// 401 path: refresh once, retry the original request exactly once with
	// the new token. The refresher owns the logout side effects.
	if _, refreshErr := c.refresher.Refresh(ctx); refreshErr != nil {
		return nil, refreshErr
	}
	out, err = c.attempt(ctx, method, path, body, contentType)
	if errors.Is(err, errUnauthorized) {
		return nil, &AuthError{Err: fmt.Errorf("request to %s still unauthorized after refresh", path)}
	}
	return out, err
}

// attempt performs a single HTTP exchange and classifies the outcome into
// the client's error taxonomy.
func (c *Client) attempt(ctx context.Context, method, path string, body []byte, contentType string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	fullURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if !authExempt(path) {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load access token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if c.sessionID != "" {
			req.Header.Set(SessionHeader, c.sessionID)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A fired deadline aborts the connection; report it on the same
		// channel as any other network failure so retry treats it uniformly.
		if ctx.Err() != nil || isTimeout(err) {
			return nil, &TimeoutError{URL: fullURL, Err: err}
		}
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", fullURL, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errUnauthorized
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return respBody, nil
	default:
		return nil, &ServerError{Status: resp.StatusCode, Body: respBody}
	}
}

// authExempt reports whether path is one of the endpoints that establish
// credentials rather than consuming them.
func authExempt(path string) bool {
	return path == PathLogin || path == PathRefresh
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	for err != nil {
		if t, ok := err.(timeout); ok && t.Timeout() {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
