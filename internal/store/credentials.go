// File: internal/store/credentials.go
package store

import (
	"context"
	"errors"
)

// Credentials is the process-wide login state: lifetime is the browser
// session or an explicit logout.
type Credentials struct {
	Username     string
	AccessToken  string
	RefreshToken string
	LoggedIn     bool
}

// Gateway bundles the durable and session-scoped stores behind the typed
// operations the rest of the agent needs. It adds no transactions on top of
// the per-key atomicity of the underlying stores.
type Gateway struct {
	Durable KV
	Session KV
}

// NewGateway wires the two stores together.
func NewGateway(durable, session KV) *Gateway {
	return &Gateway{Durable: durable, Session: session}
}

// SaveCredentials persists the full credential set and mirrors the tokens
// into the session store for in-memory-only exposure.
func (g *Gateway) SaveCredentials(ctx context.Context, c Credentials) error {
	loggedIn := []byte("false")
	if c.LoggedIn {
		loggedIn = []byte("true")
	}
	if err := g.Durable.Set(ctx, KeyUsername, []byte(c.Username)); err != nil {
		return err
	}
	if err := g.Durable.Set(ctx, KeyAccessToken, []byte(c.AccessToken)); err != nil {
		return err
	}
	if err := g.Durable.Set(ctx, KeyRefreshToken, []byte(c.RefreshToken)); err != nil {
		return err
	}
	if err := g.Durable.Set(ctx, KeyLoggedIn, loggedIn); err != nil {
		return err
	}

	if err := g.Session.Set(ctx, KeySessionAccessToken, []byte(c.AccessToken)); err != nil {
		return err
	}
	return g.Session.Set(ctx, KeySessionRefreshToken, []byte(c.RefreshToken))
}

// Credentials loads the stored credential set. Absent keys read as empty
// fields rather than failures so a fresh install looks like a logged-out
// state.
func (g *Gateway) Credentials(ctx context.Context) (Credentials, error) {
	var c Credentials
	for _, item := range []struct {
		key string
		dst *string
	}{
		{KeyUsername, &c.Username},
		{KeyAccessToken, &c.AccessToken},
		{KeyRefreshToken, &c.RefreshToken},
	} {
		v, err := g.Durable.Get(ctx, item.key)
		if errors.Is(err, ErrNoRecord) {
			continue
		}
		if err != nil {
			return Credentials{}, err
		}
		*item.dst = string(v)
	}

	v, err := g.Durable.Get(ctx, KeyLoggedIn)
	if err == nil {
		c.LoggedIn = string(v) == "true"
	} else if !errors.Is(err, ErrNoRecord) {
		return Credentials{}, err
	}
	return c, nil
}

// AccessToken reads the current access token. Absent reads as empty, which
// the request client treats as unauthenticated.
func (g *Gateway) AccessToken(ctx context.Context) (string, error) {
	return g.tokenField(ctx, KeyAccessToken)
}

// RefreshToken reads the current refresh token.
func (g *Gateway) RefreshToken(ctx context.Context) (string, error) {
	return g.tokenField(ctx, KeyRefreshToken)
}

func (g *Gateway) tokenField(ctx context.Context, key string) (string, error) {
	v, err := g.Durable.Get(ctx, key)
	if errors.Is(err, ErrNoRecord) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// SetAccessToken is the refresh coordinator's hook for installing a freshly
// minted access token.
func (g *Gateway) SetAccessToken(ctx context.Context, token string) error {
	return g.UpdateAccessToken(ctx, token)
}

// UpdateAccessToken replaces only the access token, durable and session
// copies both. Used after a successful refresh.
func (g *Gateway) UpdateAccessToken(ctx context.Context, token string) error {
	if err := g.Durable.Set(ctx, KeyAccessToken, []byte(token)); err != nil {
		return err
	}
	return g.Session.Set(ctx, KeySessionAccessToken, []byte(token))
}

// ClearCredentials removes all four credential fields from both stores. The
// sequence is not atomic; a partial clear recovers on the next login.
func (g *Gateway) ClearCredentials(ctx context.Context) error {
	var firstErr error
	for _, key := range []string{KeyUsername, KeyAccessToken, KeyRefreshToken, KeyLoggedIn} {
		if err := g.Durable.Remove(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, key := range []string{KeySessionAccessToken, KeySessionToken, KeySessionRefreshToken} {
		if err := g.Session.Remove(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
