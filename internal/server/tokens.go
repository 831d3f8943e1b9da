// internal/server/tokens.go
package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token kinds carried in the token_type claim so a refresh token can never
// pass as an access token.
const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var errWrongTokenType = errors.New("wrong token type")

// TokenIssuer mints and verifies the collector's HS256 token pair.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer builds an issuer. now is injectable for tests; nil means
// wall clock.
func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration, now func() time.Time) *TokenIssuer {
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        now,
	}
}

type claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// IssuePair mints an access and refresh token for username.
func (ti *TokenIssuer) IssuePair(username string) (access, refresh string, err error) {
	access, err = ti.issue(username, tokenTypeAccess, ti.accessTTL)
	if err != nil {
		return "", "", err
	}
	refresh, err = ti.issue(username, tokenTypeRefresh, ti.refreshTTL)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// IssueAccess mints a fresh access token, used by the refresh endpoint.
func (ti *TokenIssuer) IssueAccess(username string) (string, error) {
	return ti.issue(username, tokenTypeAccess, ti.accessTTL)
}

func (ti *TokenIssuer) issue(username, tokenType string, ttl time.Duration) (string, error) {
	now := ti.now()
	c := claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "webtrail",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", tokenType, err)
	}
	return signed, nil
}

// VerifyAccess validates an access token and returns its subject.
func (ti *TokenIssuer) VerifyAccess(raw string) (string, error) {
	return ti.verify(raw, tokenTypeAccess)
}

// VerifyRefresh validates a refresh token and returns its subject.
func (ti *TokenIssuer) VerifyRefresh(raw string) (string, error) {
	return ti.verify(raw, tokenTypeRefresh)
}

func (ti *TokenIssuer) verify(raw, wantType string) (string, error) {
	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return ti.secret, nil
	}, jwt.WithTimeFunc(ti.now), jwt.WithIssuer("webtrail"))
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", jwt.ErrTokenUnverifiable
	}
	if c.TokenType != wantType {
		return "", fmt.Errorf("%w: got %q, want %q", errWrongTokenType, c.TokenType, wantType)
	}
	return c.Subject, nil
}
