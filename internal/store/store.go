// File: internal/store/store.go
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNoRecord is the "no record" sentinel returned for absent or expired
// keys. Callers distinguish it from genuine storage failures with errors.Is.
var ErrNoRecord = errors.New("store: no record")

// KV is the contract shared by the durable and session-scoped stores. All
// operations are atomic at the single-key level; multi-key updates are not
// transactional (a crash mid-sequence can leave partial state, which the
// credential lifecycle tolerates by re-login).
type KV interface {
	// Get returns the value for key, or ErrNoRecord if the key is absent or
	// its expiry has passed. An expired entry is removed on read.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores a value with no expiry.
	Set(ctx context.Context, key string, value []byte) error
	// SetWithExpiry stores a value that becomes invisible after ttl.
	SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Remove deletes a key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// SweepExpired removes every entry whose expiry has passed and reports
	// how many were removed.
	SweepExpired(ctx context.Context) (int, error)
	// Close releases any underlying resources.
	Close() error
}

// Well-known durable keys. The per-link interface cache uses dynamic keys of
// the form "iface:"+url+query next to these.
const (
	KeyUsername     = "username"
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyLoggedIn     = "logged_in"

	KeyMessageBoxSize     = "messageBoxSize"
	KeyMessageBoxPosition = "messageBoxPosition"
	KeyPopupScale         = "popupScale"
	KeyColorTheme         = "colorTheme"
	KeyCustomColor        = "customColor"
	KeyDarkMode           = "darkMode"
)

// Session-scoped keys holding in-memory-only copies of the token state.
const (
	KeySessionAccessToken  = "access_token"
	KeySessionToken        = "extension_session_token"
	KeySessionRefreshToken = "refresh_token"
)

// StartSweeper runs SweepExpired on kv at the given interval until ctx is
// done. It is the proactive complement to the lazy invalidation performed on
// every read.
func StartSweeper(ctx context.Context, kv KV, interval time.Duration, onSweep func(removed int, err error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := kv.SweepExpired(ctx)
			if onSweep != nil {
				onSweep(removed, err)
			}
		}
	}
}
