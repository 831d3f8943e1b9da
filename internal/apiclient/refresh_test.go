// internal/apiclient/refresh_test.go
package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRefresher(client *http.Client, url string, tokens TokenSource) *Refresher {
	return NewRefresher(client, url, tokens, 0, time.Millisecond, zap.NewNop())
}

func TestRefresh_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "ref-token", r.Form.Get("refresh"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access":"new-access"}`))
	}))
	defer srv.Close()

	tokens := &fakeTokens{access: "old", refresh: "ref-token"}
	r := newRefresher(srv.Client(), srv.URL, tokens)

	got, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", got)

	stored, _ := tokens.AccessToken(context.Background())
	assert.Equal(t, "new-access", stored)
}

func TestRefresh_SingleFlight(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"access":"shared-access"}`))
	}))
	defer srv.Close()

	tokens := &fakeTokens{refresh: "ref"}
	r := newRefresher(srv.Client(), srv.URL, tokens)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Refresh(context.Background())
		}(i)
	}

	// Let all callers pile onto the in-flight refresh, then release it.
	assert.Eventually(t, func() bool { return hits.Load() == 1 },
		time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load(), "exactly one refresh call for all concurrent callers")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared-access", results[i])
	}
}

func TestRefresh_TerminalFailureClearsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &fakeTokens{access: "a", refresh: "stale"}
	r := newRefresher(srv.Client(), srv.URL, tokens)

	notified := false
	r.OnAuthFailure(func() { notified = true })

	_, err := r.Refresh(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.True(t, tokens.wasCleared(), "credentials cleared on terminal failure")
	assert.True(t, notified, "auth-failure hook fired")
}

func TestRefresh_MissingRefreshToken(t *testing.T) {
	tokens := &fakeTokens{}
	r := newRefresher(http.DefaultClient, "http://127.0.0.1:0", tokens)

	_, err := r.Refresh(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.True(t, tokens.wasCleared())
}

func TestRefresh_RetriesTransientThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"access":"after-retry"}`))
	}))
	defer srv.Close()

	tokens := &fakeTokens{refresh: "ref"}
	r := NewRefresher(srv.Client(), srv.URL, tokens, 2, time.Millisecond, zap.NewNop())

	got, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "after-retry", got)
	assert.Equal(t, int32(2), hits.Load())
}
