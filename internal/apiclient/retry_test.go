// internal/apiclient/retry_test.go
package apiclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWithRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), zap.NewNop(), 3, time.Millisecond, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_AttemptBoundAndLinearDelays(t *testing.T) {
	const maxRetries = 3
	base := 20 * time.Millisecond

	calls := 0
	var stamps []time.Time
	boom := &ServerError{Status: 503}

	err := WithRetry(context.Background(), zap.NewNop(), maxRetries, base, func(context.Context) error {
		calls++
		stamps = append(stamps, time.Now())
		return boom
	})

	// Total attempts = initial + maxRetries; the original error propagates.
	assert.Equal(t, maxRetries+1, calls)
	var srvErr *ServerError
	require.ErrorAs(t, err, &srvErr)
	assert.Equal(t, 503, srvErr.Status)

	// Delays grow linearly: base*1, base*2, base*3. Allow generous slack.
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		want := base * time.Duration(i)
		assert.GreaterOrEqual(t, gap, want-5*time.Millisecond,
			"gap before attempt %d should be at least %v", i+1, want)
	}
}

func TestWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	authErr := &AuthError{Err: errors.New("dead session")}

	err := WithRetry(context.Background(), zap.NewNop(), 5, time.Millisecond, func(context.Context) error {
		calls++
		return authErr
	})

	assert.Equal(t, 1, calls)
	var got *AuthError
	assert.ErrorAs(t, err, &got)
}

func TestWithRetry_ContextCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := WithRetry(ctx, zap.NewNop(), 5, time.Second, func(context.Context) error {
		calls++
		return &TimeoutError{URL: "http://x", Err: errors.New("slow")}
	})

	assert.Equal(t, 1, calls, "cancellation during backoff prevents further attempts")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryable_Taxonomy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", &TimeoutError{Err: errors.New("x")}, true},
		{"server 500", &ServerError{Status: 500}, true},
		{"server 503", &ServerError{Status: 503}, true},
		{"server 400", &ServerError{Status: 400}, false},
		{"server 404", &ServerError{Status: 404}, false},
		{"auth", &AuthError{Err: errors.New("x")}, false},
		{"unauthorized marker", errUnauthorized, false},
		{"deadline", context.DeadlineExceeded, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}
