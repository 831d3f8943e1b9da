// File: internal/store/store_test.go
package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDurable(t *testing.T) *Durable {
	t.Helper()
	d, err := OpenDurable(context.Background(), filepath.Join(t.TempDir(), "state.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// kvImplementations lets the contract tests run identically against both
// stores.
func kvImplementations(t *testing.T) map[string]KV {
	return map[string]KV{
		"durable": openTestDurable(t),
		"session": NewSession(),
	}
}

func TestKV_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	for name, kv := range kvImplementations(t) {
		t.Run(name, func(t *testing.T) {
			_, err := kv.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNoRecord)

			require.NoError(t, kv.Set(ctx, "k", []byte("v1")))
			v, err := kv.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), v)

			require.NoError(t, kv.Set(ctx, "k", []byte("v2")))
			v, err = kv.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), v, "set must overwrite")

			require.NoError(t, kv.Remove(ctx, "k"))
			_, err = kv.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNoRecord)

			// Removing an absent key is fine.
			assert.NoError(t, kv.Remove(ctx, "k"))
		})
	}
}

func TestKV_ExpiredEntryDeletedOnRead(t *testing.T) {
	ctx := context.Background()
	for name, kv := range kvImplementations(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, kv.SetWithExpiry(ctx, "iface:example", []byte("cached"), -time.Second))

			_, err := kv.Get(ctx, "iface:example")
			assert.ErrorIs(t, err, ErrNoRecord, "expired entry reads as no record")

			// The read deleted the entry, so a sweep has nothing left to do.
			removed, err := kv.SweepExpired(ctx)
			require.NoError(t, err)
			assert.Zero(t, removed)
		})
	}
}

func TestKV_SweepExpired(t *testing.T) {
	ctx := context.Background()
	for name, kv := range kvImplementations(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, kv.SetWithExpiry(ctx, "old1", []byte("x"), -time.Minute))
			require.NoError(t, kv.SetWithExpiry(ctx, "old2", []byte("x"), -time.Minute))
			require.NoError(t, kv.SetWithExpiry(ctx, "fresh", []byte("x"), time.Hour))
			require.NoError(t, kv.Set(ctx, "forever", []byte("x")))

			removed, err := kv.SweepExpired(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, removed)

			_, err = kv.Get(ctx, "fresh")
			assert.NoError(t, err)
			_, err = kv.Get(ctx, "forever")
			assert.NoError(t, err)
		})
	}
}

func TestDurable_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	d, err := OpenDurable(ctx, path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, d.Set(ctx, KeyUsername, []byte("trailblazer")))
	require.NoError(t, d.Close())

	d2, err := OpenDurable(ctx, path, zap.NewNop())
	require.NoError(t, err)
	defer d2.Close()

	v, err := d2.Get(ctx, KeyUsername)
	require.NoError(t, err)
	assert.Equal(t, "trailblazer", string(v))
}

func TestGateway_CredentialLifecycle(t *testing.T) {
	ctx := context.Background()
	g := NewGateway(openTestDurable(t), NewSession())

	// Fresh install: logged out, nothing stored.
	c, err := g.Credentials(ctx)
	require.NoError(t, err)
	assert.False(t, c.LoggedIn)
	assert.Empty(t, c.AccessToken)

	require.NoError(t, g.SaveCredentials(ctx, Credentials{
		Username:     "uma",
		AccessToken:  "acc-1",
		RefreshToken: "ref-1",
		LoggedIn:     true,
	}))

	c, err = g.Credentials(ctx)
	require.NoError(t, err)
	assert.True(t, c.LoggedIn)
	assert.Equal(t, "acc-1", c.AccessToken)

	// The session store carries the in-memory token copy.
	v, err := g.Session.Get(ctx, KeySessionAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", string(v))

	require.NoError(t, g.UpdateAccessToken(ctx, "acc-2"))
	c, err = g.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "acc-2", c.AccessToken)
	assert.Equal(t, "ref-1", c.RefreshToken, "refresh token untouched")

	require.NoError(t, g.ClearCredentials(ctx))
	c, err = g.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, Credentials{}, c)
	_, err = g.Session.Get(ctx, KeySessionAccessToken)
	assert.ErrorIs(t, err, ErrNoRecord)
}

func TestStartSweeper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv := NewSession()
	require.NoError(t, kv.SetWithExpiry(ctx, "stale", []byte("x"), -time.Second))

	swept := make(chan int, 1)
	go StartSweeper(ctx, kv, 10*time.Millisecond, func(removed int, err error) {
		require.NoError(t, err)
		if removed > 0 {
			select {
			case swept <- removed:
			default:
			}
		}
	})

	select {
	case n := <-swept:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never removed the expired entry")
	}
}
