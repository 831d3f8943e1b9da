// internal/capture/session_test.go
package capture

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/config"
)

type fakeClock struct {
	mu sync.Mutex
	ms int64
}

func (c *fakeClock) now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ms
}

func (c *fakeClock) advance(d int64) {
	c.mu.Lock()
	c.ms += d
	c.mu.Unlock()
}

type fakeSnapshotter struct {
	mu    sync.Mutex
	calls int
}

func (s *fakeSnapshotter) RequestSnapshot(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil
}

type sessionHarness struct {
	session *Session
	up      *fakeUploader
	snap    *fakeSnapshotter
	clock   *fakeClock
}

func newSessionHarness(t *testing.T, mutate func(*config.CaptureConfig)) *sessionHarness {
	t.Helper()
	cfg := config.NewDefaultConfig().Capture
	if mutate != nil {
		mutate(&cfg)
	}
	h := &sessionHarness{
		up:    &fakeUploader{},
		snap:  &fakeSnapshotter{},
		clock: &fakeClock{ms: 1000},
	}
	flusher := NewFlusher(h.up, "", 1<<20, zap.NewNop())
	h.session = NewSession(cfg, "https://example.com/start", flusher, h.snap, zap.NewNop(), h.clock.now)
	h.session.SetTask("task-1")
	return h
}

func activeClick() *RawEvent {
	return &RawEvent{Kind: "click", Target: RawTarget{Tag: "a", Href: "https://example.com/next"}}
}

func TestSession_NavigationFlushesOnceAndSetsReferrer(t *testing.T) {
	h := newSessionHarness(t, nil)
	ctx := context.Background()

	h.session.HandleRaw(ctx, activeClick())
	h.clock.advance(500)

	h.session.HandleNavigation(ctx, "https://example.com/next")
	// The same navigation signal arriving twice in quick succession must not
	// produce a second upload.
	h.session.HandleNavigation(ctx, "https://example.com/next")

	require.Equal(t, 1, h.up.count())
	payload := h.up.calls[0].Payload
	require.NotNil(t, payload)
	assert.Equal(t, "https://example.com/start", payload.URL)
	assert.Len(t, payload.Events, 1)
	assert.Equal(t, int64(500), payload.DwellTime)
	assert.Equal(t, 1, h.snap.calls, "navigation requests a replay baseline snapshot")

	assert.Equal(t, "https://example.com/next", h.session.CurrentURL())

	// The next view carries the previous URL as referrer.
	h.session.HandleNavigation(ctx, "https://example.com/third")
	require.Equal(t, 2, h.up.count())
	assert.Equal(t, "https://example.com/start", h.up.calls[1].Payload.Referrer)
}

func TestSession_HideFlushesShowDoesNotResend(t *testing.T) {
	h := newSessionHarness(t, func(c *config.CaptureConfig) {
		c.ActiveMinInterval = 0
	})
	ctx := context.Background()

	h.session.HandleRaw(ctx, activeClick())
	h.clock.advance(300)

	h.session.HandleVisibility(ctx, false)
	require.Equal(t, 1, h.up.count())
	assert.Equal(t, int64(300), h.up.calls[0].Payload.DwellTime)

	// Redundant hide is a no-op.
	h.session.HandleVisibility(ctx, false)
	assert.Equal(t, 1, h.up.count())

	// Showing again reinitializes without resending.
	h.clock.advance(200)
	h.session.HandleVisibility(ctx, true)
	assert.Equal(t, 1, h.up.count())

	// The fresh view accumulates independently.
	h.session.HandleRaw(ctx, activeClick())
	h.clock.advance(100)
	h.session.HandleVisibility(ctx, false)
	require.Equal(t, 2, h.up.count())
	second := h.up.calls[1].Payload
	assert.Len(t, second.Events, 1)
	assert.Equal(t, int64(100), second.DwellTime)
}

func TestSession_ActiveEventsThrottled(t *testing.T) {
	h := newSessionHarness(t, nil)
	ctx := context.Background()

	// Two clicks inside one throttle window record one event.
	h.session.HandleRaw(ctx, activeClick())
	h.session.HandleRaw(ctx, activeClick())

	h.session.FlushNow(ctx)
	require.Equal(t, 1, h.up.count())
	assert.Len(t, h.up.calls[0].Payload.Events, 1)
}

func TestSession_UnknownKindsDropped(t *testing.T) {
	h := newSessionHarness(t, nil)
	ctx := context.Background()

	h.session.HandleRaw(ctx, &RawEvent{Kind: "wheel", Target: RawTarget{Tag: "div"}})
	h.session.FlushNow(ctx)
	require.Equal(t, 1, h.up.count())
	assert.Empty(t, h.up.calls[0].Payload.Events)
}

func TestSession_NoActiveTaskDiscardsViews(t *testing.T) {
	h := newSessionHarness(t, nil)
	h.session.SetTask("")
	ctx := context.Background()

	h.session.HandleRaw(ctx, activeClick())
	h.session.FlushNow(ctx)
	assert.Zero(t, h.up.count())
}

func TestSession_AnnotationGateFlow(t *testing.T) {
	h := newSessionHarness(t, func(c *config.CaptureConfig) {
		c.AnnotationEnabled = true
		c.ActiveMinInterval = 0
	})
	ctx := context.Background()

	gate := NewGate(&fakeFreezer{}, &fakeReplayer{}, h.session.RecordAnnotated, zap.NewNop())
	h.session.SetGate(gate)

	h.session.HandleRaw(ctx, activeClick())
	assert.True(t, gate.IsOpen())

	// A second active event while the prompt is open is dropped outright.
	h.session.HandleRaw(ctx, activeClick())

	require.NoError(t, gate.Submit(ctx, "following the search result", false, h.clock.now()))

	// The gate's re-dispatched action passes through without being recorded
	// a second time.
	replayed := activeClick()
	replayed.Replayed = true
	h.session.HandleRaw(ctx, replayed)

	h.session.FlushNow(ctx)
	require.Equal(t, 1, h.up.count())
	events := h.up.calls[0].Payload.Events
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Annotation)
	assert.Equal(t, "following the search result", events[0].Annotation.Purpose)
}

func TestSession_PassiveEventsRecordedDirectly(t *testing.T) {
	h := newSessionHarness(t, func(c *config.CaptureConfig) {
		c.AnnotationEnabled = true
	})
	ctx := context.Background()
	gate := NewGate(&fakeFreezer{}, &fakeReplayer{}, h.session.RecordAnnotated, zap.NewNop())
	h.session.SetGate(gate)

	h.session.HandleRaw(ctx, &RawEvent{Kind: "mouseover", Target: RawTarget{Tag: "div"}})
	assert.False(t, gate.IsOpen())

	h.session.FlushNow(ctx)
	require.Equal(t, 1, h.up.count())
	events := h.up.calls[0].Payload.Events
	require.Len(t, events, 1)
	assert.Equal(t, schemas.ModePassive, events[0].Mode)
	assert.Nil(t, events[0].Annotation)
}

func TestSession_IdleTreatedAsBackgrounded(t *testing.T) {
	h := newSessionHarness(t, nil)
	ctx := context.Background()

	h.session.HandleRaw(ctx, activeClick())

	// Under threshold: nothing happens.
	h.clock.advance(h.session.cfg.IdleThreshold.Milliseconds() - 1)
	h.session.checkIdle(ctx)
	assert.Zero(t, h.up.count())

	// Over threshold: implicit hide, one flush.
	h.clock.advance(2)
	h.session.checkIdle(ctx)
	require.Equal(t, 1, h.up.count())

	// The timer firing again while already backgrounded is a no-op.
	h.session.checkIdle(ctx)
	assert.Equal(t, 1, h.up.count())
}

func TestSession_ActivityAfterIdleResumesCapture(t *testing.T) {
	h := newSessionHarness(t, func(c *config.CaptureConfig) {
		c.ActiveMinInterval = 0
	})
	ctx := context.Background()

	h.session.HandleRaw(ctx, activeClick())
	h.clock.advance(h.session.cfg.IdleThreshold.Milliseconds() + 1)
	h.session.checkIdle(ctx)
	require.Equal(t, 1, h.up.count())

	// The page never actually hid, so no visibility signal will arrive.
	// Renewed activity alone must reopen a fresh visible view.
	h.clock.advance(100)
	h.session.HandleRaw(ctx, activeClick())
	h.clock.advance(500)
	h.session.HandleNavigation(ctx, "https://example.com/next")

	require.Equal(t, 2, h.up.count())
	second := h.up.calls[1].Payload
	require.NotNil(t, second)
	assert.Equal(t, "https://example.com/start", second.URL)
	require.Len(t, second.Events, 1, "the post-idle click lands in the resumed view")
	assert.Equal(t, int64(500), second.DwellTime)

	// A late idle check right after resuming must not flush again.
	h.session.checkIdle(ctx)
	assert.Equal(t, 2, h.up.count())
}

func TestSession_PathSamplesPausedWhileHidden(t *testing.T) {
	h := newSessionHarness(t, nil)
	ctx := context.Background()

	h.session.HandleMousePoint(schemas.PathPoint{X: 1, Y: 1, Time: h.clock.now()})
	h.session.HandleVisibility(ctx, false)
	h.session.HandleMousePoint(schemas.PathPoint{X: 2, Y: 2, Time: h.clock.now()})
	h.session.HandleVisibility(ctx, true)
	h.session.HandleScrollPoint(schemas.PathPoint{Y: 100, Time: h.clock.now()})

	h.session.FlushNow(ctx)
	// First flush happened at the hide boundary.
	require.Equal(t, 2, h.up.count())
	assert.Len(t, h.up.calls[0].Payload.MousePath, 1)
	assert.Len(t, h.up.calls[1].Payload.MousePath, 0)
	assert.Len(t, h.up.calls[1].Payload.ScrollPath, 1)
}
