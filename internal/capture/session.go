// internal/capture/session.go
package capture

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/config"
)

// SnapshotRequester asks the session-replay collaborator for a full baseline
// frame, so the stream after a flush starts from a consistent state.
type SnapshotRequester interface {
	RequestSnapshot(ctx context.Context) error
}

// throttle purpose keys. Keyed by semantic purpose so repeated handler
// registrations share one window.
const (
	purposeActive = "active"
	purposeHover  = "hover"
	purposeScroll = "scroll"
	purposeOther  = "passive"
)

// Session is the per-browser-tab capture state machine. It owns the current
// page view, routes classified events through throttling and the annotation
// gate, tracks visibility for dwell accounting, and flushes views at the
// hide and navigation boundaries.
type Session struct {
	mu sync.Mutex

	id  string
	cfg config.CaptureConfig

	view     *PageView
	referrer string
	visible  bool
	// backgrounded marks that the current view was already flushed at a hide
	// boundary; the next show reinitializes instead of resending.
	backgrounded bool
	lastActivity int64

	taskID     string
	taskActive bool

	flusher  *Flusher
	gate     *Gate
	snap     SnapshotRequester
	active   *Throttle
	passive  *Throttle
	now      func() int64
	log      *zap.Logger
}

// NewSession builds a session starting at url. The gate may be nil when
// annotation mode is off. now is injectable for tests; nil means wall clock
// in epoch milliseconds.
func NewSession(cfg config.CaptureConfig, url string, flusher *Flusher, snap SnapshotRequester, log *zap.Logger, now func() int64) *Session {
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	s := &Session{
		id:      uuid.NewString(),
		cfg:     cfg,
		flusher: flusher,
		snap:    snap,
		active:  NewThrottle(cfg.ActiveMinInterval),
		passive: NewThrottle(cfg.PassiveMinInterval),
		now:     now,
		log:     log.Named("session"),
		visible: true,
	}
	ts := now()
	s.view = NewPageView(url, "", "", ts, true)
	s.lastActivity = ts
	return s
}

// ID returns the session's stable identifier, shared by every view it
// produces.
func (s *Session) ID() string { return s.id }

// SetGate installs the annotation gate. Must be called before events flow.
func (s *Session) SetGate(g *Gate) { s.gate = g }

// SetTask flips capture on for the given task. Views flushed while no task
// is active are still assembled but carry no task id.
func (s *Session) SetTask(taskID string) {
	s.mu.Lock()
	s.taskID = taskID
	s.taskActive = taskID != ""
	s.mu.Unlock()
}

// CurrentURL returns the URL of the view in progress.
func (s *Session) CurrentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.URL()
}

// SetTitle records the document title on the current view.
func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	s.view.SetTitle(title)
	s.mu.Unlock()
}

// HandleRaw ingests one instrumented DOM event: classify, throttle, then
// either record directly or route through the annotation gate. Unknown kinds
// and throttled events are dropped silently.
func (s *Session) HandleRaw(ctx context.Context, raw *RawEvent) {
	typ, mode, ok := Classify(raw)
	if !ok {
		return
	}
	s.touch()

	if s.gate != nil && s.gate.ConsumeReplay(raw) {
		// The gate's own re-dispatch. The original event was already
		// recorded with its annotation at resolution time.
		return
	}

	if mode == schemas.ModeActive {
		if !s.active.Allow(purposeActive) {
			return
		}
	} else if !s.passive.Allow(passivePurpose(typ)) {
		return
	}

	ev := Enrich(typ, mode, raw, s.cfg.HierarchyDepth)

	if mode == schemas.ModeActive && s.cfg.AnnotationEnabled && s.gate != nil {
		s.gate.Open(ctx, ev, raw)
		return
	}
	s.record(ev)
}

func passivePurpose(typ schemas.EventType) string {
	switch typ {
	case schemas.EventHover:
		return purposeHover
	case schemas.EventScroll:
		return purposeScroll
	}
	return purposeOther
}

// record appends an enriched event to the current view. Exposed to the gate
// as its resolve callback.
func (s *Session) record(ev schemas.CapturedEvent) {
	s.mu.Lock()
	s.view.AddEvent(ev)
	s.mu.Unlock()
}

// RecordAnnotated is the gate's resolve hook.
func (s *Session) RecordAnnotated(ev schemas.CapturedEvent) { s.record(ev) }

// HandleMousePoint appends a mouse trajectory sample. Samples are dropped
// while the page is hidden.
func (s *Session) HandleMousePoint(p schemas.PathPoint) {
	s.mu.Lock()
	if s.visible {
		s.view.AddMousePoint(p)
		s.lastActivity = s.now()
	}
	s.mu.Unlock()
}

// HandleScrollPoint appends a scroll trajectory sample.
func (s *Session) HandleScrollPoint(p schemas.PathPoint) {
	s.mu.Lock()
	if s.visible {
		s.view.AddScrollPoint(p)
		s.lastActivity = s.now()
	}
	s.mu.Unlock()
}

// HandleReplay buffers opaque replay-recorder output on the current view.
func (s *Session) HandleReplay(raw json.RawMessage) {
	s.mu.Lock()
	s.view.AddReplay(raw)
	s.mu.Unlock()
}

// HandleVisibility processes a foreground/background transition. Hiding
// closes the dwell interval and flushes the current view; showing again
// reinitializes without resending. An implicit hide from the staleness timer
// and an explicit one race benignly: the first transition wins and the
// second is a no-op.
func (s *Session) HandleVisibility(ctx context.Context, visible bool) {
	ts := s.now()
	s.mu.Lock()
	if visible == s.visible {
		s.mu.Unlock()
		return
	}
	s.visible = visible
	if !visible {
		s.view.MarkHidden(ts)
		payload := s.finalizeLocked(ts)
		s.backgrounded = true
		s.mu.Unlock()
		s.deliver(ctx, payload)
		return
	}
	// Coming back to the foreground: the hidden-boundary flush already sent
	// everything, so open a fresh view at the same URL.
	if s.backgrounded {
		s.resumeLocked(ts)
	} else {
		s.view.MarkVisible(ts)
	}
	s.lastActivity = ts
	s.mu.Unlock()
}

// HandleNavigation processes a detected URL change, full load or
// same-document. The old view is flushed with the new page's referrer set
// to it, all accumulators reset, and a replay baseline snapshot requested.
func (s *Session) HandleNavigation(ctx context.Context, newURL string) {
	ts := s.now()
	s.mu.Lock()
	if newURL == s.view.URL() {
		s.mu.Unlock()
		return
	}
	prev := s.view.URL()
	payload := s.finalizeLocked(ts)
	s.referrer = prev
	s.backgrounded = false
	s.view = NewPageView(newURL, "", prev, ts, s.visible)
	s.lastActivity = ts
	s.mu.Unlock()

	s.active.Reset()
	s.passive.Reset()
	s.deliver(ctx, payload)
	if s.snap != nil {
		if err := s.snap.RequestSnapshot(ctx); err != nil {
			s.log.Warn("Replay snapshot request failed", zap.Error(err))
		}
	}
}

// FlushNow forces a flush of the current view, then reinitializes it. Used
// for explicit upload requests.
func (s *Session) FlushNow(ctx context.Context) {
	ts := s.now()
	s.mu.Lock()
	url := s.view.URL()
	payload := s.finalizeLocked(ts)
	s.view = NewPageView(url, "", s.referrer, ts, s.visible)
	s.lastActivity = ts
	s.mu.Unlock()
	s.deliver(ctx, payload)
}

// RunIdleChecker periodically treats a long-untouched foreground view as
// implicitly backgrounded. Blocks until ctx is done.
func (s *Session) RunIdleChecker(ctx context.Context) {
	if s.cfg.IdleCheckEvery <= 0 || s.cfg.IdleThreshold <= 0 {
		<-ctx.Done()
		return
	}
	tick := time.NewTicker(s.cfg.IdleCheckEvery)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.checkIdle(ctx)
		}
	}
}

func (s *Session) checkIdle(ctx context.Context) {
	s.mu.Lock()
	idle := s.visible && s.now()-s.lastActivity > s.cfg.IdleThreshold.Milliseconds()
	s.mu.Unlock()
	if idle {
		s.log.Debug("Idle threshold exceeded, treating as backgrounded")
		s.HandleVisibility(ctx, false)
	}
}

// Close flushes whatever the current view holds. Called at teardown.
func (s *Session) Close(ctx context.Context) {
	ts := s.now()
	s.mu.Lock()
	payload := s.finalizeLocked(ts)
	s.mu.Unlock()
	s.deliver(ctx, payload)
}

// finalizeLocked snapshots task state and finalizes the current view. The
// view's single-shot guard makes a second finalize return nil.
func (s *Session) finalizeLocked(ts int64) *schemas.PageViewPayload {
	return s.view.Finalize(s.id, s.taskID, ts)
}

func (s *Session) deliver(ctx context.Context, payload *schemas.PageViewPayload) {
	if payload == nil {
		return
	}
	s.mu.Lock()
	active := s.taskActive
	s.mu.Unlock()
	if !active {
		s.log.Debug("No active task, discarding view", zap.String("url", payload.URL))
		return
	}
	if err := s.flusher.Flush(ctx, payload); err != nil {
		// Best effort. The view is gone either way.
		return
	}
}

// touch records activity. The browser fires no visibility signal when a view
// was backgrounded by the staleness timer, so renewed activity is the resume
// trigger: the flushed view is replaced with a fresh visible one.
func (s *Session) touch() {
	ts := s.now()
	s.mu.Lock()
	s.resumeLocked(ts)
	s.lastActivity = ts
	s.mu.Unlock()
}

// resumeLocked reopens a fresh visible view after a backgrounding flush.
// Events only reach the session from a page the user can interact with, so
// activity on a backgrounded view means it is foreground again. Callers hold
// s.mu.
func (s *Session) resumeLocked(ts int64) {
	if !s.backgrounded {
		return
	}
	s.backgrounded = false
	s.visible = true
	s.view = NewPageView(s.view.URL(), "", s.referrer, ts, true)
}
