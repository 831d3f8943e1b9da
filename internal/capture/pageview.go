// internal/capture/pageview.go
package capture

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/xkilldash9x/webtrail/api/schemas"
)

// PageView accumulates everything observed on one logical page: enriched
// events, trajectory samples, visibility spans and the replay buffer. It is
// created on navigation and drained exactly once by the flush pipeline.
type PageView struct {
	mu sync.Mutex

	viewID   string
	url      string
	title    string
	referrer string
	start    int64

	events     []schemas.CapturedEvent
	mousePath  []schemas.PathPoint
	scrollPath []schemas.PathPoint
	replay     []json.RawMessage

	intervals []schemas.VisibilityInterval
	// visibleSince is the open interval's start, or 0 when the page is
	// currently hidden.
	visibleSince int64

	flushed bool
}

// NewPageView opens a fresh accumulator. When the page starts out visible the
// first interval opens immediately at startTS.
func NewPageView(url, title, referrer string, startTS int64, visible bool) *PageView {
	pv := &PageView{
		viewID:   uuid.NewString(),
		url:      url,
		title:    title,
		referrer: referrer,
		start:    startTS,
	}
	if visible {
		pv.visibleSince = startTS
	}
	return pv
}

// ViewID returns the view's stable identifier.
func (pv *PageView) ViewID() string { return pv.viewID }

// URL returns the page URL the view was opened with.
func (pv *PageView) URL() string { return pv.url }

// SetTitle records the document title once it resolves. Titles often arrive
// after navigation commits, so this is separate from construction.
func (pv *PageView) SetTitle(title string) {
	pv.mu.Lock()
	pv.title = title
	pv.mu.Unlock()
}

// AddEvent appends one enriched event.
func (pv *PageView) AddEvent(ev schemas.CapturedEvent) {
	pv.mu.Lock()
	pv.events = append(pv.events, ev)
	pv.mu.Unlock()
}

// AddMousePoint appends one mouse trajectory sample.
func (pv *PageView) AddMousePoint(p schemas.PathPoint) {
	pv.mu.Lock()
	pv.mousePath = append(pv.mousePath, p)
	pv.mu.Unlock()
}

// AddScrollPoint appends one scroll trajectory sample.
func (pv *PageView) AddScrollPoint(p schemas.PathPoint) {
	pv.mu.Lock()
	pv.scrollPath = append(pv.scrollPath, p)
	pv.mu.Unlock()
}

// AddReplay appends opaque replay-recorder output.
func (pv *PageView) AddReplay(raw json.RawMessage) {
	pv.mu.Lock()
	pv.replay = append(pv.replay, raw)
	pv.mu.Unlock()
}

// MarkVisible opens a visibility interval. A second call while one is
// already open is a no-op, so redundant visibility signals are harmless.
func (pv *PageView) MarkVisible(ts int64) {
	pv.mu.Lock()
	if pv.visibleSince == 0 {
		pv.visibleSince = ts
	}
	pv.mu.Unlock()
}

// MarkHidden closes the open visibility interval, if any.
func (pv *PageView) MarkHidden(ts int64) {
	pv.mu.Lock()
	pv.closeIntervalLocked(ts)
	pv.mu.Unlock()
}

func (pv *PageView) closeIntervalLocked(ts int64) {
	if pv.visibleSince == 0 {
		return
	}
	if ts < pv.visibleSince {
		ts = pv.visibleSince
	}
	pv.intervals = append(pv.intervals, schemas.VisibilityInterval{In: pv.visibleSince, Out: ts})
	pv.visibleSince = 0
}

// EventCount reports how many enriched events the view holds.
func (pv *PageView) EventCount() int {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	return len(pv.events)
}

// Finalize closes the view at endTS and returns its payload. Dwell time is
// the sum of visibility spans, never the wall-clock page lifetime. Finalize
// is single-shot: a second call returns nil, which keeps double flushes
// (staleness timer racing an explicit hide) from duplicating uploads.
func (pv *PageView) Finalize(sessionID, taskID string, endTS int64) *schemas.PageViewPayload {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	if pv.flushed {
		return nil
	}
	pv.flushed = true
	pv.closeIntervalLocked(endTS)

	var dwell int64
	for _, iv := range pv.intervals {
		dwell += iv.Out - iv.In
	}
	return &schemas.PageViewPayload{
		ViewID:              pv.viewID,
		SessionID:           sessionID,
		TaskID:              taskID,
		URL:                 pv.url,
		Title:               pv.title,
		Referrer:            pv.referrer,
		StartTimestamp:      pv.start,
		EndTimestamp:        endTS,
		DwellTime:           dwell,
		VisibilityIntervals: pv.intervals,
		Events:              pv.events,
		MousePath:           pv.mousePath,
		ScrollPath:          pv.scrollPath,
		ReplayEvents:        pv.replay,
	}
}
