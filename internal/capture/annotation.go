// internal/capture/annotation.go
package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/api/schemas"
)

// ValidationError reports a rejected annotation submit. It is handled at the
// prompt surface, never propagated into the pipeline.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid annotation %s: %s", e.Field, e.Reason)
}

// PageFreezer freezes and unfreezes in-page interaction while an annotation
// prompt is open. The browser driver implements this over CDP evaluation.
type PageFreezer interface {
	Freeze(ctx context.Context) error
	Unfreeze(ctx context.Context) error
}

// ActionReplayer re-dispatches the deferred default action of a gated event
// against its original target once the gate resolves.
type ActionReplayer interface {
	ReplayDefault(ctx context.Context, raw *RawEvent) error
}

type gateState int

const (
	gateIdle gateState = iota
	gateFrozen
)

// Gate is the annotation state machine. At most one instance of the prompt
// is open at a time; active events arriving while it is open are dropped,
// not queued. Resolution happens through Submit or Ignore.
type Gate struct {
	mu sync.Mutex

	state   gateState
	pending schemas.CapturedEvent
	raw     *RawEvent
	// replayArmed gives the resolved event's synthetic re-dispatch a single
	// pass through the pipeline without re-opening the gate.
	replayArmed bool

	freezer  PageFreezer
	replayer ActionReplayer
	resolve  func(schemas.CapturedEvent)
	log      *zap.Logger
}

// NewGate wires a gate. resolve receives the annotated event after Submit or
// Ignore; it is called outside the gate's lock.
func NewGate(freezer PageFreezer, replayer ActionReplayer, resolve func(schemas.CapturedEvent), log *zap.Logger) *Gate {
	return &Gate{
		freezer:  freezer,
		replayer: replayer,
		resolve:  resolve,
		log:      log.Named("gate"),
	}
}

// Open freezes the page and holds ev until resolution. It reports whether
// the gate accepted the event; false means a prompt is already open and the
// event must be dropped.
func (g *Gate) Open(ctx context.Context, ev schemas.CapturedEvent, raw *RawEvent) bool {
	g.mu.Lock()
	if g.state != gateIdle {
		g.mu.Unlock()
		g.log.Debug("Dropping active event while annotation open",
			zap.String("type", string(ev.Type)))
		return false
	}
	g.state = gateFrozen
	g.pending = ev
	g.raw = raw
	g.mu.Unlock()

	if err := g.freezer.Freeze(ctx); err != nil {
		g.log.Warn("Failed to freeze page for annotation", zap.Error(err))
	}
	return true
}

// IsOpen reports whether a prompt is currently awaiting input.
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == gateFrozen
}

// Submit resolves the open prompt with the user's stated purpose. An empty
// purpose is rejected and the gate stays frozen.
func (g *Gate) Submit(ctx context.Context, purpose string, isKeyEvent bool, ts int64) error {
	if strings.TrimSpace(purpose) == "" {
		return &ValidationError{Field: "purpose", Reason: "must not be empty"}
	}
	return g.close(ctx, &schemas.Annotation{
		Purpose:    purpose,
		IsKeyEvent: isKeyEvent,
		Timestamp:  ts,
	})
}

// Ignore resolves the open prompt without input, marking the event ignored.
func (g *Gate) Ignore(ctx context.Context, ts int64) error {
	return g.close(ctx, &schemas.Annotation{Ignored: true, Timestamp: ts})
}

func (g *Gate) close(ctx context.Context, ann *schemas.Annotation) error {
	g.mu.Lock()
	if g.state != gateFrozen {
		g.mu.Unlock()
		return fmt.Errorf("annotation gate is not open")
	}
	ev := g.pending
	raw := g.raw
	ev.Annotation = ann
	g.pending = schemas.CapturedEvent{}
	g.raw = nil
	g.state = gateIdle
	g.replayArmed = true
	g.mu.Unlock()

	if err := g.freezer.Unfreeze(ctx); err != nil {
		g.log.Warn("Failed to unfreeze page after annotation", zap.Error(err))
	}
	g.resolve(ev)
	if err := g.replayer.ReplayDefault(ctx, raw); err != nil {
		g.log.Warn("Failed to replay deferred action", zap.Error(err))
		g.mu.Lock()
		g.replayArmed = false
		g.mu.Unlock()
	}
	return nil
}

// ConsumeReplay reports whether raw is the gate's own re-dispatched action.
// The arming is single-shot: it admits exactly one replayed event and then
// disarms, so a page synthesizing its own marked events cannot ride along.
func (g *Gate) ConsumeReplay(raw *RawEvent) bool {
	if !raw.Replayed {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.replayArmed {
		return false
	}
	g.replayArmed = false
	return true
}
