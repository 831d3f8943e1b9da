// internal/capture/raw.go
package capture

// RawTarget is the serialized snapshot of the event target shipped by the
// injected instrumentation script. The capture side never touches the live
// DOM; everything it needs arrives here.
type RawTarget struct {
	Tag        string            `json:"tag"`
	Type       string            `json:"type,omitempty"` // input type attribute
	Href       string            `json:"href,omitempty"`
	Src        string            `json:"src,omitempty"`
	Value      string            `json:"value,omitempty"`
	Text       string            `json:"text,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`

	// DOMPath is the ordered ancestor selector chain from the element to the
	// document root, as computed in-page.
	DOMPath []string `json:"domPath,omitempty"`

	// Ancestors is the shallow serialized ancestor chain, innermost first.
	Ancestors []RawAncestor `json:"ancestors,omitempty"`

	// InteractiveAncestor is set when the nearest ancestor matches the
	// `a[href], button` selector.
	InteractiveAncestor bool `json:"interactiveAncestor,omitempty"`
}

// RawAncestor is one entry of the in-page ancestor chain.
type RawAncestor struct {
	Tag        string            `json:"tag"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Viewport carries the page's current viewport and screen dimensions, used
// for the coordinate fallback.
type Viewport struct {
	InnerWidth   float64 `json:"innerWidth"`
	InnerHeight  float64 `json:"innerHeight"`
	ScreenWidth  float64 `json:"screenWidth"`
	ScreenHeight float64 `json:"screenHeight"`
}

// RawEvent is one DOM event as reported by the instrumentation script over
// the CDP binding. Pointer fields distinguish "absent" from zero.
type RawEvent struct {
	// Kind is the native DOM event name (click, mouseover, contextmenu,
	// keydown, change, scroll, copy, paste, dragstart, drop, focusin,
	// focusout).
	Kind      string    `json:"kind"`
	Timestamp int64     `json:"timestamp"` // epoch milliseconds
	URL       string    `json:"url"`
	Target    RawTarget `json:"target"`
	Viewport  Viewport  `json:"viewport"`

	ScreenX *float64 `json:"screenX,omitempty"`
	ScreenY *float64 `json:"screenY,omitempty"`
	ClientX *float64 `json:"clientX,omitempty"`
	ClientY *float64 `json:"clientY,omitempty"`

	ScrollX float64 `json:"scrollX,omitempty"`
	ScrollY float64 `json:"scrollY,omitempty"`

	Key   string `json:"key,omitempty"`
	Ctrl  bool   `json:"ctrl,omitempty"`
	Shift bool   `json:"shift,omitempty"`
	Alt   bool   `json:"alt,omitempty"`
	Meta  bool   `json:"meta,omitempty"`

	ClipboardText string `json:"clipboardText,omitempty"`
	NewValue      string `json:"newValue,omitempty"`

	// Replayed marks events the gate re-dispatched after resolution, so the
	// single-shot suppression can let them through without re-gating.
	Replayed bool `json:"replayed,omitempty"`
}
