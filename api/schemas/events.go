// api/schemas/events.go
package schemas

// EventType is the closed set of user interactions the capture pipeline
// understands. The string values are the wire names used in uploaded
// trajectories, so they must stay stable.
type EventType string

const (
	EventClick      EventType = "click"
	EventHover      EventType = "hover"
	EventRightClick EventType = "right_click"
	EventKeyPress   EventType = "key_press"
	EventChange     EventType = "change"
	EventScroll     EventType = "scroll"
	EventCopy       EventType = "copy"
	EventPaste      EventType = "paste"
	EventDrag       EventType = "drag"
	EventDrop       EventType = "drop"
	EventFocus      EventType = "focus"
	EventBlur       EventType = "blur"
)

// AllEventTypes lists every known event type. Useful for exhaustive
// table-driven tests and for validating incoming payloads server-side.
var AllEventTypes = []EventType{
	EventClick, EventHover, EventRightClick, EventKeyPress, EventChange,
	EventScroll, EventCopy, EventPaste, EventDrag, EventDrop, EventFocus,
	EventBlur,
}

// Valid reports whether t is a member of the closed event type set.
func (t EventType) Valid() bool {
	switch t {
	case EventClick, EventHover, EventRightClick, EventKeyPress, EventChange,
		EventScroll, EventCopy, EventPaste, EventDrag, EventDrop, EventFocus,
		EventBlur:
		return true
	}
	return false
}

// EventMode splits interactions into the ones that would drive the page
// somewhere (active) and ambient context (passive). An event carries exactly
// one mode, never both.
type EventMode string

const (
	ModeActive  EventMode = "active"
	ModePassive EventMode = "passive"
)

// Position holds the screen and client coordinates of an interaction.
// Coordinates are always numeric; events that arrive without native
// coordinates get synthesized, viewport-centered values.
type Position struct {
	ScreenX float64 `json:"screenX"`
	ScreenY float64 `json:"screenY"`
	ClientX float64 `json:"clientX"`
	ClientY float64 `json:"clientY"`
}

// RelatedInfo is the type-keyed payload attached to an enriched event. Only
// the fields relevant to the event's type are populated.
type RelatedInfo struct {
	Href     string  `json:"href,omitempty"`
	ScrollX  float64 `json:"scrollX,omitempty"`
	ScrollY  float64 `json:"scrollY,omitempty"`
	Key      string  `json:"key,omitempty"`
	Ctrl     bool    `json:"ctrl,omitempty"`
	Shift    bool    `json:"shift,omitempty"`
	Alt      bool    `json:"alt,omitempty"`
	Meta     bool    `json:"meta,omitempty"`
	Copied   string  `json:"copied,omitempty"`
	Pasted   string  `json:"pasted,omitempty"`
	NewValue string  `json:"newValue,omitempty"`
}

// Annotation records the user's stated purpose for an active event when the
// annotation gate is enabled.
type Annotation struct {
	Ignored    bool   `json:"ignored"`
	Purpose    string `json:"purpose,omitempty"`
	IsKeyEvent bool   `json:"isKeyEvent,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// ElementNode is one shallow serialized ancestor in the element hierarchy
// snapshot. It is a lightweight DOM context distinct from the selector path.
type ElementNode struct {
	Tag        string            `json:"tag"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// CapturedEvent is one enriched user interaction, as accumulated into a page
// view and uploaded to the collector.
type CapturedEvent struct {
	Type             EventType     `json:"type"`
	Mode             EventMode     `json:"mode"`
	Timestamp        int64         `json:"timestamp"` // epoch milliseconds
	Position         Position      `json:"position"`
	TargetTag        string        `json:"targetTag"`
	Content          string        `json:"content,omitempty"`
	DOMPath          []string      `json:"domPath,omitempty"`
	ElementHierarchy []ElementNode `json:"elementHierarchy,omitempty"`
	RelatedInfo      RelatedInfo   `json:"relatedInfo"`
	Annotation       *Annotation   `json:"annotation,omitempty"`
}

// PathPoint is one sample of the mouse or scroll trajectory.
type PathPoint struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Time int64   `json:"time"`
}
