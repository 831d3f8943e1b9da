// internal/capture/classify.go
package capture

import (
	"github.com/xkilldash9x/webtrail/api/schemas"
)

// kindToType maps native DOM event names onto the closed event type set.
// Unknown kinds are not captured at all.
var kindToType = map[string]schemas.EventType{
	"click":       schemas.EventClick,
	"mouseover":   schemas.EventHover,
	"contextmenu": schemas.EventRightClick,
	"keydown":     schemas.EventKeyPress,
	"change":      schemas.EventChange,
	"scroll":      schemas.EventScroll,
	"copy":        schemas.EventCopy,
	"paste":       schemas.EventPaste,
	"dragstart":   schemas.EventDrag,
	"drop":        schemas.EventDrop,
	"focusin":     schemas.EventFocus,
	"focusout":    schemas.EventBlur,
}

// gateable lists the event types whose default browser action the annotation
// gate can defer and later re-dispatch.
var gateable = map[schemas.EventType]bool{
	schemas.EventClick:      true,
	schemas.EventRightClick: true,
	schemas.EventChange:     true,
}

// Classify decides the event type and its mode. Every raw event gets exactly
// one classification; unknown DOM kinds return ok=false and are dropped.
//
// An event is active when it is a gateable interaction on an inherently
// interactive element, the kind that would normally navigate or trigger a
// default browser action. Everything else is ambient context: passive.
func Classify(raw *RawEvent) (typ schemas.EventType, mode schemas.EventMode, ok bool) {
	typ, ok = kindToType[raw.Kind]
	if !ok {
		return "", "", false
	}
	if gateable[typ] && isInteractive(&raw.Target) {
		return typ, schemas.ModeActive, true
	}
	return typ, schemas.ModePassive, true
}

// isInteractive implements the active predicate: anchor with an href, a
// button, a submit/button/reset input, or a descendant of `a[href], button`.
func isInteractive(t *RawTarget) bool {
	switch t.Tag {
	case "a":
		if t.Href != "" {
			return true
		}
	case "button":
		return true
	case "input":
		switch t.Type {
		case "submit", "button", "reset":
			return true
		}
	}
	return t.InteractiveAncestor
}
