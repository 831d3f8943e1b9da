// internal/capture/enrich.go
package capture

import (
	"strings"

	"github.com/xkilldash9x/webtrail/api/schemas"
)

// highlightWrapperMarker identifies the synthetic wrapper elements the
// in-page highlighter inserts around hovered targets. They are presentation
// artifacts and are skipped when recording selector paths.
const highlightWrapperMarker = "wt-highlight"

// relatedInfoFns is the type-keyed derivation table for the relatedInfo
// payload. Each function is pure: it reads the raw event and never mutates
// anything.
var relatedInfoFns = map[schemas.EventType]func(*RawEvent) schemas.RelatedInfo{
	schemas.EventClick: func(raw *RawEvent) schemas.RelatedInfo {
		return schemas.RelatedInfo{Href: raw.Target.Href}
	},
	schemas.EventRightClick: func(raw *RawEvent) schemas.RelatedInfo {
		return schemas.RelatedInfo{Href: raw.Target.Href}
	},
	schemas.EventScroll: func(raw *RawEvent) schemas.RelatedInfo {
		return schemas.RelatedInfo{ScrollX: raw.ScrollX, ScrollY: raw.ScrollY}
	},
	schemas.EventKeyPress: func(raw *RawEvent) schemas.RelatedInfo {
		return schemas.RelatedInfo{
			Key: raw.Key, Ctrl: raw.Ctrl, Shift: raw.Shift, Alt: raw.Alt, Meta: raw.Meta,
		}
	},
	schemas.EventCopy: func(raw *RawEvent) schemas.RelatedInfo {
		return schemas.RelatedInfo{Copied: raw.ClipboardText}
	},
	schemas.EventPaste: func(raw *RawEvent) schemas.RelatedInfo {
		return schemas.RelatedInfo{Pasted: raw.ClipboardText}
	},
	schemas.EventChange: func(raw *RawEvent) schemas.RelatedInfo {
		return schemas.RelatedInfo{NewValue: raw.NewValue}
	},
}

// Enrich derives the structured descriptor for a classified event. It is a
// pure function of (type, mode, raw event) plus the hierarchy depth bound.
func Enrich(typ schemas.EventType, mode schemas.EventMode, raw *RawEvent, hierarchyDepth int) schemas.CapturedEvent {
	ev := schemas.CapturedEvent{
		Type:             typ,
		Mode:             mode,
		Timestamp:        raw.Timestamp,
		Position:         position(raw),
		TargetTag:        raw.Target.Tag,
		Content:          content(&raw.Target),
		DOMPath:          domPath(raw.Target.DOMPath),
		ElementHierarchy: hierarchy(raw.Target.Ancestors, hierarchyDepth),
	}
	if fn, ok := relatedInfoFns[typ]; ok {
		ev.RelatedInfo = fn(raw)
	}
	return ev
}

// position applies the coordinate fallback: events without native
// coordinates (keyboard-triggered, synthetic dispatches) get the screen's
// dimensions for screen coordinates and the viewport center for client
// coordinates, so downstream consumers always see numbers.
func position(raw *RawEvent) schemas.Position {
	p := schemas.Position{}
	if raw.ClientX != nil && raw.ClientY != nil {
		p.ClientX = *raw.ClientX
		p.ClientY = *raw.ClientY
	} else {
		p.ClientX = raw.Viewport.InnerWidth / 2
		p.ClientY = raw.Viewport.InnerHeight / 2
	}
	if raw.ScreenX != nil && raw.ScreenY != nil {
		p.ScreenX = *raw.ScreenX
		p.ScreenY = *raw.ScreenY
	} else {
		p.ScreenX = raw.Viewport.ScreenWidth
		p.ScreenY = raw.Viewport.ScreenHeight
	}
	return p
}

// content extracts the element's semantic value: src for images, value for
// form fields, rendered text for everything else.
func content(t *RawTarget) string {
	switch t.Tag {
	case "img":
		return t.Src
	case "input", "textarea":
		return t.Value
	default:
		return t.Text
	}
}

// domPath copies the selector chain, dropping synthetic highlight wrappers.
func domPath(path []string) []string {
	if len(path) == 0 {
		return nil
	}
	out := make([]string, 0, len(path))
	for _, sel := range path {
		if strings.Contains(sel, highlightWrapperMarker) {
			continue
		}
		out = append(out, sel)
	}
	return out
}

// hierarchy converts the ancestor chain into the bounded snapshot form.
func hierarchy(ancestors []RawAncestor, depth int) []schemas.ElementNode {
	if depth <= 0 || len(ancestors) == 0 {
		return nil
	}
	if len(ancestors) > depth {
		ancestors = ancestors[:depth]
	}
	out := make([]schemas.ElementNode, len(ancestors))
	for i, a := range ancestors {
		out[i] = schemas.ElementNode{Tag: a.Tag, Attributes: a.Attributes}
	}
	return out
}
