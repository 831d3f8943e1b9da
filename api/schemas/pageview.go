// api/schemas/pageview.go
package schemas

import "encoding/json"

// VisibilityInterval is one closed span during which the page was the
// visible, foregrounded tab. Dwell time is the sum of these spans, not
// wall clock.
type VisibilityInterval struct {
	In  int64 `json:"in"`
	Out int64 `json:"out"`
}

// PageViewPayload is the serialized form of one logical page view, assembled
// by the flush pipeline and posted to the collector's /task/data/ endpoint.
// ReplayEvents is an opaque buffer produced by the session-replay
// collaborator; the capture side never interprets it.
type PageViewPayload struct {
	ViewID              string               `json:"viewId"`
	SessionID           string               `json:"sessionId"`
	TaskID              string               `json:"taskId,omitempty"`
	URL                 string               `json:"url"`
	Title               string               `json:"title,omitempty"`
	Referrer            string               `json:"referrer,omitempty"`
	StartTimestamp      int64                `json:"startTimestamp"`
	EndTimestamp        int64                `json:"endTimestamp"`
	DwellTime           int64                `json:"dwellTime"`
	VisibilityIntervals []VisibilityInterval `json:"visibilityIntervals"`
	Events              []CapturedEvent      `json:"events"`
	MousePath           []PathPoint          `json:"mousePath,omitempty"`
	ScrollPath          []PathPoint          `json:"scrollPath,omitempty"`
	ReplayEvents        []json.RawMessage    `json:"replayEvents,omitempty"`
}

// UploadEnvelope is the body of a /task/data/ request. Large payloads are
// DEFLATE-compressed and base64-encoded; Compressed marks which form Data
// takes so the collector knows whether to inflate first.
type UploadEnvelope struct {
	Compressed bool   `json:"compressed"`
	Data       string `json:"data,omitempty"`
	// Payload carries the uncompressed form directly when the serialized
	// view is small enough to skip compression.
	Payload *PageViewPayload `json:"payload,omitempty"`
}
