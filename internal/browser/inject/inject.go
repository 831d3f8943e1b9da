// internal/browser/inject/inject.go

// Package inject holds the in-page instrumentation script and the envelope
// types it emits over the CDP binding.
package inject

import (
	_ "embed"
	"encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/capture"
)

//go:embed instrument.js
var instrumentScript string

// BindingName is the CDP binding the script calls to reach the agent.
const BindingName = "__webtrailEmit"

var injectJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Options parameterize the injected script.
type Options struct {
	// Annotate makes the script defer the default action of gateable
	// interactions until the annotation prompt resolves.
	Annotate bool `json:"annotate"`
	// MouseSampleMs is the in-page mousemove sampling interval.
	MouseSampleMs int `json:"mouseSampleMs,omitempty"`
	// ScrollSampleMs is the in-page scroll sampling interval.
	ScrollSampleMs int `json:"scrollSampleMs,omitempty"`
}

// Script renders the instrumentation with its configuration prelude. The
// result is suitable for Page.addScriptToEvaluateOnNewDocument.
func Script(opts Options) (string, error) {
	cfg, err := injectJSON.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("encoding instrumentation options: %w", err)
	}
	return fmt.Sprintf("window.__wtConfig = %s;\n%s", cfg, instrumentScript), nil
}

// Envelope is one message from the script. Type discriminates which of the
// optional fields is set.
type Envelope struct {
	Type string `json:"type"`

	Event   *capture.RawEvent  `json:"event,omitempty"`
	Point   *schemas.PathPoint `json:"point,omitempty"`
	Visible bool               `json:"visible"`
	URL     string             `json:"url,omitempty"`
	Title   string             `json:"title,omitempty"`
	Data    json.RawMessage    `json:"data,omitempty"`
}

// Envelope types emitted by the script.
const (
	TypeEvent      = "event"
	TypeMousePath  = "mousePath"
	TypeScrollPath = "scrollPath"
	TypeVisibility = "visibility"
	TypeNavigate   = "navigate"
	TypeTitle      = "title"
	TypeReplay     = "replay"
)

// Decode parses one binding payload.
func Decode(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := injectJSON.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decoding instrumentation envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("instrumentation envelope missing type")
	}
	return &env, nil
}
