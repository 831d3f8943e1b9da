// internal/capture/flush.go
package capture

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/api/schemas"
)

var flushJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Uploader hands a finalized view to the delivery side. The router implements
// this; it owns the authenticated call and its retry semantics.
type Uploader interface {
	UploadView(ctx context.Context, env *schemas.UploadEnvelope) error
}

// Flusher serializes finalized page views and hands them off for upload.
// Views captured on the collector's own pages are discarded so dashboard
// navigation never pollutes recorded trajectories.
type Flusher struct {
	uploader Uploader
	// ownPrefix is the collector's base URL. Empty disables the guard.
	ownPrefix string
	// threshold is the serialized size in bytes above which the payload is
	// DEFLATE-compressed and base64-encoded.
	threshold int
	log       *zap.Logger
}

func NewFlusher(uploader Uploader, ownPrefix string, threshold int, log *zap.Logger) *Flusher {
	return &Flusher{
		uploader:  uploader,
		ownPrefix: ownPrefix,
		threshold: threshold,
		log:       log.Named("flush"),
	}
}

// Flush builds the upload envelope for one view and delivers it. Failures
// are logged and returned but not retried here; losing one view is preferred
// over blocking the capture loop.
func (f *Flusher) Flush(ctx context.Context, payload *schemas.PageViewPayload) error {
	if payload == nil {
		return nil
	}
	if f.ownPrefix != "" && strings.HasPrefix(payload.URL, f.ownPrefix) {
		f.log.Debug("Skipping view on own pages", zap.String("url", payload.URL))
		return nil
	}

	env, err := f.buildEnvelope(payload)
	if err != nil {
		f.log.Error("Failed to assemble upload envelope",
			zap.String("viewId", payload.ViewID), zap.Error(err))
		return err
	}
	if err := f.uploader.UploadView(ctx, env); err != nil {
		f.log.Warn("View upload failed",
			zap.String("viewId", payload.ViewID),
			zap.String("url", payload.URL),
			zap.Error(err))
		return err
	}
	f.log.Debug("View uploaded",
		zap.String("viewId", payload.ViewID),
		zap.Int("events", len(payload.Events)),
		zap.Bool("compressed", env.Compressed))
	return nil
}

func (f *Flusher) buildEnvelope(payload *schemas.PageViewPayload) (*schemas.UploadEnvelope, error) {
	raw, err := flushJSON.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("serializing view: %w", err)
	}
	if f.threshold <= 0 || len(raw) <= f.threshold {
		return &schemas.UploadEnvelope{Payload: payload}, nil
	}

	var buf bytes.Buffer
	zw, err := flate.NewWriter(&buf, flate.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("creating deflate writer: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compressing view: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing compression: %w", err)
	}
	return &schemas.UploadEnvelope{
		Compressed: true,
		Data:       base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// DecodeEnvelope reverses buildEnvelope. The collector uses it to recover
// the view from either envelope form.
func DecodeEnvelope(env *schemas.UploadEnvelope) (*schemas.PageViewPayload, error) {
	if !env.Compressed {
		if env.Payload == nil {
			return nil, fmt.Errorf("envelope carries no payload")
		}
		return env.Payload, nil
	}
	raw, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding envelope data: %w", err)
	}
	zr := flate.NewReader(bytes.NewReader(raw))
	defer zr.Close()
	var payload schemas.PageViewPayload
	if err := flushJSON.NewDecoder(zr).Decode(&payload); err != nil {
		return nil, fmt.Errorf("inflating view: %w", err)
	}
	return &payload, nil
}
