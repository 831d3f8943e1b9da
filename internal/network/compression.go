// internal/network/compression.go
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// DecompressionMiddleware is an http.RoundTripper that advertises compression
// support on outgoing requests and transparently decodes the response body
// based on Content-Encoding. Supports brotli, gzip, and both zlib-wrapped and
// raw deflate streams, including layered encodings.
type DecompressionMiddleware struct {
	Transport http.RoundTripper
}

// NewDecompressionMiddleware wraps transport, defaulting to
// http.DefaultTransport when nil.
func NewDecompressionMiddleware(transport http.RoundTripper) *DecompressionMiddleware {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &DecompressionMiddleware{Transport: transport}
}

// RoundTrip implements http.RoundTripper.
func (m *DecompressionMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "br, gzip, deflate, identity")
	}

	resp, err := m.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if err := DecompressResponse(resp); err != nil {
		// The body stream may be partially consumed; discard the response.
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to initialize response decompression: %w", err)
	}
	return resp, nil
}

// closeWrapper closes both the decoding reader and the underlying body.
type closeWrapper struct {
	io.ReadCloser
	originalBody io.ReadCloser
}

func (w *closeWrapper) Close() error {
	return errors.Join(w.ReadCloser.Close(), w.originalBody.Close())
}

// DecompressResponse wraps resp.Body with the decoder chain implied by the
// Content-Encoding header, applied in reverse order of encoding. On error the
// body should be considered corrupted and the response discarded.
func DecompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}

	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		encoding := strings.ToLower(strings.TrimSpace(encodings[i]))

		var reader io.ReadCloser
		switch encoding {
		case "gzip":
			zr, err := gzip.NewReader(resp.Body)
			if err != nil {
				return fmt.Errorf("gzip initialization error: %w", err)
			}
			reader = zr
		case "deflate":
			dr, err := tryDeflate(resp.Body)
			if err != nil {
				return fmt.Errorf("deflate initialization error: %w", err)
			}
			reader = dr
		case "br":
			reader = io.NopCloser(brotli.NewReader(resp.Body))
		case "identity", "":
			continue
		default:
			return fmt.Errorf("unsupported Content-Encoding layer: %s", encoding)
		}

		resp.Body = &closeWrapper{ReadCloser: reader, originalBody: resp.Body}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// tryDeflate handles servers that send raw deflate (RFC 1951) under a
// "deflate" label as well as the correct zlib framing (RFC 1950). The first
// bytes are buffered so the raw fallback can re-read them.
func tryDeflate(r io.Reader) (io.ReadCloser, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 128))
	tee := io.TeeReader(r, buf)

	if zr, err := zlib.NewReader(tee); err == nil {
		return zr, nil
	}

	rewound := io.MultiReader(bytes.NewReader(buf.Bytes()), r)
	return flate.NewReader(rewound), nil
}
