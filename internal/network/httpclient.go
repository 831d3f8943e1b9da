// internal/network/httpclient.go
package network

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/xkilldash9x/webtrail/internal/config"
	"github.com/xkilldash9x/webtrail/internal/observability"
)

const (
	defaultDialTimeout           = 5 * time.Second
	defaultKeepAliveInterval     = 15 * time.Second
	defaultTLSHandshakeTimeout   = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second

	defaultMaxIdleConns        = 50
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 30 * time.Second
)

// NewTransport builds the http.Transport used for all collector traffic:
// dual-stack dialing, modern TLS with session resumption, and HTTP/2 when
// the config asks for it.
func NewTransport(cfg config.NetworkConfig) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   defaultDialTimeout,
		KeepAlive: defaultKeepAliveInterval,
		// Happy Eyeballs keeps dual-stack connection setup snappy.
		FallbackDelay: 300 * time.Millisecond,
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ClientSessionCache: tls.NewLRUClientSessionCache(32),
		InsecureSkipVerify: cfg.IgnoreTLSErrors,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		ForceAttemptHTTP2:     cfg.ForceHTTP2,
		// The compression round-tripper negotiates encodings itself.
		DisableCompression: true,
	}

	if cfg.ForceHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			observability.GetLogger().Named("network").
				Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
		}
	} else if len(tlsConfig.NextProtos) == 0 {
		tlsConfig.NextProtos = []string{"http/1.1"}
	}

	return transport
}

// NewClient creates an http.Client stacking the decompression middleware on
// the tuned transport. Redirects are followed normally; the collector API
// does not redirect authenticated calls.
func NewClient(cfg config.NetworkConfig) *http.Client {
	return &http.Client{
		Transport: NewDecompressionMiddleware(NewTransport(cfg)),
		Timeout:   cfg.RequestTimeout,
	}
}
