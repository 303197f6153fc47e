package proxy

import (
	"context"
	"net/http"
	"time"
)

// Proxy defines the interface for the forwarding proxy handler.
type Proxy interface {
	// Handler returns an http.Handler for the proxy
	Handler() http.Handler

	// Shutdown releases upstream connections
	Shutdown(ctx context.Context) error
}

// ProxyConfig contains configuration for the proxy
type ProxyConfig struct {
	// Prefix is the inbound URL prefix stripped before forwarding (e.g. "/api/v1")
	Prefix string

	// MaxRequestSize caps inbound request bodies; 0 means unlimited
	MaxRequestSize int64

	// ResponseHeaderTimeout is the time to wait for upstream response headers; 0 waits indefinitely
	ResponseHeaderTimeout time.Duration

	// TLSHandshakeTimeout bounds the upstream TLS handshake
	TLSHandshakeTimeout time.Duration

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost is the maximum number of idle connections per host
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long to keep idle connections alive
	IdleConnTimeout time.Duration
}

// ErrorResponse is the JSON body returned for failures produced by the proxy itself.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"description,omitempty"`
	Code        string `json:"code,omitempty"`
}
