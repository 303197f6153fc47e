// Package server implements the HTTP server for the message hook.
// It handles request routing, lifecycle management, and provides
// health check endpoints alongside the forwarding and management routes.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/itshen/AI-message-hook/internal/config"
	"github.com/itshen/AI-message-hook/internal/middleware"
	"github.com/itshen/AI-message-hook/internal/proxy"
)

// Server represents the HTTP server for the message hook.
// It encapsulates the underlying http.Server along with application configuration
// and handles request routing and server lifecycle management.
type Server struct {
	server  *http.Server
	config  *config.Config
	proxy   *proxy.ForwardingProxy
	admin   http.Handler
	logger  *zap.Logger
	metrics metrics
}

// HealthResponse is the response body for the health check endpoint.
// It provides basic information about the server status and version.
type HealthResponse struct {
	Status    string    `json:"status"`    // Service status, "ok" for a healthy system
	Timestamp time.Time `json:"timestamp"` // Current server time
	Version   string    `json:"version"`   // Application version number
}

// metrics holds runtime counters for the server.
type metrics struct {
	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// Version is the application version, following semantic versioning.
const Version = "0.1.0"

// New creates a new HTTP server around the forwarding proxy. admin may be nil,
// in which case /manage/* falls through to the not-found handler.
// The server is not started until the Start method is called.
func New(cfg *config.Config, fwd *proxy.ForwardingProxy, admin http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config: cfg,
		proxy:  fwd,
		admin:  admin,
		logger: logger,
	}
	s.metrics.startTime = time.Now()

	handler := middleware.Chain(s.routes(),
		middleware.NewRequestIDMiddleware(),
		middleware.NewLoggingMiddleware(logger),
		s.countRequests,
	)

	// no WriteTimeout; streamed responses have no upper bound
	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          zap.NewStdLog(logger),
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/live", s.handleLive)
	mux.HandleFunc("/metrics", s.handleMetrics)

	if s.admin != nil {
		mux.Handle("/manage/", s.admin)
	}

	prefix := trimPrefix(s.config.ProxyPrefix)
	if prefix == "" {
		// everything that is not a built-in route is forwarded
		mux.Handle("/", s.proxy.Handler())
		return mux
	}
	mux.Handle(prefix, s.proxy.Handler())
	mux.Handle(prefix+"/", s.proxy.Handler())

	// Add catch-all handler for unmatched routes to ensure logging
	mux.HandleFunc("/", s.handleNotFound)
	return mux
}

func trimPrefix(prefix string) string {
	for len(prefix) > 0 && prefix[len(prefix)-1] == '/' {
		prefix = prefix[:len(prefix)-1]
	}
	return prefix
}

// Handler returns the full middleware-wrapped handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens on the configured address and serves until Shutdown.
// It returns http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Server starting",
		zap.String("addr", ln.Addr().String()),
		zap.String("proxy_prefix", s.config.ProxyPrefix),
		zap.Bool("management_api", s.admin != nil))
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the server without interrupting
// active connections. It waits for all connections to complete
// or for the provided context to be canceled, whichever comes first.
// Upstream idle connections are released afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if s.proxy != nil {
		// only reports ctx.Err(), which server.Shutdown already returned
		_ = s.proxy.Shutdown(ctx)
	}
	return err
}

// countRequests tallies requests and 5xx responses for /metrics.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.metrics.requestCount.Add(1)
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		if rw.statusCode >= http.StatusInternalServerError {
			s.metrics.errorCount.Add(1)
		}
	})
}

// handleHealth responds with a JSON payload containing the server status,
// current timestamp, and application version.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   Version,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// handleReady is used for readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleLive is used for liveness probes.
func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}

// handleMetrics returns basic runtime metrics in JSON format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := struct {
		UptimeSeconds float64 `json:"uptime_seconds"`
		RequestCount  int64   `json:"request_count"`
		ErrorCount    int64   `json:"error_count"`
	}{
		UptimeSeconds: time.Since(s.metrics.startTime).Seconds(),
		RequestCount:  s.metrics.requestCount.Load(),
		ErrorCount:    s.metrics.errorCount.Load(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m); err != nil {
		s.logger.Error("Failed to encode metrics", zap.Error(err))
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Add Flush forwarding for streaming support
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// handleNotFound is a catch-all handler for unmatched routes
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Route not found",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(proxy.ErrorResponse{
		Error:       http.StatusText(http.StatusNotFound),
		Description: "no route for " + r.URL.Path,
		Code:        "not_found",
	})
}
