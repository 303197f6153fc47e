package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/itshen/AI-message-hook/internal/audit"
	"github.com/itshen/AI-message-hook/internal/logging"
	"github.com/itshen/AI-message-hook/internal/policy"
	"github.com/itshen/AI-message-hook/internal/rewrite"
)

// hop-by-hop headers are never relayed back to the caller
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Transfer-Encoding",
	"Upgrade",
	"Trailer",
}

var _ Proxy = (*ForwardingProxy)(nil)

// ForwardingProxy is the HTTP face of the Forwarder.
type ForwardingProxy struct {
	config    ProxyConfig
	forwarder *Forwarder
	transport *http.Transport
	logger    *zap.Logger
}

// NewForwardingProxy builds a proxy with its own pooled upstream transport.
func NewForwardingProxy(cfg ProxyConfig, src policy.Source, recorder audit.Recorder, logger *zap.Logger) *ForwardingProxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Prefix = strings.TrimRight(cfg.Prefix, "/")
	transport := NewTransport(cfg)
	return &ForwardingProxy{
		config:    cfg,
		forwarder: NewForwarder(src, NewClient(transport), recorder, logger),
		transport: transport,
		logger:    logger,
	}
}

// Handler returns the http.Handler serving everything under the configured prefix.
func (p *ForwardingProxy) Handler() http.Handler {
	return http.HandlerFunc(p.serveHTTP)
}

// Shutdown drops idle upstream connections. In-flight calls finish on their own contexts.
func (p *ForwardingProxy) Shutdown(ctx context.Context) error {
	p.transport.CloseIdleConnections()
	return ctx.Err()
}

func (p *ForwardingProxy) serveHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx, p.logger)

	path, ok := p.stripPrefix(r.URL.Path)
	if !ok {
		p.writeError(w, http.StatusNotFound, "not_found", "path is outside the proxy prefix")
		return
	}

	requestID, _ := logging.GetRequestID(ctx)
	in := Inbound{
		Method:      r.Method,
		Path:        path,
		RawQuery:    r.URL.RawQuery,
		OriginalURL: r.URL.String(),
		RequestID:   requestID,
		Headers:     rewrite.HeadersFromHTTP(r.Header, r.Host),
	}

	if p.config.MaxRequestSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, p.config.MaxRequestSize)
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			p.writeBuffered(w, log, p.forwarder.Reject(ctx, in, http.StatusRequestEntityTooLarge,
				"request_too_large", "request body exceeds the configured limit"))
			return
		}
		log.Warn("Failed to read request body", zap.Error(err))
		p.writeBuffered(w, log, p.forwarder.Reject(ctx, in, http.StatusBadRequest,
			"invalid_body", "failed to read request body"))
		return
	}
	in.Body = rewrite.ParseBody(raw)

	res := p.forwarder.Forward(ctx, in, rewrite.WantsStream(r.Method, in.Body))
	if !res.IsStream() {
		p.writeBuffered(w, log, res)
		return
	}

	relay := res.Stream
	defer func() { _ = relay.Close() }()
	copyResponseHeader(w.Header(), relay.Header)
	// the relay is re-framed chunk by chunk
	w.Header().Del("Content-Length")
	w.WriteHeader(relay.StatusCode)

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	flush()

	err = relay.Relay(ctx, w, flush)
	switch {
	case err == nil:
	case errors.Is(err, ErrStreamAborted):
		log.Warn("Upstream stream aborted", zap.String("call_id", res.CallID), zap.Error(err))
		// status is already sent; tear the connection down so the caller sees a truncated response
		panic(http.ErrAbortHandler)
	default:
		log.Info("Stream ended early", zap.String("call_id", res.CallID), zap.Error(err))
	}
}

// stripPrefix maps "/api/v1/chat/completions" to "/chat/completions". The bare prefix
// (with or without a trailing slash) maps to "/".
func (p *ForwardingProxy) stripPrefix(urlPath string) (string, bool) {
	if p.config.Prefix == "" {
		if urlPath == "" {
			return "/", true
		}
		return urlPath, true
	}
	rest, ok := strings.CutPrefix(urlPath, p.config.Prefix)
	if !ok {
		return "", false
	}
	if rest == "" {
		return "/", true
	}
	if !strings.HasPrefix(rest, "/") {
		return "", false
	}
	return rest, true
}

func (p *ForwardingProxy) writeError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:       http.StatusText(status),
		Description: description,
		Code:        code,
	})
}

// writeBuffered sends a complete response. Body holds the raw upstream bytes, so an
// upstream Content-Length is kept and always matches.
func (p *ForwardingProxy) writeBuffered(w http.ResponseWriter, log *zap.Logger, res *Result) {
	copyResponseHeader(w.Header(), res.Header)
	if w.Header().Get("Content-Length") != "" {
		w.Header().Set("Content-Length", strconv.Itoa(len(res.Body)))
	}
	w.WriteHeader(res.StatusCode)
	if _, err := w.Write(res.Body); err != nil {
		log.Debug("Failed to write response body", zap.Error(err))
	}
}

func copyResponseHeader(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append([]string(nil), vv...)
	}
	for _, h := range hopByHopHeaders {
		dst.Del(h)
	}
}
