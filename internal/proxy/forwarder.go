package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/itshen/AI-message-hook/internal/audit"
	"github.com/itshen/AI-message-hook/internal/classify"
	"github.com/itshen/AI-message-hook/internal/logging"
	"github.com/itshen/AI-message-hook/internal/obfuscate"
	"github.com/itshen/AI-message-hook/internal/policy"
	"github.com/itshen/AI-message-hook/internal/rewrite"
)

// Inbound is one call as received by the proxy, already stripped of its URL prefix.
type Inbound struct {
	Method      string
	Path        string // forwarded verbatim after the upstream base URL
	RawQuery    string
	OriginalURL string
	RequestID   string
	Headers     rewrite.Headers
	Body        any // decoded JSON or nil
}

// Result is either buffered (Stream nil) or streaming.
type Result struct {
	CallID     string
	StatusCode int
	Header     http.Header
	Body       []byte
	Stream     *StreamRelay
}

// IsStream reports whether the result must be relayed incrementally.
func (r *Result) IsStream() bool { return r.Stream != nil }

const methodNotSupportedBody = "Method not supported"

// headers never copied from the rewritten map onto the wire; net/http owns them
var wireManagedHeaders = map[string]bool{
	"host":              true,
	"content-length":    true,
	"transfer-encoding": true,
	"connection":        true,
	"keep-alive":        true,
	"te":                true,
	"trailer":           true,
	"upgrade":           true,
}

// Forwarder executes one outbound call per inbound call and audits it.
type Forwarder struct {
	policy   policy.Source
	client   *http.Client
	recorder audit.Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewForwarder wires a Forwarder. recorder and logger may be nil.
func NewForwarder(src policy.Source, client *http.Client, recorder audit.Recorder, logger *zap.Logger) *Forwarder {
	if client == nil {
		client = NewClient(NewTransport(ProxyConfig{}))
	}
	if recorder == nil {
		recorder = audit.NewNullFileRecorder()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{policy: src, client: client, recorder: recorder, logger: logger, now: time.Now}
}

// Forward rewrites and dispatches the call. It never returns an error: every failure
// becomes a well-formed Result and is audited.
func (f *Forwarder) Forward(ctx context.Context, in Inbound, wantsStream bool) *Result {
	cfg := f.policy.Snapshot()
	rw := rewrite.Rewrite(in.Method, in.Headers, in.Body, cfg)

	call := f.newCallRecord(in, cfg, rw)
	callID := f.recordCall(ctx, call)
	log := logging.FromContext(logging.WithCallID(ctx, callID), f.logger)

	start := f.now()
	if !methodSupported(in.Method) {
		header := http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}}
		f.finalize(ctx, log, callID, &audit.ResponseRecord{
			StatusCode:       http.StatusMethodNotAllowed,
			Headers:          flattenHeader(header),
			BodyText:         methodNotSupportedBody,
			TimeTakenSeconds: f.now().Sub(start).Seconds(),
		})
		return &Result{CallID: callID, StatusCode: http.StatusMethodNotAllowed, Header: header, Body: []byte(methodNotSupportedBody)}
	}

	req, err := f.buildRequest(ctx, in, cfg.UpstreamBaseURL, rw.Modified)
	if err != nil {
		return f.failure(ctx, log, callID, start, err)
	}

	log.Debug("Forwarding call",
		zap.String("method", in.Method),
		zap.String("upstream", cfg.UpstreamBaseURL),
		zap.String("service", call.UpstreamService),
		zap.Bool("stream", wantsStream),
		zap.Any("headers", obfuscate.ObfuscateHeaders(rw.Modified.Headers)))

	resp, err := f.client.Do(req)
	if err != nil {
		return f.failure(ctx, log, callID, start, err)
	}

	if wantsStream {
		relay := newStreamRelay(resp, start, f.now, func(out streamOutcome) {
			text := decodeBodyText(out.body, resp.Header.Get("Content-Encoding"))
			if out.marker != "" {
				text += out.marker
			}
			f.finalize(ctx, log, callID, &audit.ResponseRecord{
				StatusCode:       resp.StatusCode,
				Headers:          flattenHeader(resp.Header),
				BodyText:         text,
				IsStream:         true,
				TimeTakenSeconds: out.elapsed.Seconds(),
				Error:            out.errText,
			})
		})
		return &Result{CallID: callID, StatusCode: relay.StatusCode, Header: relay.Header, Stream: relay}
	}

	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return f.failure(ctx, log, callID, start, fmt.Errorf("read upstream response: %w", err))
	}
	f.finalize(ctx, log, callID, &audit.ResponseRecord{
		StatusCode:       resp.StatusCode,
		Headers:          flattenHeader(resp.Header),
		BodyText:         decodeBodyText(body, resp.Header.Get("Content-Encoding")),
		TimeTakenSeconds: f.now().Sub(start).Seconds(),
	})
	return &Result{CallID: callID, StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: body}
}

func methodSupported(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

func (f *Forwarder) buildRequest(ctx context.Context, in Inbound, baseURL string, out rewrite.Request) (*http.Request, error) {
	target := baseURL + in.Path
	if in.RawQuery != "" {
		target += "?" + in.RawQuery
	}

	var body io.Reader
	hasBody := (in.Method == http.MethodPost || in.Method == http.MethodPut) && out.Body != nil
	if hasBody {
		data, err := rewrite.EncodeBody(out.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, in.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for k, v := range out.Headers {
		if wireManagedHeaders[strings.ToLower(k)] {
			continue
		}
		req.Header.Set(k, v)
	}
	if hasBody && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	// net/http adds its own User-Agent when none was given; keep the caller's absence
	if _, ok := out.Headers.Get("User-Agent"); !ok {
		req.Header["User-Agent"] = []string{""}
	}
	return req, nil
}

// Reject audits a call refused before dispatch, such as an oversized or unreadable body,
// and returns the JSON error to send. The upstream is never contacted.
func (f *Forwarder) Reject(ctx context.Context, in Inbound, status int, code, description string) *Result {
	cfg := f.policy.Snapshot()
	rw := rewrite.Rewrite(in.Method, in.Headers, in.Body, cfg)
	callID := f.recordCall(ctx, f.newCallRecord(in, cfg, rw))
	log := logging.FromContext(logging.WithCallID(ctx, callID), f.logger)

	header := http.Header{"Content-Type": []string{"application/json"}}
	body, _ := json.Marshal(ErrorResponse{Error: http.StatusText(status), Description: description, Code: code})
	f.finalize(ctx, log, callID, &audit.ResponseRecord{
		StatusCode: status,
		Headers:    flattenHeader(header),
		BodyText:   string(body),
		Error:      description,
	})
	return &Result{CallID: callID, StatusCode: status, Header: header, Body: body}
}

func (f *Forwarder) newCallRecord(in Inbound, cfg policy.Config, rw rewrite.Result) *audit.CallRecord {
	return &audit.CallRecord{
		ID:                     uuid.NewString(),
		Timestamp:              f.now().UTC(),
		RequestID:              in.RequestID,
		Method:                 in.Method,
		Path:                   in.Path,
		OriginalURL:            in.OriginalURL,
		UpstreamService:        classify.Classify(in.Headers, cfg.UpstreamBaseURL),
		ResolvedModel:          rw.ResolvedModel,
		UpstreamBaseURL:        cfg.UpstreamBaseURL,
		RequestHeadersOriginal: rw.Original.Headers,
		RequestHeadersModified: rw.Modified.Headers,
		RequestBodyOriginal:    rw.Original.Body,
		RequestBodyModified:    rw.Modified.Body,
	}
}

// failure turns a transport error into a synthetic 500.
func (f *Forwarder) failure(ctx context.Context, log *zap.Logger, callID string, start time.Time, err error) *Result {
	log.Warn("Upstream request failed", zap.Error(err))
	header := http.Header{"Content-Type": []string{"application/json"}}
	body, _ := json.Marshal(ErrorResponse{Error: err.Error()})
	f.finalize(ctx, log, callID, &audit.ResponseRecord{
		StatusCode:       http.StatusInternalServerError,
		Headers:          flattenHeader(header),
		BodyText:         err.Error(),
		TimeTakenSeconds: f.now().Sub(start).Seconds(),
		Error:            err.Error(),
	})
	return &Result{CallID: callID, StatusCode: http.StatusInternalServerError, Header: header, Body: body}
}

// recordCall never fails the call; the pre-assigned ID is kept when the recorder errors.
func (f *Forwarder) recordCall(ctx context.Context, call *audit.CallRecord) string {
	id, err := f.recorder.RecordCall(context.WithoutCancel(ctx), call)
	if err != nil {
		logging.FromContext(ctx, f.logger).Error("Failed to record call", zap.String("call_id", call.ID), zap.Error(err))
	}
	if id == "" {
		id = call.ID
	}
	return id
}

func (f *Forwarder) finalize(ctx context.Context, log *zap.Logger, callID string, resp *audit.ResponseRecord) {
	if err := f.recorder.FinalizeResponse(context.WithoutCancel(ctx), callID, resp); err != nil {
		log.Error("Failed to finalize call", zap.Error(err))
		return
	}
	log.Debug("Call finalized",
		zap.Int("status", resp.StatusCode),
		zap.Bool("stream", resp.IsStream),
		zap.Float64("time_taken_seconds", resp.TimeTakenSeconds))
}

// flattenHeader joins repeated values with ", " for the audit record.
func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}
