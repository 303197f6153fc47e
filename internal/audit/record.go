// Package audit records every proxied call: the request as received, the request as
// forwarded, and the response once it is fully known.
package audit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCallNotFound is returned when finalizing an ID that was never recorded.
	ErrCallNotFound = errors.New("audit: call not found")
	// ErrAlreadyFinalized is returned when a response is finalized a second time.
	ErrAlreadyFinalized = errors.New("audit: response already finalized")
)

// CallRecord describes one inbound call and its rewritten form.
type CallRecord struct {
	ID                     string            `json:"id"`
	Timestamp              time.Time         `json:"timestamp"`
	RequestID              string            `json:"request_id,omitempty"`
	Method                 string            `json:"method"`
	Path                   string            `json:"path"`
	OriginalURL            string            `json:"original_url,omitempty"`
	UpstreamService        string            `json:"upstream_service"`
	ResolvedModel          string            `json:"resolved_model,omitempty"`
	UpstreamBaseURL        string            `json:"upstream_base_url"`
	RequestHeadersOriginal map[string]string `json:"request_headers_original"`
	RequestHeadersModified map[string]string `json:"request_headers_modified"`
	RequestBodyOriginal    any               `json:"request_body_original,omitempty"`
	RequestBodyModified    any               `json:"request_body_modified,omitempty"`
}

// ResponseRecord is the final state of a call's response.
type ResponseRecord struct {
	StatusCode       int               `json:"status_code"`
	Headers          map[string]string `json:"headers"`
	BodyText         string            `json:"body_text"`
	IsStream         bool              `json:"is_stream"`
	TimeTakenSeconds float64           `json:"time_taken_seconds"`
	Error            string            `json:"error,omitempty"`
}

// Recorder persists calls. RecordCall runs before the upstream is contacted;
// FinalizeResponse runs exactly once per call after the response is complete.
type Recorder interface {
	RecordCall(ctx context.Context, call *CallRecord) (string, error)
	FinalizeResponse(ctx context.Context, callID string, resp *ResponseRecord) error
}
