// Package rewrite turns an inbound request into the outbound one according to the policy,
// keeping the untouched original alongside for audit.
package rewrite

import (
	"net/http"
	"strings"

	"github.com/itshen/AI-message-hook/internal/policy"
)

// Headers is a case-preserving header mapping: one entry per name as received.
type Headers map[string]string

// Request is one side of the audit pair.
type Request struct {
	Headers Headers `json:"headers"`
	Body    any     `json:"body,omitempty"`
}

// Result holds the original and the rewritten request plus the model the caller asked for.
type Result struct {
	Original      Request
	Modified      Request
	ResolvedModel string
}

// HeadersFromHTTP flattens an http.Header. Multiple values are joined with ", ".
// host, when non-empty, is added under the "Host" key since net/http keeps it out of the map.
func HeadersFromHTTP(h http.Header, host string) Headers {
	out := make(Headers, len(h)+1)
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	if host != "" {
		out["Host"] = host
	}
	return out
}

// Get returns the first value whose key matches name case-insensitively.
func (h Headers) Get(name string) (string, bool) {
	if v, ok := h[name]; ok {
		return v, true
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Clone returns a shallow copy of h; values are strings so this is a full copy.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Rewrite applies the host, credential and model steps. It never fails; nil headers and
// a nil body are treated as empty and absent.
func Rewrite(method string, headers Headers, body any, cfg policy.Config) Result {
	original := Request{Headers: headers.Clone(), Body: cloneJSON(body)}

	out := headers.Clone()
	// Only the exact key "Host" is removed.
	delete(out, "Host")

	applyCredential(out, cfg)
	outBody := cloneJSON(body)
	applyModel(method, outBody, cfg)

	return Result{
		Original:      original,
		Modified:      Request{Headers: out, Body: outBody},
		ResolvedModel: resolvedModel(body),
	}
}

// applyCredential always strips caller credentials. The auto flag and mode are accepted
// but a configured credential is always forced.
func applyCredential(h Headers, cfg policy.Config) {
	for k := range h {
		switch strings.ToLower(k) {
		case "authorization", "x-api-key":
			delete(h, k)
		}
	}
	if cfg.HasCredential() {
		h["Authorization"] = "Bearer " + cfg.Credential
	}
}

func applyModel(method string, body any, cfg policy.Config) {
	if method != http.MethodPost {
		return
	}
	obj, ok := body.(map[string]any)
	if !ok {
		return
	}
	if !cfg.AutoReplaceModel || !cfg.HasDefaultModel() {
		return
	}
	_, hasModel := obj["model"]
	switch cfg.ModelReplaceMode {
	case policy.ModeForce:
		obj["model"] = cfg.DefaultModel
	case policy.ModeFillIfMissing:
		if !hasModel {
			obj["model"] = cfg.DefaultModel
		}
	}
}

// resolvedModel prefers body.original.model, then body.model.
func resolvedModel(body any) string {
	obj, ok := body.(map[string]any)
	if !ok {
		return ""
	}
	if orig, ok := obj["original"].(map[string]any); ok {
		if m, ok := orig["model"]; ok {
			return stringify(m)
		}
	}
	if m, ok := obj["model"]; ok {
		return stringify(m)
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case interface{ String() string }:
		return t.String()
	default:
		return ""
	}
}

// cloneJSON deep-copies a value produced by encoding/json decoding.
func cloneJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneJSON(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneJSON(e)
		}
		return out
	default:
		return v
	}
}
