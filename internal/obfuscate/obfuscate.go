// Package obfuscate masks credentials before they reach logs or the management API.
package obfuscate

import (
	"strings"
)

// ObfuscateTokenGeneric masks a credential for log output.
//   - length <= 4  → all asterisks of same length
//   - 5..12        → first 2 characters, rest asterisks
//   - > 12         → first 8 characters, "...", last 4 characters
func ObfuscateTokenGeneric(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	if len(s) <= 12 {
		return s[:2] + strings.Repeat("*", len(s)-2)
	}
	return s[:8] + "..." + s[len(s)-4:]
}

// ObfuscateTokenSimple masks a credential with a fixed pattern for API responses.
//   - length <= 8 → "****"
//   - > 8         → first 4 + "****" + last 4
func ObfuscateTokenSimple(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ObfuscateAuthorization masks the credential part of an Authorization header value
// while keeping its scheme ("Bearer", "Basic", ...) readable.
func ObfuscateAuthorization(v string) string {
	if v == "" {
		return v
	}
	scheme, cred, ok := strings.Cut(v, " ")
	if !ok {
		return ObfuscateTokenGeneric(v)
	}
	return scheme + " " + ObfuscateTokenGeneric(strings.TrimSpace(cred))
}

var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"x-api-key":           true,
	"api-key":             true,
	"cookie":              true,
}

// IsSensitiveHeader reports whether a header carries a secret, regardless of casing.
func IsSensitiveHeader(name string) bool {
	return sensitiveHeaders[strings.ToLower(name)]
}

// ObfuscateHeaders returns a copy of headers with every sensitive value masked.
// Key casing is preserved.
func ObfuscateHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		switch {
		case strings.EqualFold(k, "authorization"), strings.EqualFold(k, "proxy-authorization"):
			out[k] = ObfuscateAuthorization(v)
		case IsSensitiveHeader(k):
			out[k] = ObfuscateTokenGeneric(v)
		default:
			out[k] = v
		}
	}
	return out
}
