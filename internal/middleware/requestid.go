package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/itshen/AI-message-hook/internal/logging"
)

// Header names used for request correlation.
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

// NewRequestIDMiddleware puts a request ID and a correlation ID into the request context
// and echoes both on the response. Inbound values are reused when present; the inbound
// request headers themselves are left untouched.
func NewRequestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := getOrGenerateID(r.Header.Get(HeaderRequestID))
			correlationID := getOrGenerateID(r.Header.Get(HeaderCorrelationID))

			ctx := logging.WithRequestID(r.Context(), requestID)
			ctx = logging.WithCorrelationID(ctx, correlationID)

			w.Header().Set(HeaderRequestID, requestID)
			w.Header().Set(HeaderCorrelationID, correlationID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// getOrGenerateID returns the provided ID if non-empty, otherwise a new UUID.
func getOrGenerateID(existingID string) string {
	existingID = strings.TrimSpace(existingID)
	if existingID == "" {
		return uuid.New().String()
	}
	return existingID
}
