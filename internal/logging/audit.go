package logging

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SecurityEventType names a security-relevant action taken through the management API.
type SecurityEventType string

const (
	SecurityEventPolicyRead   SecurityEventType = "policy_read"
	SecurityEventPolicyChange SecurityEventType = "policy_change"
	SecurityEventAuthFailure  SecurityEventType = "auth_failure"
)

// SecurityOutcome is the result of a security event.
type SecurityOutcome string

const (
	OutcomeSuccess SecurityOutcome = "success"
	OutcomeFailure SecurityOutcome = "failure"
)

// SecurityEvent describes one management action. It never carries secrets; changed
// fields are listed by name only.
type SecurityEvent struct {
	Type          SecurityEventType
	Outcome       SecurityOutcome
	Reason        string
	ClientIP      string
	UserAgent     string
	ChangedFields []string
}

// SecurityLogger writes security events to a dedicated zap logger.
type SecurityLogger struct {
	logger *zap.Logger
}

// NewSecurityLogger wraps logger. A nil logger yields a no-op SecurityLogger.
func NewSecurityLogger(logger *zap.Logger) *SecurityLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityLogger{logger: logger.Named("security")}
}

// Log writes evt, enriched with the request ID from ctx.
func (l *SecurityLogger) Log(ctx context.Context, evt SecurityEvent) {
	fields := []zap.Field{
		zap.String("event_type", string(evt.Type)),
		zap.String("outcome", string(evt.Outcome)),
		zap.Time("event_time", time.Now().UTC()),
	}
	if evt.Reason != "" {
		fields = append(fields, zap.String("reason", evt.Reason))
	}
	if evt.ClientIP != "" {
		fields = append(fields, zap.String("client_ip", evt.ClientIP))
	}
	if evt.UserAgent != "" {
		fields = append(fields, zap.String("user_agent", evt.UserAgent))
	}
	if len(evt.ChangedFields) > 0 {
		fields = append(fields, zap.Strings("changed_fields", evt.ChangedFields))
	}

	logger := FromContext(ctx, l.logger)
	if evt.Outcome == OutcomeFailure {
		logger.Warn("security event", fields...)
		return
	}
	logger.Info("security event", fields...)
}
