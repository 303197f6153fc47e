// Package admin serves the management API used to read and change the proxy policy.
package admin

import (
	"context"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/itshen/AI-message-hook/internal/database"
	"github.com/itshen/AI-message-hook/internal/logging"
	"github.com/itshen/AI-message-hook/internal/policy"
)

// PolicyStore is the subset of policy.Store the management API needs.
type PolicyStore interface {
	Snapshot() policy.Config
	Apply(policy.Update) policy.Config
}

// StatsSource reports audit store counters for GET /manage/stats.
type StatsSource interface {
	GetStats(ctx context.Context) (database.Stats, error)
}

// Server holds the management API routes.
type Server struct {
	engine   *gin.Engine
	store    PolicyStore
	auth     *TokenAuth
	stats    StatsSource
	logger   *zap.Logger
	security *logging.SecurityLogger
}

// Option configures a Server.
type Option func(*Server)

// WithStats exposes audit counters on GET /manage/stats.
func WithStats(src StatsSource) Option {
	return func(s *Server) { s.stats = src }
}

// NewServer builds the gin engine serving /manage/*.
func NewServer(store PolicyStore, auth *TokenAuth, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if logger.Core().Enabled(zap.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:   engine,
		store:    store,
		auth:     auth,
		logger:   logger,
		security: logging.NewSecurityLogger(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// Handler returns the http.Handler for the management routes.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	manage := s.engine.Group("/manage", s.authMiddleware())
	{
		manage.GET("/policy", s.handleGetPolicy)
		manage.PATCH("/policy", s.handlePatchPolicy)
		manage.GET("/stats", s.handleStats)
	}
}

// authMiddleware rejects requests without a valid bearer token.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || !s.auth.Verify(token) {
			reason := "invalid management token"
			if !ok {
				reason = "missing bearer token"
			}
			s.security.Log(c.Request.Context(), logging.SecurityEvent{
				Type:      logging.SecurityEventAuthFailure,
				Outcome:   logging.OutcomeFailure,
				Reason:    reason,
				ClientIP:  c.ClientIP(),
				UserAgent: c.Request.UserAgent(),
			})
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleGetPolicy(c *gin.Context) {
	cfg := s.store.Snapshot()
	s.security.Log(c.Request.Context(), logging.SecurityEvent{
		Type:     logging.SecurityEventPolicyRead,
		Outcome:  logging.OutcomeSuccess,
		ClientIP: c.ClientIP(),
	})
	c.JSON(http.StatusOK, cfg.Masked())
}

func (s *Server) handlePatchPolicy(c *gin.Context) {
	var update policy.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		s.rejectPatch(c, "invalid JSON body: "+err.Error())
		return
	}
	if err := update.Validate(); err != nil {
		s.rejectPatch(c, err.Error())
		return
	}

	cfg := s.store.Apply(update)
	s.security.Log(c.Request.Context(), logging.SecurityEvent{
		Type:          logging.SecurityEventPolicyChange,
		Outcome:       logging.OutcomeSuccess,
		ClientIP:      c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
		ChangedFields: changedFields(update),
	})
	logging.FromContext(c.Request.Context(), s.logger).Info("Policy updated", zap.Object("policy", cfg))
	c.JSON(http.StatusOK, cfg.Masked())
}

func (s *Server) rejectPatch(c *gin.Context, reason string) {
	s.security.Log(c.Request.Context(), logging.SecurityEvent{
		Type:     logging.SecurityEventPolicyChange,
		Outcome:  logging.OutcomeFailure,
		Reason:   reason,
		ClientIP: c.ClientIP(),
	})
	c.JSON(http.StatusBadRequest, gin.H{"error": reason})
}

func (s *Server) handleStats(c *gin.Context) {
	if s.stats == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit store not configured"})
		return
	}
	stats, err := s.stats.GetStats(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to read audit stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read audit stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// changedFields lists the JSON names of the fields present in u.
func changedFields(u policy.Update) []string {
	var fields []string
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(u.UpstreamBaseURL != nil, "upstream_base_url")
	add(u.Credential != nil, "credential")
	add(u.DefaultModel != nil, "default_model")
	add(u.CredentialReplaceMode != nil, "credential_replace_mode")
	add(u.ModelReplaceMode != nil, "model_replace_mode")
	add(u.AutoReplaceCredential != nil, "auto_replace_credential")
	add(u.AutoReplaceModel != nil, "auto_replace_model")
	sort.Strings(fields)
	return fields
}
