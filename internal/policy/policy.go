// Package policy holds the mutable proxy configuration that decides where calls go and
// which credential and model they carry.
package policy

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"

	"github.com/itshen/AI-message-hook/internal/obfuscate"
)

// ReplaceMode controls how a configured value is applied to an outgoing request.
type ReplaceMode string

const (
	// ModeForce always overwrites the caller's value.
	ModeForce ReplaceMode = "force"
	// ModeFillIfMissing only supplies the value when the caller omitted it.
	ModeFillIfMissing ReplaceMode = "fill_if_missing"
)

// DefaultUpstreamBaseURL is used when nothing else has been configured.
const DefaultUpstreamBaseURL = "https://openrouter.ai/api/v1"

// ParseReplaceMode converts a string into a ReplaceMode.
func ParseReplaceMode(s string) (ReplaceMode, error) {
	switch ReplaceMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeForce:
		return ModeForce, nil
	case ModeFillIfMissing:
		return ModeFillIfMissing, nil
	default:
		return "", fmt.Errorf("invalid replace mode %q (want %q or %q)", s, ModeForce, ModeFillIfMissing)
	}
}

// Valid reports whether m is one of the known modes.
func (m ReplaceMode) Valid() bool {
	return m == ModeForce || m == ModeFillIfMissing
}

// Config is one immutable snapshot of the proxy policy.
type Config struct {
	UpstreamBaseURL       string      `json:"upstream_base_url" yaml:"upstream_base_url" toml:"upstream_base_url"`
	Credential            string      `json:"credential,omitempty" yaml:"credential,omitempty" toml:"credential,omitempty"`
	DefaultModel          string      `json:"default_model,omitempty" yaml:"default_model,omitempty" toml:"default_model,omitempty"`
	CredentialReplaceMode ReplaceMode `json:"credential_replace_mode" yaml:"credential_replace_mode" toml:"credential_replace_mode"`
	ModelReplaceMode      ReplaceMode `json:"model_replace_mode" yaml:"model_replace_mode" toml:"model_replace_mode"`
	AutoReplaceCredential bool        `json:"auto_replace_credential" yaml:"auto_replace_credential" toml:"auto_replace_credential"`
	AutoReplaceModel      bool        `json:"auto_replace_model" yaml:"auto_replace_model" toml:"auto_replace_model"`
}

// DefaultConfig returns the policy used before any configuration is applied.
func DefaultConfig() Config {
	return Config{
		UpstreamBaseURL:       DefaultUpstreamBaseURL,
		CredentialReplaceMode: ModeForce,
		ModelReplaceMode:      ModeForce,
		AutoReplaceCredential: true,
		AutoReplaceModel:      true,
	}
}

// HasCredential reports whether a credential is configured.
func (c Config) HasCredential() bool { return c.Credential != "" }

// HasDefaultModel reports whether a default model is configured.
func (c Config) HasDefaultModel() bool { return c.DefaultModel != "" }

// Masked returns a copy of c that is safe to render: the credential is obfuscated.
func (c Config) Masked() Config {
	if c.Credential != "" {
		c.Credential = obfuscate.ObfuscateTokenSimple(c.Credential)
	}
	return c
}

// MarshalLogObject implements zapcore.ObjectMarshaler and never emits the raw credential.
func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("upstream_base_url", c.UpstreamBaseURL)
	if c.Credential != "" {
		enc.AddString("credential", obfuscate.ObfuscateTokenGeneric(c.Credential))
	}
	if c.DefaultModel != "" {
		enc.AddString("default_model", c.DefaultModel)
	}
	enc.AddString("credential_replace_mode", string(c.CredentialReplaceMode))
	enc.AddString("model_replace_mode", string(c.ModelReplaceMode))
	enc.AddBool("auto_replace_credential", c.AutoReplaceCredential)
	enc.AddBool("auto_replace_model", c.AutoReplaceModel)
	return nil
}

// Update is a partial change. Nil fields are left untouched.
type Update struct {
	UpstreamBaseURL       *string      `json:"upstream_base_url,omitempty"`
	Credential            *string      `json:"credential,omitempty"`
	DefaultModel          *string      `json:"default_model,omitempty"`
	CredentialReplaceMode *ReplaceMode `json:"credential_replace_mode,omitempty"`
	ModelReplaceMode      *ReplaceMode `json:"model_replace_mode,omitempty"`
	AutoReplaceCredential *bool        `json:"auto_replace_credential,omitempty"`
	AutoReplaceModel      *bool        `json:"auto_replace_model,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u Update) IsEmpty() bool {
	return u.UpstreamBaseURL == nil && u.Credential == nil && u.DefaultModel == nil &&
		u.CredentialReplaceMode == nil && u.ModelReplaceMode == nil &&
		u.AutoReplaceCredential == nil && u.AutoReplaceModel == nil
}

// Validate checks the mode fields of the update.
func (u Update) Validate() error {
	if u.CredentialReplaceMode != nil && !u.CredentialReplaceMode.Valid() {
		return fmt.Errorf("credential_replace_mode: invalid value %q", *u.CredentialReplaceMode)
	}
	if u.ModelReplaceMode != nil && !u.ModelReplaceMode.Valid() {
		return fmt.Errorf("model_replace_mode: invalid value %q", *u.ModelReplaceMode)
	}
	return nil
}

func (u Update) applyTo(c Config) Config {
	if u.UpstreamBaseURL != nil {
		c.UpstreamBaseURL = *u.UpstreamBaseURL
	}
	if u.Credential != nil {
		c.Credential = *u.Credential
	}
	if u.DefaultModel != nil {
		c.DefaultModel = *u.DefaultModel
	}
	if u.CredentialReplaceMode != nil {
		c.CredentialReplaceMode = *u.CredentialReplaceMode
	}
	if u.ModelReplaceMode != nil {
		c.ModelReplaceMode = *u.ModelReplaceMode
	}
	if u.AutoReplaceCredential != nil {
		c.AutoReplaceCredential = *u.AutoReplaceCredential
	}
	if u.AutoReplaceModel != nil {
		c.AutoReplaceModel = *u.AutoReplaceModel
	}
	return c
}

// Source is the read side of the policy used by the request path.
type Source interface {
	Snapshot() Config
}

// Store owns the single active Config. Readers get copies; writers are serialized.
type Store struct {
	mu       sync.RWMutex
	cfg      Config
	version  uint64
	onChange []func(Config)

	// notifyMu orders hook delivery; notified is the newest version handed to hooks
	notifyMu sync.Mutex
	notified uint64
}

// NewStore creates a store seeded with cfg.
func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg}
}

// Snapshot returns the current configuration.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Apply merges u into the current configuration and returns the new snapshot.
// OnChange hooks run outside the store lock, one Apply at a time and in version order.
// A snapshot already superseded by a delivered one is skipped, so the last config a
// hook sees is always the live one. Hooks must not call Apply.
func (s *Store) Apply(u Update) Config {
	s.mu.Lock()
	s.cfg = u.applyTo(s.cfg)
	s.version++
	next, version := s.cfg, s.version
	hooks := append([]func(Config){}, s.onChange...)
	s.mu.Unlock()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if version <= s.notified {
		return next
	}
	s.notified = version
	for _, fn := range hooks {
		fn(next)
	}
	return next
}

// OnChange registers fn to be called with every new snapshot produced by Apply.
func (s *Store) OnChange(fn func(Config)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool { return &v }

// ModePtr returns a pointer to v.
func ModePtr(v ReplaceMode) *ReplaceMode { return &v }
