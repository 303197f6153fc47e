package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for policy files that are neither YAML nor TOML.
var ErrUnsupportedFormat = errors.New("unsupported policy file format")

// fileConfig mirrors Config with optional fields so a file may set only some values.
type fileConfig struct {
	UpstreamBaseURL       *string `yaml:"upstream_base_url,omitempty" toml:"upstream_base_url,omitempty"`
	Credential            *string `yaml:"credential,omitempty" toml:"credential,omitempty"`
	DefaultModel          *string `yaml:"default_model,omitempty" toml:"default_model,omitempty"`
	CredentialReplaceMode *string `yaml:"credential_replace_mode,omitempty" toml:"credential_replace_mode,omitempty"`
	ModelReplaceMode      *string `yaml:"model_replace_mode,omitempty" toml:"model_replace_mode,omitempty"`
	AutoReplaceCredential *bool   `yaml:"auto_replace_credential,omitempty" toml:"auto_replace_credential,omitempty"`
	AutoReplaceModel      *bool   `yaml:"auto_replace_model,omitempty" toml:"auto_replace_model,omitempty"`
}

func (f fileConfig) toUpdate() (Update, error) {
	u := Update{
		UpstreamBaseURL:       f.UpstreamBaseURL,
		Credential:            f.Credential,
		DefaultModel:          f.DefaultModel,
		AutoReplaceCredential: f.AutoReplaceCredential,
		AutoReplaceModel:      f.AutoReplaceModel,
	}
	if f.CredentialReplaceMode != nil {
		m, err := ParseReplaceMode(*f.CredentialReplaceMode)
		if err != nil {
			return Update{}, fmt.Errorf("credential_replace_mode: %w", err)
		}
		u.CredentialReplaceMode = &m
	}
	if f.ModelReplaceMode != nil {
		m, err := ParseReplaceMode(*f.ModelReplaceMode)
		if err != nil {
			return Update{}, fmt.Errorf("model_replace_mode: %w", err)
		}
		u.ModelReplaceMode = &m
	}
	return u, nil
}

func formatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".toml":
		return "toml", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// LoadFile reads a YAML or TOML policy file and returns the values it sets as an Update.
// A missing file yields an empty Update and no error.
func LoadFile(path string) (Update, error) {
	format, err := formatOf(path)
	if err != nil {
		return Update{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Update{}, nil
		}
		return Update{}, fmt.Errorf("failed to read policy file: %w", err)
	}

	var fc fileConfig
	switch format {
	case "yaml":
		err = yaml.Unmarshal(data, &fc)
	case "toml":
		err = toml.Unmarshal(data, &fc)
	}
	if err != nil {
		return Update{}, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	return fc.toUpdate()
}

// SaveFile writes cfg to path in the format implied by its extension.
// The file is written to a temporary sibling and renamed into place.
func SaveFile(path string, cfg Config) error {
	format, err := formatOf(path)
	if err != nil {
		return err
	}

	var data []byte
	switch format {
	case "yaml":
		data, err = yaml.Marshal(cfg)
	case "toml":
		data, err = toml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create policy directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write policy file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace policy file: %w", err)
	}
	return nil
}
