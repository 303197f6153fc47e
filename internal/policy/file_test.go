package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := "upstream_base_url: http://localhost:9999/v1\n" +
		"default_model: openai/gpt-4o\n" +
		"model_replace_mode: fill_if_missing\n" +
		"auto_replace_credential: false\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	u, err := LoadFile(path)
	require.NoError(t, err)

	cfg := u.applyTo(DefaultConfig())
	assert.Equal(t, "http://localhost:9999/v1", cfg.UpstreamBaseURL)
	assert.Equal(t, "openai/gpt-4o", cfg.DefaultModel)
	assert.Equal(t, ModeFillIfMissing, cfg.ModelReplaceMode)
	assert.Equal(t, ModeForce, cfg.CredentialReplaceMode)
	assert.False(t, cfg.AutoReplaceCredential)
	assert.True(t, cfg.AutoReplaceModel)
	assert.Nil(t, u.Credential)
}

func TestLoadFile_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.toml")
	content := "credential = \"sk-file\"\ncredential_replace_mode = \"force\"\nauto_replace_model = false\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	u, err := LoadFile(path)
	require.NoError(t, err)
	require.NotNil(t, u.Credential)
	assert.Equal(t, "sk-file", *u.Credential)
	require.NotNil(t, u.AutoReplaceModel)
	assert.False(t, *u.AutoReplaceModel)
	assert.Nil(t, u.UpstreamBaseURL)
}

func TestLoadFile_MissingIsEmpty(t *testing.T) {
	u, err := LoadFile(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.True(t, u.IsEmpty())
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile("policy.json")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("model_replace_mode: maybe\n"), 0o600))
	_, err = LoadFile(bad)
	assert.Error(t, err)

	broken := filepath.Join(dir, "broken.toml")
	require.NoError(t, os.WriteFile(broken, []byte("credential = \n"), 0o600))
	_, err = LoadFile(broken)
	assert.Error(t, err)
}

func TestSaveFile_RoundTrip(t *testing.T) {
	for _, name := range []string{"policy.yaml", "policy.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := DefaultConfig()
			cfg.Credential = "sk-saved"
			cfg.DefaultModel = "anthropic/claude-3.5-sonnet"
			cfg.ModelReplaceMode = ModeFillIfMissing
			cfg.AutoReplaceCredential = false

			require.NoError(t, SaveFile(path, cfg))
			u, err := LoadFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, u.applyTo(Config{}))

			_, err = os.Stat(path + ".tmp")
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestSaveFile_UnsupportedFormat(t *testing.T) {
	err := SaveFile(filepath.Join(t.TempDir(), "p.ini"), DefaultConfig())
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
