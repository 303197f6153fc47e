package main

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/itshen/AI-message-hook/internal/admin"
	"github.com/itshen/AI-message-hook/internal/policy"
)

const cliToken = "cli-manage-token"

func newManagementAPI(t *testing.T) (*httptest.Server, *policy.Store) {
	t.Helper()
	t.Setenv("MANAGEMENT_TOKEN", "")

	cfg := policy.DefaultConfig()
	cfg.Credential = "sk-or-v1-0123456789abcdef"
	store := policy.NewStore(cfg)
	auth, err := admin.NewTokenAuth(cliToken, "")
	require.NoError(t, err)

	srv := httptest.NewServer(admin.NewServer(store, auth, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func TestPolicyShow(t *testing.T) {
	srv, _ := newManagementAPI(t)

	out, err := executeCommand(t, "--manage-api-base-url", srv.URL, "policy", "show", "--management-token", cliToken)
	require.NoError(t, err)

	var got policy.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, "sk-o****cdef", got.Credential)
	assert.Equal(t, policy.DefaultUpstreamBaseURL, got.UpstreamBaseURL)
	assert.Equal(t, policy.ModeForce, got.CredentialReplaceMode)

	out, err = executeCommand(t, "--manage-api-base-url", srv.URL, "policy", "show", "--json", "--management-token", cliToken)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "sk-o****cdef", got.Credential)
}

func TestPolicyShow_TokenFromEnv(t *testing.T) {
	srv, _ := newManagementAPI(t)
	t.Setenv("MANAGEMENT_TOKEN", cliToken)

	_, err := executeCommand(t, "--manage-api-base-url", srv.URL, "policy", "show")
	assert.NoError(t, err)
}

func TestPolicyShow_Errors(t *testing.T) {
	srv, _ := newManagementAPI(t)

	_, err := executeCommand(t, "--manage-api-base-url", srv.URL, "policy", "show")
	assert.ErrorContains(t, err, "management token is required")

	_, err = executeCommand(t, "--manage-api-base-url", srv.URL, "policy", "show", "--management-token", "wrong")
	assert.ErrorContains(t, err, "API error (401)")
}

func TestPolicySet_OnlyChangedFlags(t *testing.T) {
	srv, store := newManagementAPI(t)

	out, err := executeCommand(t, "--manage-api-base-url", srv.URL, "policy", "set",
		"--management-token", cliToken,
		"--model", "gpt-4o-mini",
		"--model-mode", "fill_if_missing",
		"--auto-credential=false",
		"--json")
	require.NoError(t, err)

	cfg := store.Snapshot()
	assert.Equal(t, "gpt-4o-mini", cfg.DefaultModel)
	assert.Equal(t, policy.ModeFillIfMissing, cfg.ModelReplaceMode)
	assert.False(t, cfg.AutoReplaceCredential)
	// not passed, so untouched
	assert.True(t, cfg.AutoReplaceModel)
	assert.Equal(t, "sk-or-v1-0123456789abcdef", cfg.Credential)
	assert.Equal(t, policy.ModeForce, cfg.CredentialReplaceMode)

	assert.Contains(t, out, `"default_model": "gpt-4o-mini"`)
	assert.NotContains(t, out, "0123456789")
}

func TestPolicySet_ClearWithEmptyValue(t *testing.T) {
	srv, store := newManagementAPI(t)
	store.Apply(policy.Update{DefaultModel: policy.StringPtr("old-model")})

	_, err := executeCommand(t, "--manage-api-base-url", srv.URL, "policy", "set",
		"--management-token", cliToken, "--model", "")
	require.NoError(t, err)
	assert.Empty(t, store.Snapshot().DefaultModel)
}

func TestPolicySet_Errors(t *testing.T) {
	srv, store := newManagementAPI(t)
	before := store.Snapshot()

	_, err := executeCommand(t, "--manage-api-base-url", srv.URL, "policy", "set", "--management-token", cliToken)
	assert.ErrorContains(t, err, "nothing to change")

	_, err = executeCommand(t, "--manage-api-base-url", srv.URL, "policy", "set",
		"--management-token", cliToken, "--credential-mode", "sometimes")
	assert.ErrorContains(t, err, "--credential-mode")

	assert.Equal(t, before, store.Snapshot())
}

func TestHashToken(t *testing.T) {
	out, err := executeCommand(t, "policy", "hash-token", "s3cret", "--cost", "4")
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, 4, cost)

	auth, err := admin.NewTokenAuth("", hash)
	require.NoError(t, err)
	assert.True(t, auth.Verify("s3cret"))

	_, err = executeCommand(t, "policy", "hash-token")
	assert.Error(t, err)
}
