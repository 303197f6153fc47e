package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/itshen/AI-message-hook/internal/database"
	"github.com/itshen/AI-message-hook/internal/policy"
)

const testToken = "manage-secret"

func newTestServer(t *testing.T, opts ...Option) (*Server, *policy.Store, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	auth, err := NewTokenAuth(testToken, "")
	require.NoError(t, err)

	cfg := policy.DefaultConfig()
	cfg.Credential = "sk-or-v1-abcdefghijklmnop"
	store := policy.NewStore(cfg)
	return NewServer(store, auth, zap.New(core), opts...), store, logs
}

func do(t *testing.T, s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestGetPolicy_Masked(t *testing.T) {
	s, _, logs := newTestServer(t)

	w := do(t, s, http.MethodGet, "/manage/policy", testToken, "")
	require.Equal(t, http.StatusOK, w.Code)

	var got policy.Config
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "sk-o****mnop", got.Credential)
	assert.Equal(t, policy.DefaultUpstreamBaseURL, got.UpstreamBaseURL)
	assert.NotContains(t, w.Body.String(), "abcdefghijklmnop")

	assert.Equal(t, 1, logs.FilterField(zap.String("event_type", "policy_read")).Len())
}

func TestPatchPolicy_PartialUpdate(t *testing.T) {
	s, store, logs := newTestServer(t)

	w := do(t, s, http.MethodPatch, "/manage/policy", testToken,
		`{"default_model":"gpt-4o","model_replace_mode":"fill_if_missing","auto_replace_model":false}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	cfg := store.Snapshot()
	assert.Equal(t, "gpt-4o", cfg.DefaultModel)
	assert.Equal(t, policy.ModeFillIfMissing, cfg.ModelReplaceMode)
	assert.False(t, cfg.AutoReplaceModel)
	// untouched fields survive
	assert.Equal(t, "sk-or-v1-abcdefghijklmnop", cfg.Credential)
	assert.Equal(t, policy.ModeForce, cfg.CredentialReplaceMode)

	var got policy.Config
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "sk-o****mnop", got.Credential)

	entries := logs.FilterField(zap.String("event_type", "policy_change")).All()
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].ContextMap(), "credential")
}

func TestPatchPolicy_InvalidMode(t *testing.T) {
	s, store, _ := newTestServer(t)
	before := store.Snapshot()

	w := do(t, s, http.MethodPatch, "/manage/policy", testToken, `{"credential_replace_mode":"sometimes"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "credential_replace_mode")
	assert.Equal(t, before, store.Snapshot())

	w = do(t, s, http.MethodPatch, "/manage/policy", testToken, `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuth(t *testing.T) {
	s, _, logs := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/manage/policy", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/manage/policy", "wrong", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/manage/policy", nil)
	req.Header.Set("Authorization", "Basic "+testToken)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Equal(t, 3, logs.FilterField(zap.String("event_type", "auth_failure")).Len())
}

type fakeStats struct {
	stats database.Stats
	err   error
}

func (f fakeStats) GetStats(context.Context) (database.Stats, error) { return f.stats, f.err }

func TestStats(t *testing.T) {
	s, _, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/manage/stats", testToken, "").Code)

	s, _, _ = newTestServer(t, WithStats(fakeStats{stats: database.Stats{Calls: 4, Finalized: 3, Pending: 1}}))
	w := do(t, s, http.MethodGet, "/manage/stats", testToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"calls":4,"finalized":3,"pending":1,"streamed":0,"errored":0}`, w.Body.String())

	s, _, _ = newTestServer(t, WithStats(fakeStats{err: errors.New("db down")}))
	assert.Equal(t, http.StatusInternalServerError, do(t, s, http.MethodGet, "/manage/stats", testToken, "").Code)
}

func TestChangedFields(t *testing.T) {
	u := policy.Update{
		Credential:       policy.StringPtr("x"),
		AutoReplaceModel: policy.BoolPtr(true),
		UpstreamBaseURL:  policy.StringPtr("http://u"),
	}
	assert.Equal(t, []string{"auto_replace_model", "credential", "upstream_base_url"}, changedFields(u))
	assert.Nil(t, changedFields(policy.Update{}))
}
