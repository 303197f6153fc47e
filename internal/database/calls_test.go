package database

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itshen/AI-message-hook/internal/audit"
)

// testDB opens a migrated in-memory SQLite database.
func testDB(t *testing.T) *DB {
	t.Helper()
	cfg := DefaultFullConfig()
	cfg.Path = ":memory:"
	db, err := NewFromConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleCall() *audit.CallRecord {
	return &audit.CallRecord{
		Timestamp:              time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		RequestID:              "req-1",
		Method:                 "POST",
		Path:                   "/chat/completions",
		OriginalURL:            "/api/v1/chat/completions",
		UpstreamService:        "OpenRouter",
		ResolvedModel:          "claude-3",
		UpstreamBaseURL:        "https://openrouter.ai/api/v1",
		RequestHeadersOriginal: map[string]string{"Authorization": "Bearer caller", "Host": "localhost"},
		RequestHeadersModified: map[string]string{"Authorization": "Bearer injected"},
		RequestBodyOriginal:    map[string]any{"model": "claude-3", "stream": true},
		RequestBodyModified:    map[string]any{"model": "gpt-4o", "stream": true},
	}
}

func TestCallStore_RecordAndFinalize(t *testing.T) {
	store := NewCallStore(testDB(t))
	ctx := context.Background()

	id, err := store.RecordCall(ctx, sampleCall())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	stored, err := store.GetCall(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, stored.Response)
	assert.Equal(t, "POST", stored.Call.Method)
	assert.Equal(t, "req-1", stored.Call.RequestID)
	assert.Equal(t, "claude-3", stored.Call.ResolvedModel)
	assert.True(t, stored.Call.Timestamp.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Bearer caller", stored.Call.RequestHeadersOriginal["Authorization"])
	assert.Equal(t, "Bearer injected", stored.Call.RequestHeadersModified["Authorization"])
	body := stored.Call.RequestBodyModified.(map[string]any)
	assert.Equal(t, "gpt-4o", body["model"])
	assert.Equal(t, true, body["stream"])

	resp := &audit.ResponseRecord{
		StatusCode:       200,
		Headers:          map[string]string{"Content-Type": "text/event-stream"},
		BodyText:         "data: <b>hi</b>\n\n",
		IsStream:         true,
		TimeTakenSeconds: 1.25,
	}
	require.NoError(t, store.FinalizeResponse(ctx, id, resp))

	stored, err = store.GetCall(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored.Response)
	assert.Equal(t, *resp, *stored.Response)
}

func TestCallStore_FinalizeErrors(t *testing.T) {
	store := NewCallStore(testDB(t))
	ctx := context.Background()

	err := store.FinalizeResponse(ctx, "missing", &audit.ResponseRecord{StatusCode: 200})
	assert.ErrorIs(t, err, audit.ErrCallNotFound)

	id, err := store.RecordCall(ctx, sampleCall())
	require.NoError(t, err)
	require.NoError(t, store.FinalizeResponse(ctx, id, &audit.ResponseRecord{StatusCode: 500, Error: "boom"}))
	assert.ErrorIs(t, store.FinalizeResponse(ctx, id, &audit.ResponseRecord{StatusCode: 200}), audit.ErrAlreadyFinalized)

	stored, err := store.GetCall(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 500, stored.Response.StatusCode)
	assert.Equal(t, "boom", stored.Response.Error)

	assert.Error(t, store.FinalizeResponse(ctx, id, nil))
	_, err = store.GetCall(ctx, "missing")
	assert.ErrorIs(t, err, audit.ErrCallNotFound)
}

func TestCallStore_KeepsPresetIDAndNilBodies(t *testing.T) {
	store := NewCallStore(testDB(t))
	ctx := context.Background()

	call := &audit.CallRecord{ID: "fixed-id", Method: "GET", Path: "/models", UpstreamService: "Unknown"}
	id, err := store.RecordCall(ctx, call)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)
	assert.False(t, call.Timestamp.IsZero())

	stored, err := store.GetCall(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, stored.Call.RequestBodyOriginal)
	assert.Nil(t, stored.Call.RequestBodyModified)

	_, err = store.RecordCall(ctx, &audit.CallRecord{ID: "fixed-id", Method: "GET"})
	assert.Error(t, err, "duplicate call IDs are rejected")
}

func TestCallStore_NilHeadersStoredAsObject(t *testing.T) {
	db := testDB(t)
	store := NewCallStore(db)
	ctx := context.Background()

	id, err := store.RecordCall(ctx, &audit.CallRecord{Method: "GET", Path: "/models", UpstreamService: "Unknown"})
	require.NoError(t, err)
	require.NoError(t, store.FinalizeResponse(ctx, id, &audit.ResponseRecord{StatusCode: 200}))

	var orig, mod, resp string
	require.NoError(t, db.QueryRowContextRebound(ctx,
		`SELECT request_headers_original, request_headers_modified FROM calls WHERE id = ?`, id).Scan(&orig, &mod))
	require.NoError(t, db.QueryRowContextRebound(ctx,
		`SELECT headers FROM responses WHERE call_id = ?`, id).Scan(&resp))
	assert.Equal(t, "{}", orig)
	assert.Equal(t, "{}", mod)
	assert.Equal(t, "{}", resp)

	stored, err := store.GetCall(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, stored.Call.RequestHeadersOriginal)
	assert.Empty(t, stored.Call.RequestHeadersOriginal)
	require.NotNil(t, stored.Response)
	assert.NotNil(t, stored.Response.Headers)
}

func TestCallStore_JSONNumbersPreserved(t *testing.T) {
	store := NewCallStore(testDB(t))
	ctx := context.Background()

	call := sampleCall()
	call.RequestBodyOriginal = map[string]any{"max_tokens": json.Number("12345678901234567")}
	id, err := store.RecordCall(ctx, call)
	require.NoError(t, err)

	stored, err := store.GetCall(ctx, id)
	require.NoError(t, err)
	body := stored.Call.RequestBodyOriginal.(map[string]any)
	assert.Equal(t, json.Number("12345678901234567"), body["max_tokens"])
}

func TestGetStats(t *testing.T) {
	db := testDB(t)
	store := NewCallStore(db)
	ctx := context.Background()

	a, err := store.RecordCall(ctx, sampleCall())
	require.NoError(t, err)
	b, err := store.RecordCall(ctx, sampleCall())
	require.NoError(t, err)
	_, err = store.RecordCall(ctx, sampleCall())
	require.NoError(t, err)

	require.NoError(t, store.FinalizeResponse(ctx, a, &audit.ResponseRecord{StatusCode: 200, IsStream: true}))
	require.NoError(t, store.FinalizeResponse(ctx, b, &audit.ResponseRecord{StatusCode: 500, Error: "refused"}))

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Calls: 3, Finalized: 2, Pending: 1, Streamed: 1, Errored: 1}, stats)
}

func TestNewFromConfig_SQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "calls.db")
	cfg := DefaultFullConfig()
	cfg.Path = path
	db, err := NewFromConfig(cfg)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, DriverSQLite, db.Driver())
	require.NoError(t, db.Ping(context.Background()))

	version, err := db.Migrations().Status()
	require.NoError(t, err)
	latest, err := db.Migrations().Latest()
	require.NoError(t, err)
	assert.Equal(t, latest, version)
}
