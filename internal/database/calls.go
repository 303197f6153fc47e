package database

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/itshen/AI-message-hook/internal/audit"
)

var _ audit.Recorder = (*CallStore)(nil)

// CallStore persists calls and their responses. It implements audit.Recorder.
type CallStore struct {
	db  *DB
	now func() time.Time
}

// NewCallStore wraps an open database.
func NewCallStore(db *DB) *CallStore {
	return &CallStore{db: db, now: time.Now}
}

// RecordCall inserts the call row. An empty ID is replaced by a new UUID.
func (s *CallStore) RecordCall(ctx context.Context, call *audit.CallRecord) (string, error) {
	if s == nil || s.db == nil || s.db.db == nil {
		return "", fmt.Errorf("database is nil")
	}
	if call == nil {
		return "", fmt.Errorf("audit call record cannot be nil")
	}
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.Timestamp.IsZero() {
		call.Timestamp = s.now()
	}

	headersOrig, err := marshalHeaders(call.RequestHeadersOriginal)
	if err != nil {
		return "", fmt.Errorf("failed to marshal original headers: %w", err)
	}
	headersMod, err := marshalHeaders(call.RequestHeadersModified)
	if err != nil {
		return "", fmt.Errorf("failed to marshal modified headers: %w", err)
	}
	bodyOrig, err := marshalOptionalJSON(call.RequestBodyOriginal)
	if err != nil {
		return "", fmt.Errorf("failed to marshal original body: %w", err)
	}
	bodyMod, err := marshalOptionalJSON(call.RequestBodyModified)
	if err != nil {
		return "", fmt.Errorf("failed to marshal modified body: %w", err)
	}

	query := `INSERT INTO calls (
		id, timestamp, request_id, method, path, original_url, upstream_service,
		resolved_model, upstream_base_url, request_headers_original, request_headers_modified,
		request_body_original, request_body_modified
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContextRebound(ctx, query,
		call.ID,
		call.Timestamp.UTC(),
		nullString(call.RequestID),
		call.Method,
		call.Path,
		nullString(call.OriginalURL),
		call.UpstreamService,
		nullString(call.ResolvedModel),
		call.UpstreamBaseURL,
		headersOrig,
		headersMod,
		bodyOrig,
		bodyMod,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert call: %w", err)
	}
	return call.ID, nil
}

// FinalizeResponse stores the response for callID. It fails with audit.ErrCallNotFound
// for unknown calls and audit.ErrAlreadyFinalized on a second attempt.
func (s *CallStore) FinalizeResponse(ctx context.Context, callID string, resp *audit.ResponseRecord) error {
	if s == nil || s.db == nil || s.db.db == nil {
		return fmt.Errorf("database is nil")
	}
	if resp == nil {
		return fmt.Errorf("audit response record cannot be nil")
	}
	headers, err := marshalHeaders(resp.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal response headers: %w", err)
	}

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		var n int
		err := tx.QueryRowContext(ctx, s.db.RebindQuery(`SELECT COUNT(*) FROM calls WHERE id = ?`), callID).Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to look up call: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("finalize %s: %w", callID, audit.ErrCallNotFound)
		}

		err = tx.QueryRowContext(ctx, s.db.RebindQuery(`SELECT COUNT(*) FROM responses WHERE call_id = ?`), callID).Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to look up response: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("finalize %s: %w", callID, audit.ErrAlreadyFinalized)
		}

		_, err = tx.ExecContext(ctx, s.db.RebindQuery(`INSERT INTO responses (
			call_id, status_code, headers, body_text, is_stream, time_taken_seconds, error, finalized_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			callID,
			resp.StatusCode,
			headers,
			resp.BodyText,
			resp.IsStream,
			resp.TimeTakenSeconds,
			nullString(resp.Error),
			s.now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert response: %w", err)
		}
		return nil
	})
}

// StoredCall is a call row joined with its response, if finalized.
type StoredCall struct {
	Call     audit.CallRecord
	Response *audit.ResponseRecord
}

// GetCall loads one call and its response.
func (s *CallStore) GetCall(ctx context.Context, id string) (*StoredCall, error) {
	var (
		call                   audit.CallRecord
		requestID, originalURL sql.NullString
		resolvedModel          sql.NullString
		headersOrig, headersMod string
		bodyOrig, bodyMod      sql.NullString
	)
	err := s.db.QueryRowContextRebound(ctx, `SELECT
		id, timestamp, request_id, method, path, original_url, upstream_service,
		resolved_model, upstream_base_url, request_headers_original, request_headers_modified,
		request_body_original, request_body_modified
	FROM calls WHERE id = ?`, id).Scan(
		&call.ID, &call.Timestamp, &requestID, &call.Method, &call.Path, &originalURL,
		&call.UpstreamService, &resolvedModel, &call.UpstreamBaseURL, &headersOrig, &headersMod,
		&bodyOrig, &bodyMod,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get call %s: %w", id, audit.ErrCallNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	call.RequestID = requestID.String
	call.OriginalURL = originalURL.String
	call.ResolvedModel = resolvedModel.String
	if err := json.Unmarshal([]byte(headersOrig), &call.RequestHeadersOriginal); err != nil {
		return nil, fmt.Errorf("failed to decode original headers: %w", err)
	}
	if err := json.Unmarshal([]byte(headersMod), &call.RequestHeadersModified); err != nil {
		return nil, fmt.Errorf("failed to decode modified headers: %w", err)
	}
	if call.RequestBodyOriginal, err = unmarshalOptionalJSON(bodyOrig); err != nil {
		return nil, fmt.Errorf("failed to decode original body: %w", err)
	}
	if call.RequestBodyModified, err = unmarshalOptionalJSON(bodyMod); err != nil {
		return nil, fmt.Errorf("failed to decode modified body: %w", err)
	}

	out := &StoredCall{Call: call}

	var (
		resp       audit.ResponseRecord
		respHeader string
		respErr    sql.NullString
	)
	err = s.db.QueryRowContextRebound(ctx, `SELECT
		status_code, headers, body_text, is_stream, time_taken_seconds, error
	FROM responses WHERE call_id = ?`, id).Scan(
		&resp.StatusCode, &respHeader, &resp.BodyText, &resp.IsStream, &resp.TimeTakenSeconds, &respErr,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return out, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get response: %w", err)
	}
	resp.Error = respErr.String
	if err := json.Unmarshal([]byte(respHeader), &resp.Headers); err != nil {
		return nil, fmt.Errorf("failed to decode response headers: %w", err)
	}
	out.Response = &resp
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// marshalHeaders stores a nil map as {} so header columns always hold an object.
func marshalHeaders(h map[string]string) (string, error) {
	if h == nil {
		return "{}", nil
	}
	return marshalJSON(h)
}

func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func marshalOptionalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	s, err := marshalJSON(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func unmarshalOptionalJSON(s sql.NullString) (any, error) {
	if !s.Valid {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s.String)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
