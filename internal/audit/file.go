package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry types written to the JSONL file.
const (
	EntryCall     = "call"
	EntryResponse = "response"
)

// FileEntry is one line of the JSONL audit file.
type FileEntry struct {
	Type      string          `json:"type"`
	CallID    string          `json:"call_id"`
	Timestamp time.Time       `json:"timestamp"`
	Call      *CallRecord     `json:"call,omitempty"`
	Response  *ResponseRecord `json:"response,omitempty"`
}

// FileRecorder appends calls and responses to a file as JSON lines.
// It is safe for concurrent use.
type FileRecorder struct {
	file    *os.File
	writer  io.Writer
	mutex   sync.Mutex
	path    string
	pending map[string]struct{}
}

// FileConfig holds configuration for the file recorder
type FileConfig struct {
	// FilePath is the path to the audit log file
	FilePath string
	// CreateDir determines whether to create parent directories if they don't exist
	CreateDir bool
}

// NewFileRecorder opens (or creates) the audit file for appending.
func NewFileRecorder(config FileConfig) (*FileRecorder, error) {
	if config.FilePath == "" {
		return nil, fmt.Errorf("audit log file path cannot be empty")
	}

	if config.CreateDir {
		dir := filepath.Dir(config.FilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %w", err)
		}
	}

	file, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &FileRecorder{
		file:    file,
		writer:  file,
		path:    config.FilePath,
		pending: make(map[string]struct{}),
	}, nil
}

// NewNullFileRecorder creates a recorder that discards everything but still enforces
// the record/finalize lifecycle.
func NewNullFileRecorder() *FileRecorder {
	return &FileRecorder{
		writer:  io.Discard,
		pending: make(map[string]struct{}),
	}
}

// RecordCall writes the call line. A missing ID is generated.
func (r *FileRecorder) RecordCall(_ context.Context, call *CallRecord) (string, error) {
	if call == nil {
		return "", fmt.Errorf("audit call record cannot be nil")
	}
	if call.ID == "" {
		call.ID = uuid.NewString()
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.writeLocked(&FileEntry{Type: EntryCall, CallID: call.ID, Timestamp: call.Timestamp, Call: call}); err != nil {
		return "", err
	}
	r.pending[call.ID] = struct{}{}
	return call.ID, nil
}

// FinalizeResponse writes the response line for a previously recorded call.
func (r *FileRecorder) FinalizeResponse(_ context.Context, callID string, resp *ResponseRecord) error {
	if resp == nil {
		return fmt.Errorf("audit response record cannot be nil")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.pending[callID]; !ok {
		return fmt.Errorf("finalize %s: %w", callID, ErrCallNotFound)
	}
	if err := r.writeLocked(&FileEntry{Type: EntryResponse, CallID: callID, Timestamp: time.Now().UTC(), Response: resp}); err != nil {
		return err
	}
	delete(r.pending, callID)
	return nil
}

func (r *FileRecorder) writeLocked(entry *FileEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	data = append(data, '\n')
	if _, err := r.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	if syncer, ok := r.writer.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			return fmt.Errorf("failed to sync audit log: %w", err)
		}
	}
	return nil
}

// Close closes the audit file. The recorder must not be used afterwards.
func (r *FileRecorder) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		r.writer = io.Discard
		return err
	}
	return nil
}

// Path returns the file path of the audit log
func (r *FileRecorder) Path() string {
	return r.path
}
