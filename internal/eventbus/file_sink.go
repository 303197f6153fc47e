package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// FileSink appends events to a file as JSON lines.
type FileSink struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewFileSink opens path for appending.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("event log path is required")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	return &FileSink{path: path, file: file}, nil
}

// Write appends one event.
func (s *FileSink) Write(evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("event log %s is closed", s.path)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data = append(data, '\n')
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return s.file.Sync()
}

// Run consumes events until the channel closes or ctx is done.
func (s *FileSink) Run(ctx context.Context, events <-chan Event, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := s.Write(evt); err != nil {
				logger.Warn("Failed to write event log entry", zap.String("call_id", evt.CallID), zap.Error(err))
			}
		}
	}
}

// Close closes the file handle.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}
