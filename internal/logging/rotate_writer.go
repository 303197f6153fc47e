package logging

import (
	"fmt"
	"os"
	"sync"
)

const (
	defaultRotateSize    = 10 * 1024 * 1024
	defaultRotateBackups = 5
)

// rotateWriter is a zapcore.WriteSyncer that renames path to path.1 (shifting older
// backups up to path.N) once the next write would exceed maxSize.
type rotateWriter struct {
	path       string
	maxSize    int64
	maxBackups int
	mu         sync.Mutex
	file       *os.File
	size       int64
}

func newRotateWriter(path string, maxSize int64, maxBackups int) (*rotateWriter, error) {
	if maxSize <= 0 {
		maxSize = defaultRotateSize
	}
	if maxBackups <= 0 {
		maxBackups = defaultRotateBackups
	}
	rw := &rotateWriter{path: path, maxSize: maxSize, maxBackups: maxBackups}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *rotateWriter) open() error {
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	rw.size = 0
	if fi, err := f.Stat(); err == nil {
		rw.size = fi.Size()
	}
	rw.file = f
	return nil
}

func (rw *rotateWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		if err := rw.open(); err != nil {
			return 0, err
		}
	}
	if rw.size > 0 && rw.size+int64(len(p)) > rw.maxSize {
		_ = rw.file.Close()
		rw.rotate()
		if err := rw.open(); err != nil {
			rw.file = nil
			return 0, err
		}
	}
	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

func (rw *rotateWriter) rotate() {
	for i := rw.maxBackups - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", rw.path, i)
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, fmt.Sprintf("%s.%d", rw.path, i+1))
		}
	}
	_ = os.Rename(rw.path, rw.path+".1")
}

func (rw *rotateWriter) Sync() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file != nil {
		return rw.file.Sync()
	}
	return nil
}

func (rw *rotateWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}
