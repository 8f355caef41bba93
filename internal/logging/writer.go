package logging

import (
	"fmt"
	"os"
	"sync"
)

// rolloverWriter appends to a log file and, when the file exceeds the
// size limit, renames it to <path>.old and starts fresh. One backup
// generation is kept.
type rolloverWriter struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	size     int64
	file     *os.File
}

func newRolloverWriter(path string, maxSizeMB int) (*rolloverWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	return &rolloverWriter{
		path:     path,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		size:     info.Size(),
		file:     f,
	}, nil
}

func (w *rolloverWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxBytes {
		if err := w.rollover(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// rollover must be called with the lock held.
func (w *rolloverWriter) rollover() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(w.path, w.path+".old"); err != nil && !os.IsNotExist(err) {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.size = 0
	return nil
}

func (w *rolloverWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
