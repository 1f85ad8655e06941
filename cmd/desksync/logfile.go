package main

import (
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	maxLogSizeBytes  = 6 * 1024 * 1024
	keepLogSizeBytes = 5 * 1024 * 1024
)

// logFileWriter appends to a log file and, once it grows past max bytes,
// keeps only its last keep bytes.
type logFileWriter struct {
	mu   sync.Mutex
	file *os.File
	max  int64
	keep int64
}

func newLogFileWriter(path string) (*logFileWriter, *os.File, error) {
	if err := ensureDir(path); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	w := &logFileWriter{file: file, max: maxLogSizeBytes, keep: keepLogSizeBytes}
	if err := w.truncateIfNeeded(); err != nil {
		file.Close()
		return nil, nil, err
	}
	return w, file, nil
}

func (w *logFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.file.Write(p)
	if err != nil {
		return n, err
	}
	return n, w.truncateIfNeeded()
}

func (w *logFileWriter) truncateIfNeeded() error {
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size <= w.max {
		return nil
	}

	tail := make([]byte, w.keep)
	n, err := w.file.ReadAt(tail, size-w.keep)
	if err != nil && err != io.EOF {
		return err
	}
	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err = w.file.Write(tail[:n])
	return err
}
