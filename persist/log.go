// Package persist records predictions: a primary durable store when one is
// configured, a local JSON-lines log otherwise.
package persist

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"educare/ml"

	"go.uber.org/zap"
)

// ErrNoSavedPredictions means the fallback log does not exist yet.
var ErrNoSavedPredictions = errors.New("no saved predictions")

// MalformedRecordError describes a log line that is not a JSON object.
type MalformedRecordError struct {
	Line int
	Err  error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// Log is the append-only fallback file, one JSON object per line.
type Log struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

func NewLog(path string, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{path: path, logger: logger}
}

func (l *Log) Path() string { return l.path }

// Append writes each record as one line. Appends from this process are
// serialized by a mutex and across processes by an advisory file lock.
func (l *Log) Append(records []ml.Row) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	unlock, err := lockFile(f)
	if err != nil {
		return fmt.Errorf("lock %s: %w", l.path, err)
	}
	defer unlock()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return err
	}
	return f.Sync()
}

// ReadAll returns every well-formed record in file order. Lines that do not
// decode to an object are skipped.
func (l *Log) ReadAll() ([]ml.Row, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSavedPredictions
		}
		return nil, err
	}
	defer f.Close()

	records := []ml.Row{}
	reader := bufio.NewReader(f)
	for line := 1; ; line++ {
		raw, readErr := reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("read %s: %w", l.path, readErr)
		}
		if text := bytes.TrimSpace(raw); len(text) > 0 {
			var rec ml.Row
			if err := json.Unmarshal(text, &rec); err != nil {
				l.logger.Debug("skipping saved prediction",
					zap.String("path", l.path),
					zap.Error(&MalformedRecordError{Line: line, Err: err}))
			} else {
				records = append(records, rec)
			}
		}
		if readErr != nil {
			return records, nil
		}
	}
}

// Locked runs fn while no append can be in flight.
func (l *Log) Locked(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn()
}
