// Package audit appends one NDJSON line per finished invocation. Writers in
// several server processes may share a file; appends are serialized with an
// advisory lock next to it.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/standardbeagle/climcp/internal/dispatch"
	"github.com/standardbeagle/climcp/internal/logging"
	"github.com/standardbeagle/climcp/internal/process"
	"github.com/standardbeagle/climcp/pkg/events"
)

const (
	DefaultFileMode = 0o644
	DefaultDirMode  = 0o755

	defaultLockTimeout = 5 * time.Second
)

// Record is one audit line.
type Record struct {
	Timestamp   time.Time `json:"ts"`
	ID          string    `json:"id"`
	Tool        string    `json:"tool"`
	State       string    `json:"state"`
	Status      string    `json:"status,omitempty"`
	ReturnCode  *int      `json:"returncode"`
	Interpreter string    `json:"interpreter,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	StdoutBytes int       `json:"stdout_bytes"`
	StderrBytes int       `json:"stderr_bytes"`
	Error       string    `json:"error,omitempty"`
}

// Log is an append-only audit file.
type Log struct {
	path        string
	lock        *flock.Flock
	lockTimeout time.Duration

	mu     sync.Mutex
	logger *zap.Logger
}

// Open prepares path for appending, creating it and its directory.
func Open(path string, logger *zap.Logger) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), DefaultDirMode); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, DefaultFileMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	f.Close()

	return &Log{
		path:        path,
		lock:        flock.New(path + ".lock"),
		lockTimeout: defaultLockTimeout,
		logger:      logging.OrNop(logger),
	}, nil
}

func (l *Log) Path() string {
	return l.path
}

// Write appends rec as a single line.
func (l *Log) Write(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.withLock(func() error {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, DefaultFileMode)
		if err != nil {
			return fmt.Errorf("failed to open audit file: %w", err)
		}
		if _, err := f.Write(line); err != nil {
			f.Close()
			return fmt.Errorf("failed to append audit record: %w", err)
		}
		return f.Close()
	})
}

// withLock runs fn while holding the exclusive file lock.
func (l *Log) withLock(fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.lockTimeout)
	defer cancel()

	locked, err := l.lock.TryLockContext(ctx, 100*time.Millisecond) // Retry every 100ms
	if err != nil {
		return fmt.Errorf("failed to acquire audit lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire audit lock within timeout (%v)", l.lockTimeout)
	}
	defer func() {
		if unlockErr := l.lock.Unlock(); unlockErr != nil {
			l.logger.Warn("failed to release audit lock", zap.Error(unlockErr))
		}
	}()

	return fn()
}

// Subscribe records every rejected and completed invocation published on bus.
func (l *Log) Subscribe(bus *events.EventBus) {
	handler := func(e events.Event) {
		if err := l.Write(RecordFromEvent(e)); err != nil {
			l.logger.Error("audit write failed", zap.String("invocation", e.InvocationID), zap.Error(err))
		}
	}
	bus.Subscribe(events.InvocationRejected, handler)
	bus.Subscribe(events.InvocationCompleted, handler)
}

// Close releases the lock handle.
func (l *Log) Close() error {
	return l.lock.Close()
}

// RecordFromEvent flattens an invocation event into an audit record.
func RecordFromEvent(e events.Event) Record {
	rec := Record{
		Timestamp: e.Timestamp,
		ID:        e.InvocationID,
	}
	rec.Tool, _ = e.Data["tool"].(string)
	rec.State, _ = e.Data["state"].(string)
	rec.DurationMs, _ = e.Data["duration_ms"].(int64)

	if payload, ok := e.Data["error"].(dispatch.ErrorPayload); ok {
		rec.Error = payload.Message
	}
	if res, ok := e.Data["result"].(*process.Result); ok && res != nil {
		rec.Status = string(res.Status)
		rec.ReturnCode = res.ReturnCode
		rec.Interpreter = res.Interpreter
		rec.StdoutBytes = len(res.Stdout)
		rec.StderrBytes = len(res.Stderr)
	}
	return rec
}
