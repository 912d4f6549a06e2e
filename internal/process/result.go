package process

import (
	"fmt"
	"time"
)

// Outcome discriminates how an execution ended.
type Outcome string

const (
	// OutcomeSuccess: the command ran and exited 0.
	OutcomeSuccess Outcome = "success"
	// OutcomeCommandFailure: the command ran and exited nonzero. This is
	// data about the command, not a supervisor error.
	OutcomeCommandFailure Outcome = "command_failure"
	// OutcomeTimeout: the time budget elapsed and the process was terminated.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeCancelled: the caller's context ended and the process was terminated.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeSpawnError: the interpreter could not be launched.
	OutcomeSpawnError Outcome = "spawn_error"
)

// Ran reports whether the process started and exited on its own.
func (o Outcome) Ran() bool {
	return o == OutcomeSuccess || o == OutcomeCommandFailure
}

// Terminated reports whether the supervisor killed the process.
func (o Outcome) Terminated() bool {
	return o == OutcomeTimeout || o == OutcomeCancelled
}

// Result is the immutable record of one execution. ReturnCode is nil when
// the process never started or was forcibly terminated.
type Result struct {
	Stdout          string  `json:"stdout"`
	Stderr          string  `json:"stderr"`
	ReturnCode      *int    `json:"returncode"`
	Message         string  `json:"message"`
	Interpreter     string  `json:"resolved-interpreter"`
	InterpreterPath string  `json:"interpreter_path"`
	Status          Outcome `json:"status"`
	DurationMs      int64   `json:"duration_ms"`
	Truncated       bool    `json:"truncated"`

	// PID of the child, zero when it never started.
	PID int `json:"-"`
	// Err is a *SpawnError or *TimeoutError for the matching outcomes,
	// nil otherwise.
	Err error `json:"-"`
}

// Duration returns how long the execution took.
func (r *Result) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// SpawnError means the interpreter process could not be started.
type SpawnError struct {
	Interpreter string
	Path        string
	Err         error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s (%s): %v", e.Interpreter, e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// TimeoutError means the process was terminated by the supervisor. Cancelled
// is set when the caller's context ended rather than the time budget.
type TimeoutError struct {
	Timeout   time.Duration
	Cancelled bool
	// Forced is set when the process ignored the cooperative stop and had
	// to be killed.
	Forced bool
}

func (e *TimeoutError) Error() string {
	if e.Cancelled {
		return "command cancelled"
	}
	return fmt.Sprintf("command timed out after %s", e.Timeout)
}
