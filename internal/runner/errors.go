package runner

import (
	"errors"
	"strings"
)

// ErrChainTooShort is returned by Chain when fewer than two invocations are given.
var ErrChainTooShort = errors.New("chain needs at least 2 stages")

// ErrExecution is the sentinel wrapped by every ExecError.
var ErrExecution = errors.New("execution failed")

// ErrPending is returned by Result while the Task has not settled.
var ErrPending = errors.New("task still running")

// ExecError reports that an external invocation terminated abnormally.
type ExecError struct {
	Args    []string
	Message string
}

func (e *ExecError) Error() string {
	return "exec " + strings.Join(e.Args, " ") + ": " + e.Message
}

// Unwrap lets errors.Is(err, ErrExecution) match.
func (e *ExecError) Unwrap() error { return ErrExecution }
