// Package task defines the task run domain entity.
package task

import (
	"fmt"
	"time"

	"github.com/Strob0t/TaskForge/internal/domain"
)

// Status represents the current state of a task run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusStopped || s == StatusFailed
}

// Kind identifies how a run was constructed.
type Kind string

const (
	KindSingle   Kind = "single"
	KindChain    Kind = "chain"
	KindDownload Kind = "download"
	KindTool     Kind = "tool"
)

// Run is the persisted record of one task.
type Run struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Label      string     `json:"label"`
	Args       [][]string `json:"args,omitempty"`
	EventID    string     `json:"event_id,omitempty"`
	Status     Status     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StatusFor maps a settled task outcome to a run status.
func StatusFor(continued bool, err error) Status {
	switch {
	case err != nil:
		return StatusFailed
	case continued:
		return StatusCompleted
	default:
		return StatusStopped
	}
}

// CommandRequest asks for a single invocation.
type CommandRequest struct {
	Args []string `json:"args"`
}

// Validate checks the request has a command.
func (r *CommandRequest) Validate() error {
	return validateArgs(r.Args)
}

// ChainRequest asks for a sequential chain of invocations.
type ChainRequest struct {
	Stages [][]string `json:"stages"`
}

// Validate checks every stage has a command. The stage count is checked by
// the chainer itself.
func (r *ChainRequest) Validate() error {
	for i, args := range r.Stages {
		if err := validateArgs(args); err != nil {
			return fmt.Errorf("stage %d: %w", i+1, err)
		}
	}
	return nil
}

// DownloadRequest asks for a file download.
type DownloadRequest struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// Validate checks both fields are set.
func (r *DownloadRequest) Validate() error {
	if r.Path == "" {
		return fmt.Errorf("%w: path is required", domain.ErrValidation)
	}
	if r.URL == "" {
		return fmt.Errorf("%w: url is required", domain.ErrValidation)
	}
	return nil
}

func validateArgs(args []string) error {
	if len(args) == 0 || args[0] == "" {
		return fmt.Errorf("%w: args must start with a command", domain.ErrValidation)
	}
	return nil
}
