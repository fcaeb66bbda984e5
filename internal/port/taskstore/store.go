// Package taskstore defines the port for persisting task run history.
package taskstore

import (
	"context"
	"time"

	"github.com/Strob0t/TaskForge/internal/domain/task"
)

// Store persists task runs.
type Store interface {
	// CreateRun records a newly started run.
	CreateRun(ctx context.Context, r *task.Run) error

	// FinishRun records the terminal status of a run.
	FinishRun(ctx context.Context, id string, status task.Status, errMsg string, finishedAt time.Time) error

	// GetRun returns a run by id or domain.ErrNotFound.
	GetRun(ctx context.Context, id string) (*task.Run, error)

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]task.Run, error)
}
