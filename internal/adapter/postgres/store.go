package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/TaskForge/internal/domain/task"
	"github.com/Strob0t/TaskForge/internal/port/taskstore"
)

const runColumns = `id, kind, label, args, event_id, status, error, started_at, finished_at`

// Store implements taskstore.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ taskstore.Store = (*Store)(nil)

// NewStore creates a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateRun(ctx context.Context, r *task.Run) error {
	args, err := json.Marshal(orEmpty(r.Args))
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO task_runs (`+runColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, string(r.Kind), r.Label, args, r.EventID, string(r.Status), r.Error, r.StartedAt, r.FinishedAt)
	if err != nil {
		return conflictWrap(err, "create run %s", r.ID)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, id string, status task.Status, errMsg string, finishedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE task_runs SET status = $2, error = $3, finished_at = $4 WHERE id = $1`,
		id, string(status), errMsg, finishedAt)
	return execExpectOne(tag, err, "finish run %s", id)
}

func (s *Store) GetRun(ctx context.Context, id string) (*task.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM task_runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if err != nil {
		return nil, notFoundWrap(err, "get run %s", id)
	}
	return &r, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]task.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM task_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []task.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(row scannable) (task.Run, error) {
	var (
		r      task.Run
		kind   string
		status string
		args   []byte
	)
	if err := row.Scan(&r.ID, &kind, &r.Label, &args, &r.EventID, &status, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
		return task.Run{}, err
	}
	r.Kind = task.Kind(kind)
	r.Status = task.Status(status)
	if len(args) > 0 {
		if err := json.Unmarshal(args, &r.Args); err != nil {
			return task.Run{}, fmt.Errorf("unmarshal args: %w", err)
		}
	}
	return r, nil
}

// orEmpty returns an empty slice for nil so JSON columns hold [] not null.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
