package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	tfotel "github.com/Strob0t/TaskForge/internal/adapter/otel"
	"github.com/Strob0t/TaskForge/internal/adapter/ws"
	"github.com/Strob0t/TaskForge/internal/domain"
	"github.com/Strob0t/TaskForge/internal/domain/task"
	"github.com/Strob0t/TaskForge/internal/logger"
	"github.com/Strob0t/TaskForge/internal/port/broadcast"
	"github.com/Strob0t/TaskForge/internal/port/taskstore"
	"github.com/Strob0t/TaskForge/internal/runner"
)

// liveTask is a task that has not settled yet.
type liveTask struct {
	run  task.Run
	task *runner.Task
}

// TaskService launches tasks, streams their output to clients and records
// their history.
type TaskService struct {
	tools   *Toolchain
	store   taskstore.Store
	hub     broadcast.Broadcaster
	metrics *tfotel.Metrics
	now     func() time.Time

	mu   sync.Mutex
	live map[string]*liveTask
	wg   sync.WaitGroup
}

// NewTaskService creates a TaskService. metrics may be nil.
func NewTaskService(tools *Toolchain, store taskstore.Store, hub broadcast.Broadcaster, metrics *tfotel.Metrics) *TaskService {
	return &TaskService{
		tools:   tools,
		store:   store,
		hub:     hub,
		metrics: metrics,
		now:     time.Now,
		live:    make(map[string]*liveTask),
	}
}

// RunCommand starts a single invocation.
func (s *TaskService) RunCommand(ctx context.Context, req task.CommandRequest) (*task.Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.launch(ctx, task.KindSingle, strings.Join(req.Args, " "), [][]string{req.Args},
		func(runCtx context.Context, out runner.OutputFunc) (*runner.Task, error) {
			return runner.Start(s.tools.host, req.Args, out), nil
		})
}

// RunChain starts a sequential chain of invocations.
func (s *TaskService) RunChain(ctx context.Context, req task.ChainRequest) (*task.Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	names := make([]string, len(req.Stages))
	for i, args := range req.Stages {
		names[i] = args[0]
	}
	return s.launch(ctx, task.KindChain, strings.Join(names, " -> "), req.Stages,
		func(runCtx context.Context, out runner.OutputFunc) (*runner.Task, error) {
			return runner.Chain(s.tools.host, req.Stages, out)
		})
}

// RunDownload starts a download task.
func (s *TaskService) RunDownload(ctx context.Context, req task.DownloadRequest) (*task.Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	plan := Plan{Tool: "download", Download: &DownloadTarget{Path: req.Path, URL: req.URL}}
	return s.launch(ctx, task.KindDownload, req.URL, nil,
		func(runCtx context.Context, out runner.OutputFunc) (*runner.Task, error) {
			return s.tools.Start(runCtx, plan, out)
		})
}

// RunTool builds the named toolchain invocation from JSON params and starts it.
func (s *TaskService) RunTool(ctx context.Context, tool string, params json.RawMessage) (*task.Run, error) {
	spanCtx, span := tfotel.StartToolSpan(ctx, tool)
	plan, err := s.tools.Plan(tool, params)
	tfotel.EndTaskSpan(span, "planned", err)
	if err != nil {
		return nil, err
	}
	return s.launch(spanCtx, task.KindTool, tool, plan.Stages,
		func(runCtx context.Context, out runner.OutputFunc) (*runner.Task, error) {
			return s.tools.Start(runCtx, plan, out)
		})
}

// launch starts a task, registers it and watches it until it settles.
func (s *TaskService) launch(
	ctx context.Context,
	kind task.Kind,
	label string,
	args [][]string,
	start func(context.Context, runner.OutputFunc) (*runner.Task, error),
) (*task.Run, error) {
	id := uuid.NewString()
	runCtx := logger.WithTaskID(context.WithoutCancel(ctx), id)
	runCtx, span := tfotel.StartTaskSpan(runCtx, id, string(kind), label)

	out := &outputGate{send: func(line string) {
		s.hub.BroadcastEvent(runCtx, ws.EventTaskOutput, ws.TaskOutputEvent{TaskID: id, Line: line})
	}}

	t, err := start(runCtx, out.line)
	if err != nil {
		tfotel.EndTaskSpan(span, string(task.StatusFailed), err)
		return nil, err
	}

	lt := &liveTask{
		task: t,
		run: task.Run{
			ID:        id,
			Kind:      kind,
			Label:     label,
			Args:      args,
			EventID:   t.EventID(),
			Status:    task.StatusRunning,
			StartedAt: s.now().UTC(),
		},
	}
	if err := s.store.CreateRun(runCtx, &lt.run); err != nil {
		slog.WarnContext(runCtx, "record task run", "error", err)
	}

	s.mu.Lock()
	s.live[id] = lt
	s.mu.Unlock()

	s.metrics.Started(runCtx, string(kind))
	s.broadcastStatus(runCtx, &lt.run)
	out.open()
	slog.InfoContext(runCtx, "task started", "kind", kind, "label", label, "event_id", lt.run.EventID)

	s.wg.Add(1)
	go s.watch(runCtx, lt, func(status task.Status, err error) {
		tfotel.EndTaskSpan(span, string(status), err)
	})

	run := lt.run
	return &run, nil
}

// outputGate holds output lines back until the run's start status has been
// broadcast, then forwards them in order.
type outputGate struct {
	send func(string)

	mu      sync.Mutex
	opened  bool
	pending []string
}

func (g *outputGate) line(l string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.opened {
		g.pending = append(g.pending, l)
		return
	}
	g.send(l)
}

func (g *outputGate) open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, l := range g.pending {
		g.send(l)
	}
	g.pending = nil
	g.opened = true
}

// watch waits for lt to settle, then records and broadcasts the outcome.
func (s *TaskService) watch(ctx context.Context, lt *liveTask, endSpan func(task.Status, error)) {
	defer s.wg.Done()
	<-lt.task.Done()

	continued, err := lt.task.Result()
	status := task.StatusFor(continued, err)
	finished := s.now().UTC()

	s.mu.Lock()
	delete(s.live, lt.run.ID)
	run := lt.run
	s.mu.Unlock()

	run.Status = status
	run.EventID = lt.task.EventID()
	run.FinishedAt = &finished
	if err != nil {
		run.Error = err.Error()
	}

	if err := s.store.FinishRun(ctx, run.ID, status, run.Error, finished); err != nil {
		slog.WarnContext(ctx, "record task outcome", "error", err)
	}

	duration := finished.Sub(run.StartedAt)
	s.metrics.Finished(ctx, string(run.Kind), string(status), duration)
	endSpan(status, err)
	s.broadcastStatus(ctx, &run)

	if err != nil {
		slog.WarnContext(ctx, "task failed", "error", err, "duration", duration)
		return
	}
	slog.InfoContext(ctx, "task settled", "status", status, "duration", duration)
}

func (s *TaskService) broadcastStatus(ctx context.Context, r *task.Run) {
	s.hub.BroadcastEvent(ctx, ws.EventTaskStatus, ws.TaskStatusEvent{
		TaskID:  r.ID,
		Kind:    string(r.Kind),
		Label:   r.Label,
		Status:  string(r.Status),
		EventID: r.EventID,
		Error:   r.Error,
	})
}

// Get returns a run by id. Live runs report their current event id.
func (s *TaskService) Get(ctx context.Context, id string) (*task.Run, error) {
	s.mu.Lock()
	lt, ok := s.live[id]
	var run task.Run
	if ok {
		run = lt.run
	}
	s.mu.Unlock()
	if ok {
		run.EventID = lt.task.EventID()
		return &run, nil
	}
	return s.store.GetRun(ctx, id)
}

// List returns the most recent runs, newest first.
func (s *TaskService) List(ctx context.Context, limit int) ([]task.Run, error) {
	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range runs {
		if lt, ok := s.live[runs[i].ID]; ok {
			runs[i].EventID = lt.task.EventID()
		}
	}
	return runs, nil
}

// Running returns the runs that have not settled, oldest first.
func (s *TaskService) Running() []task.Run {
	s.mu.Lock()
	runs := make([]task.Run, 0, len(s.live))
	for _, lt := range s.live {
		run := lt.run
		run.EventID = lt.task.EventID()
		runs = append(runs, run)
	}
	s.mu.Unlock()

	slices.SortFunc(runs, func(a, b task.Run) int { return a.StartedAt.Compare(b.StartedAt) })
	return runs
}

// Task returns the live task of a run.
func (s *TaskService) Task(id string) (*runner.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lt, ok := s.live[id]
	if !ok {
		return nil, false
	}
	return lt.task, true
}

// Stop stops a live run. Stopping a settled run is a no-op; an unknown id
// returns domain.ErrNotFound.
func (s *TaskService) Stop(ctx context.Context, id string) error {
	if t, ok := s.Task(id); ok {
		t.Stop()
		slog.InfoContext(logger.WithTaskID(ctx, id), "task stop requested")
		return nil
	}
	if _, err := s.store.GetRun(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
		}
		return err
	}
	return nil
}

// StopAll stops every live run.
func (s *TaskService) StopAll() {
	s.mu.Lock()
	tasks := make([]*runner.Task, 0, len(s.live))
	for _, lt := range s.live {
		tasks = append(tasks, lt.task)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.Stop()
	}
}

// Wait blocks until every launched run has been recorded as settled or ctx ends.
func (s *TaskService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
